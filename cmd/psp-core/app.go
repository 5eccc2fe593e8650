package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	adapterevents "github.com/akriventsev/psp-core/framework/adapters/events"
	"github.com/akriventsev/psp-core/framework/container"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
	"github.com/akriventsev/psp-core/framework/metrics"
	"github.com/akriventsev/psp-core/framework/migrations"
	"github.com/akriventsev/psp-core/framework/observability"
	"github.com/akriventsev/psp-core/internal/application"
	"github.com/akriventsev/psp-core/internal/config"
	"github.com/akriventsev/psp-core/internal/delivery"
	"github.com/akriventsev/psp-core/internal/ledger"
	"github.com/akriventsev/psp-core/internal/routing"
	"github.com/akriventsev/psp-core/internal/webhook"
)

// Ключи зависимостей в контейнере
const (
	keyEventStore = "event_store"
	keyPublisher  = "external_publisher"
	keyTracing    = "tracing"
	keyDeliveries = "delivery_repository"
	keyScheduler  = "delivery_scheduler"
	keyRelay      = "event_relay"
	keyService    = "service"
	keyOps        = "ops_http"
)

// rebuildBatch размер страницы при восстановлении индекса подписок
const rebuildBatch = 500

type app struct {
	cfg       config.Config
	container *container.Container
	store     eventsourcing.EventStore
	index     *webhook.SubscriptionIndex
	relay     *eventsourcing.Relay
	metrics   *metrics.Provider
	redis     *redis.Client
}

func newRegistry() *eventsourcing.EventRegistry {
	registry := eventsourcing.NewEventRegistry()
	ledger.RegisterEvents(registry)
	webhook.RegisterEvents(registry)
	registry.Register(application.EventRoutingConfigured, func() events.Event { return &application.RoutingConfigured{} })
	return registry
}

func build(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{
		cfg:       cfg,
		container: container.NewContainer(&container.Config{ShutdownTimeout: cfg.ShutdownTimeout}),
		index:     webhook.NewSubscriptionIndex(),
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		provider, err := metrics.SetupMetrics(ctx, cfg.Metrics)
		if err != nil {
			return nil, err
		}
		a.metrics = provider
		if m, err = metrics.NewMetrics(); err != nil {
			return nil, err
		}
	}

	tracing, err := observability.NewTracingManager(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}
	if err := container.Set(a.container, keyTracing, tracing); err != nil {
		return nil, err
	}

	if cfg.UsesPostgres() && cfg.MigrateOnStart {
		if err := migrate(ctx, cfg.Store.PostgresDSN); err != nil {
			return nil, err
		}
	}

	store, err := eventsourcing.NewEventStoreFactory(newRegistry()).Create(ctx, cfg.EventStoreConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create event store: %w", err)
	}
	a.store = store
	if err := container.Set(a.container, keyEventStore, store); err != nil {
		return nil, err
	}

	local := events.NewInMemoryEventPublisher().WithRetry(events.DefaultRetryConfig())
	external, err := adapterevents.NewExternalPublisher(ctx, cfg.PublisherConfig(m))
	if err != nil {
		return nil, fmt.Errorf("failed to create event publisher: %w", err)
	}
	if external != nil {
		if err := container.Set(a.container, keyPublisher, external); err != nil {
			return nil, err
		}
	}

	// Агрегаты публикуют сразу после фиксации только в локальную шину.
	// Внешний брокер и повторная раздача вебхукам идут через ретранслятор
	// глобального потока, который сдвигает позицию только после успешной публикации.
	repoConfig := eventsourcing.DefaultRepositoryConfig()
	repoConfig.Publisher = local
	repoConfig.OnPublishError = func(event events.Event, err error) {
		log.Printf("[psp-core] failed to publish %s (%s): %v", event.EventType(), event.EventID(), err)
		if m != nil {
			m.RecordPublishFailure(context.Background(), event.EventType())
		}
	}
	accounts := eventsourcing.NewEventSourcedRepository(store, repoConfig, ledger.NewAccount)
	webhooks := eventsourcing.NewEventSourcedRepository(store, repoConfig, webhook.NewWebhook)

	deliveries, err := a.deliveryRepository()
	if err != nil {
		return nil, err
	}

	opts := []delivery.SchedulerOption{delivery.WithRecorder(application.NewWebhookOutcomes(webhooks))}
	if m != nil {
		opts = append(opts, delivery.WithMetrics(m))
	}
	scheduler, err := delivery.NewScheduler(deliveries, delivery.NewHTTPSender(cfg.SenderConfig()),
		application.NewWebhookTargets(webhooks), cfg.SchedulerConfig(), opts...)
	if err != nil {
		return nil, err
	}

	processed, err := a.processedStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := local.Subscribe(events.AllEvents, a.index); err != nil {
		return nil, err
	}
	dispatcher := application.NewWebhookDispatcher(a.index, scheduler)
	if err := local.Subscribe(events.AllEvents, events.NewIdempotentHandler(dispatcher, processed)); err != nil {
		return nil, err
	}

	relayed := events.NewInMemoryEventPublisher()
	if err := relayed.Subscribe(events.AllEvents, dispatcher); err != nil {
		return nil, err
	}
	if a.relay, err = a.eventRelay(adapterevents.Compose(relayed, external)); err != nil {
		return nil, err
	}

	service := application.NewService(application.ServiceConfig{
		Accounts:      accounts,
		Webhooks:      webhooks,
		Deliveries:    deliveries,
		Subscriptions: a.index,
		Validator:     routing.NewValidator(routing.DefaultBankCatalog()),
		Publisher:     adapterevents.Compose(local, external),
		Pipeline:      application.DefaultPipeline(m, cfg.CommandTimeout),
	})
	if err := container.Set(a.container, keyService, service); err != nil {
		return nil, err
	}

	if err := container.Set(a.container, keyScheduler, container.NewWorker(scheduler.Name(), scheduler.Run)); err != nil {
		return nil, err
	}
	if a.relay != nil {
		if err := container.Set(a.container, keyRelay, container.NewWorker(a.relay.Name(), a.relay.Run)); err != nil {
			return nil, err
		}
	}
	if err := container.Set(a.container, keyOps, newOpsServer(cfg, a.container, a.metrics, service)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) deliveryRepository() (delivery.Repository, error) {
	pg, ok := a.store.(*eventsourcing.PostgresEventStore)
	if !ok {
		return delivery.NewMemoryRepository(), nil
	}
	config := delivery.DefaultPostgresRepositoryConfig()
	config.SchemaName = a.cfg.Store.PostgresSchema
	repo := delivery.NewPostgresRepository(pg.Pool(), config)
	if err := container.Set(a.container, keyDeliveries, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// eventRelay создает ретранслятор с позицией в том же хранилище, что и события.
// Хранилище без глобального потока ретранслятор не поддерживает.
func (a *app) eventRelay(publisher events.EventPublisher) (*eventsourcing.Relay, error) {
	reader, ok := a.store.(eventsourcing.GlobalReader)
	if !ok {
		log.Printf("[psp-core] event store %T has no global stream, relay disabled", a.store)
		return nil, nil
	}

	var checkpoints eventsourcing.CheckpointStore
	switch store := a.store.(type) {
	case *eventsourcing.PostgresEventStore:
		checkpoints = eventsourcing.NewPostgresCheckpointStore(store.Pool(), a.cfg.Store.PostgresSchema)
	case *eventsourcing.MongoDBEventStore:
		checkpoints = eventsourcing.NewMongoCheckpointStore(store.Database())
	default:
		checkpoints = eventsourcing.NewInMemoryCheckpointStore()
	}
	return eventsourcing.NewRelay(reader, publisher, checkpoints, a.cfg.RelayConfig())
}

func (a *app) processedStore(ctx context.Context) (events.ProcessedStore, error) {
	if a.cfg.Dedup.Driver != config.DedupRedis {
		return events.NewInMemoryProcessedStore(a.cfg.Dedup.TTL), nil
	}
	redisConfig := a.cfg.RedisConfig()
	client, err := adapterevents.NewRedisClient(ctx, redisConfig)
	if err != nil {
		return nil, err
	}
	a.redis = client
	return adapterevents.NewRedisProcessedStore(client, redisConfig), nil
}

// start восстанавливает индекс подписок и запускает компоненты
func (a *app) start(ctx context.Context) error {
	if reader, ok := a.store.(eventsourcing.GlobalReader); ok {
		if err := a.index.Rebuild(ctx, reader, rebuildBatch); err != nil {
			return fmt.Errorf("failed to rebuild webhook subscriptions: %w", err)
		}
		log.Printf("[psp-core] webhook subscriptions restored: %d", a.index.Len())
	} else {
		log.Printf("[psp-core] event store %T has no global stream, webhook subscriptions start empty", a.store)
	}
	return a.container.Start(ctx)
}

func (a *app) close(ctx context.Context) {
	if err := a.container.Shutdown(ctx); err != nil {
		log.Printf("[psp-core] shutdown: %v", err)
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("[psp-core] failed to close redis: %v", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.metrics.Shutdown(shutdownCtx); err != nil {
		log.Printf("[psp-core] failed to stop metrics: %v", err)
	}
}

func migrate(ctx context.Context, dsn string) error {
	db, err := migrations.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrations.RunMigrations(ctx, db)
}
