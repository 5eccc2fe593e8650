package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/metrics"
)

// RedisConfig конфигурация для Redis Streams публикатора и хранилища дедупликации
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	StreamPrefix string
	StreamMaxLen int64 // 0 = без ограничений
	DedupPrefix  string
	DedupTTL     time.Duration
	Metrics      *metrics.Metrics
}

// Validate проверяет корректность конфигурации
func (c RedisConfig) Validate() error {
	if c.Addr == "" {
		return core.NewError(core.CodeInvalidConfig, "redis addr cannot be empty")
	}
	if c.StreamPrefix == "" {
		return core.NewError(core.CodeInvalidConfig, "redis stream prefix cannot be empty")
	}
	return nil
}

// DefaultRedisConfig возвращает конфигурацию Redis по умолчанию
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MaxRetries:   3,
		StreamPrefix: "events",
		StreamMaxLen: 10000,
		DedupPrefix:  "processed",
		DedupTTL:     24 * time.Hour,
	}
}

// NewRedisClient создает клиента и проверяет подключение
func NewRedisClient(ctx context.Context, config RedisConfig) (*redis.Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:       config.Addr,
		Password:   config.Password,
		DB:         config.DB,
		PoolSize:   config.PoolSize,
		MaxRetries: config.MaxRetries,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStreamPublisher реализация Event Publisher через Redis Streams
type RedisStreamPublisher struct {
	config RedisConfig
	client redis.UniversalClient
}

// NewRedisStreamPublisher создает публикатор поверх клиента
func NewRedisStreamPublisher(client redis.UniversalClient, config RedisConfig) *RedisStreamPublisher {
	return &RedisStreamPublisher{config: config, client: client}
}

// Start запускает адаптер
func (r *RedisStreamPublisher) Start(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Stop останавливает адаптер
func (r *RedisStreamPublisher) Stop(_ context.Context) error {
	return r.client.Close()
}

// IsRunning проверяет, запущен ли адаптер
func (r *RedisStreamPublisher) IsRunning() bool {
	return r.client != nil
}

// Name возвращает имя компонента
func (r *RedisStreamPublisher) Name() string {
	return "redis-stream-publisher"
}

// Type возвращает тип компонента
func (r *RedisStreamPublisher) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Publish добавляет событие в stream {prefix}:{aggregate_type}
func (r *RedisStreamPublisher) Publish(ctx context.Context, event events.Event) error {
	args, err := r.buildArgs(event)
	if err != nil {
		return err
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish %s to redis stream: %w", event.EventType(), err)
	}
	if r.config.Metrics != nil {
		r.config.Metrics.RecordEvent(ctx, event.EventType())
	}
	return nil
}

func (r *RedisStreamPublisher) buildArgs(event events.Event) (*redis.XAddArgs, error) {
	data, err := events.EncodeEnvelope(event)
	if err != nil {
		return nil, err
	}
	values := make(map[string]interface{}, 6)
	for k, v := range buildHeaders(event) {
		values[k] = v
	}
	values["envelope"] = string(data)

	args := &redis.XAddArgs{
		Stream: r.stream(event),
		Values: values,
	}
	if r.config.StreamMaxLen > 0 {
		args.MaxLen = r.config.StreamMaxLen
		args.Approx = true
	}
	return args, nil
}

func (r *RedisStreamPublisher) stream(event events.Event) string {
	return r.config.StreamPrefix + ":" + aggregateTypeOf(event.EventType())
}

// RedisProcessedStore хранилище обработанных event_id на SET NX с TTL
type RedisProcessedStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisProcessedStore создает хранилище дедупликации
func NewRedisProcessedStore(client redis.UniversalClient, config RedisConfig) *RedisProcessedStore {
	return &RedisProcessedStore{client: client, prefix: config.DedupPrefix, ttl: config.DedupTTL}
}

// MarkProcessed атомарно помечает событие, возвращает false если оно уже было помечено
func (s *RedisProcessedStore) MarkProcessed(ctx context.Context, eventID string) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.key(eventID), time.Now().UTC().Format(time.RFC3339Nano), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %s processed: %w", eventID, err)
	}
	return ok, nil
}

// Forget снимает отметку, чтобы событие могло быть обработано повторно
func (s *RedisProcessedStore) Forget(ctx context.Context, eventID string) error {
	if err := s.client.Del(ctx, s.key(eventID)).Err(); err != nil {
		return fmt.Errorf("failed to forget event %s: %w", eventID, err)
	}
	return nil
}

func (s *RedisProcessedStore) key(eventID string) string {
	return s.prefix + ":" + eventID
}
