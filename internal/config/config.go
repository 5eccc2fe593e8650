// Package config читает конфигурацию сервиса из переменных окружения.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	adapterevents "github.com/akriventsev/psp-core/framework/adapters/events"
	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
	"github.com/akriventsev/psp-core/framework/metrics"
	"github.com/akriventsev/psp-core/framework/observability"
	"github.com/akriventsev/psp-core/internal/delivery"
)

// Prefix общий префикс переменных окружения
const Prefix = "PSP_"

// Драйверы хранилища дедупликации
const (
	DedupMemory = "memory"
	DedupRedis  = "redis"
)

// Config конфигурация сервиса
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	CommandTimeout  time.Duration `env:"COMMAND_TIMEOUT" envDefault:"10s"`
	// MigrateOnStart применяет миграции перед запуском при Postgres хранилище
	MigrateOnStart bool `env:"MIGRATE_ON_START" envDefault:"false"`

	Store     StoreConfig                 `envPrefix:"STORE_"`
	Publisher PublisherConfig             `envPrefix:"PUBLISHER_"`
	Redis     RedisConfig                 `envPrefix:"REDIS_"`
	Dedup     DedupConfig                 `envPrefix:"DEDUP_"`
	Scheduler SchedulerConfig             `envPrefix:"SCHEDULER_"`
	Relay     RelayConfig                 `envPrefix:"RELAY_"`
	Metrics   metrics.MetricsConfig       `envPrefix:"METRICS_"`
	Tracing   observability.TracingConfig `envPrefix:"TRACING_"`
}

// StoreConfig хранилище событий и доставок
type StoreConfig struct {
	Driver          string        `env:"DRIVER" envDefault:"memory"`
	PostgresDSN     string        `env:"POSTGRES_DSN"`
	PostgresSchema  string        `env:"POSTGRES_SCHEMA" envDefault:"public"`
	MaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"25"`
	ConnMaxLifetime time.Duration `env:"POSTGRES_CONN_MAX_LIFETIME" envDefault:"5m"`
	MongoURI        string        `env:"MONGODB_URI"`
	MongoDatabase   string        `env:"MONGODB_DATABASE" envDefault:"psp_core"`
	MongoCollection string        `env:"MONGODB_COLLECTION" envDefault:"events"`
	MongoTimeout    time.Duration `env:"MONGODB_TIMEOUT" envDefault:"10s"`
}

// PublisherConfig внешний брокер событий
type PublisherConfig struct {
	Driver        string   `env:"DRIVER" envDefault:"memory"`
	NATSURL       string   `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	KafkaBrokers  []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaCompress string   `env:"KAFKA_COMPRESSION" envDefault:"snappy"`
	Prefix        string   `env:"PREFIX" envDefault:"events"`
}

// RedisConfig подключение к Redis (публикация и дедупликация)
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// DedupConfig хранилище обработанных event_id
type DedupConfig struct {
	Driver string        `env:"DRIVER" envDefault:"memory"`
	TTL    time.Duration `env:"TTL" envDefault:"24h"`
}

// SchedulerConfig планировщик доставок
type SchedulerConfig struct {
	PollInterval  time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	Workers       int           `env:"WORKERS" envDefault:"8"`
	BatchSize     int           `env:"BATCH_SIZE" envDefault:"100"`
	SendTimeout   time.Duration `env:"SEND_TIMEOUT" envDefault:"30s"`
	ClaimLease    time.Duration `env:"CLAIM_LEASE" envDefault:"2m"`
	CommitTimeout time.Duration `env:"COMMIT_TIMEOUT" envDefault:"5s"`
	UserAgent     string        `env:"USER_AGENT" envDefault:"psp-core-webhooks/1.0"`
}

// RelayConfig повторная публикация зафиксированных событий из глобального потока
type RelayConfig struct {
	Name         string        `env:"NAME" envDefault:"webhook-dispatch"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"500"`
}

// Load читает конфигурацию из окружения процесса
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom читает конфигурацию из переданного окружения
func LoadFrom(environment map[string]string) (Config, error) {
	return parse(env.Options{Prefix: Prefix, Environment: environment})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет сочетания параметров
func (c Config) Validate() error {
	switch strings.ToLower(c.Store.Driver) {
	case eventsourcing.DriverMemory:
	case eventsourcing.DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return core.NewError(core.CodeInvalidConfig, "PSP_STORE_POSTGRES_DSN is required for postgres store")
		}
	case eventsourcing.DriverMongoDB:
		if c.Store.MongoURI == "" {
			return core.NewError(core.CodeInvalidConfig, "PSP_STORE_MONGODB_URI is required for mongodb store")
		}
	default:
		return core.Errorf(core.CodeInvalidConfig, "unknown store driver %q", c.Store.Driver)
	}

	switch strings.ToLower(c.Dedup.Driver) {
	case DedupMemory, DedupRedis:
	default:
		return core.Errorf(core.CodeInvalidConfig, "unknown dedup driver %q", c.Dedup.Driver)
	}
	if err := c.RelayConfig().Validate(); err != nil {
		return err
	}
	return c.SchedulerConfig().Validate()
}

// EventStoreConfig настройки фабрики хранилища событий
func (c Config) EventStoreConfig() eventsourcing.StoreConfig {
	pg := eventsourcing.DefaultPostgresEventStoreConfig()
	pg.DSN = c.Store.PostgresDSN
	pg.SchemaName = c.Store.PostgresSchema
	pg.MaxConns = c.Store.MaxConns
	pg.ConnMaxLifetime = c.Store.ConnMaxLifetime

	mongo := eventsourcing.DefaultMongoDBEventStoreConfig()
	mongo.URI = c.Store.MongoURI
	mongo.Database = c.Store.MongoDatabase
	mongo.Collection = c.Store.MongoCollection
	mongo.Timeout = c.Store.MongoTimeout

	return eventsourcing.StoreConfig{
		Driver:   strings.ToLower(c.Store.Driver),
		Memory:   eventsourcing.DefaultInMemoryEventStoreConfig(),
		Postgres: pg,
		MongoDB:  mongo,
	}
}

// UsesPostgres хранит ли сервис данные в PostgreSQL
func (c Config) UsesPostgres() bool {
	return strings.EqualFold(c.Store.Driver, eventsourcing.DriverPostgres)
}

// PublisherConfig настройки внешнего публикатора; m может быть nil
func (c Config) PublisherConfig(m *metrics.Metrics) adapterevents.PublisherConfig {
	nats := adapterevents.DefaultNATSEventConfig()
	nats.URL = c.Publisher.NATSURL
	nats.SubjectPrefix = c.Publisher.Prefix
	nats.Metrics = m

	kafka := adapterevents.DefaultKafkaEventConfig()
	kafka.Brokers = c.Publisher.KafkaBrokers
	kafka.TopicPrefix = c.Publisher.Prefix
	kafka.Compression = c.Publisher.KafkaCompress
	kafka.Metrics = m

	redis := c.RedisConfig()
	redis.StreamPrefix = c.Publisher.Prefix
	redis.Metrics = m

	return adapterevents.PublisherConfig{
		Driver: strings.ToLower(c.Publisher.Driver),
		NATS:   nats,
		Kafka:  kafka,
		Redis:  redis,
	}
}

// RedisConfig настройки клиента Redis
func (c Config) RedisConfig() adapterevents.RedisConfig {
	cfg := adapterevents.DefaultRedisConfig()
	cfg.Addr = c.Redis.Addr
	cfg.Password = c.Redis.Password
	cfg.DB = c.Redis.DB
	cfg.DedupTTL = c.Dedup.TTL
	return cfg
}

// SchedulerConfig настройки планировщика доставок
func (c Config) SchedulerConfig() delivery.SchedulerConfig {
	return delivery.SchedulerConfig{
		PollInterval:  c.Scheduler.PollInterval,
		Workers:       c.Scheduler.Workers,
		BatchSize:     c.Scheduler.BatchSize,
		SendTimeout:   c.Scheduler.SendTimeout,
		ClaimLease:    c.Scheduler.ClaimLease,
		CommitTimeout: c.Scheduler.CommitTimeout,
	}
}

// SenderConfig настройки HTTP отправителя
func (c Config) SenderConfig() delivery.HTTPSenderConfig {
	return delivery.HTTPSenderConfig{
		Timeout:   c.Scheduler.SendTimeout,
		UserAgent: c.Scheduler.UserAgent,
	}
}

// RelayConfig настройки ретранслятора событий
func (c Config) RelayConfig() eventsourcing.RelayConfig {
	return eventsourcing.RelayConfig{
		Name:         c.Relay.Name,
		BatchSize:    c.Relay.BatchSize,
		PollInterval: c.Relay.PollInterval,
	}
}
