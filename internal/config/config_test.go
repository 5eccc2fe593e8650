package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "memory", cfg.Publisher.Driver)
	assert.Equal(t, 24*time.Hour, cfg.Dedup.TTL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.False(t, cfg.Tracing.Enabled)
	assert.False(t, cfg.UsesPostgres())

	sched := cfg.SchedulerConfig()
	assert.Equal(t, 5*time.Second, sched.PollInterval)
	assert.Equal(t, 8, sched.Workers)
	assert.Equal(t, 30*time.Second, sched.SendTimeout)
	assert.Equal(t, 30*time.Second, cfg.SenderConfig().Timeout)

	relay := cfg.RelayConfig()
	assert.Equal(t, "webhook-dispatch", relay.Name)
	assert.Equal(t, time.Second, relay.PollInterval)
	assert.Equal(t, 500, relay.BatchSize)
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"PSP_STORE_DRIVER":            "postgres",
		"PSP_STORE_POSTGRES_DSN":      "postgres://psp@localhost/psp",
		"PSP_PUBLISHER_DRIVER":        "kafka",
		"PSP_PUBLISHER_KAFKA_BROKERS": "k1:9092,k2:9092",
		"PSP_PUBLISHER_PREFIX":        "psp",
		"PSP_SCHEDULER_WORKERS":       "2",
		"PSP_TRACING_ENABLED":         "true",
		"PSP_TRACING_EXPORTER":        "otlp",
	})
	require.NoError(t, err)

	assert.True(t, cfg.UsesPostgres())
	store := cfg.EventStoreConfig()
	assert.Equal(t, eventsourcing.DriverPostgres, store.Driver)
	assert.Equal(t, "postgres://psp@localhost/psp", store.Postgres.DSN)
	assert.Equal(t, "event_store", store.Postgres.TableName)

	pub := cfg.PublisherConfig(nil)
	assert.Equal(t, "kafka", pub.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, pub.Kafka.Brokers)
	assert.Equal(t, "psp", pub.Kafka.TopicPrefix)
	assert.Equal(t, "psp", pub.Redis.StreamPrefix)

	assert.Equal(t, 2, cfg.SchedulerConfig().Workers)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "otlp", cfg.Tracing.Exporter)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without dsn", map[string]string{"PSP_STORE_DRIVER": "postgres"}},
		{"mongodb without uri", map[string]string{"PSP_STORE_DRIVER": "mongodb"}},
		{"unknown store", map[string]string{"PSP_STORE_DRIVER": "sqlite"}},
		{"unknown dedup", map[string]string{"PSP_DEDUP_DRIVER": "etcd"}},
		{"zero relay batch", map[string]string{"PSP_RELAY_BATCH_SIZE": "0"}},
		{"lease shorter than send timeout", map[string]string{
			"PSP_SCHEDULER_SEND_TIMEOUT": "1m",
			"PSP_SCHEDULER_CLAIM_LEASE":  "30s",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.env)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrInvalidConfig)
		})
	}
}

func TestLoadFrom_Malformed(t *testing.T) {
	_, err := LoadFrom(map[string]string{"PSP_SCHEDULER_WORKERS": "many"})
	require.Error(t, err)
}
