package eventsourcing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

// pgUniqueViolation код ошибки PostgreSQL для нарушения уникального индекса
const pgUniqueViolation = "23505"

// PostgresEventStoreConfig конфигурация для PostgreSQL Event Store
type PostgresEventStoreConfig struct {
	DSN             string
	SchemaName      string
	TableName       string
	MaxConns        int32
	ConnMaxLifetime time.Duration
}

// Validate проверяет корректность конфигурации
func (c PostgresEventStoreConfig) Validate() error {
	if c.DSN == "" {
		return core.NewError(core.CodeInvalidConfig, "postgres DSN cannot be empty")
	}
	if c.TableName == "" || c.SchemaName == "" {
		return core.NewError(core.CodeInvalidConfig, "postgres schema and table names are required")
	}
	return nil
}

// DefaultPostgresEventStoreConfig возвращает конфигурацию по умолчанию
func DefaultPostgresEventStoreConfig() PostgresEventStoreConfig {
	return PostgresEventStoreConfig{
		SchemaName:      "public",
		TableName:       "event_store",
		MaxConns:        25,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// PostgresEventStore реализация EventStore для PostgreSQL.
// Уникальный индекс (aggregate_id, version) гарантирует, что из двух гонящихся писателей
// с одной ожидаемой версией зафиксируется только один.
type PostgresEventStore struct {
	config   PostgresEventStoreConfig
	pool     *pgxpool.Pool
	registry *EventRegistry
}

// NewPostgresEventStore создает новый PostgreSQL Event Store
func NewPostgresEventStore(ctx context.Context, config PostgresEventStoreConfig, registry *EventRegistry) (*PostgresEventStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	poolConfig, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = config.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return NewPostgresEventStoreWithPool(pool, config, registry), nil
}

// NewPostgresEventStoreWithPool создает Event Store поверх существующего пула
func NewPostgresEventStoreWithPool(pool *pgxpool.Pool, config PostgresEventStoreConfig, registry *EventRegistry) *PostgresEventStore {
	return &PostgresEventStore{
		config:   config,
		pool:     pool,
		registry: registry,
	}
}

// Start запускает адаптер
func (s *PostgresEventStore) Start(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stop останавливает адаптер
func (s *PostgresEventStore) Stop(_ context.Context) error {
	s.pool.Close()
	return nil
}

// IsRunning проверяет, запущен ли адаптер
func (s *PostgresEventStore) IsRunning() bool {
	return s.pool != nil
}

// Name возвращает имя компонента
func (s *PostgresEventStore) Name() string {
	return "postgres-event-store"
}

// Type возвращает тип компонента
func (s *PostgresEventStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет соединение с базой
func (s *PostgresEventStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool возвращает пул соединений для соседних репозиториев
func (s *PostgresEventStore) Pool() *pgxpool.Pool {
	return s.pool
}

func (s *PostgresEventStore) table() string {
	return pgx.Identifier{s.config.SchemaName, s.config.TableName}.Sanitize()
}

// AppendEvents добавляет события в поток агрегата
func (s *PostgresEventStore) AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, evts []events.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var currentVersion int64
	checkQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE aggregate_id = $1", s.table())
	if err := tx.QueryRow(ctx, checkQuery, aggregateID).Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to check version: %w", err)
	}
	if err := ValidateExpectedVersion(currentVersion, expectedVersion); err != nil {
		return err
	}
	if len(evts) == 0 {
		return nil
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (event_id, aggregate_id, event_type, schema_version, payload, metadata, version, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.table())

	batch := &pgx.Batch{}
	for i, event := range evts {
		env, err := events.NewEnvelope(event)
		if err != nil {
			return err
		}
		metadata, err := json.Marshal(env.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		batch.Queue(insertQuery,
			env.EventID,
			aggregateID,
			env.EventType,
			env.SchemaVersion,
			[]byte(env.Payload),
			metadata,
			expectedVersion+int64(i)+1,
			env.OccurredAt,
		)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: concurrent append to %s", ErrConcurrencyConflict, aggregateID)
		}
		return fmt.Errorf("failed to insert events: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: concurrent append to %s", ErrConcurrencyConflict, aggregateID)
		}
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

// GetEvents возвращает события агрегата с версией больше fromVersion
func (s *PostgresEventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, event_type, schema_version, payload, metadata, version, position, occurred_at, created_at
		FROM %s
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version ASC
	`, s.table())

	rows, err := s.pool.Query(ctx, query, aggregateID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return s.scanEvents(rows)
}

// ReadAll возвращает события всех потоков с позицией больше fromPosition
func (s *PostgresEventStore) ReadAll(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := fmt.Sprintf(`
		SELECT event_id, aggregate_id, event_type, schema_version, payload, metadata, version, position, occurred_at, created_at
		FROM %s
		WHERE position > $1
		ORDER BY position ASC
		LIMIT $2
	`, s.table())

	rows, err := s.pool.Query(ctx, query, fromPosition, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return s.scanEvents(rows)
}

func (s *PostgresEventStore) scanEvents(rows pgx.Rows) ([]StoredEvent, error) {
	defer rows.Close()

	result := make([]StoredEvent, 0)
	for rows.Next() {
		var (
			stored       StoredEvent
			env          events.Envelope
			payload      []byte
			metadataJSON []byte
		)
		if err := rows.Scan(
			&stored.ID,
			&stored.AggregateID,
			&stored.EventType,
			&env.SchemaVersion,
			&payload,
			&metadataJSON,
			&stored.Version,
			&stored.Position,
			&stored.OccurredAt,
			&stored.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		env.EventID = stored.ID
		env.EventType = stored.EventType
		env.AggregateID = stored.AggregateID
		env.OccurredAt = stored.OccurredAt.UTC()
		env.Payload = payload
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &env.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}

		event, err := s.registry.Decode(env)
		if err != nil {
			return nil, err
		}
		stored.EventData = event
		result = append(result, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return result, nil
}
