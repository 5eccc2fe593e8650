package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/akriventsev/psp-core/framework/core"
)

const pgUniqueViolation = "23505"

const deliveryColumns = `id, webhook_id, client_id, event_id, event_type, payload, status,
	http_status, COALESCE(response_body, ''), COALESCE(error_message, ''), attempt_count,
	next_retry_at, created_at, last_attempt_at, delivered_at, locked_until, COALESCE(claim_token, '')`

// PostgresRepositoryConfig конфигурация PostgreSQL хранилища доставок
type PostgresRepositoryConfig struct {
	SchemaName string
	TableName  string
}

// DefaultPostgresRepositoryConfig возвращает конфигурацию по умолчанию
func DefaultPostgresRepositoryConfig() PostgresRepositoryConfig {
	return PostgresRepositoryConfig{
		SchemaName: "public",
		TableName:  "webhook_deliveries",
	}
}

// PostgresRepository реализация Repository для PostgreSQL.
// Захваты выполняются условными UPDATE, поэтому несколько экземпляров
// планировщика могут работать с одной таблицей.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	config PostgresRepositoryConfig
}

// NewPostgresRepository создает хранилище поверх существующего пула
func NewPostgresRepository(pool *pgxpool.Pool, config PostgresRepositoryConfig) *PostgresRepository {
	if config.TableName == "" {
		config = DefaultPostgresRepositoryConfig()
	}
	return &PostgresRepository{pool: pool, config: config}
}

// Name возвращает имя компонента
func (r *PostgresRepository) Name() string {
	return "postgres-delivery-repository"
}

// Type возвращает тип компонента
func (r *PostgresRepository) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// HealthCheck проверяет соединение с базой
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresRepository) table() string {
	if r.config.SchemaName == "" {
		return pgx.Identifier{r.config.TableName}.Sanitize()
	}
	return pgx.Identifier{r.config.SchemaName, r.config.TableName}.Sanitize()
}

func (r *PostgresRepository) Create(ctx context.Context, d *Delivery) (bool, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, webhook_id, client_id, event_id, event_type, payload, status, attempt_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (webhook_id, event_id) DO NOTHING
	`, r.table())

	tag, err := r.pool.Exec(ctx, query,
		d.ID, d.WebhookID, d.ClientID, d.EventID, d.EventType, string(d.Payload),
		string(d.Status), d.AttemptCount, d.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert delivery: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*Delivery, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrDeliveryNotFound
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, deliveryColumns, r.table())

	d, err := scanDelivery(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery: %w", err)
	}
	return d, nil
}

func (r *PostgresRepository) ClaimPending(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Delivery, error) {
	query := fmt.Sprintf(`
		WITH due AS (
			SELECT id AS due_id FROM %[1]s
			WHERE status = 'PENDING' AND (locked_until IS NULL OR locked_until <= $1)
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %[1]s d
		SET locked_until = $3, claim_token = gen_random_uuid()::text
		FROM due
		WHERE d.id = due.due_id
		RETURNING %[2]s
	`, r.table(), deliveryColumns)

	rows, err := r.pool.Query(ctx, query, now, limit, now.Add(lease))
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

func (r *PostgresRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE (status = 'FAILED' AND attempt_count < $2 AND next_retry_at IS NOT NULL AND next_retry_at <= $1)
		   OR (status = 'RETRYING' AND (locked_until IS NULL OR locked_until <= $1))
		ORDER BY COALESCE(next_retry_at, locked_until, created_at)
		LIMIT $3
	`, deliveryColumns, r.table())

	rows, err := r.pool.Query(ctx, query, now, MaxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find due deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

func (r *PostgresRepository) ClaimRetry(ctx context.Context, d *Delivery, now time.Time, lease time.Duration) (bool, error) {
	claimed := d.Clone()
	if err := claimed.BeginRetry(); err != nil {
		return false, nil
	}
	token := uuid.NewString()
	until := now.Add(lease)

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, locked_until = $2, claim_token = $3, next_retry_at = NULL
		WHERE id = $4 AND status = $5 AND attempt_count = $6
		  AND (status = 'FAILED' OR locked_until IS NULL OR locked_until <= $7)
	`, r.table())

	tag, err := r.pool.Exec(ctx, query,
		string(claimed.Status), until, token,
		d.ID, string(d.Status), d.AttemptCount, now)
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	d.Status = claimed.Status
	d.NextRetryAt = nil
	d.LockedUntil = &until
	d.ClaimToken = token
	return true, nil
}

func (r *PostgresRepository) Complete(ctx context.Context, d *Delivery) error {
	if d.ClaimToken == "" {
		return ErrClaimLost
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, http_status = $2, response_body = NULLIF($3, ''), error_message = NULLIF($4, ''),
		    attempt_count = $5, next_retry_at = $6, last_attempt_at = $7, delivered_at = $8,
		    locked_until = NULL, claim_token = NULL
		WHERE id = $9 AND claim_token = $10
	`, r.table())

	tag, err := r.pool.Exec(ctx, query,
		string(d.Status), d.HTTPStatus, d.ResponseBody, d.ErrorMessage,
		d.AttemptCount, d.NextRetryAt, d.LastAttemptAt, d.DeliveredAt,
		d.ID, d.ClaimToken)
	if err != nil {
		return fmt.Errorf("failed to complete delivery %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrClaimLost
	}
	return nil
}

func (r *PostgresRepository) ListByWebhook(ctx context.Context, webhookID string, q ListQuery) ([]*Delivery, error) {
	q = q.normalize()
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE webhook_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		OFFSET $3 LIMIT $4
	`, deliveryColumns, r.table())

	rows, err := r.pool.Query(ctx, query, webhookID, string(q.Status), q.offset(), q.PageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list deliveries: %w", err)
	}
	return collectDeliveries(rows)
}

func (r *PostgresRepository) CountByWebhook(ctx context.Context, webhookID string, status Status) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE webhook_id = $1 AND ($2 = '' OR status = $2)`, r.table())

	var count int
	if err := r.pool.QueryRow(ctx, query, webhookID, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}

func collectDeliveries(rows pgx.Rows) ([]*Delivery, error) {
	defer rows.Close()

	result := make([]*Delivery, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deliveries: %w", err)
	}
	return result, nil
}

func scanDelivery(row pgx.Row) (*Delivery, error) {
	var (
		d       Delivery
		status  string
		payload []byte
	)
	err := row.Scan(
		&d.ID, &d.WebhookID, &d.ClientID, &d.EventID, &d.EventType, &payload, &status,
		&d.HTTPStatus, &d.ResponseBody, &d.ErrorMessage, &d.AttemptCount,
		&d.NextRetryAt, &d.CreatedAt, &d.LastAttemptAt, &d.DeliveredAt, &d.LockedUntil, &d.ClaimToken,
	)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.Payload = payload
	return &d, nil
}
