package delivery

import (
	"context"
	"time"
)

// ListQuery параметры выборки доставок вебхука
type ListQuery struct {
	Status   Status
	Page     int
	PageSize int
}

func (q ListQuery) normalize() ListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize <= 0 || q.PageSize > 500 {
		q.PageSize = 50
	}
	return q
}

func (q ListQuery) offset() int {
	return (q.Page - 1) * q.PageSize
}

// Repository хранилище доставок.
// Захват записи выдает ClaimToken; исход записывается только владельцем токена.
type Repository interface {
	// Create сохраняет новую доставку; false, если пара (webhook_id, event_id) уже есть
	Create(ctx context.Context, d *Delivery) (bool, error)
	// Get возвращает доставку или ErrDeliveryNotFound
	Get(ctx context.Context, id string) (*Delivery, error)
	// ClaimPending арендует до limit доставок PENDING с истекшей или пустой арендой
	ClaimPending(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*Delivery, error)
	// FindDue возвращает FAILED доставки, готовые к повтору, и RETRYING с истекшей арендой
	FindDue(ctx context.Context, now time.Time, limit int) ([]*Delivery, error)
	// ClaimRetry условно переводит d в RETRYING, сравнивая статус и attempt_count.
	// false означает, что запись уже захвачена или изменена.
	ClaimRetry(ctx context.Context, d *Delivery, now time.Time, lease time.Duration) (bool, error)
	// Complete записывает исход попытки и снимает аренду; ErrClaimLost при чужом токене
	Complete(ctx context.Context, d *Delivery) error
	// ListByWebhook возвращает доставки вебхука, новые первыми
	ListByWebhook(ctx context.Context, webhookID string, q ListQuery) ([]*Delivery, error)
	// CountByWebhook считает доставки вебхука
	CountByWebhook(ctx context.Context, webhookID string, status Status) (int, error)
}
