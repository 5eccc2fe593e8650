package delivery

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository реализация Repository в памяти для тестирования и разработки
type MemoryRepository struct {
	mu      sync.Mutex
	byID    map[string]*Delivery
	byEvent map[string]string
}

// NewMemoryRepository создает пустое хранилище
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]*Delivery),
		byEvent: make(map[string]string),
	}
}

func eventKey(webhookID, eventID string) string {
	return webhookID + "/" + eventID
}

func (r *MemoryRepository) Create(_ context.Context, d *Delivery) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := eventKey(d.WebhookID, d.EventID)
	if _, exists := r.byEvent[key]; exists {
		return false, nil
	}
	r.byID[d.ID] = d.Clone()
	r.byEvent[key] = d.ID
	return true, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.byID[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return d.Clone(), nil
}

func (r *MemoryRepository) ClaimPending(_ context.Context, now time.Time, lease time.Duration, limit int) ([]*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := r.filter(func(d *Delivery) bool {
		return d.Status == StatusPending && leaseExpired(d, now)
	})
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	until := now.Add(lease)
	result := make([]*Delivery, 0, len(candidates))
	for _, d := range candidates {
		d.LockedUntil = &until
		d.ClaimToken = uuid.NewString()
		result = append(result, d.Clone())
	}
	return result, nil
}

func (r *MemoryRepository) FindDue(_ context.Context, now time.Time, limit int) ([]*Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	due := r.filter(func(d *Delivery) bool {
		return d.ShouldRetry(now) || (d.Status == StatusRetrying && leaseExpired(d, now))
	})
	sort.Slice(due, func(i, j int) bool { return retryOrder(due[i]).Before(retryOrder(due[j])) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	result := make([]*Delivery, 0, len(due))
	for _, d := range due {
		result = append(result, d.Clone())
	}
	return result, nil
}

func (r *MemoryRepository) ClaimRetry(_ context.Context, d *Delivery, now time.Time, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[d.ID]
	if !ok {
		return false, ErrDeliveryNotFound
	}
	if stored.Status != d.Status || stored.AttemptCount != d.AttemptCount {
		return false, nil
	}
	if stored.Status == StatusRetrying && !leaseExpired(stored, now) {
		return false, nil
	}
	if err := d.BeginRetry(); err != nil {
		return false, nil
	}

	until := now.Add(lease)
	d.LockedUntil = &until
	d.ClaimToken = uuid.NewString()
	stored.Status = d.Status
	stored.NextRetryAt = nil
	stored.LockedUntil = cloneTime(d.LockedUntil)
	stored.ClaimToken = d.ClaimToken
	return true, nil
}

func (r *MemoryRepository) Complete(_ context.Context, d *Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[d.ID]
	if !ok {
		return ErrDeliveryNotFound
	}
	if d.ClaimToken == "" || stored.ClaimToken != d.ClaimToken {
		return ErrClaimLost
	}

	next := d.Clone()
	next.LockedUntil = nil
	next.ClaimToken = ""
	r.byID[d.ID] = next
	return nil
}

func (r *MemoryRepository) ListByWebhook(_ context.Context, webhookID string, q ListQuery) ([]*Delivery, error) {
	q = q.normalize()

	r.mu.Lock()
	defer r.mu.Unlock()

	matched := r.filter(func(d *Delivery) bool {
		return d.WebhookID == webhookID && (q.Status == "" || d.Status == q.Status)
	})
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	start := q.offset()
	if start >= len(matched) {
		return []*Delivery{}, nil
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	result := make([]*Delivery, 0, end-start)
	for _, d := range matched[start:end] {
		result = append(result, d.Clone())
	}
	return result, nil
}

func (r *MemoryRepository) CountByWebhook(_ context.Context, webhookID string, status Status) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.filter(func(d *Delivery) bool {
		return d.WebhookID == webhookID && (status == "" || d.Status == status)
	})), nil
}

// filter вызывается под r.mu и возвращает сами записи хранилища
func (r *MemoryRepository) filter(keep func(*Delivery) bool) []*Delivery {
	result := make([]*Delivery, 0)
	for _, d := range r.byID {
		if keep(d) {
			result = append(result, d)
		}
	}
	return result
}

func leaseExpired(d *Delivery, now time.Time) bool {
	return d.LockedUntil == nil || !d.LockedUntil.After(now)
}

func retryOrder(d *Delivery) time.Time {
	if d.NextRetryAt != nil {
		return *d.NextRetryAt
	}
	if d.LockedUntil != nil {
		return *d.LockedUntil
	}
	return d.CreatedAt
}
