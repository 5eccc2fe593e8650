package delivery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/metrics"
	"github.com/akriventsev/psp-core/framework/observability"
)

// Исходы попытки для метрик
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

var (
	// ErrWebhookNotFound вебхук доставки не найден
	ErrWebhookNotFound = &core.FrameworkError{Code: core.CodeNotFound, Message: "webhook not found"}
)

// Target адрес и секрет получателя
type Target struct {
	URL    string
	Secret string
	Active bool
}

// WebhookResolver находит получателя по id вебхука
type WebhookResolver interface {
	Resolve(ctx context.Context, webhookID string) (Target, error)
}

// OutcomeRecorder фиксирует исход доставки на вебхуке
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, d *Delivery) error
}

// SchedulerConfig конфигурация планировщика
type SchedulerConfig struct {
	PollInterval  time.Duration
	Workers       int
	BatchSize     int
	SendTimeout   time.Duration
	ClaimLease    time.Duration
	CommitTimeout time.Duration
}

// DefaultSchedulerConfig возвращает конфигурацию по умолчанию
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:  5 * time.Second,
		Workers:       8,
		BatchSize:     100,
		SendTimeout:   30 * time.Second,
		ClaimLease:    2 * time.Minute,
		CommitTimeout: 5 * time.Second,
	}
}

// Validate проверяет корректность конфигурации
func (c SchedulerConfig) Validate() error {
	if c.PollInterval <= 0 {
		return core.NewError(core.CodeInvalidConfig, "poll interval must be positive")
	}
	if c.Workers <= 0 || c.BatchSize <= 0 {
		return core.NewError(core.CodeInvalidConfig, "workers and batch size must be positive")
	}
	if c.SendTimeout <= 0 {
		return core.NewError(core.CodeInvalidConfig, "send timeout is mandatory")
	}
	if c.ClaimLease <= c.SendTimeout {
		return core.NewError(core.CodeInvalidConfig, "claim lease must exceed send timeout")
	}
	if c.CommitTimeout <= 0 {
		return core.NewError(core.CodeInvalidConfig, "commit timeout must be positive")
	}
	return nil
}

// SchedulerOption опция планировщика
type SchedulerOption func(*Scheduler)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithMetrics включает метрики доставок
func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// WithRecorder фиксирует исходы на агрегате вебхука
func WithRecorder(r OutcomeRecorder) SchedulerOption {
	return func(s *Scheduler) { s.recorder = r }
}

// Scheduler выполняет попытки доставки: первые попытки PENDING записей
// и повторы FAILED записей, чье время наступило.
type Scheduler struct {
	repo     Repository
	sender   Sender
	resolver WebhookResolver
	recorder OutcomeRecorder
	metrics  *metrics.Metrics
	config   SchedulerConfig
	now      func() time.Time
}

// NewScheduler создает планировщик
func NewScheduler(repo Repository, sender Sender, resolver WebhookResolver, config SchedulerConfig, opts ...SchedulerOption) (*Scheduler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		repo:     repo,
		sender:   sender,
		resolver: resolver,
		config:   config,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name возвращает имя компонента
func (s *Scheduler) Name() string {
	return "webhook-delivery-scheduler"
}

// Type возвращает тип компонента
func (s *Scheduler) Type() core.ComponentType {
	return core.ComponentTypeWorker
}

// Enqueue сохраняет новую доставку; повтор той же пары (вебхук, событие) игнорируется
func (s *Scheduler) Enqueue(ctx context.Context, d *Delivery) (bool, error) {
	created, err := s.repo.Create(ctx, d)
	if err != nil {
		return false, err
	}
	if created && s.metrics != nil {
		s.metrics.RecordDeliveryEnqueued(ctx, d.EventType)
	}
	return created, nil
}

// Run выполняет RunOnce по таймеру до отмены ctx
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	log.Printf("[delivery] scheduler started: interval=%s workers=%d batch=%d",
		s.config.PollInterval, s.config.Workers, s.config.BatchSize)
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[delivery] sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[delivery] scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce захватывает готовые записи и выполняет попытки пулом исполнителей.
// Возвращает число выполненных попыток.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()

	pending, err := s.repo.ClaimPending(ctx, now, s.config.ClaimLease, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending: %w", err)
	}

	claimed := pending
	if room := s.config.BatchSize - len(pending); room > 0 {
		due, err := s.repo.FindDue(ctx, now, room)
		if err != nil {
			return 0, fmt.Errorf("failed to find due retries: %w", err)
		}
		for _, d := range due {
			ok, err := s.repo.ClaimRetry(ctx, d, now, s.config.ClaimLease)
			if err != nil {
				log.Printf("[delivery] claim %s failed: %v", d.ID, err)
				continue
			}
			if ok {
				claimed = append(claimed, d)
			}
		}
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for _, d := range claimed {
		g.Go(func() error {
			s.Attempt(gctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// Attempt выполняет одну попытку для захваченной записи и сохраняет исход.
// Ошибки доставки записываются в запись и не возвращаются.
func (s *Scheduler) Attempt(ctx context.Context, d *Delivery) {
	attempt := d.AttemptCount + 1
	_ = observability.TraceDelivery(ctx, d.ID, attempt, func(ctx context.Context) error {
		started := s.now()
		outcome := s.attempt(ctx, d, attempt)
		if s.metrics != nil {
			s.metrics.RecordDeliveryAttempt(ctx, outcome, s.now().Sub(started))
		}
		return nil
	})
}

func (s *Scheduler) attempt(ctx context.Context, d *Delivery, attempt int) string {
	target, err := s.resolver.Resolve(ctx, d.WebhookID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return s.fail(ctx, d, nil, "", "webhook not found")
	case err != nil:
		if ctx.Err() != nil {
			return OutcomeSkipped
		}
		return s.fail(ctx, d, nil, "", fmt.Sprintf("failed to resolve webhook: %v", err))
	case !target.Active:
		return s.fail(ctx, d, nil, "", "webhook is inactive")
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
	resp, err := s.sender.Send(sendCtx, Request{
		URL:        target.URL,
		Payload:    d.Payload,
		Secret:     target.Secret,
		EventType:  d.EventType,
		DeliveryID: d.ID,
		Attempt:    attempt,
	})
	cancel()

	if ctx.Err() != nil {
		// запись остается захваченной до истечения аренды
		log.Printf("[delivery] attempt %d of %s interrupted: %v", attempt, d.ID, ctx.Err())
		return OutcomeSkipped
	}
	if err != nil {
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("timeout after %s", s.config.SendTimeout)
		}
		return s.fail(ctx, d, nil, "", message)
	}
	if !resp.Success() {
		status := resp.StatusCode
		return s.fail(ctx, d, &status, resp.Body, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	if err := d.MarkSucceeded(resp.StatusCode, resp.Body, s.now()); err != nil {
		log.Printf("[delivery] cannot mark %s succeeded: %v", d.ID, err)
		return OutcomeSkipped
	}
	if !s.commit(ctx, d) {
		return OutcomeSkipped
	}
	log.Printf("[delivery] %s delivered to webhook %s on attempt %d", d.ID, d.WebhookID, attempt)
	return OutcomeSuccess
}

func (s *Scheduler) fail(ctx context.Context, d *Delivery, httpStatus *int, body, message string) string {
	if err := d.MarkFailed(httpStatus, body, message, s.now()); err != nil {
		log.Printf("[delivery] cannot mark %s failed: %v", d.ID, err)
		return OutcomeSkipped
	}
	if !s.commit(ctx, d) {
		return OutcomeSkipped
	}

	if d.Exhausted() {
		log.Printf("[delivery] %s exhausted after %d attempts: %s", d.ID, d.AttemptCount, message)
		if s.metrics != nil {
			s.metrics.RecordDeliveryExhausted(ctx)
		}
	} else {
		log.Printf("[delivery] %s failed attempt %d (%s), next retry at %s",
			d.ID, d.AttemptCount, message, d.NextRetryAt.Format(time.RFC3339))
	}
	return OutcomeFailure
}

// commit записывает исход отвязанным от отмены контекстом
func (s *Scheduler) commit(ctx context.Context, d *Delivery) bool {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CommitTimeout)
	defer cancel()

	if err := s.repo.Complete(commitCtx, d); err != nil {
		log.Printf("[delivery] failed to store outcome of %s: %v", d.ID, err)
		return false
	}
	if s.recorder != nil {
		if err := s.recorder.RecordOutcome(commitCtx, d); err != nil {
			log.Printf("[delivery] failed to record outcome of %s on webhook %s: %v", d.ID, d.WebhookID, err)
		}
	}
	return true
}
