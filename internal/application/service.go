// Package application принимает типизированные команды, выполняет их над агрегатами
// и раздает зафиксированные события подписанным вебхукам.
package application

import (
	"context"
	"log"
	"math/rand"
	"slices"
	"sync"
	"time"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/cqrs"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
	"github.com/akriventsev/psp-core/framework/metrics"
	"github.com/akriventsev/psp-core/framework/transport"
	"github.com/akriventsev/psp-core/internal/delivery"
	"github.com/akriventsev/psp-core/internal/ledger"
	"github.com/akriventsev/psp-core/internal/routing"
	"github.com/akriventsev/psp-core/internal/webhook"
)

// EventRoutingConfigured распределение клиента принято
const EventRoutingConfigured = "routing.configured"

// RoutingConfigured событие принятого распределения
type RoutingConfigured struct {
	events.BaseEvent
	ClientID      string                `json:"client_id"`
	Configuration routing.Configuration `json:"configuration"`
}

// AccountRepository репозиторий счетов
type AccountRepository = eventsourcing.EventSourcedRepository[*ledger.Account]

// WebhookRepository репозиторий вебхуков
type WebhookRepository = eventsourcing.EventSourcedRepository[*webhook.Webhook]

// Service точка входа команд и запросов ядра
type Service struct {
	accounts   *AccountRepository
	webhooks   *WebhookRepository
	deliveries delivery.Repository
	index      *webhook.SubscriptionIndex
	validator  *routing.Validator
	publisher  events.EventPublisher
	pipeline   *cqrs.Pipeline

	routingMu sync.RWMutex
	routes    map[string]*routing.Configuration
	rndMu     sync.Mutex
	rnd       *rand.Rand
}

// ServiceConfig зависимости сервиса
type ServiceConfig struct {
	Accounts   *AccountRepository
	Webhooks   *WebhookRepository
	Deliveries delivery.Repository
	// Subscriptions read model для списка вебхуков клиента
	Subscriptions *webhook.SubscriptionIndex
	Validator     *routing.Validator
	// Publisher получает события, не принадлежащие агрегатам (может быть nil)
	Publisher events.EventPublisher
	Pipeline  *cqrs.Pipeline
}

// DefaultPipeline цепочка middleware команд: восстановление, логирование,
// трассировка, метрики (при m != nil), проверка команды и timeout.
func DefaultPipeline(m *metrics.Metrics, timeout time.Duration) *cqrs.Pipeline {
	p := cqrs.NewPipeline(
		cqrs.RecoveryCommandMiddleware(),
		cqrs.DefaultLoggingCommandMiddleware(),
		cqrs.TracingCommandMiddleware(),
	)
	if m != nil {
		p.Use(cqrs.MetricsCommandMiddleware(m))
	}
	p.Use(cqrs.ValidationCommandMiddleware())
	if timeout > 0 {
		p.Use(cqrs.TimeoutCommandMiddleware(timeout))
	}
	return p
}

// NewService создает сервис
func NewService(cfg ServiceConfig) *Service {
	if cfg.Validator == nil {
		cfg.Validator = routing.NewValidator(routing.DefaultBankCatalog())
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = DefaultPipeline(nil, 0)
	}
	return &Service{
		accounts:   cfg.Accounts,
		webhooks:   cfg.Webhooks,
		deliveries: cfg.Deliveries,
		index:      cfg.Subscriptions,
		validator:  cfg.Validator,
		publisher:  cfg.Publisher,
		pipeline:   cfg.Pipeline,
		routes:     make(map[string]*routing.Configuration),
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OpenAccount открывает счет
func (s *Service) OpenAccount(ctx context.Context, cmd OpenAccount) (ledger.AccountState, error) {
	var state ledger.AccountState
	err := s.pipeline.Run(ctx, cmd, func(ctx context.Context) error {
		account, err := ledger.OpenAccount(cmd.ClientID, cmd.AccountID, cmd.Currency)
		if err != nil {
			return err
		}
		if err := s.accounts.Create(ctx, account); err != nil {
			return err
		}
		state = account.State()
		return nil
	})
	return state, err
}

// Credit зачисляет сумму
func (s *Service) Credit(ctx context.Context, cmd Credit) (ledger.AccountState, error) {
	return s.executeAccount(ctx, cmd, cmd.AccountID, func(a *ledger.Account) error {
		return a.Credit(cmd.Amount, cmd.Description, cmd.TransactionID)
	})
}

// Debit списывает сумму
func (s *Service) Debit(ctx context.Context, cmd Debit) (ledger.AccountState, error) {
	return s.executeAccount(ctx, cmd, cmd.AccountID, func(a *ledger.Account) error {
		return a.Debit(cmd.Amount, cmd.Description, cmd.TransactionID)
	})
}

// BlockFunds блокирует сумму
func (s *Service) BlockFunds(ctx context.Context, cmd BlockFunds) (ledger.AccountState, error) {
	return s.executeAccount(ctx, cmd, cmd.AccountID, func(a *ledger.Account) error {
		return a.Block(cmd.Amount, cmd.Reason, cmd.TransactionID)
	})
}

// UnblockFunds разблокирует сумму
func (s *Service) UnblockFunds(ctx context.Context, cmd UnblockFunds) (ledger.AccountState, error) {
	return s.executeAccount(ctx, cmd, cmd.AccountID, func(a *ledger.Account) error {
		return a.Unblock(cmd.Amount, cmd.Reason, cmd.TransactionID)
	})
}

func (s *Service) executeAccount(ctx context.Context, cmd transport.Command, id string, fn func(*ledger.Account) error) (ledger.AccountState, error) {
	var state ledger.AccountState
	err := s.pipeline.Run(ctx, cmd, func(ctx context.Context) error {
		account, err := s.accounts.Execute(ctx, id, fn)
		if err != nil {
			return err
		}
		state = account.State()
		return nil
	})
	return state, err
}

// GetAccount возвращает состояние счета
func (s *Service) GetAccount(ctx context.Context, accountID string) (ledger.AccountState, error) {
	account, err := s.accounts.Load(ctx, accountID)
	if err != nil {
		return ledger.AccountState{}, err
	}
	return account.State(), nil
}

// WebhookView представление вебхука для вызывающего
type WebhookView struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id"`
	URL           string     `json:"url"`
	Events        []string   `json:"events"`
	HasSecret     bool       `json:"has_secret"`
	Active        bool       `json:"active"`
	Description   string     `json:"description,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastTriggered *time.Time `json:"last_triggered,omitempty"`
	SuccessCount  int        `json:"success_count"`
	FailureCount  int        `json:"failure_count"`
	Version       int64      `json:"version"`
}

func viewOf(w *webhook.Webhook) WebhookView {
	return WebhookView{
		ID:            w.ID(),
		ClientID:      w.ClientID(),
		URL:           w.URL(),
		Events:        w.Events(),
		HasSecret:     w.Secret() != "",
		Active:        w.Active(),
		Description:   w.Description(),
		CreatedAt:     w.CreatedAt(),
		LastTriggered: w.LastTriggered(),
		SuccessCount:  w.SuccessCount(),
		FailureCount:  w.FailureCount(),
		Version:       w.Version(),
	}
}

// CreateWebhook регистрирует вебхук
func (s *Service) CreateWebhook(ctx context.Context, cmd CreateWebhook) (WebhookView, error) {
	var view WebhookView
	err := s.pipeline.Run(ctx, cmd, func(ctx context.Context) error {
		var (
			w   *webhook.Webhook
			err error
		)
		if cmd.WebhookID != "" {
			w, err = webhook.CreateWithID(cmd.WebhookID, cmd.ClientID, cmd.URL, cmd.Events, cmd.Secret, cmd.Description)
		} else {
			w, err = webhook.Create(cmd.ClientID, cmd.URL, cmd.Events, cmd.Secret, cmd.Description)
		}
		if err != nil {
			return err
		}
		if err := s.webhooks.Create(ctx, w); err != nil {
			return err
		}
		view = viewOf(w)
		return nil
	})
	return view, err
}

// UpdateWebhook применяет заданные изменения одной командой
func (s *Service) UpdateWebhook(ctx context.Context, cmd UpdateWebhook) (WebhookView, error) {
	var view WebhookView
	err := s.pipeline.Run(ctx, cmd, func(ctx context.Context) error {
		w, err := s.webhooks.Execute(ctx, cmd.WebhookID, func(w *webhook.Webhook) error {
			return applyUpdate(w, cmd)
		})
		if err != nil {
			return err
		}
		view = viewOf(w)
		return nil
	})
	return view, err
}

func applyUpdate(w *webhook.Webhook, cmd UpdateWebhook) error {
	if cmd.URL != nil && *cmd.URL != w.URL() {
		if err := w.UpdateURL(*cmd.URL); err != nil {
			return err
		}
	}
	if cmd.Events != nil {
		normalized, err := webhook.NormalizeEvents(cmd.Events)
		if err != nil {
			return err
		}
		if !sameEvents(normalized, w.Events()) {
			if err := w.UpdateEvents(normalized); err != nil {
				return err
			}
		}
	}
	if cmd.Secret != nil && *cmd.Secret != w.Secret() {
		if err := w.UpdateSecret(*cmd.Secret); err != nil {
			return err
		}
	}
	if cmd.Description != nil && *cmd.Description != w.Description() {
		if err := w.UpdateDescription(*cmd.Description); err != nil {
			return err
		}
	}
	if cmd.Active != nil {
		if *cmd.Active {
			return w.Activate()
		}
		return w.Deactivate()
	}
	return nil
}

// sameEvents сравнивает множества событий без учета порядка
func sameEvents(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// GetWebhook возвращает вебхук
func (s *Service) GetWebhook(ctx context.Context, webhookID string) (WebhookView, error) {
	w, err := s.webhooks.Load(ctx, webhookID)
	if err != nil {
		return WebhookView{}, err
	}
	return viewOf(w), nil
}

// WebhookListQuery фильтр и страница списка вебхуков клиента
type WebhookListQuery struct {
	ClientID string
	// Active при nil возвращает и активные, и отключенные вебхуки
	Active   *bool
	Page     int
	PageSize int
}

func (q WebhookListQuery) normalize() WebhookListQuery {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 50
	}
	return q
}

// ListWebhooks возвращает страницу вебхуков клиента, упорядоченных по id, и их общее число
func (s *Service) ListWebhooks(ctx context.Context, q WebhookListQuery) ([]WebhookView, int, error) {
	if s.index == nil {
		return nil, 0, core.NewError(core.CodeInvalidConfig, "subscription index is not configured")
	}
	if q.ClientID == "" {
		return nil, 0, core.NewError(core.CodeValidation, "client_id is required")
	}
	q = q.normalize()

	subs := s.index.ByClient(q.ClientID)
	if q.Active != nil {
		subs = slices.DeleteFunc(subs, func(sub webhook.Subscription) bool { return sub.Active != *q.Active })
	}
	total := len(subs)

	from := (q.Page - 1) * q.PageSize
	if from >= total {
		return []WebhookView{}, total, nil
	}
	to := min(from+q.PageSize, total)

	views := make([]WebhookView, 0, to-from)
	for _, sub := range subs[from:to] {
		w, err := s.webhooks.Load(ctx, sub.WebhookID)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, viewOf(w))
	}
	return views, total, nil
}

// WebhookStats сводка доставок вебхука
type WebhookStats struct {
	WebhookID       string                  `json:"webhook_id"`
	Active          bool                    `json:"active"`
	SuccessCount    int                     `json:"success_count"`
	FailureCount    int                     `json:"failure_count"`
	SuccessRate     float64                 `json:"success_rate"`
	LastTriggered   *time.Time              `json:"last_triggered,omitempty"`
	TotalDeliveries int                     `json:"total_deliveries"`
	ByStatus        map[delivery.Status]int `json:"deliveries_by_status"`
}

var deliveryStatuses = []delivery.Status{
	delivery.StatusPending,
	delivery.StatusRetrying,
	delivery.StatusSuccess,
	delivery.StatusFailed,
}

// WebhookStats собирает счетчики попыток из агрегата и число доставок по статусам
func (s *Service) WebhookStats(ctx context.Context, webhookID string) (WebhookStats, error) {
	w, err := s.webhooks.Load(ctx, webhookID)
	if err != nil {
		return WebhookStats{}, err
	}

	stats := WebhookStats{
		WebhookID:     w.ID(),
		Active:        w.Active(),
		SuccessCount:  w.SuccessCount(),
		FailureCount:  w.FailureCount(),
		LastTriggered: w.LastTriggered(),
		ByStatus:      make(map[delivery.Status]int, len(deliveryStatuses)),
	}
	if attempts := stats.SuccessCount + stats.FailureCount; attempts > 0 {
		stats.SuccessRate = float64(stats.SuccessCount) / float64(attempts) * 100
	}
	for _, status := range deliveryStatuses {
		n, err := s.deliveries.CountByWebhook(ctx, webhookID, status)
		if err != nil {
			return WebhookStats{}, err
		}
		stats.ByStatus[status] = n
		stats.TotalDeliveries += n
	}
	return stats, nil
}

// ListDeliveries возвращает страницу доставок вебхука и их общее число
func (s *Service) ListDeliveries(ctx context.Context, webhookID string, q delivery.ListQuery) ([]*delivery.Delivery, int, error) {
	items, err := s.deliveries.ListByWebhook(ctx, webhookID, q)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.deliveries.CountByWebhook(ctx, webhookID, q.Status)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ValidateRouting проверяет распределение
func (s *Service) ValidateRouting(ctx context.Context, cmd ValidateRouting) (routing.Result, error) {
	var result routing.Result
	err := s.pipeline.Run(ctx, cmd, func(context.Context) error {
		result = s.validator.Validate(cmd.Entries)
		return nil
	})
	return result, err
}

// ConfigureRouting принимает распределение клиента и публикует routing.configured.
// Принятое распределение действует сразу; ошибка публикации только журналируется,
// как и для событий агрегатов после фиксации.
func (s *Service) ConfigureRouting(ctx context.Context, cmd ConfigureRouting) (*routing.Configuration, error) {
	var cfg *routing.Configuration
	err := s.pipeline.Run(ctx, cmd, func(ctx context.Context) error {
		var err error
		cfg, err = s.validator.Configure(cmd.ClientID, cmd.Entries)
		if err != nil {
			return err
		}

		s.routingMu.Lock()
		s.routes[cfg.ClientID] = cfg
		s.routingMu.Unlock()

		if s.publisher == nil {
			return nil
		}
		event := &RoutingConfigured{
			BaseEvent:     events.NewBaseEvent(EventRoutingConfigured, cfg.ClientID),
			ClientID:      cfg.ClientID,
			Configuration: *cfg,
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Printf("[application] failed to publish %s %s for client %s: %v",
				event.EventType(), event.EventID(), cfg.ClientID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// SelectAccount выбирает счет клиента для операции по принятому распределению
func (s *Service) SelectAccount(_ context.Context, clientID, bankCode string) (routing.Entry, error) {
	s.routingMu.RLock()
	cfg := s.routes[clientID]
	s.routingMu.RUnlock()

	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	return routing.SelectAccount(cfg, bankCode, s.rnd)
}
