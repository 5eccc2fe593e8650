package application

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
	"github.com/akriventsev/psp-core/internal/delivery"
	"github.com/akriventsev/psp-core/internal/ledger"
)

func schedulerConfig() delivery.SchedulerConfig {
	cfg := delivery.DefaultSchedulerConfig()
	cfg.SendTimeout = time.Second
	cfg.ClaimLease = time.Minute
	return cfg
}

// wire подключает раздачу событий вебхукам так же, как сервис
func wire(t *testing.T, f *fixture, sender delivery.Sender) *delivery.Scheduler {
	t.Helper()
	sched, err := delivery.NewScheduler(f.deliveries, sender, NewWebhookTargets(f.webhooks), schedulerConfig(),
		delivery.WithRecorder(NewWebhookOutcomes(f.webhooks)))
	require.NoError(t, err)

	dispatcher := events.NewIdempotentHandler(NewWebhookDispatcher(f.index, sched), events.NewInMemoryProcessedStore(time.Hour))
	require.NoError(t, f.publisher.Subscribe(events.AllEvents, dispatcher))
	return sched
}

func setupClient(t *testing.T, f *fixture, eventTypes ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.service.OpenAccount(ctx, OpenAccount{ClientID: "client-1", AccountID: "acc-1", Currency: "BRL"})
	require.NoError(t, err)
	_, err = f.service.CreateWebhook(ctx, CreateWebhook{
		WebhookID: "wh-1",
		ClientID:  "client-1",
		URL:       "https://example.com/hook",
		Events:    eventTypes,
		Secret:    "s3cret",
	})
	require.NoError(t, err)
}

func TestDispatcher_DeliversSubscribedEvents(t *testing.T) {
	f := newFixture(t)
	var received []delivery.Request
	sched := wire(t, f, delivery.SenderFunc(func(_ context.Context, req delivery.Request) (delivery.Response, error) {
		received = append(received, req)
		return delivery.Response{StatusCode: 204}, nil
	}))
	setupClient(t, f, ledger.EventBalanceCredited)
	ctx := context.Background()

	_, err := f.service.Credit(ctx, Credit{AccountID: "acc-1", Amount: brl("10.00"), TransactionID: "tx-1"})
	require.NoError(t, err)
	_, err = f.service.Debit(ctx, Debit{AccountID: "acc-1", Amount: brl("1.00"), TransactionID: "tx-2"})
	require.NoError(t, err)

	items, total, err := f.service.ListDeliveries(ctx, "wh-1", delivery.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, ledger.EventBalanceCredited, items[0].EventType)
	assert.Equal(t, delivery.StatusPending, items[0].Status)

	n, err := sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, received, 1)
	assert.Equal(t, "https://example.com/hook", received[0].URL)
	assert.Equal(t, "s3cret", received[0].Secret)
	assert.Equal(t, ledger.EventBalanceCredited, received[0].EventType)

	var env events.Envelope
	require.NoError(t, json.Unmarshal(received[0].Payload, &env))
	assert.Equal(t, "acc-1", env.AggregateID)

	view, err := f.service.GetWebhook(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.SuccessCount)
	assert.NotNil(t, view.LastTriggered)

	items, _, err = f.service.ListDeliveries(ctx, "wh-1", delivery.ListQuery{Status: delivery.StatusSuccess})
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDispatcher_RedeliveredEventQueuedOnce(t *testing.T) {
	f := newFixture(t)
	wire(t, f, delivery.SenderFunc(func(context.Context, delivery.Request) (delivery.Response, error) {
		return delivery.Response{StatusCode: 200}, nil
	}))
	setupClient(t, f, ledger.EventBalanceCredited)
	ctx := context.Background()

	account, err := f.accounts.Execute(ctx, "acc-1", func(a *ledger.Account) error {
		return a.Credit(brl("5.00"), "", "tx-1")
	})
	require.NoError(t, err)
	stored, err := f.store.GetEvents(ctx, account.ID(), 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// повторная публикация того же события брокером
	require.NoError(t, f.publisher.Publish(ctx, stored[0].EventData))

	count, err := f.deliveries.CountByWebhook(ctx, "wh-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_FailuresRecordedOnWebhook(t *testing.T) {
	f := newFixture(t)
	sched := wire(t, f, delivery.SenderFunc(func(context.Context, delivery.Request) (delivery.Response, error) {
		return delivery.Response{StatusCode: 500}, nil
	}))
	setupClient(t, f, ledger.EventBalanceCredited)
	ctx := context.Background()

	_, err := f.service.Credit(ctx, Credit{AccountID: "acc-1", Amount: brl("10.00")})
	require.NoError(t, err)
	_, err = sched.RunOnce(ctx)
	require.NoError(t, err)

	items, _, err := f.service.ListDeliveries(ctx, "wh-1", delivery.ListQuery{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, delivery.StatusFailed, items[0].Status)
	assert.Equal(t, 1, items[0].AttemptCount)
	assert.Equal(t, "HTTP 500", items[0].ErrorMessage)

	view, err := f.service.GetWebhook(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.FailureCount)
	assert.Zero(t, view.SuccessCount)
}

func TestDispatcher_SkipsInactiveAndForeignEvents(t *testing.T) {
	f := newFixture(t)
	var calls atomic.Int32
	wire(t, f, delivery.SenderFunc(func(context.Context, delivery.Request) (delivery.Response, error) {
		calls.Add(1)
		return delivery.Response{StatusCode: 200}, nil
	}))
	setupClient(t, f, ledger.EventBalanceCredited, "webhook.updated")
	ctx := context.Background()

	// события самих вебхуков не раздаются
	desc := "renamed"
	_, err := f.service.UpdateWebhook(ctx, UpdateWebhook{WebhookID: "wh-1", Description: &desc})
	require.NoError(t, err)

	inactive := false
	_, err = f.service.UpdateWebhook(ctx, UpdateWebhook{WebhookID: "wh-1", Active: &inactive})
	require.NoError(t, err)
	_, err = f.service.Credit(ctx, Credit{AccountID: "acc-1", Amount: brl("10.00")})
	require.NoError(t, err)

	count, err := f.deliveries.CountByWebhook(ctx, "wh-1", "")
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Zero(t, calls.Load())
}

func TestWebhookTargets_Resolve(t *testing.T) {
	f := newFixture(t)
	setupClient(t, f, ledger.EventBalanceCredited)
	targets := NewWebhookTargets(f.webhooks)

	target, err := targets.Resolve(context.Background(), "wh-1")
	require.NoError(t, err)
	assert.Equal(t, delivery.Target{URL: "https://example.com/hook", Secret: "s3cret", Active: true}, target)

	_, err = targets.Resolve(context.Background(), "missing")
	assert.Error(t, err)
}

func TestWebhookOutcomes_MissingWebhookIgnored(t *testing.T) {
	f := newFixture(t)
	outcomes := NewWebhookOutcomes(f.webhooks)

	d := delivery.New("missing", "client-1", "evt-1", "account.credited", nil, time.Now())
	d.Status = delivery.StatusSuccess
	assert.NoError(t, outcomes.RecordOutcome(context.Background(), d))
}

func TestClientOf(t *testing.T) {
	id, err := clientOf([]byte(`{"client_id":"c-1","amount":"1"}`))
	require.NoError(t, err)
	assert.Equal(t, "c-1", id)

	id, err = clientOf(nil)
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = clientOf([]byte(`[1,2]`))
	assert.Error(t, err)
}

// flakyEnqueuer отклоняет первые failures постановок в очередь
type flakyEnqueuer struct {
	next     Enqueuer
	failures atomic.Int32
}

func (e *flakyEnqueuer) Enqueue(ctx context.Context, d *delivery.Delivery) (bool, error) {
	if e.failures.Add(-1) >= 0 {
		return false, errors.New("delivery store unavailable")
	}
	return e.next.Enqueue(ctx, d)
}

func TestDispatcher_RelayRecoversFailedEnqueue(t *testing.T) {
	f := newFixture(t)
	sched, err := delivery.NewScheduler(f.deliveries, delivery.SenderFunc(func(context.Context, delivery.Request) (delivery.Response, error) {
		return delivery.Response{StatusCode: 200}, nil
	}), NewWebhookTargets(f.webhooks), schedulerConfig(), delivery.WithRecorder(NewWebhookOutcomes(f.webhooks)))
	require.NoError(t, err)

	enqueuer := &flakyEnqueuer{next: sched}
	dispatcher := NewWebhookDispatcher(f.index, enqueuer)
	require.NoError(t, f.publisher.Subscribe(events.AllEvents,
		events.NewIdempotentHandler(dispatcher, events.NewInMemoryProcessedStore(time.Hour))))

	relayed := events.NewInMemoryEventPublisher()
	require.NoError(t, relayed.Subscribe(events.AllEvents, dispatcher))
	relay, err := eventsourcing.NewRelay(f.store, relayed, eventsourcing.NewInMemoryCheckpointStore(), eventsourcing.DefaultRelayConfig())
	require.NoError(t, err)

	setupClient(t, f, ledger.EventBalanceCredited)
	ctx := context.Background()
	_, err = relay.RunOnce(ctx)
	require.NoError(t, err)

	enqueuer.failures.Store(1)
	_, err = f.service.Credit(ctx, Credit{AccountID: "acc-1", Amount: brl("10.00"), TransactionID: "tx-1"})
	require.NoError(t, err, "committed command succeeds even if dispatch fails")

	for i := 0; i < 3; i++ {
		_, err = sched.RunOnce(ctx)
		require.NoError(t, err)
	}
	count, err := f.deliveries.CountByWebhook(ctx, "wh-1", "")
	require.NoError(t, err)
	require.Zero(t, count)

	n, err := relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = sched.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	items, total, err := f.service.ListDeliveries(ctx, "wh-1", delivery.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, delivery.StatusSuccess, items[0].Status)

	// повторный проход ничего не дублирует
	_, err = relay.RunOnce(ctx)
	require.NoError(t, err)
	count, err = f.deliveries.CountByWebhook(ctx, "wh-1", "")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatcher_SkipsWebhooksCreatedAfterEvent(t *testing.T) {
	f := newFixture(t)
	sched := wire(t, f, delivery.SenderFunc(func(context.Context, delivery.Request) (delivery.Response, error) {
		return delivery.Response{StatusCode: 200}, nil
	}))
	ctx := context.Background()

	_, err := f.service.OpenAccount(ctx, OpenAccount{ClientID: "client-1", AccountID: "acc-1", Currency: "BRL"})
	require.NoError(t, err)
	_, err = f.service.Credit(ctx, Credit{AccountID: "acc-1", Amount: brl("10.00")})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = f.service.CreateWebhook(ctx, CreateWebhook{
		WebhookID: "wh-1",
		ClientID:  "client-1",
		URL:       "https://example.com/hook",
		Events:    []string{ledger.EventBalanceCredited},
	})
	require.NoError(t, err)

	stored, err := f.store.GetEvents(ctx, "acc-1", 1)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	require.NoError(t, NewWebhookDispatcher(f.index, sched).Handle(ctx, stored[0].EventData))

	count, err := f.deliveries.CountByWebhook(ctx, "wh-1", "")
	require.NoError(t, err)
	assert.Zero(t, count)
}
