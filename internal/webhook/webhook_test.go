package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

func newWebhook(t *testing.T) *Webhook {
	t.Helper()
	w, err := CreateWithID("wh-1", "client-1", "https://example.com/hook",
		[]string{"account.credited", "account.debited"}, "s3cret", "primary")
	require.NoError(t, err)
	return w
}

func registry() *eventsourcing.EventRegistry {
	r := eventsourcing.NewEventRegistry()
	RegisterEvents(r)
	return r
}

func TestCreate(t *testing.T) {
	w := newWebhook(t)
	assert.Equal(t, "wh-1", w.ID())
	assert.Equal(t, "client-1", w.ClientID())
	assert.Equal(t, "https://example.com/hook", w.URL())
	assert.Equal(t, []string{"account.credited", "account.debited"}, w.Events())
	assert.Equal(t, "s3cret", w.Secret())
	assert.Equal(t, "primary", w.Description())
	assert.True(t, w.Active())
	assert.Nil(t, w.LastTriggered())
	assert.Equal(t, int64(1), w.Version())

	generated, err := Create("client-1", "http://localhost:8080/cb", []string{"x"}, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, generated.ID())
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		url    string
		events []string
		err    error
	}{
		{"empty url", "", []string{"a"}, ErrInvalidURL},
		{"relative url", "/hook", []string{"a"}, ErrInvalidURL},
		{"ftp scheme", "ftp://example.com/hook", []string{"a"}, ErrInvalidURL},
		{"no host", "https://", []string{"a"}, ErrInvalidURL},
		{"no events", "https://example.com", nil, ErrInvalidEvents},
		{"blank events", "https://example.com", []string{" ", ""}, ErrInvalidEvents},
		{"comma in event", "https://example.com", []string{"a,b"}, ErrInvalidEvents},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create("client-1", tt.url, tt.events, "", "")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.ErrorIs(t, err, core.ErrValidation)
		})
	}
}

func TestNormalizeEvents(t *testing.T) {
	got, err := NormalizeEvents([]string{" a ", "b", "a", "", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestUpdates(t *testing.T) {
	w := newWebhook(t)

	require.NoError(t, w.UpdateURL("https://example.org/v2"))
	require.NoError(t, w.UpdateEvents([]string{"account.opened"}))
	require.NoError(t, w.UpdateSecret(""))
	require.NoError(t, w.UpdateDescription("secondary"))

	assert.Equal(t, "https://example.org/v2", w.URL())
	assert.Equal(t, []string{"account.opened"}, w.Events())
	assert.Empty(t, w.Secret())
	assert.Equal(t, "secondary", w.Description())
	assert.Equal(t, int64(5), w.Version())

	evts := w.GetUncommittedEvents()
	updated, ok := evts[2].(*WebhookUpdated)
	require.True(t, ok)
	assert.Equal(t, FieldEvents, updated.Field)
	assert.Equal(t, "account.credited,account.debited", updated.OldValue)
	assert.Equal(t, "account.opened", updated.NewValue)

	assert.ErrorIs(t, w.UpdateURL("nope"), ErrInvalidURL)
	assert.ErrorIs(t, w.UpdateEvents(nil), ErrInvalidEvents)
	assert.Equal(t, int64(5), w.Version())
}

func TestActivateDeactivate_Idempotent(t *testing.T) {
	w := newWebhook(t)

	require.NoError(t, w.Activate())
	assert.Equal(t, int64(1), w.Version())

	require.NoError(t, w.Deactivate())
	require.NoError(t, w.Deactivate())
	assert.False(t, w.Active())
	assert.Equal(t, int64(2), w.Version())

	require.NoError(t, w.Activate())
	assert.True(t, w.Active())
	assert.Equal(t, int64(3), w.Version())
}

func TestRecordDeliveries(t *testing.T) {
	w := newWebhook(t)
	require.NoError(t, w.RecordSuccess("d-1"))
	require.NoError(t, w.RecordFailure("d-2", "status 500"))
	require.NoError(t, w.RecordFailure("d-3", ""))

	assert.Equal(t, 1, w.SuccessCount())
	assert.Equal(t, 2, w.FailureCount())
	require.NotNil(t, w.LastTriggered())
}

func TestOperationsRequireCreation(t *testing.T) {
	w := NewWebhook("wh-x")
	assert.ErrorIs(t, w.Activate(), ErrNotCreated)
	assert.ErrorIs(t, w.UpdateURL("https://example.com"), ErrNotCreated)
	assert.ErrorIs(t, w.RecordSuccess("d"), ErrNotCreated)
}

func TestSubscribes(t *testing.T) {
	w := newWebhook(t)
	assert.True(t, w.Subscribes("account.credited"))
	assert.False(t, w.Subscribes("account.opened"))
}

func TestReplayThroughCodec(t *testing.T) {
	w := newWebhook(t)
	require.NoError(t, w.UpdateURL("https://example.org/v2"))
	require.NoError(t, w.Deactivate())
	require.NoError(t, w.RecordFailure("d-1", "timeout"))

	reg := registry()
	replayed := make([]events.Event, 0)
	for _, e := range w.GetUncommittedEvents() {
		env, err := events.NewEnvelope(e)
		require.NoError(t, err)
		decoded, err := reg.Decode(env)
		require.NoError(t, err)
		replayed = append(replayed, decoded)
	}

	restored := NewWebhook(w.ID())
	require.NoError(t, restored.LoadFromHistory(replayed))

	assert.Equal(t, w.Version(), restored.Version())
	assert.Equal(t, w.URL(), restored.URL())
	assert.Equal(t, w.Events(), restored.Events())
	assert.Equal(t, w.Secret(), restored.Secret())
	assert.Equal(t, w.Active(), restored.Active())
	assert.Equal(t, w.FailureCount(), restored.FailureCount())
	assert.True(t, w.CreatedAt().Equal(restored.CreatedAt()))
	assert.Empty(t, restored.GetUncommittedEvents())
}

func TestRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := eventsourcing.NewInMemoryEventStore(eventsourcing.DefaultInMemoryEventStoreConfig())
	repo := eventsourcing.NewEventSourcedRepository[*Webhook](store, eventsourcing.DefaultRepositoryConfig(), NewWebhook)

	require.NoError(t, repo.Create(ctx, newWebhook(t)))

	_, err := repo.Execute(ctx, "wh-1", func(w *Webhook) error {
		return w.RecordSuccess("d-1")
	})
	require.NoError(t, err)

	loaded, err := repo.Load(ctx, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version())
	assert.Equal(t, 1, loaded.SuccessCount())
}
