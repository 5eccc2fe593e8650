package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/events"
	"github.com/akriventsev/psp-core/framework/eventsourcing"
)

func feed(t *testing.T, idx *SubscriptionIndex, w *Webhook) {
	t.Helper()
	for _, e := range w.GetUncommittedEvents() {
		require.NoError(t, idx.Handle(context.Background(), e))
	}
	w.MarkEventsAsCommitted()
}

func TestSubscriptionIndex_Matching(t *testing.T) {
	idx := NewSubscriptionIndex()

	a, err := CreateWithID("wh-a", "client-1", "https://a.example.com", []string{"account.credited"}, "sa", "")
	require.NoError(t, err)
	b, err := CreateWithID("wh-b", "client-1", "https://b.example.com", []string{"account.credited", "account.debited"}, "", "")
	require.NoError(t, err)
	c, err := CreateWithID("wh-c", "client-2", "https://c.example.com", []string{"account.credited"}, "", "")
	require.NoError(t, err)
	feed(t, idx, a)
	feed(t, idx, b)
	feed(t, idx, c)

	got := idx.Matching("client-1", "account.credited")
	require.Len(t, got, 2)
	assert.Equal(t, "wh-a", got[0].WebhookID)
	assert.Equal(t, "sa", got[0].Secret)
	assert.Equal(t, "wh-b", got[1].WebhookID)

	require.NoError(t, a.Deactivate())
	require.NoError(t, b.UpdateEvents([]string{"account.debited"}))
	feed(t, idx, a)
	feed(t, idx, b)

	assert.Empty(t, idx.Matching("client-1", "account.credited"))
	assert.Len(t, idx.Matching("client-1", "account.debited"), 1)

	require.NoError(t, b.UpdateURL("https://b2.example.com"))
	feed(t, idx, b)
	sub, ok := idx.Get("wh-b")
	require.True(t, ok)
	assert.Equal(t, "https://b2.example.com", sub.URL)
}

func TestSubscriptionIndex_ByClient(t *testing.T) {
	idx := NewSubscriptionIndex()
	for _, id := range []string{"wh-c", "wh-a", "wh-b"} {
		w, err := CreateWithID(id, "client-1", "https://"+id+".example.com", []string{"account.credited"}, "", "")
		require.NoError(t, err)
		feed(t, idx, w)
		if id == "wh-b" {
			require.NoError(t, w.Deactivate())
			feed(t, idx, w)
		}
	}
	other, err := CreateWithID("wh-x", "client-2", "https://x.example.com", []string{"account.credited"}, "", "")
	require.NoError(t, err)
	feed(t, idx, other)

	got := idx.ByClient("client-1")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"wh-a", "wh-b", "wh-c"}, []string{got[0].WebhookID, got[1].WebhookID, got[2].WebhookID})
	assert.False(t, got[1].Active)
	assert.Empty(t, idx.ByClient("client-3"))
}

func TestSubscriptionIndex_IgnoresForeignEvents(t *testing.T) {
	idx := NewSubscriptionIndex()
	foreign := &WebhookActivated{BaseEvent: events.NewBaseEvent("account.opened", "acc-1")}
	require.NoError(t, idx.Handle(context.Background(), foreign))
	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, events.AllEvents, idx.EventType())
}

func TestSubscriptionIndex_Rebuild(t *testing.T) {
	ctx := context.Background()
	store := eventsourcing.NewInMemoryEventStore(eventsourcing.DefaultInMemoryEventStoreConfig())
	repo := eventsourcing.NewEventSourcedRepository[*Webhook](store, eventsourcing.DefaultRepositoryConfig(), NewWebhook)

	for _, id := range []string{"wh-1", "wh-2", "wh-3"} {
		w, err := CreateWithID(id, "client-1", "https://example.com/"+id, []string{"account.opened"}, "", "")
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, w))
	}
	_, err := repo.Execute(ctx, "wh-2", func(w *Webhook) error { return w.Deactivate() })
	require.NoError(t, err)

	idx := NewSubscriptionIndex()
	require.NoError(t, idx.Rebuild(ctx, store, 2))

	assert.Equal(t, 3, idx.Len())
	got := idx.Matching("client-1", "account.opened")
	require.Len(t, got, 2)
	assert.Equal(t, "wh-1", got[0].WebhookID)
	assert.Equal(t, "wh-3", got[1].WebhookID)
}
