package events

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go/compress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

type accountCredited struct {
	events.BaseEvent
	Amount string `json:"amount"`
}

func newCredited() *accountCredited {
	e := &accountCredited{BaseEvent: events.NewBaseEvent("account.credited", "acc-1"), Amount: "10.00"}
	e.BaseEvent = e.BaseEvent.WithMetadata("correlation_id", "corr-1")
	return e
}

func TestAggregateTypeOf(t *testing.T) {
	assert.Equal(t, "account", aggregateTypeOf("account.credited"))
	assert.Equal(t, "ping", aggregateTypeOf("ping"))
	assert.Equal(t, "unknown", aggregateTypeOf(""))
	assert.Equal(t, ".x", aggregateTypeOf(".x"))
}

func TestBuildHeaders(t *testing.T) {
	e := newCredited()
	h := buildHeaders(e)
	assert.Equal(t, e.EventID(), h[HeaderEventID])
	assert.Equal(t, "account.credited", h[HeaderEventType])
	assert.Equal(t, "acc-1", h[HeaderAggregateID])
	assert.Equal(t, "1", h[HeaderSchemaVersion])
	assert.Equal(t, "corr-1", h[HeaderCorrelationID])
}

func TestNATSEventAdapter_BuildMessage(t *testing.T) {
	adapter := NewNATSEventAdapterWithConn(nil, DefaultNATSEventConfig())
	e := newCredited()

	msg, err := adapter.buildMessage(e)
	require.NoError(t, err)
	assert.Equal(t, "events.account.credited", msg.Subject)
	assert.Equal(t, e.EventID(), msg.Header.Get(nats.MsgIdHdr))
	assert.Contains(t, string(msg.Data), `"amount":"10.00"`)
}

func TestKafkaEventAdapter_BuildMessage(t *testing.T) {
	adapter, err := NewKafkaEventAdapter(DefaultKafkaEventConfig())
	require.NoError(t, err)
	e := newCredited()

	msg, err := adapter.buildMessage(e)
	require.NoError(t, err)
	assert.Equal(t, "events.account", msg.Topic)
	assert.Equal(t, []byte("acc-1"), msg.Key)
	assert.Len(t, msg.Headers, 5)

	_, err = NewKafkaEventAdapter(KafkaEventConfig{})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestKafkaCompression(t *testing.T) {
	assert.Equal(t, compress.Snappy, kafkaCompression("SNAPPY"))
	assert.Equal(t, compress.Zstd, kafkaCompression("zstd"))
	assert.Equal(t, compress.None, kafkaCompression("bogus"))
}

func TestRedisStreamPublisher_BuildArgs(t *testing.T) {
	publisher := NewRedisStreamPublisher(nil, DefaultRedisConfig())
	e := newCredited()

	args, err := publisher.buildArgs(e)
	require.NoError(t, err)
	assert.Equal(t, "events:account", args.Stream)
	assert.Equal(t, int64(10000), args.MaxLen)
	assert.True(t, args.Approx)

	values, ok := args.Values.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, e.EventID(), values[HeaderEventID])
	assert.Contains(t, values["envelope"], `"event_type":"account.credited"`)
}

func TestRedisConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultRedisConfig().Validate())
	assert.ErrorIs(t, RedisConfig{}.Validate(), core.ErrInvalidConfig)
}

func TestNewExternalPublisher(t *testing.T) {
	p, err := NewExternalPublisher(context.Background(), PublisherConfig{Driver: DriverMemory})
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = NewExternalPublisher(context.Background(), PublisherConfig{Driver: "rabbitmq"})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	local := events.NewInMemoryEventPublisher()
	assert.Same(t, local, Compose(local, nil))
}
