package events

import (
	"strconv"
	"strings"

	"github.com/akriventsev/psp-core/framework/events"
)

// Заголовки сообщений брокеров
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderAggregateID   = "aggregate_id"
	HeaderSchemaVersion = "schema_version"
	HeaderCorrelationID = "correlation_id"
)

// aggregateTypeOf возвращает префикс типа события до первой точки ("account.credited" -> "account")
func aggregateTypeOf(eventType string) string {
	if i := strings.IndexByte(eventType, '.'); i > 0 {
		return eventType[:i]
	}
	if eventType == "" {
		return "unknown"
	}
	return eventType
}

// buildHeaders формирует заголовки сообщения из базовых полей события
func buildHeaders(event events.Event) map[string]string {
	headers := map[string]string{
		HeaderEventID:       event.EventID(),
		HeaderEventType:     event.EventType(),
		HeaderAggregateID:   event.AggregateID(),
		HeaderSchemaVersion: strconv.Itoa(event.SchemaVersion()),
	}
	if id := event.Metadata().CorrelationID(); id != "" {
		headers[HeaderCorrelationID] = id
	}
	return headers
}
