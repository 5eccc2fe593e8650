// Package metrics предоставляет систему метрик на основе OpenTelemetry.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentationName имя meter по умолчанию
const InstrumentationName = "psp-core"

// Metrics сборщик метрик приложения
type Metrics struct {
	commandsTotal        metric.Int64Counter
	commandDuration      metric.Float64Histogram
	activeCommands       metric.Int64UpDownCounter
	eventsTotal          metric.Int64Counter
	publishFailuresTotal metric.Int64Counter
	conflictsTotal       metric.Int64Counter
	deliveryAttempts     metric.Int64Counter
	deliveryDuration     metric.Float64Histogram
	deliveriesEnqueued   metric.Int64Counter
	deliveriesExhausted  metric.Int64Counter
	errorsTotal          metric.Int64Counter
}

// NewMetrics создает сборщик метрик на глобальном MeterProvider
func NewMetrics() (*Metrics, error) {
	return NewMetricsWithMeter(otel.Meter(InstrumentationName))
}

// NewMetricsWithMeter создает сборщик метрик на заданном meter
func NewMetricsWithMeter(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.commandsTotal, err = meter.Int64Counter(
		"commands_total",
		metric.WithDescription("Total number of commands processed"),
	); err != nil {
		return nil, err
	}
	if m.commandDuration, err = meter.Float64Histogram(
		"command_duration_seconds",
		metric.WithDescription("Command processing duration in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.activeCommands, err = meter.Int64UpDownCounter(
		"active_commands",
		metric.WithDescription("Number of active commands being processed"),
	); err != nil {
		return nil, err
	}
	if m.eventsTotal, err = meter.Int64Counter(
		"events_total",
		metric.WithDescription("Total number of events published"),
	); err != nil {
		return nil, err
	}
	if m.publishFailuresTotal, err = meter.Int64Counter(
		"event_publish_failures_total",
		metric.WithDescription("Events persisted but not delivered to subscribers"),
	); err != nil {
		return nil, err
	}
	if m.conflictsTotal, err = meter.Int64Counter(
		"concurrency_conflicts_total",
		metric.WithDescription("Optimistic concurrency conflicts on append"),
	); err != nil {
		return nil, err
	}
	if m.deliveryAttempts, err = meter.Int64Counter(
		"webhook_delivery_attempts_total",
		metric.WithDescription("Webhook delivery attempts by outcome"),
	); err != nil {
		return nil, err
	}
	if m.deliveryDuration, err = meter.Float64Histogram(
		"webhook_delivery_duration_seconds",
		metric.WithDescription("Webhook delivery round trip in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.deliveriesEnqueued, err = meter.Int64Counter(
		"webhook_deliveries_enqueued_total",
		metric.WithDescription("Webhook deliveries created"),
	); err != nil {
		return nil, err
	}
	if m.deliveriesExhausted, err = meter.Int64Counter(
		"webhook_deliveries_exhausted_total",
		metric.WithDescription("Webhook deliveries that used every attempt"),
	); err != nil {
		return nil, err
	}
	if m.errorsTotal, err = meter.Int64Counter(
		"errors_total",
		metric.WithDescription("Total number of errors"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordCommand записывает метрику команды
func (m *Metrics) RecordCommand(ctx context.Context, commandName string, duration time.Duration, success bool) {
	attrs := metric.WithAttributes(
		attribute.String("command", commandName),
		attribute.Bool("success", success),
	)
	m.commandsTotal.Add(ctx, 1, attrs)
	m.commandDuration.Record(ctx, duration.Seconds(), attrs)

	if !success {
		m.errorsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("type", "command"),
			attribute.String("command", commandName),
		))
	}
}

// IncrementActiveCommands увеличивает счетчик активных команд
func (m *Metrics) IncrementActiveCommands(ctx context.Context) {
	m.activeCommands.Add(ctx, 1)
}

// DecrementActiveCommands уменьшает счетчик активных команд
func (m *Metrics) DecrementActiveCommands(ctx context.Context) {
	m.activeCommands.Add(ctx, -1)
}

// RecordEvent записывает метрику опубликованного события
func (m *Metrics) RecordEvent(ctx context.Context, eventType string) {
	m.eventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordPublishFailure записывает сбой публикации сохраненного события
func (m *Metrics) RecordPublishFailure(ctx context.Context, eventType string) {
	m.publishFailuresTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordConflict записывает конфликт версий
func (m *Metrics) RecordConflict(ctx context.Context, aggregate string) {
	m.conflictsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("aggregate", aggregate)))
}

// RecordDeliveryEnqueued записывает создание доставки
func (m *Metrics) RecordDeliveryEnqueued(ctx context.Context, eventType string) {
	m.deliveriesEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("event", eventType)))
}

// RecordDeliveryAttempt записывает результат попытки доставки вебхука
func (m *Metrics) RecordDeliveryAttempt(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.deliveryAttempts.Add(ctx, 1, attrs)
	m.deliveryDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordDeliveryExhausted записывает доставку, исчерпавшую все попытки
func (m *Metrics) RecordDeliveryExhausted(ctx context.Context) {
	m.deliveriesExhausted.Add(ctx, 1)
}
