// Copyright 2024 Potter Framework Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package observability предоставляет distributed tracing на OpenTelemetry.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/akriventsev/psp-core/framework/core"
)

// CorrelationIDHeader заголовок correlation ID
const CorrelationIDHeader = "X-Correlation-ID"

// Поддерживаемые exporters
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TracingConfig конфигурация для distributed tracing
type TracingConfig struct {
	Enabled          bool    `env:"ENABLED" envDefault:"false"`
	ServiceName      string  `env:"SERVICE_NAME" envDefault:"psp-core"`
	ServiceVersion   string  `env:"SERVICE_VERSION" envDefault:"dev"`
	Exporter         string  `env:"EXPORTER" envDefault:"stdout"`
	ExporterEndpoint string  `env:"EXPORTER_ENDPOINT" envDefault:"localhost:4318"`
	SamplingRate     float64 `env:"SAMPLING_RATE" envDefault:"1.0"`
	Environment      string  `env:"ENVIRONMENT" envDefault:"development"`
}

// DefaultTracingConfig возвращает конфигурацию по умолчанию
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName:      "psp-core",
		ServiceVersion:   "dev",
		Exporter:         ExporterStdout,
		ExporterEndpoint: "localhost:4318",
		SamplingRate:     1.0,
		Environment:      "development",
	}
}

// TracingManager менеджер для distributed tracing
type TracingManager struct {
	config   TracingConfig
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
	running  bool
	mu       sync.RWMutex
}

// NewTracingManager создает новый TracingManager и регистрирует глобальный TracerProvider.
// Выключенный tracing использует noop tracer глобального провайдера.
func NewTracingManager(ctx context.Context, config TracingConfig) (*TracingManager, error) {
	if !config.Enabled || config.Exporter == ExporterNone {
		return &TracingManager{config: config, tracer: otel.Tracer(config.ServiceName)}, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", config.ServiceName),
			attribute.String("service.version", config.ServiceVersion),
			attribute.String("deployment.environment", config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := createExporter(ctx, config, os.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(config.SamplingRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingManager{
		config:   config,
		tracer:   tp.Tracer(config.ServiceName),
		provider: tp,
	}, nil
}

func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// createExporter создает exporter на основе конфигурации
func createExporter(ctx context.Context, config TracingConfig, out io.Writer) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case ExporterOTLP:
		return otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(config.ExporterEndpoint),
			otlptracehttp.WithInsecure(),
		)
	case ExporterStdout, "":
		return stdouttrace.New(stdouttrace.WithWriter(out))
	default:
		return nil, core.Errorf(core.CodeInvalidConfig, "unknown trace exporter %q", config.Exporter)
	}
}

// Start запускает tracing (lifecycle)
func (tm *TracingManager) Start(_ context.Context) error {
	tm.mu.Lock()
	tm.running = true
	tm.mu.Unlock()
	return nil
}

// Stop останавливает tracing с graceful shutdown
func (tm *TracingManager) Stop(ctx context.Context) error {
	tm.mu.Lock()
	tm.running = false
	tm.mu.Unlock()

	if tm.provider != nil {
		return tm.provider.Shutdown(ctx)
	}
	return nil
}

// IsRunning проверяет статус
func (tm *TracingManager) IsRunning() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.running
}

// Name возвращает имя компонента
func (tm *TracingManager) Name() string {
	return "tracing"
}

// Type возвращает тип компонента
func (tm *TracingManager) Type() core.ComponentType {
	return core.ComponentTypeModule
}

// Tracer возвращает tracer для создания spans
func (tm *TracingManager) Tracer() trace.Tracer {
	return tm.tracer
}

// HTTPTracingMiddleware Gin middleware для инструментации HTTP запросов
func HTTPTracingMiddleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := otel.Tracer(serviceName).Start(ctx, fmt.Sprintf("%s %s", c.Request.Method, c.FullPath()))
		defer span.End()

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", c.FullPath()),
		)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.RecordError(c.Errors.Last())
			span.SetStatus(codes.Error, c.Errors.Last().Error())
		}
	}
}

// CorrelationIDMiddleware Gin middleware, переносящий correlation ID из заголовка в context
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(CorrelationIDHeader)
		if correlationID == "" {
			correlationID = uuid.NewString()
		}
		c.Request = c.Request.WithContext(core.WithCorrelationID(c.Request.Context(), correlationID))
		c.Writer.Header().Set(CorrelationIDHeader, correlationID)
		c.Next()
	}
}

// TraceCommand обертка для команд
func TraceCommand(ctx context.Context, commandName string, fn func(context.Context) error) error {
	return traceSpan(ctx, "psp.command", "command."+commandName, fn,
		attribute.String("command.name", commandName))
}

// TraceEvent обертка для обработки событий
func TraceEvent(ctx context.Context, eventType string, fn func(context.Context) error) error {
	return traceSpan(ctx, "psp.event", "event."+eventType, fn,
		attribute.String("event.type", eventType))
}

// TraceDelivery обертка для попытки доставки вебхука
func TraceDelivery(ctx context.Context, deliveryID string, attempt int, fn func(context.Context) error) error {
	return traceSpan(ctx, "psp.delivery", "webhook.deliver", fn,
		attribute.String("delivery.id", deliveryID),
		attribute.Int("delivery.attempt", attempt))
}

func traceSpan(ctx context.Context, tracerName, spanName string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	defer span.End()

	if id := core.CorrelationID(ctx); id != "" {
		span.SetAttributes(attribute.String("correlation_id", id))
	}

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("success", err == nil))
	return err
}
