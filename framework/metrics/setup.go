package metrics

import (
	"context"
	"fmt"
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MetricsConfig конфигурация метрик
type MetricsConfig struct {
	Enabled       bool              `env:"ENABLED" envDefault:"true"`
	ServiceName   string            `env:"SERVICE_NAME" envDefault:"psp-core"`
	ResourceAttrs map[string]string `env:"RESOURCE_ATTRS" envSeparator:","`
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:     true,
		ServiceName: "psp-core",
	}
}

// Provider MeterProvider с Prometheus реестром для отдачи /metrics
type Provider struct {
	meterProvider *metric.MeterProvider
	registry      *prom.Registry
}

// SetupMetrics настраивает экспорт метрик в Prometheus и регистрирует глобальный MeterProvider
func SetupMetrics(ctx context.Context, config MetricsConfig) (*Provider, error) {
	registry := prom.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	attrs := buildResourceAttributes(config.ResourceAttrs)
	attrs = append(attrs, attribute.String("service.name", config.ServiceName))
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return &Provider{meterProvider: provider, registry: registry}, nil
}

// Handler возвращает HTTP handler для scrape
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown корректно завершает работу метрик
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}

// buildResourceAttributes строит resource attributes
func buildResourceAttributes(attrs map[string]string) []attribute.KeyValue {
	result := make([]attribute.KeyValue, 0, len(attrs)+1)
	for k, v := range attrs {
		result = append(result, attribute.String(k, v))
	}
	return result
}
