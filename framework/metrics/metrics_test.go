package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetricsWithMeter(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCommand(ctx, "account.credit", 10*time.Millisecond, true)
	m.RecordCommand(ctx, "account.debit", 5*time.Millisecond, false)
	m.RecordEvent(ctx, "account.credited")
	m.RecordPublishFailure(ctx, "account.credited")
	m.RecordConflict(ctx, "account")
	m.RecordDeliveryEnqueued(ctx, "account.credited")
	m.RecordDeliveryAttempt(ctx, "SUCCESS", time.Second)
	m.RecordDeliveryAttempt(ctx, "FAILED", time.Second)
	m.RecordDeliveryExhausted(ctx)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["commands_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["errors_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["events_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["event_publish_failures_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["concurrency_conflicts_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["webhook_deliveries_enqueued_total"]))
	assert.Equal(t, int64(2), sumOf(t, got["webhook_delivery_attempts_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["webhook_deliveries_exhausted_total"]))
}

func TestSetupMetrics_ServesPrometheus(t *testing.T) {
	provider, err := SetupMetrics(context.Background(), DefaultMetricsConfig())
	require.NoError(t, err)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewMetrics()
	require.NoError(t, err)
	m.RecordEvent(context.Background(), "webhook.created")

	rec := httptest.NewRecorder()
	provider.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "events_total")
}
