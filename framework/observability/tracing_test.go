package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/akriventsev/psp-core/framework/core"
)

func withRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(previous) })
	return recorder
}

func TestTraceCommand_RecordsError(t *testing.T) {
	recorder := withRecorder(t)
	boom := errors.New("boom")

	ctx := core.WithCorrelationID(context.Background(), "corr-9")
	err := TraceCommand(ctx, "account.debit", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "command.account.debit", spans[0].Name())
	assert.NotEmpty(t, spans[0].Events())
}

func TestTraceDelivery_Success(t *testing.T) {
	recorder := withRecorder(t)
	require.NoError(t, TraceDelivery(context.Background(), "d-1", 2, func(context.Context) error { return nil }))
	require.Len(t, recorder.Ended(), 1)
	assert.Equal(t, "webhook.deliver", recorder.Ended()[0].Name())
}

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CorrelationIDMiddleware())
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = core.CorrelationID(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(CorrelationIDHeader, "abc")
	router.ServeHTTP(rec, req)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(CorrelationIDHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, rec.Header().Get(CorrelationIDHeader))
}

func TestCreateExporter(t *testing.T) {
	var buf bytes.Buffer
	exp, err := createExporter(context.Background(), TracingConfig{Exporter: ExporterStdout}, &buf)
	require.NoError(t, err)
	assert.NotNil(t, exp)

	_, err = createExporter(context.Background(), TracingConfig{Exporter: "zipkin"}, &buf)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestNewTracingManager_Disabled(t *testing.T) {
	tm, err := NewTracingManager(context.Background(), TracingConfig{ServiceName: "x"})
	require.NoError(t, err)
	assert.NotNil(t, tm.Tracer())
	require.NoError(t, tm.Start(context.Background()))
	assert.True(t, tm.IsRunning())
	require.NoError(t, tm.Stop(context.Background()))
}
