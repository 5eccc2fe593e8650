package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akriventsev/psp-core/framework/container"
	"github.com/akriventsev/psp-core/internal/application"
	"github.com/akriventsev/psp-core/internal/config"
	"github.com/akriventsev/psp-core/internal/delivery"
	"github.com/akriventsev/psp-core/internal/ledger"
	"github.com/akriventsev/psp-core/internal/webhook"
)

func buildTestApp(t *testing.T) (*app, http.Handler, *application.Service) {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{"PSP_HTTP_ADDR": "127.0.0.1:0"})
	require.NoError(t, err)

	a, err := build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { a.close(context.Background()) })

	ops := container.MustGet[*opsServer](a.container, keyOps)
	service := container.MustGet[*application.Service](a.container, keyService)
	return a, ops.server.Handler, service
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestOps_HealthAndMetrics(t *testing.T) {
	_, h, _ := buildTestApp(t)

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOps_ReadEndpoints(t *testing.T) {
	_, h, service := buildTestApp(t)
	ctx := context.Background()

	_, err := service.OpenAccount(ctx, application.OpenAccount{ClientID: "client-1", AccountID: "acc-1", Currency: "BRL"})
	require.NoError(t, err)
	_, err = service.Credit(ctx, application.Credit{AccountID: "acc-1", Amount: ledger.MustMoney("12.50", "BRL")})
	require.NoError(t, err)

	rec := get(t, h, "/v1/accounts/acc-1")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "client-1", body["client_id"])
	assert.EqualValues(t, 2, body["version"])

	rec = get(t, h, "/v1/accounts/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, err = service.CreateWebhook(ctx, application.CreateWebhook{
		WebhookID: "wh-1",
		ClientID:  "client-1",
		URL:       "https://example.com/hook",
		Events:    []string{ledger.EventBalanceCredited},
	})
	require.NoError(t, err)

	rec = get(t, h, "/v1/webhooks/wh-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"has_secret":false`)

	_, err = service.Credit(ctx, application.Credit{AccountID: "acc-1", Amount: ledger.MustMoney("1.00", "BRL")})
	require.NoError(t, err)

	rec = get(t, h, "/v1/webhooks/wh-1/deliveries?status=PENDING")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, ledger.EventBalanceCredited, page.Items[0]["event_type"])
}

func TestApp_RebuildRestoresSubscriptions(t *testing.T) {
	a, _, service := buildTestApp(t)
	ctx := context.Background()

	_, err := service.CreateWebhook(ctx, application.CreateWebhook{
		WebhookID: "wh-1",
		ClientID:  "client-1",
		URL:       "https://example.com/hook",
		Events:    []string{ledger.EventBalanceCredited},
	})
	require.NoError(t, err)

	a.index = webhook.NewSubscriptionIndex()
	require.NoError(t, a.start(ctx))
	assert.Equal(t, 1, a.index.Len())
}

func TestOps_WebhookListAndStats(t *testing.T) {
	_, h, service := buildTestApp(t)
	ctx := context.Background()

	for _, id := range []string{"wh-2", "wh-1"} {
		_, err := service.CreateWebhook(ctx, application.CreateWebhook{
			WebhookID: id,
			ClientID:  "client-1",
			URL:       "https://example.com/" + id,
			Events:    []string{ledger.EventBalanceCredited},
		})
		require.NoError(t, err)
	}

	rec := get(t, h, "/v1/clients/client-1/webhooks?page_size=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Items []map[string]any `json:"items"`
		Total int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "wh-1", page.Items[0]["id"])

	rec = get(t, h, "/v1/clients/client-1/webhooks?active=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get(t, h, "/v1/webhooks/wh-1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, "wh-1", stats["webhook_id"])
	assert.EqualValues(t, 0, stats["total_deliveries"])

	rec = get(t, h, "/v1/webhooks/missing/stats")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApp_RelayRepublishesWithoutDuplicateDeliveries(t *testing.T) {
	a, _, service := buildTestApp(t)
	ctx := context.Background()
	require.NotNil(t, a.relay)

	_, err := service.OpenAccount(ctx, application.OpenAccount{ClientID: "client-1", AccountID: "acc-1", Currency: "BRL"})
	require.NoError(t, err)
	_, err = service.CreateWebhook(ctx, application.CreateWebhook{
		WebhookID: "wh-1",
		ClientID:  "client-1",
		URL:       "https://example.com/hook",
		Events:    []string{ledger.EventBalanceCredited},
	})
	require.NoError(t, err)
	_, err = service.Credit(ctx, application.Credit{AccountID: "acc-1", Amount: ledger.MustMoney("3.00", "BRL")})
	require.NoError(t, err)

	n, err := a.relay.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, total, err := service.ListDeliveries(ctx, "wh-1", delivery.ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}
