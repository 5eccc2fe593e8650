package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/akriventsev/psp-core/framework/container"
	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/metrics"
	"github.com/akriventsev/psp-core/framework/observability"
	"github.com/akriventsev/psp-core/internal/application"
	"github.com/akriventsev/psp-core/internal/config"
	"github.com/akriventsev/psp-core/internal/delivery"
)

// opsServer служебный HTTP: health, метрики и чтение состояния
type opsServer struct {
	server *http.Server

	mu      sync.Mutex
	running bool
}

func newOpsServer(cfg config.Config, c *container.Container, m *metrics.Provider, service *application.Service) *opsServer {
	gin.SetMode(gin.ReleaseMode)
	return &opsServer{
		server: &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           newRouter(cfg.Tracing.ServiceName, c, m, service),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func newRouter(serviceName string, c *container.Container, m *metrics.Provider, service *application.Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), observability.CorrelationIDMiddleware(), observability.HTTPTracingMiddleware(serviceName))

	router.GET("/healthz", func(ctx *gin.Context) {
		status := http.StatusOK
		checks := gin.H{}
		for name, err := range c.HealthCheck(ctx.Request.Context()) {
			if err != nil {
				status = http.StatusServiceUnavailable
				checks[name] = err.Error()
				continue
			}
			checks[name] = "ok"
		}
		ctx.JSON(status, gin.H{"status": http.StatusText(status), "checks": checks})
	})
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	v1 := router.Group("/v1")
	v1.GET("/accounts/:id", func(ctx *gin.Context) {
		state, err := service.GetAccount(ctx.Request.Context(), ctx.Param("id"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{
			"client_id":    state.ClientID,
			"account_id":   state.AccountID,
			"currency":     state.Currency,
			"available":    state.Available,
			"blocked":      state.Blocked,
			"created_at":   state.CreatedAt,
			"last_updated": state.LastUpdated,
			"version":      state.Version,
		})
	})
	v1.GET("/webhooks/:id", func(ctx *gin.Context) {
		view, err := service.GetWebhook(ctx.Request.Context(), ctx.Param("id"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, view)
	})
	v1.GET("/webhooks/:id/stats", func(ctx *gin.Context) {
		stats, err := service.WebhookStats(ctx.Request.Context(), ctx.Param("id"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, stats)
	})
	v1.GET("/clients/:id/webhooks", func(ctx *gin.Context) {
		q := application.WebhookListQuery{ClientID: ctx.Param("id")}
		q.Page, _ = strconv.Atoi(ctx.DefaultQuery("page", "1"))
		q.PageSize, _ = strconv.Atoi(ctx.DefaultQuery("page_size", "50"))
		if raw, ok := ctx.GetQuery("active"); ok {
			active, err := strconv.ParseBool(raw)
			if err != nil {
				writeError(ctx, core.Wrap(err, core.CodeValidation, "active must be a boolean"))
				return
			}
			q.Active = &active
		}

		items, total, err := service.ListWebhooks(ctx.Request.Context(), q)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"items": items, "total": total})
	})
	v1.GET("/webhooks/:id/deliveries", func(ctx *gin.Context) {
		q := delivery.ListQuery{Status: delivery.Status(ctx.Query("status"))}
		q.Page, _ = strconv.Atoi(ctx.DefaultQuery("page", "1"))
		q.PageSize, _ = strconv.Atoi(ctx.DefaultQuery("page_size", "50"))

		items, total, err := service.ListDeliveries(ctx.Request.Context(), ctx.Param("id"), q)
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"items": items, "total": total})
	})
	return router
}

func writeError(ctx *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch core.CodeOf(err) {
	case core.CodeNotFound:
		status = http.StatusNotFound
	case core.CodeValidation:
		status = http.StatusBadRequest
	case core.CodeInvariantViolation:
		status = http.StatusUnprocessableEntity
	case core.CodeConcurrency:
		status = http.StatusConflict
	}
	_ = ctx.Error(err)
	ctx.JSON(status, gin.H{"error": err.Error(), "code": core.CodeOf(err)})
}

func (s *opsServer) Name() string             { return "ops-http" }
func (s *opsServer) Type() core.ComponentType { return core.ComponentTypeTransport }

func (s *opsServer) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[ops] server error: %v", err)
		}
	}()
	log.Printf("[ops] listening on %s", s.server.Addr)
	return nil
}

func (s *opsServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("ops server shutdown: %w", err)
	}
	return nil
}

func (s *opsServer) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
