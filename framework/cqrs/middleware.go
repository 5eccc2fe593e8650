// Package cqrs предоставляет middleware для обработчиков команд.
package cqrs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/metrics"
	"github.com/akriventsev/psp-core/framework/observability"
	"github.com/akriventsev/psp-core/framework/transport"
)

// CommandFunc выполнение команды. Результат команды захватывается замыканием вызывающего.
type CommandFunc func(ctx context.Context, cmd transport.Command) error

// CommandMiddleware обертка над выполнением команды
type CommandMiddleware func(ctx context.Context, cmd transport.Command, next CommandFunc) error

// Pipeline цепочка middleware, применяемая к каждой команде
type Pipeline struct {
	middlewares []CommandMiddleware
}

// NewPipeline создает цепочку; первый middleware внешний
func NewPipeline(middlewares ...CommandMiddleware) *Pipeline {
	return &Pipeline{middlewares: middlewares}
}

// Use добавляет middleware во внутреннюю часть цепочки
func (p *Pipeline) Use(middleware CommandMiddleware) *Pipeline {
	p.middlewares = append(p.middlewares, middleware)
	return p
}

// Run выполняет fn через цепочку middleware
func (p *Pipeline) Run(ctx context.Context, cmd transport.Command, fn func(ctx context.Context) error) error {
	next := func(ctx context.Context, _ transport.Command) error {
		return fn(ctx)
	}
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		mw, inner := p.middlewares[i], next
		next = func(ctx context.Context, cmd transport.Command) error {
			return mw(ctx, cmd, inner)
		}
	}
	return next(ctx, cmd)
}

// LoggingCommandMiddleware логирует выполнение команд
func LoggingCommandMiddleware(logger interface{ Log(string, ...interface{}) }) CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next CommandFunc) error {
		start := time.Now()
		correlationID := core.CorrelationID(ctx)

		err := next(ctx, cmd)

		duration := time.Since(start)
		if err != nil {
			logger.Log("[command] %s failed after %v (correlation_id=%s): %v", cmd.CommandName(), duration, correlationID, err)
		} else {
			logger.Log("[command] %s completed in %v (correlation_id=%s)", cmd.CommandName(), duration, correlationID)
		}
		return err
	}
}

// DefaultLoggingCommandMiddleware использует стандартный log
func DefaultLoggingCommandMiddleware() CommandMiddleware {
	return LoggingCommandMiddleware(&defaultLogger{})
}

// defaultLogger простая реализация logger
type defaultLogger struct{}

func (l *defaultLogger) Log(format string, args ...interface{}) {
	log.Printf(format, args...)
}

// ValidationCommandMiddleware вызывает Validate у команд, которые его реализуют
func ValidationCommandMiddleware() CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next CommandFunc) error {
		if v, ok := cmd.(transport.ValidatableCommand); ok {
			if err := v.Validate(); err != nil {
				if core.CodeOf(err) == "" {
					return core.Wrap(err, core.CodeValidation, cmd.CommandName()+" is invalid")
				}
				return err
			}
		}
		return next(ctx, cmd)
	}
}

// RecoveryCommandMiddleware восстанавливает панику в обработчиках команд
func RecoveryCommandMiddleware() CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next CommandFunc) (err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[command] panic in %s: %v", cmd.CommandName(), r)
				err = fmt.Errorf("panic recovered in %s: %v", cmd.CommandName(), r)
			}
		}()
		return next(ctx, cmd)
	}
}

// TimeoutCommandMiddleware добавляет timeout к выполнению команды
func TimeoutCommandMiddleware(timeout time.Duration) CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next CommandFunc) error {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return next(ctx, cmd)
	}
}

// MetricsCommandMiddleware записывает метрики команд
func MetricsCommandMiddleware(m *metrics.Metrics) CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next CommandFunc) error {
		m.IncrementActiveCommands(ctx)
		defer m.DecrementActiveCommands(ctx)

		start := time.Now()
		err := next(ctx, cmd)
		m.RecordCommand(ctx, cmd.CommandName(), time.Since(start), err == nil)
		if errors.Is(err, core.ErrConcurrency) {
			m.RecordConflict(ctx, cmd.CommandName())
		}
		return err
	}
}

// TracingCommandMiddleware оборачивает команду в span
func TracingCommandMiddleware() CommandMiddleware {
	return func(ctx context.Context, cmd transport.Command, next CommandFunc) error {
		return observability.TraceCommand(ctx, cmd.CommandName(), func(ctx context.Context) error {
			return next(ctx, cmd)
		})
	}
}
