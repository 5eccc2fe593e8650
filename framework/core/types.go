// Package core предоставляет базовые типы для всех компонентов фреймворка.
package core

import "context"

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	causationIDKey   contextKey = "causation_id"
)

// WithCorrelationID сохраняет correlation ID в контексте
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID возвращает correlation ID из контекста
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithCausationID сохраняет causation ID в контексте
func WithCausationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, causationIDKey, id)
}

// CausationID возвращает causation ID из контекста
func CausationID(ctx context.Context) string {
	if id, ok := ctx.Value(causationIDKey).(string); ok {
		return id
	}
	return ""
}

// ComponentType enum для типов компонентов
type ComponentType string

const (
	ComponentTypeModule    ComponentType = "module"
	ComponentTypeAdapter   ComponentType = "adapter"
	ComponentTypeTransport ComponentType = "transport"
	ComponentTypeHandler   ComponentType = "handler"
	ComponentTypeWorker    ComponentType = "worker"
)
