// Package container хранит зависимости приложения и управляет жизненным циклом компонентов.
package container

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/akriventsev/psp-core/framework/core"
)

// Config конфигурация контейнера
type Config struct {
	ShutdownTimeout time.Duration
}

// Container контейнер зависимостей.
// Компоненты, реализующие core.Lifecycle, запускаются в порядке регистрации
// и останавливаются в обратном.
type Container struct {
	Config *Config

	mu           sync.RWMutex
	dependencies map[string]interface{}
	components   []core.Component
	started      []core.Lifecycle
}

// NewContainer создает новый контейнер
func NewContainer(config *Config) *Container {
	if config == nil {
		config = &Config{
			ShutdownTimeout: 30 * time.Second,
		}
	}
	return &Container{
		Config:       config,
		dependencies: make(map[string]interface{}),
	}
}

// Get[T] получает зависимость по ключу
func Get[T any](c *Container, key string) (T, error) {
	var zero T
	c.mu.RLock()
	defer c.mu.RUnlock()

	dep, exists := c.dependencies[key]
	if !exists {
		return zero, core.Errorf(core.CodeNotFound, "dependency %s not found", key)
	}
	typed, ok := dep.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %s has wrong type %T", key, dep)
	}
	return typed, nil
}

// MustGet[T] аналог Get, паникующий при ошибке
func MustGet[T any](c *Container, key string) T {
	v, err := Get[T](c, key)
	if err != nil {
		panic(err)
	}
	return v
}

// Set[T] регистрирует зависимость; компонент также попадает в жизненный цикл
func Set[T any](c *Container, key string, value T) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.dependencies[key]; exists {
		return fmt.Errorf("dependency %s already registered", key)
	}
	c.dependencies[key] = value
	if component, ok := any(value).(core.Component); ok {
		c.components = append(c.components, component)
	}
	return nil
}

// Register добавляет компонент без ключа
func (c *Container) Register(component core.Component) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.components = append(c.components, component)
}

// Components возвращает зарегистрированные компоненты
func (c *Container) Components() []core.Component {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]core.Component(nil), c.components...)
}

// Start запускает компоненты жизненного цикла. При ошибке уже запущенные
// компоненты останавливаются.
func (c *Container) Start(ctx context.Context) error {
	for _, component := range c.Components() {
		lc, ok := component.(core.Lifecycle)
		if !ok {
			continue
		}
		if err := lc.Start(ctx); err != nil {
			log.Printf("[container] failed to start %s: %v", component.Name(), err)
			_ = c.Shutdown(context.WithoutCancel(ctx))
			return fmt.Errorf("failed to start %s: %w", component.Name(), err)
		}
		log.Printf("[container] started %s (%s)", component.Name(), component.Type())

		c.mu.Lock()
		c.started = append(c.started, lc)
		c.mu.Unlock()
	}
	return nil
}

// Shutdown останавливает запущенные компоненты в обратном порядке.
// Ошибки остановки собираются, остановка продолжается.
func (c *Container) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.Config.ShutdownTimeout)
	defer cancel()

	c.mu.Lock()
	started := c.started
	c.started = nil
	c.mu.Unlock()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		lc := started[i]
		if err := lc.Stop(ctx); err != nil {
			name := fmt.Sprintf("%T", lc)
			if component, ok := lc.(core.Component); ok {
				name = component.Name()
			}
			log.Printf("[container] failed to stop %s: %v", name, err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// HealthCheck опрашивает компоненты, реализующие core.HealthCheckable
func (c *Container) HealthCheck(ctx context.Context) map[string]error {
	result := make(map[string]error)
	for _, component := range c.Components() {
		if hc, ok := component.(core.HealthCheckable); ok {
			result[component.Name()] = hc.HealthCheck(ctx)
		}
	}
	return result
}
