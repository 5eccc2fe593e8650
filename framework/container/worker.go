package container

import (
	"context"
	"sync"

	"github.com/akriventsev/psp-core/framework/core"
)

// Worker адаптирует блокирующую функцию run к core.Lifecycle
type Worker struct {
	name string
	run  func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan error
}

// NewWorker создает компонент фоновой задачи
func NewWorker(name string, run func(ctx context.Context) error) *Worker {
	return &Worker{name: name, run: run}
}

func (w *Worker) Name() string             { return w.name }
func (w *Worker) Type() core.ComponentType { return core.ComponentTypeWorker }

// Start запускает run в отдельной горутине; ctx вызывающего не ограничивает работу
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return core.Errorf(core.CodeInvariantViolation, "worker %s already running", w.name)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	w.cancel, w.done = cancel, done
	go func() { done <- w.run(runCtx) }()
	return nil
}

// Stop отменяет run и ждет завершения или истечения ctx
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning проверяет, запущен ли worker
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}
