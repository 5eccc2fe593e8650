package eventsourcing

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

// RelayConfig настройки ретранслятора глобального потока
type RelayConfig struct {
	// Name ключ позиции в CheckpointStore
	Name         string
	BatchSize    int
	PollInterval time.Duration
}

// DefaultRelayConfig возвращает конфигурацию по умолчанию
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		Name:         "event-relay",
		BatchSize:    500,
		PollInterval: time.Second,
	}
}

// Validate проверяет конфигурацию
func (c RelayConfig) Validate() error {
	if c.Name == "" {
		return core.NewError(core.CodeInvalidConfig, "relay name is required")
	}
	if c.BatchSize <= 0 || c.PollInterval <= 0 {
		return core.NewError(core.CodeInvalidConfig, "relay batch size and poll interval must be positive")
	}
	return nil
}

// Relay публикует зафиксированные события в порядке глобальной позиции.
// Позиция сохраняется только после успешной публикации, поэтому событие,
// которое не удалось опубликовать, будет опубликовано повторно на следующем проходе.
// Получатели должны быть идемпотентны по event_id.
type Relay struct {
	reader      GlobalReader
	publisher   events.EventPublisher
	checkpoints CheckpointStore
	config      RelayConfig

	// mu исключает параллельные проходы одного ретранслятора
	mu sync.Mutex
}

// NewRelay создает ретранслятор
func NewRelay(reader GlobalReader, publisher events.EventPublisher, checkpoints CheckpointStore, config RelayConfig) (*Relay, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Relay{
		reader:      reader,
		publisher:   publisher,
		checkpoints: checkpoints,
		config:      config,
	}, nil
}

// Name возвращает имя компонента
func (r *Relay) Name() string {
	return r.config.Name
}

// Run выполняет проходы с интервалом PollInterval до отмены ctx
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	log.Printf("[relay] %s started: interval=%s batch=%d", r.config.Name, r.config.PollInterval, r.config.BatchSize)
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[relay] %s: %v", r.config.Name, err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[relay] %s stopped", r.config.Name)
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce публикует все события после сохраненной позиции и возвращает их число.
// На первой ошибке публикации проход останавливается, позиция остается
// на последнем опубликованном событии.
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	from, err := r.checkpoints.GetCheckpoint(ctx, r.config.Name)
	if err != nil {
		return 0, err
	}

	published := 0
	for {
		batch, err := r.reader.ReadAll(ctx, from, r.config.BatchSize)
		if err != nil {
			return published, fmt.Errorf("failed to read events after %d: %w", from, err)
		}
		if len(batch) == 0 {
			return published, nil
		}

		next, n, pubErr := r.publishBatch(ctx, batch, from)
		published += n
		if next != from {
			if err := r.checkpoints.SaveCheckpoint(ctx, r.config.Name, next); err != nil {
				return published, err
			}
			from = next
		}
		if pubErr != nil {
			return published, pubErr
		}
		if len(batch) < r.config.BatchSize {
			return published, nil
		}
	}
}

func (r *Relay) publishBatch(ctx context.Context, batch []StoredEvent, from int64) (int64, int, error) {
	position := from
	for i, stored := range batch {
		if stored.EventData != nil {
			if err := r.publisher.Publish(ctx, stored.EventData); err != nil {
				return position, i, fmt.Errorf("failed to publish %s (%s) at position %d: %w",
					stored.EventType, stored.ID, stored.Position, err)
			}
		}
		position = stored.Position
	}
	return position, len(batch), nil
}
