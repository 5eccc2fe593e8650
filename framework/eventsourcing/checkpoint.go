package eventsourcing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CheckpointStore хранит позицию глобального потока, до которой дочитал потребитель
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, name string, position int64) error
	// GetCheckpoint возвращает 0 для неизвестного имени
	GetCheckpoint(ctx context.Context, name string) (int64, error)
}

// InMemoryCheckpointStore хранит позиции в памяти процесса
type InMemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]int64
}

// NewInMemoryCheckpointStore создает пустое хранилище
func NewInMemoryCheckpointStore() *InMemoryCheckpointStore {
	return &InMemoryCheckpointStore{checkpoints: make(map[string]int64)}
}

func (s *InMemoryCheckpointStore) SaveCheckpoint(_ context.Context, name string, position int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[name] = position
	return nil
}

func (s *InMemoryCheckpointStore) GetCheckpoint(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkpoints[name], nil
}

// PostgresCheckpointStore хранит позиции в таблице relay_checkpoints
type PostgresCheckpointStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresCheckpointStore работает поверх пула хранилища событий; таблицу создает миграция
func NewPostgresCheckpointStore(pool *pgxpool.Pool, schema string) *PostgresCheckpointStore {
	if schema == "" {
		schema = "public"
	}
	return &PostgresCheckpointStore{
		pool:  pool,
		table: pgx.Identifier{schema, "relay_checkpoints"}.Sanitize(),
	}
}

func (s *PostgresCheckpointStore) SaveCheckpoint(ctx context.Context, name string, position int64) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (name, position, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name)
		DO UPDATE SET position = EXCLUDED.position, updated_at = now()
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, name, position); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", name, err)
	}
	return nil
}

func (s *PostgresCheckpointStore) GetCheckpoint(ctx context.Context, name string) (int64, error) {
	query := fmt.Sprintf(`SELECT position FROM %s WHERE name = $1`, s.table)
	var position int64
	if err := s.pool.QueryRow(ctx, query, name).Scan(&position); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load checkpoint %s: %w", name, err)
	}
	return position, nil
}

// MongoCheckpointStore хранит позиции в коллекции, _id документа это имя потребителя
type MongoCheckpointStore struct {
	collection *mongo.Collection
}

// NewMongoCheckpointStore создает хранилище в коллекции relay_checkpoints базы db
func NewMongoCheckpointStore(db *mongo.Database) *MongoCheckpointStore {
	return &MongoCheckpointStore{collection: db.Collection("relay_checkpoints")}
}

func (s *MongoCheckpointStore) SaveCheckpoint(ctx context.Context, name string, position int64) error {
	update := bson.M{"$set": bson.M{"position": position, "updated_at": time.Now().UTC()}}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": name}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", name, err)
	}
	return nil
}

func (s *MongoCheckpointStore) GetCheckpoint(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Position int64 `bson:"position"`
	}
	err := s.collection.FindOne(ctx, bson.M{"_id": name}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load checkpoint %s: %w", name, err)
	}
	return doc.Position, nil
}
