package eventsourcing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/akriventsev/psp-core/framework/core"
	"github.com/akriventsev/psp-core/framework/events"
)

// MongoDBEventStoreConfig конфигурация для MongoDB Event Store
type MongoDBEventStoreConfig struct {
	URI         string
	Database    string
	Collection  string
	Timeout     time.Duration
	MaxPoolSize uint64
}

// Validate проверяет корректность конфигурации
func (c MongoDBEventStoreConfig) Validate() error {
	if c.URI == "" {
		return core.NewError(core.CodeInvalidConfig, "mongodb URI cannot be empty")
	}
	if c.Database == "" || c.Collection == "" {
		return core.NewError(core.CodeInvalidConfig, "mongodb database and collection are required")
	}
	return nil
}

// DefaultMongoDBEventStoreConfig возвращает конфигурацию по умолчанию
func DefaultMongoDBEventStoreConfig() MongoDBEventStoreConfig {
	return MongoDBEventStoreConfig{
		Database:    "psp_core",
		Collection:  "events",
		Timeout:     10 * time.Second,
		MaxPoolSize: 100,
	}
}

// mongoEventDocument документ события в коллекции
type mongoEventDocument struct {
	EventID       string    `bson:"_id"`
	AggregateID   string    `bson:"aggregate_id"`
	EventType     string    `bson:"event_type"`
	SchemaVersion int       `bson:"schema_version"`
	Payload       string    `bson:"payload"`
	Metadata      string    `bson:"metadata"`
	Version       int64     `bson:"version"`
	Position      int64     `bson:"position"`
	OccurredAt    time.Time `bson:"occurred_at"`
	CreatedAt     time.Time `bson:"created_at"`
}

// positionCounterID идентификатор счетчика глобальной позиции в коллекции counters
const positionCounterID = "event_position"

// transientTxLabel метка ошибки, с которой сервер прерывает транзакцию при конфликте записи
const transientTxLabel = "TransientTransactionError"

// MongoDBEventStore реализация EventStore для MongoDB.
// Проверка версии, выделение позиций и вставка выполняются в одной транзакции,
// поэтому требуется replica set. Уникальный индекс (aggregate_id, version)
// дополнительно отсекает гонку двух писателей.
type MongoDBEventStore struct {
	config     MongoDBEventStoreConfig
	client     *mongo.Client
	collection *mongo.Collection
	counters   *mongo.Collection
	registry   *EventRegistry
}

// NewMongoDBEventStore создает новый MongoDB Event Store
func NewMongoDBEventStore(ctx context.Context, config MongoDBEventStoreConfig, registry *EventRegistry) (*MongoDBEventStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(config.URI).
		SetMaxPoolSize(config.MaxPoolSize).
		SetTimeout(config.Timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(config.Database).Collection(config.Collection)

	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "aggregate_id", Value: 1},
				{Key: "version", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "event_type", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "position", Value: 1}},
		},
	}
	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}

	return &MongoDBEventStore{
		config:     config,
		client:     client,
		collection: collection,
		counters:   client.Database(config.Database).Collection(config.Collection + "_counters"),
		registry:   registry,
	}, nil
}

// Start запускает адаптер
func (s *MongoDBEventStore) Start(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Stop останавливает адаптер
func (s *MongoDBEventStore) Stop(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// IsRunning проверяет, запущен ли адаптер
func (s *MongoDBEventStore) IsRunning() bool {
	return s.client != nil
}

// Name возвращает имя компонента
func (s *MongoDBEventStore) Name() string {
	return "mongodb-event-store"
}

// Type возвращает тип компонента
func (s *MongoDBEventStore) Type() core.ComponentType {
	return core.ComponentTypeAdapter
}

// Database возвращает базу хранилища для соседних коллекций
func (s *MongoDBEventStore) Database() *mongo.Database {
	return s.collection.Database()
}

// AppendEvents добавляет события в поток агрегата
func (s *MongoDBEventStore) AppendEvents(ctx context.Context, aggregateID string, expectedVersion int64, evts []events.Event) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	err = mongo.WithSession(ctx, session, func(sc mongo.SessionContext) error {
		if err := session.StartTransaction(); err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if err := s.appendInTx(sc, aggregateID, expectedVersion, evts); err != nil {
			_ = session.AbortTransaction(sc)
			return err
		}
		return session.CommitTransaction(sc)
	})
	if err == nil || errors.Is(err, ErrConcurrencyConflict) {
		return err
	}
	if mongo.IsDuplicateKeyError(err) || hasErrorLabel(err, transientTxLabel) {
		return fmt.Errorf("%w: concurrent append to %s", ErrConcurrencyConflict, aggregateID)
	}
	return err
}

func (s *MongoDBEventStore) appendInTx(sc mongo.SessionContext, aggregateID string, expectedVersion int64, evts []events.Event) error {
	currentVersion, err := s.collection.CountDocuments(sc, bson.M{"aggregate_id": aggregateID})
	if err != nil {
		return fmt.Errorf("failed to count events: %w", err)
	}
	if err := ValidateExpectedVersion(currentVersion, expectedVersion); err != nil {
		return err
	}
	if len(evts) == 0 {
		return nil
	}

	last, err := s.reservePositions(sc, int64(len(evts)))
	if err != nil {
		return err
	}

	docs, err := buildMongoDocuments(evts, aggregateID, expectedVersion, last, time.Now().UTC())
	if err != nil {
		return err
	}
	if _, err := s.collection.InsertMany(sc, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

// reservePositions атомарно сдвигает счетчик на n и возвращает последнюю выделенную позицию.
// Счетчик меняется внутри транзакции, поэтому параллельные записи сериализуются
// и позиции фиксируются в порядке выделения.
func (s *MongoDBEventStore) reservePositions(sc mongo.SessionContext, n int64) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	err := s.counters.FindOneAndUpdate(sc,
		bson.M{"_id": positionCounterID},
		bson.M{"$inc": bson.M{"value": n}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to reserve positions: %w", err)
	}
	return counter.Value, nil
}

// GetEvents возвращает события агрегата с версией больше fromVersion
func (s *MongoDBEventStore) GetEvents(ctx context.Context, aggregateID string, fromVersion int64) ([]StoredEvent, error) {
	filter := bson.M{
		"aggregate_id": aggregateID,
		"version":      bson.M{"$gt": fromVersion},
	}
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]StoredEvent, 0)
	for cursor.Next(ctx) {
		var doc mongoEventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode event document: %w", err)
		}
		stored, err := s.fromMongoDocument(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, stored)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return result, nil
}

// ReadAll возвращает события всех потоков с позицией больше fromPosition
func (s *MongoDBEventStore) ReadAll(ctx context.Context, fromPosition int64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "position", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{"position": bson.M{"$gt": fromPosition}}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	defer cursor.Close(ctx)

	result := make([]StoredEvent, 0)
	for cursor.Next(ctx) {
		var doc mongoEventDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode event document: %w", err)
		}
		stored, err := s.fromMongoDocument(doc)
		if err != nil {
			return nil, err
		}
		result = append(result, stored)
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error: %w", err)
	}
	return result, nil
}

// buildMongoDocuments раскладывает события по версиям и позициям.
// lastPosition это позиция последнего события пачки.
func buildMongoDocuments(evts []events.Event, aggregateID string, expectedVersion, lastPosition int64, now time.Time) ([]interface{}, error) {
	first := lastPosition - int64(len(evts)) + 1
	docs := make([]interface{}, len(evts))
	for i, event := range evts {
		doc, err := toMongoDocument(event, aggregateID, expectedVersion+int64(i)+1, now)
		if err != nil {
			return nil, err
		}
		doc.Position = first + int64(i)
		docs[i] = doc
	}
	return docs, nil
}

func hasErrorLabel(err error, label string) bool {
	var se mongo.ServerError
	if errors.As(err, &se) {
		return se.HasErrorLabel(label)
	}
	return false
}

func toMongoDocument(event events.Event, aggregateID string, version int64, now time.Time) (mongoEventDocument, error) {
	env, err := events.NewEnvelope(event)
	if err != nil {
		return mongoEventDocument{}, err
	}
	metadata, err := json.Marshal(env.Metadata)
	if err != nil {
		return mongoEventDocument{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return mongoEventDocument{
		EventID:       env.EventID,
		AggregateID:   aggregateID,
		EventType:     env.EventType,
		SchemaVersion: env.SchemaVersion,
		Payload:       string(env.Payload),
		Metadata:      string(metadata),
		Version:       version,
		OccurredAt:    env.OccurredAt,
		CreatedAt:     now,
	}, nil
}

func (s *MongoDBEventStore) fromMongoDocument(doc mongoEventDocument) (StoredEvent, error) {
	env := events.Envelope{
		EventID:       doc.EventID,
		EventType:     doc.EventType,
		AggregateID:   doc.AggregateID,
		SchemaVersion: doc.SchemaVersion,
		OccurredAt:    doc.OccurredAt.UTC(),
		Payload:       json.RawMessage(doc.Payload),
	}
	if doc.Metadata != "" {
		if err := json.Unmarshal([]byte(doc.Metadata), &env.Metadata); err != nil {
			return StoredEvent{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	event, err := s.registry.Decode(env)
	if err != nil {
		return StoredEvent{}, err
	}
	return StoredEvent{
		ID:          doc.EventID,
		AggregateID: doc.AggregateID,
		EventType:   doc.EventType,
		EventData:   event,
		Version:     doc.Version,
		Position:    doc.Position,
		OccurredAt:  env.OccurredAt,
		CreatedAt:   doc.CreatedAt,
	}, nil
}
