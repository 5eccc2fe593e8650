package eventsourcing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/akriventsev/psp-core/framework/events"
)

var _ GlobalReader = (*MongoDBEventStore)(nil)

func TestBuildMongoDocuments_AssignsVersionsAndPositions(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	evts := []events.Event{incremented("c-1", 1), incremented("c-1", 2), incremented("c-1", 3)}

	// счетчик сдвинут до 12: пачке принадлежат позиции 10..12
	docs, err := buildMongoDocuments(evts, "c-1", 4, 12, now)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	for i, d := range docs {
		doc := d.(mongoEventDocument)
		assert.Equal(t, int64(5+i), doc.Version)
		assert.Equal(t, int64(10+i), doc.Position)
		assert.Equal(t, "c-1", doc.AggregateID)
		assert.Equal(t, now, doc.CreatedAt)
	}
}

func TestMongoDocument_RoundTripKeepsPosition(t *testing.T) {
	store := &MongoDBEventStore{registry: counterRegistry()}
	docs, err := buildMongoDocuments([]events.Event{opened("c-7", "seven")}, "c-7", 0, 42, time.Now().UTC())
	require.NoError(t, err)

	stored, err := store.fromMongoDocument(docs[0].(mongoEventDocument))
	require.NoError(t, err)
	assert.Equal(t, int64(42), stored.Position)
	assert.Equal(t, int64(1), stored.Version)
	require.IsType(t, &counterOpenedEvent{}, stored.EventData)
	assert.Equal(t, "seven", stored.EventData.(*counterOpenedEvent).Name)
	assert.Equal(t, "c-7", stored.EventData.AggregateID())
}

func TestHasErrorLabel(t *testing.T) {
	conflict := mongo.CommandError{Code: 112, Name: "WriteConflict", Labels: []string{transientTxLabel}}
	assert.True(t, hasErrorLabel(conflict, transientTxLabel))
	assert.False(t, hasErrorLabel(mongo.CommandError{Code: 2}, transientTxLabel))
	assert.False(t, hasErrorLabel(errors.New("boom"), transientTxLabel))
}
