package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFiles_EmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(Files(), "*.sql")
	require.NoError(t, err)
	assert.Equal(t, []string{"00001_event_store.sql", "00002_webhook_deliveries.sql", "00003_relay_checkpoints.sql"}, names)

	for _, name := range names {
		body, err := fs.ReadFile(Files(), name)
		require.NoError(t, err)
		assert.True(t, strings.Contains(string(body), "-- +goose Up"), name)
		assert.True(t, strings.Contains(string(body), "-- +goose Down"), name)
	}
}

func TestFiles_EventStoreHasStreamVersionConstraint(t *testing.T) {
	body, err := fs.ReadFile(Files(), "00001_event_store.sql")
	require.NoError(t, err)
	assert.Contains(t, string(body), "UNIQUE (aggregate_id, version)")
}
