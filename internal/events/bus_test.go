package events

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCacheDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", "file::memory:?_fk=1")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "database", "schemas", "cache_schema.sql"))
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)
	return db
}

func TestPublishFansOutToSubscribers(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())

	var first, second []Event
	bus.Subscribe(func(e Event) { first = append(first, e) })
	unsubscribe := bus.Subscribe(func(e Event) { second = append(second, e) })

	bus.Publish(Event{Type: RunStarted, RunID: "RUN-1"})
	unsubscribe()
	bus.Publish(Event{Type: RunCompleted, RunID: "RUN-1", Status: "completed"})

	require.Len(t, first, 2)
	assert.Equal(t, RunStarted, first[0].Type)
	assert.Equal(t, RunCompleted, first[1].Type)
	assert.False(t, first[0].At.IsZero()) // timestamp stamped on publish

	// Unsubscribed handler misses the second event
	require.Len(t, second, 1)
	assert.Equal(t, RunStarted, second[0].Type)
}

func TestReplayReturnsNewestFirst(t *testing.T) {
	bus := NewBus(newCacheDB(t), zerolog.Nop())

	bus.Publish(Event{Type: RunStarted, RunID: "RUN-1"})
	bus.Publish(Event{Type: SecurityValued, RunID: "RUN-1", SecurityID: "SEC-A", Progress: 50})
	bus.Publish(Event{Type: RunCompleted, RunID: "RUN-1", Status: "completed"})

	events, err := bus.Replay(10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, RunCompleted, events[0].Type)
	assert.Equal(t, SecurityValued, events[1].Type)
	assert.Equal(t, "SEC-A", events[1].SecurityID)
	assert.InDelta(t, 50, events[1].Progress, 1e-9)
	assert.Equal(t, RunStarted, events[2].Type)

	limited, err := bus.Replay(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, RunCompleted, limited[0].Type)
}

func TestReplayWithoutLog(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())
	bus.Publish(Event{Type: RunStarted, RunID: "RUN-1"})

	events, err := bus.Replay(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDeleteOlderThanTrimsLog(t *testing.T) {
	bus := NewBus(newCacheDB(t), zerolog.Nop())
	bus.Publish(Event{Type: RunStarted, RunID: "RUN-1"})

	n, err := bus.DeleteOlderThan(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	events, err := bus.Replay(10)
	require.NoError(t, err)
	assert.Empty(t, events)
}
