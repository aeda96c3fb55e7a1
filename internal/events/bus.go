// Package events provides the run lifecycle event bus with a persistent
// msgpack-encoded event log.
package events

import (
	"database/sql"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// EventType identifies a run lifecycle event
type EventType string

const (
	RunStarted     EventType = "run.started"
	SecurityValued EventType = "run.security_valued"
	SecurityFailed EventType = "run.security_failed"
	RunCompleted   EventType = "run.completed"
)

// Event is one published lifecycle event.
type Event struct {
	Type       EventType `msgpack:"type" json:"type"`
	RunID      string    `msgpack:"run_id" json:"run_id"`
	SecurityID string    `msgpack:"security_id,omitempty" json:"security_id,omitempty"`
	Progress   float64   `msgpack:"progress" json:"progress"`
	Status     string    `msgpack:"status,omitempty" json:"status,omitempty"`
	Error      string    `msgpack:"error,omitempty" json:"error,omitempty"`
	At         time.Time `msgpack:"at" json:"at"`
}

// Handler receives published events. Handlers must not block; slow
// consumers should buffer internally.
type Handler func(Event)

// Bus fans events out to subscribers and appends them to the event log.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int

	cacheDB *sql.DB
	log     zerolog.Logger
}

// NewBus creates a new event bus. cacheDB may be nil to disable the
// persistent log.
func NewBus(cacheDB *sql.DB, log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		cacheDB:  cacheDB,
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for all events. The returned function
// unsubscribes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish delivers an event to every subscriber and appends it to the log.
func (b *Bus) Publish(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	b.persist(event)

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (b *Bus) persist(event Event) {
	if b.cacheDB == nil {
		return
	}
	payload, err := msgpack.Marshal(event)
	if err != nil {
		b.log.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to encode event")
		return
	}
	_, err = b.cacheDB.Exec(`INSERT INTO event_log (event, payload) VALUES (?, ?)`,
		string(event.Type), payload)
	if err != nil {
		b.log.Warn().Err(err).Str("event", string(event.Type)).Msg("failed to persist event")
	}
}

// Replay decodes the most recent logged events, newest first.
func (b *Bus) Replay(limit int) ([]Event, error) {
	if b.cacheDB == nil || limit <= 0 {
		return nil, nil
	}
	rows, err := b.cacheDB.Query(`
		SELECT payload FROM event_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var event Event
		if err := msgpack.Unmarshal(payload, &event); err != nil {
			b.log.Warn().Err(err).Msg("skipping undecodable event")
			continue
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// DeleteOlderThan trims the event log.
func (b *Bus) DeleteOlderThan(cutoff time.Time) (int64, error) {
	if b.cacheDB == nil {
		return 0, nil
	}
	res, err := b.cacheDB.Exec(`DELETE FROM event_log WHERE created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}
