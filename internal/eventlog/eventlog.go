// Package eventlog is the append-only journal aggregates replay on
// activation. Each aggregate key owns a strictly increasing sequence;
// Append is optimistic-concurrency-checked on the caller's expected
// sequence so two activations of the same key can never both win.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/darkvelocity/retailcore/internal/platform/apierr"
	"github.com/darkvelocity/retailcore/internal/platform/clock"
)

// Event is one committed fact about an aggregate.
type Event struct {
	AggregateKey string
	Sequence     int64
	EventType    string
	Payload      json.RawMessage
	RecordedAt   time.Time
}

// NewEvent is a not-yet-sequenced event awaiting Append.
type NewEvent struct {
	EventType string
	Payload   any
}

// Store is the append-only event journal contract every aggregate
// replays through on activation.
type Store interface {
	// Append commits events to aggregateKey's stream, assigning them
	// sequence numbers starting at expectedSeq+1. If the aggregate's
	// actual last sequence does not equal expectedSeq, Append returns an
	// apierr.Conflict error and commits nothing.
	Append(ctx context.Context, aggregateKey string, expectedSeq int64, events []NewEvent) error

	// Load returns every event for aggregateKey in sequence order.
	Load(ctx context.Context, aggregateKey string) ([]Event, error)

	// LastSequence returns the highest committed sequence for
	// aggregateKey, or 0 if the aggregate has no events yet.
	LastSequence(ctx context.Context, aggregateKey string) (int64, error)
}

// PostgresStore is the production Store, backed by the aggregate_events
// table.
type PostgresStore struct {
	db    *sqlx.DB
	clock clock.Clock
}

// NewPostgresStore wraps an existing *sql.DB connection.
func NewPostgresStore(db *sql.DB, c clock.Clock) *PostgresStore {
	if c == nil {
		c = clock.System{}
	}
	return &PostgresStore{db: sqlx.NewDb(db, "postgres"), clock: c}
}

func (s *PostgresStore) Append(ctx context.Context, aggregateKey string, expectedSeq int64, events []NewEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apierr.ErrPersistenceFailure("begin append tx", err)
	}
	defer tx.Rollback()

	var actual sql.NullInt64
	err = tx.GetContext(ctx, &actual,
		`SELECT MAX(sequence) FROM aggregate_events WHERE aggregate_key = $1`, aggregateKey)
	if err != nil {
		return apierr.ErrPersistenceFailure("read last sequence", err)
	}
	last := int64(0)
	if actual.Valid {
		last = actual.Int64
	}
	if last != expectedSeq {
		return apierr.ErrConflict(fmt.Sprintf(
			"aggregate %s: expected sequence %d, found %d", aggregateKey, expectedSeq, last))
	}

	now := s.clock.Now()
	seq := expectedSeq
	for _, e := range events {
		seq++
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.EventType, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO aggregate_events (aggregate_key, sequence, event_type, payload, recorded_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			aggregateKey, seq, e.EventType, payload, now)
		if err != nil {
			return apierr.ErrPersistenceFailure("insert event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apierr.ErrPersistenceFailure("commit append tx", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, aggregateKey string) ([]Event, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT aggregate_key, sequence, event_type, payload, recorded_at
		 FROM aggregate_events WHERE aggregate_key = $1 ORDER BY sequence ASC`, aggregateKey)
	if err != nil {
		return nil, apierr.ErrPersistenceFailure("load events", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.AggregateKey, &e.Sequence, &e.EventType, &e.Payload, &e.RecordedAt); err != nil {
			return nil, apierr.ErrPersistenceFailure("scan event", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) LastSequence(ctx context.Context, aggregateKey string) (int64, error) {
	var seq sql.NullInt64
	err := s.db.GetContext(ctx, &seq,
		`SELECT MAX(sequence) FROM aggregate_events WHERE aggregate_key = $1`, aggregateKey)
	if err != nil {
		return 0, apierr.ErrPersistenceFailure("read last sequence", err)
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}

// MemoryStore is an in-process Store used by unit tests and local
// development; it keeps every stream in memory and is not durable.
type MemoryStore struct {
	mu      sync.Mutex
	streams map[string][]Event
	clock   clock.Clock
}

// NewMemoryStore builds an empty in-memory event journal.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.System{}
	}
	return &MemoryStore{streams: make(map[string][]Event), clock: c}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateKey string, expectedSeq int64, events []NewEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.streams[aggregateKey]
	last := int64(0)
	if len(existing) > 0 {
		last = existing[len(existing)-1].Sequence
	}
	if last != expectedSeq {
		return apierr.ErrConflict(fmt.Sprintf(
			"aggregate %s: expected sequence %d, found %d", aggregateKey, expectedSeq, last))
	}

	now := s.clock.Now()
	seq := expectedSeq
	for _, e := range events {
		seq++
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.EventType, err)
		}
		existing = append(existing, Event{
			AggregateKey: aggregateKey,
			Sequence:     seq,
			EventType:    e.EventType,
			Payload:      payload,
			RecordedAt:   now,
		})
	}
	s.streams[aggregateKey] = existing
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateKey string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.streams[aggregateKey]))
	copy(out, s.streams[aggregateKey])
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *MemoryStore) LastSequence(ctx context.Context, aggregateKey string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.streams[aggregateKey]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Sequence, nil
}

// Prefix returns the sorted set of distinct aggregate keys whose key
// starts with prefix — used by recovery tooling to enumerate, e.g., every
// inventory aggregate for one site.
func (s *MemoryStore) Prefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.streams {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
