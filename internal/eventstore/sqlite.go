package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/stfutures/engine/internal/eventbus"
)

// Config configures the SQLite-backed event store.
type Config struct {
	Path      string // database file path, or a "file:" URI for in-memory use in tests
	MaxEvents int    // retained row cap; DefaultMaxEvents when zero
}

// SQLiteStore persists events to a single-file SQLite database, evicting the
// oldest rows whenever an insert pushes the table past MaxEvents. Ordering
// is by the autoincrement primary key rather than timestamp, so insertion
// order survives even when two events share a timestamp.
type SQLiteStore struct {
	conn      *sql.DB
	mu        sync.Mutex // guards the insert-then-evict sequence
	maxEvents int
	log       zerolog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id TEXT NOT NULL,
	subject TEXT NOT NULL,
	data TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	source TEXT,
	created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
`

// New opens (creating if necessary) the SQLite file at cfg.Path and applies
// the events schema.
func New(cfg Config, log zerolog.Logger) (*SQLiteStore, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultMaxEvents
	}

	path := cfg.Path
	if !strings.HasPrefix(path, "file:") {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve event store path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create event store directory: %w", err)
		}
		path = absPath
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	connStr := path + sep + "_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"

	conn, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open event store: %w", err)
	}
	conn.SetMaxOpenConns(1) // SQLite + WAL: single writer is simplest and sufficient at this scale

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping event store: %w", err)
	}

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to apply event store schema: %w", err)
	}

	return &SQLiteStore{
		conn:      conn,
		maxEvents: cfg.MaxEvents,
		log:       log.With().Str("component", "event_store").Logger(),
	}, nil
}

// Insert persists event and, if the table now exceeds maxEvents, evicts the
// oldest rows in the same critical section.
func (s *SQLiteStore) Insert(event *eventbus.Event) error {
	dataJSON, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.conn.Exec(
		`INSERT INTO events (event_id, subject, data, timestamp, source) VALUES (?, ?, ?, ?, ?)`,
		event.EventID, string(event.Subject), string(dataJSON), event.Timestamp.Format(time.RFC3339Nano), event.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}

	return s.evictLocked()
}

// evictLocked trims the table to maxEvents rows, keeping the newest. Caller
// must hold s.mu.
func (s *SQLiteStore) evictLocked() error {
	_, err := s.conn.Exec(
		`DELETE FROM events WHERE id NOT IN (SELECT id FROM events ORDER BY id DESC LIMIT ?)`,
		s.maxEvents,
	)
	if err != nil {
		return fmt.Errorf("failed to evict old events: %w", err)
	}
	return nil
}

// Cleanup exposes the eviction step for scheduled maintenance (see the
// cron-driven sweep wired in cmd/engine).
func (s *SQLiteStore) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked()
}

// QueryRecent returns up to limit events, most recent first.
func (s *SQLiteStore) QueryRecent(limit int) ([]*eventbus.Event, error) {
	rows, err := s.conn.Query(
		`SELECT event_id, subject, data, timestamp, source FROM events ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// QueryBySubject returns up to limit events with an exact subject match,
// most recent first.
func (s *SQLiteStore) QueryBySubject(subject eventbus.Subject, limit int) ([]*eventbus.Event, error) {
	rows, err := s.conn.Query(
		`SELECT event_id, subject, data, timestamp, source FROM events WHERE subject = ? ORDER BY id DESC LIMIT ?`,
		string(subject), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by subject: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*eventbus.Event, error) {
	var out []*eventbus.Event
	for rows.Next() {
		var (
			eventID, subject, dataJSON, ts string
			source                         sql.NullString
		)
		if err := rows.Scan(&eventID, &subject, &dataJSON, &ts, &source); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var data eventbus.Data
		if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event data: %w", err)
		}
		timestamp, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse event timestamp: %w", err)
		}
		out = append(out, &eventbus.Event{
			EventID:   eventID,
			Subject:   eventbus.Subject(subject),
			Data:      data,
			Timestamp: timestamp,
			Source:    source.String,
		})
	}
	return out, rows.Err()
}

// Close releases the underlying connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}
