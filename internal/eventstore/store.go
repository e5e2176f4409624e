// Package eventstore provides a bounded, append-only persistence layer for
// eventbus.Event values.
package eventstore

import "github.com/stfutures/engine/internal/eventbus"

// DefaultMaxEvents is the cap applied when Config.MaxEvents is zero.
const DefaultMaxEvents = 1000

// Store is the abstract contract the event bus and introspection server
// depend on. The SQLite-backed implementation in this package is the only
// concrete implementation shipped, but handlers and tests may substitute an
// in-memory fake that satisfies this interface.
type Store interface {
	Insert(event *eventbus.Event) error
	QueryRecent(limit int) ([]*eventbus.Event, error)
	QueryBySubject(subject eventbus.Subject, limit int) ([]*eventbus.Event, error)
	Cleanup() error
	Close() error
}
