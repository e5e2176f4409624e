// Package eventbus implements the process-wide publish/subscribe fabric that
// ties the PM, DE, TA, ST, and TR module managers together.
package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Subject identifies what an event is about, e.g. "de.kline.update".
// Subjects are dotted strings matched against subscription patterns using
// glob rules (a single "*" matches any run of characters, including dots).
type Subject string

// Data carries an event's payload. Keys and values must be JSON-serialisable
// since the event store persists them as a JSON blob.
type Data map[string]interface{}

// Event is the immutable unit of communication on the bus. Every event gets
// a fresh ID when constructed; handlers never mutate a received Event.
type Event struct {
	EventID   string    `json:"event_id"`
	Subject   Subject   `json:"subject"`
	Data      Data      `json:"data"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// New constructs an Event with a fresh UUIDv4 event ID and the current time.
func New(subject Subject, data Data, source string) *Event {
	if data == nil {
		data = Data{}
	}
	return &Event{
		EventID:   uuid.NewString(),
		Subject:   subject,
		Data:      data,
		Timestamp: time.Now(),
		Source:    source,
	}
}
