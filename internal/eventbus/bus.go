package eventbus

import (
	"fmt"
	"path"
	"reflect"
	"sync"

	"github.com/rs/zerolog"
)

// Handler reacts to a published Event. A returned error is isolated by the
// bus: it never prevents other handlers for the same event from running,
// and it produces exactly one system.alert.handler_error event.
type Handler func(event *Event) error

// Store is the subset of eventstore.Store the bus needs to persist events.
// Defined here (rather than imported) so eventbus has no dependency on the
// storage package; eventstore.Store satisfies it structurally.
type Store interface {
	Insert(event *Event) error
}

type subscription struct {
	pattern string
	handler Handler
	name    string
}

// Bus is the process-wide event dispatcher. The zero value is not usable;
// construct with NewBus.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
	store Store
	log   zerolog.Logger
}

// NewBus constructs a Bus. store may be nil, in which case publish(persist=true)
// silently skips persistence.
func NewBus(store Store, log zerolog.Logger) *Bus {
	return &Bus{
		store: store,
		log:   log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers handler against a dotted glob pattern such as
// "order.*" or "de.kline.update". The same handler value may be subscribed
// under several patterns; Publish still invokes it at most once per event.
func (b *Bus) Subscribe(pattern Subject, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{
		pattern: string(pattern),
		handler: handler,
		name:    handlerName(handler),
	})
}

// Publish dispatches event to every matching handler concurrently and
// blocks until they have all returned. Each handler runs inside its own
// error boundary: a returned error or recovered panic produces an alert
// event and does not affect sibling handlers or the caller.
func (b *Bus) Publish(event *Event, persist bool) {
	if persist && b.store != nil {
		if err := b.store.Insert(event); err != nil {
			b.log.Error().Err(err).Str("subject", string(event.Subject)).Msg("failed to persist event")
		}
	}

	handlers := b.matchingHandlers(event.Subject)

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h subscription) {
			defer wg.Done()
			b.invoke(event, h)
		}(h)
	}
	wg.Wait()
}

// invoke runs one handler under a panic/error boundary and, on failure,
// fires an alert event. The alert publish is intentionally NOT awaited by
// the caller (it runs in its own goroutine) so a slow or failing alert
// listener can never stall the originating Publish call.
func (b *Bus) invoke(event *Event, h subscription) {
	defer func() {
		if r := recover(); r != nil {
			b.alert(event, h.name, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := h.handler(event); err != nil {
		b.alert(event, h.name, errorType(err), err.Error())
	}
}

func (b *Bus) alert(event *Event, handlerName, errType, errMsg string) {
	b.log.Error().
		Str("subject", string(event.Subject)).
		Str("handler", handlerName).
		Str("error_type", errType).
		Msg(errMsg)

	go func() {
		alertEvent := New(SubjectAlertHandlerError, Data{
			"original_subject":  string(event.Subject),
			"original_event_id": event.EventID,
			"handler_name":      handlerName,
			"error_type":        errType,
			"error_message":     errMsg,
		}, "event_bus")
		b.publishNoRecurse(alertEvent)
	}()
}

// publishNoRecurse dispatches an alert event without persistence and
// without re-entering the error boundary that produced it, which would
// otherwise let a failing alert handler generate alerts forever.
func (b *Bus) publishNoRecurse(event *Event) {
	handlers := b.matchingHandlers(event.Subject)
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h subscription) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.log.Error().Str("handler", h.name).Interface("panic", r).Msg("alert handler panicked, dropping")
				}
			}()
			if err := h.handler(event); err != nil {
				b.log.Error().Str("handler", h.name).Err(err).Msg("alert handler failed, dropping")
			}
		}(h)
	}
	wg.Wait()
}

// matchingHandlers returns every handler whose pattern matches subject,
// deduplicated by handler identity and ordered by first match.
func (b *Bus) matchingHandlers(subject Subject) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[uintptr]bool)
	var out []subscription
	for _, s := range b.subs {
		if !matches(s.pattern, string(subject)) {
			continue
		}
		ptr := reflect.ValueOf(s.handler).Pointer()
		if seen[ptr] {
			continue
		}
		seen[ptr] = true
		out = append(out, s)
	}
	return out
}

// matches implements the bus's glob semantics: "*" matches any run of
// characters, including dots, since subjects have no path-like separator.
func matches(pattern, subject string) bool {
	ok, err := path.Match(pattern, subject)
	if err != nil {
		return pattern == subject
	}
	return ok
}

func handlerName(h Handler) string {
	return runtimeFuncName(reflect.ValueOf(h).Pointer())
}

func errorType(err error) string {
	return reflect.TypeOf(err).String()
}
