package eventbus

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu     sync.Mutex
	events []*Event
}

func (f *fakeStore) Insert(event *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestBus_WildcardFanOut(t *testing.T) {
	store := &fakeStore{}
	bus := NewBus(store, zerolog.Nop())

	var mu sync.Mutex
	var aSubjects []string
	var bCount int

	bus.Subscribe("order.*", func(e *Event) error {
		mu.Lock()
		defer mu.Unlock()
		aSubjects = append(aSubjects, string(e.Subject))
		return nil
	})
	bus.Subscribe("order.created", func(e *Event) error {
		mu.Lock()
		defer mu.Unlock()
		bCount++
		return nil
	})

	bus.Publish(New("order.created", Data{"id": "1"}, "test"), true)
	bus.Publish(New("order.updated", Data{"id": "1"}, "test"), true)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, aSubjects, 2)
	assert.Equal(t, 1, bCount)
	assert.Equal(t, 2, store.count())
}

func TestBus_ErrorIsolationEmitsAlert(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())

	var wg sync.WaitGroup
	wg.Add(1)

	var alertData Data
	bus.Subscribe("x", func(e *Event) error {
		return errors.New("boom")
	})
	bus.Subscribe(SubjectAlertHandlerError, func(e *Event) error {
		defer wg.Done()
		alertData = e.Data
		return nil
	})

	bus.Publish(New("x", Data{}, "test"), true)

	waitOrTimeout(t, &wg, time.Second)

	require.NotNil(t, alertData)
	assert.Equal(t, "x", alertData["original_subject"])
	assert.Contains(t, alertData["error_message"], "boom")
}

func TestBus_HandlerSubscribedTwiceInvokedOnce(t *testing.T) {
	bus := NewBus(nil, zerolog.Nop())
	var count int
	var mu sync.Mutex
	h := func(e *Event) error {
		mu.Lock()
		defer mu.Unlock()
		count++
		return nil
	}
	bus.Subscribe("a.b", h)
	bus.Subscribe("a.*", h)

	bus.Publish(New("a.b", Data{}, "test"), false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for alert handler")
	}
}
