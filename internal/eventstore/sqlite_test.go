package eventstore

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stfutures/engine/internal/eventbus"
)

func newTestStore(t *testing.T, maxEvents int) *SQLiteStore {
	t.Helper()
	path := "file:" + t.Name() + "?mode=memory&cache=shared"
	store, err := New(Config{Path: path, MaxEvents: maxEvents}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_InsertAndQueryRecent(t *testing.T) {
	store := newTestStore(t, 1000)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(eventbus.New("order.created", eventbus.Data{"i": i}, "test")))
	}

	recent, err := store.QueryRecent(3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	// most recent first
	require.Equal(t, float64(4), recent[0].Data["i"])
	require.Equal(t, float64(2), recent[2].Data["i"])
}

func TestSQLiteStore_CapEvictsOldest(t *testing.T) {
	store := newTestStore(t, 3)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Insert(eventbus.New("x", eventbus.Data{"i": i}, "test")))
	}

	all, err := store.QueryRecent(1000)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, float64(9), all[0].Data["i"])
	require.Equal(t, float64(7), all[2].Data["i"])
}

func TestSQLiteStore_QueryBySubject(t *testing.T) {
	store := newTestStore(t, 1000)
	require.NoError(t, store.Insert(eventbus.New("order.created", eventbus.Data{}, "test")))
	require.NoError(t, store.Insert(eventbus.New("order.updated", eventbus.Data{}, "test")))
	require.NoError(t, store.Insert(eventbus.New("order.created", eventbus.Data{}, "test")))

	matches, err := store.QueryBySubject("order.created", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
}
