package pm

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stfutures/engine/internal/eventbus"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pm_config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestManager_LoadAccounts_ValidAndInvalidEntries(t *testing.T) {
	path := writeConfig(t, `{
		"users": {
			"user_001": {"name": "Alice", "api_key": "k1", "api_secret": "s1", "strategy": "ma_stop_reverse"},
			"user_002": {"name": "Bob", "api_key": "", "api_secret": "s2", "strategy": "ma_stop_reverse"}
		}
	}`)

	bus := eventbus.NewBus(nil, zerolog.Nop())

	var mu sync.Mutex
	var loaded []string
	var failed []string
	var ready eventbus.Data

	bus.Subscribe(eventbus.SubjectPMAccountLoaded, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		loaded = append(loaded, e.Data["user_id"].(string))
		return nil
	})
	bus.Subscribe(eventbus.SubjectPMLoadFailed, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, e.Data["user_id"].(string))
		return nil
	})
	bus.Subscribe(eventbus.SubjectPMManagerReady, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		ready = e.Data
		return nil
	})

	mgr := New(bus, zerolog.Nop())
	require.NoError(t, mgr.LoadAccounts(path))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"user_001"}, loaded)
	assert.Equal(t, []string{"user_002"}, failed)
	assert.Equal(t, 1, ready["loaded_count"])
	assert.Equal(t, 1, ready["failed_count"])

	account, ok := mgr.Account("user_001")
	require.True(t, ok)
	assert.True(t, account.Enabled())
}

func TestManager_Shutdown_DisablesAndClears(t *testing.T) {
	path := writeConfig(t, `{"users": {"user_001": {"name": "Alice", "api_key": "k1", "api_secret": "s1", "strategy": "x"}}}`)
	bus := eventbus.NewBus(nil, zerolog.Nop())
	mgr := New(bus, zerolog.Nop())
	require.NoError(t, mgr.LoadAccounts(path))

	mgr.Shutdown()

	_, ok := mgr.Account("user_001")
	assert.False(t, ok)
}
