package tr

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

func writeStrategyConfig(t *testing.T, configDir, userID, name, body string) {
	t.Helper()
	dir := filepath.Join(configDir, "strategies", userID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".json"), []byte(body), 0644))
}

// TestManager_NoGrid_EntryToExit walks the plain no-grid flow: a LONG
// signal sizes and opens a market entry, a later CLOSE signal realises the
// fee-adjusted PnL.
func TestManager_NoGrid_EntryToExit(t *testing.T) {
	configDir := t.TempDir()
	writeStrategyConfig(t, configDir, "user_001", "ma_stop_reverse", `{
		"leverage": 10,
		"margin_type": "USDT",
		"trading_pairs": [{"symbol": "BTCUSDT"}]
	}`)

	bus := eventbus.NewBus(nil, zerolog.Nop())
	var mu sync.Mutex
	var created []eventbus.Data
	bus.Subscribe(eventbus.SubjectTROrderCreate, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, e.Data)
		return nil
	})

	New(bus, configDir, zerolog.Nop())

	bus.Publish(eventbus.New(eventbus.SubjectPMAccountLoaded, eventbus.Data{
		"user_id": "user_001", "strategy_name": "ma_stop_reverse",
	}, "pm"), false)

	bus.Publish(eventbus.New(eventbus.SubjectDEAccountBalance, eventbus.Data{
		"user_id": "user_001", "asset": "USDT", "available_balance": 10000.0, "balance": 10000.0,
	}, "de"), false)

	bus.Publish(eventbus.New(eventbus.SubjectDEKlineUpdate, eventbus.Data{
		"user_id": "user_001", "symbol": "BTCUSDT",
		"kline": eventbus.Data{"close": "50000"},
	}, "de"), false)

	bus.Publish(eventbus.New(eventbus.SubjectSTSignalGenerated, eventbus.Data{
		"user_id": "user_001", "symbol": "BTCUSDT", "side": "LONG", "action": "OPEN",
	}, "st"), false)

	mu.Lock()
	require.Len(t, created, 1)
	entryOrder := created[0]
	mu.Unlock()
	assert.Equal(t, "BUY", entryOrder["side"])
	assert.Equal(t, "MARKET", entryOrder["type"])
	// margin = 10000*0.95/1 = 9500; size = 9500*1*10/50000 = 1.9
	assert.InDelta(t, 1.9, entryOrder["quantity"].(float64), 1e-9)

	bus.Publish(eventbus.New(eventbus.SubjectDEOrderSubmitted, eventbus.Data{
		"user_id": "user_001", "symbol": "BTCUSDT", "order_id": "1001",
		"side": "BUY", "type": "MARKET", "quantity": 1.9,
	}, "de"), false)

	bus.Publish(eventbus.New(eventbus.SubjectDEOrderFilled, eventbus.Data{
		"user_id": "user_001", "symbol": "BTCUSDT", "order_id": "1001",
		"side": "BUY", "price": 50000.0, "quantity": 1.9,
	}, "de"), false)

	bus.Publish(eventbus.New(eventbus.SubjectSTSignalGenerated, eventbus.Data{
		"user_id": "user_001", "symbol": "BTCUSDT", "side": "LONG", "action": "CLOSE",
	}, "st"), false)

	mu.Lock()
	require.Len(t, created, 2)
	closeOrder := created[1]
	mu.Unlock()
	assert.Equal(t, "SELL", closeOrder["side"])

	bus.Publish(eventbus.New(eventbus.SubjectDEOrderSubmitted, eventbus.Data{
		"user_id": "user_001", "symbol": "BTCUSDT", "order_id": "1002",
		"side": "SELL", "type": "MARKET", "quantity": 1.9,
	}, "de"), false)

	var closedEvents []eventbus.Data
	bus.Subscribe(eventbus.SubjectTRPositionClosed, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		closedEvents = append(closedEvents, e.Data)
		return nil
	})

	bus.Publish(eventbus.New(eventbus.SubjectDEOrderFilled, eventbus.Data{
		"user_id": "user_001", "symbol": "BTCUSDT", "order_id": "1002",
		"side": "SELL", "price": 51000.0, "quantity": 1.9,
	}, "de"), false)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, closedEvents, 1)
	// gross = (51000-50000)*1.9 = 1900; fee = (50000+51000)*1.9*0.0004 = 76.76
	assert.InDelta(t, 1823.24, closedEvents[0]["profit"].(float64), 1e-6)
}

func TestManager_NormalGrid_BuildsLadderOnGridCreate(t *testing.T) {
	configDir := t.TempDir()
	writeStrategyConfig(t, configDir, "user_002", "grid_strategy", `{
		"leverage": 1,
		"margin_type": "USDT",
		"trading_pairs": [{"symbol": "XRPUSDC"}],
		"grid_trading": {"enabled": true, "grid_type": "normal", "ratio": 1, "grid_levels": 10}
	}`)

	bus := eventbus.NewBus(nil, zerolog.Nop())
	var mu sync.Mutex
	var created []eventbus.Data
	bus.Subscribe(eventbus.SubjectTROrderCreate, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, e.Data)
		return nil
	})

	New(bus, configDir, zerolog.Nop())

	bus.Publish(eventbus.New(eventbus.SubjectPMAccountLoaded, eventbus.Data{
		"user_id": "user_002", "strategy_name": "grid_strategy",
	}, "pm"), false)

	bus.Publish(eventbus.New(eventbus.SubjectDEAccountBalance, eventbus.Data{
		"user_id": "user_002", "asset": "USDT", "available_balance": 1000.0, "balance": 1000.0,
	}, "de"), false)

	bus.Publish(eventbus.New(eventbus.SubjectSTGridCreate, eventbus.Data{
		"user_id": "user_002", "symbol": "XRPUSDC", "entry_price": 1.0,
		"upper_price": 1.05, "lower_price": 0.95, "grid_levels": 10,
		"grid_ratio": 1.0, "move_up": false, "move_down": false,
	}, "st"), false)

	mu.Lock()
	defer mu.Unlock()
	// 5 buy + 5 sell rungs between 0.95 and 1.05 excluding entry.
	assert.Len(t, created, 10)
	for _, o := range created {
		assert.Equal(t, "POST_ONLY", o["type"])
	}
}

func TestManager_AbnormalGrid_RequiresExistingPosition(t *testing.T) {
	configDir := t.TempDir()
	writeStrategyConfig(t, configDir, "user_003", "grid_strategy", `{
		"leverage": 5,
		"margin_type": "USDT",
		"trading_pairs": [{"symbol": "ETHUSDT"}],
		"grid_trading": {"enabled": true, "grid_type": "abnormal", "ratio": 0.5, "grid_levels": 4}
	}`)

	bus := eventbus.NewBus(nil, zerolog.Nop())
	var mu sync.Mutex
	var created []eventbus.Data
	bus.Subscribe(eventbus.SubjectTROrderCreate, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, e.Data)
		return nil
	})

	New(bus, configDir, zerolog.Nop())
	bus.Publish(eventbus.New(eventbus.SubjectPMAccountLoaded, eventbus.Data{
		"user_id": "user_003", "strategy_name": "grid_strategy",
	}, "pm"), false)
	bus.Publish(eventbus.New(eventbus.SubjectDEAccountBalance, eventbus.Data{
		"user_id": "user_003", "asset": "USDT", "available_balance": 1000.0, "balance": 1000.0,
	}, "de"), false)

	// No tr.position.opened yet, so grid create must be ignored.
	bus.Publish(eventbus.New(eventbus.SubjectSTGridCreate, eventbus.Data{
		"user_id": "user_003", "symbol": "ETHUSDT", "entry_price": 2000.0,
		"upper_price": 2100.0, "lower_price": 1900.0, "grid_levels": 4,
	}, "st"), false)

	mu.Lock()
	defer mu.Unlock()
	assert.Empty(t, created)
}
