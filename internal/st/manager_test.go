package st

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

func TestManager_AccountLoaded_SubscribesIndicators(t *testing.T) {
	configDir := t.TempDir()
	writeStrategyConfig(t, configDir, "user_001", "ma_stop_reverse", `{
		"timeframe": "15m",
		"leverage": 4,
		"position_side": "BOTH",
		"margin_mode": "CROSS",
		"margin_type": "USDT",
		"trading_pairs": [{"symbol": "XRPUSDC", "indicator_params": {"ma_stop": {"period": 20}}}]
	}`)

	bus := eventbus.NewBus(nil, zerolog.Nop())
	var mu sync.Mutex
	var subscribed []string
	bus.Subscribe(eventbus.SubjectTAIndicatorSubscribe, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		subscribed = append(subscribed, e.Data["indicator_name"].(string))
		return nil
	})

	New(bus, DefaultRegistry, configDir, zerolog.Nop())
	bus.Publish(eventbus.New(eventbus.SubjectPMAccountLoaded, eventbus.Data{
		"user_id": "user_001", "strategy_name": "ma_stop_reverse",
	}, "pm"), false)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"ma_stop"}, subscribed)
}

func TestManager_UnanimousSignal_OpensFromFlat(t *testing.T) {
	configDir := t.TempDir()
	writeStrategyConfig(t, configDir, "user_001", "ma_stop_reverse", `{
		"timeframe": "15m", "leverage": 4, "position_side": "BOTH",
		"margin_mode": "CROSS", "margin_type": "USDT",
		"trading_pairs": [{"symbol": "XRPUSDC", "indicator_params": {"ma_stop": {}}}]
	}`)

	bus := eventbus.NewBus(nil, zerolog.Nop())
	var mu sync.Mutex
	var signals []eventbus.Data
	bus.Subscribe(eventbus.SubjectSTSignalGenerated, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		signals = append(signals, e.Data)
		return nil
	})

	New(bus, DefaultRegistry, configDir, zerolog.Nop())
	bus.Publish(eventbus.New(eventbus.SubjectPMAccountLoaded, eventbus.Data{
		"user_id": "user_001", "strategy_name": "ma_stop_reverse",
	}, "pm"), false)

	bus.Publish(eventbus.New(eventbus.SubjectTACalculationCompleted, eventbus.Data{
		"user_id": "user_001", "symbol": "XRPUSDC", "timeframe": "15m",
		"indicators": eventbus.Data{
			"ma_stop": eventbus.Data{"signal": "LONG", "data": map[string]interface{}{"close": 1.05}},
		},
	}, "ta"), false)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, signals, 1)
	assert.Equal(t, "LONG", signals[0]["side"])
	assert.Equal(t, "OPEN", signals[0]["action"])
}

func TestManager_Reverse_EmitsOppositeOpenOnClose(t *testing.T) {
	configDir := t.TempDir()
	writeStrategyConfig(t, configDir, "user_001", "ma_stop_reverse", `{
		"timeframe": "15m", "leverage": 4, "position_side": "BOTH",
		"margin_mode": "CROSS", "margin_type": "USDT", "reverse": true,
		"trading_pairs": [{"symbol": "XRPUSDC", "indicator_params": {"ma_stop": {}}}]
	}`)

	bus := eventbus.NewBus(nil, zerolog.Nop())
	var mu sync.Mutex
	var signals []eventbus.Data
	bus.Subscribe(eventbus.SubjectSTSignalGenerated, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		signals = append(signals, e.Data)
		return nil
	})

	New(bus, DefaultRegistry, configDir, zerolog.Nop())
	bus.Publish(eventbus.New(eventbus.SubjectPMAccountLoaded, eventbus.Data{
		"user_id": "user_001", "strategy_name": "ma_stop_reverse",
	}, "pm"), false)

	bus.Publish(eventbus.New(eventbus.SubjectTRPositionClosed, eventbus.Data{
		"user_id": "user_001", "symbol": "XRPUSDC", "side": "LONG",
	}, "tr"), false)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, signals, 1)
	assert.Equal(t, "SHORT", signals[0]["side"])
	assert.Equal(t, "OPEN", signals[0]["action"])
}
