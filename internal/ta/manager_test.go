package ta

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stfutures/engine/internal/eventbus"
)

func TestManager_Aggregator_GatesOnReadiness(t *testing.T) {
	bus := eventbus.NewBus(nil, zerolog.Nop())
	registry := NewRegistry()
	registry.Register("ma_stop", newMAStop)
	registry.Register("rsi_stop", newRSIStop)

	var mu sync.Mutex
	var completedCount int
	var lastIndicators eventbus.Data
	bus.Subscribe(eventbus.SubjectTACalculationCompleted, func(e *eventbus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		completedCount++
		lastIndicators, _ = e.Data["indicators"].(eventbus.Data)
		return nil
	})

	// Intercept de.get_historical_klines so the test can seed each
	// indicator independently, standing in for the DE manager.
	var fetches []eventbus.Data
	bus.Subscribe(eventbus.SubjectDEGetHistoricalKlines, func(e *eventbus.Event) error {
		mu.Lock()
		fetches = append(fetches, e.Data)
		mu.Unlock()
		return nil
	})

	mgr := New(bus, registry, zerolog.Nop())

	subscribe := func(indicatorName string) {
		bus.Publish(eventbus.New(eventbus.SubjectTAIndicatorSubscribe, eventbus.Data{
			"user_id": "user_001", "symbol": "XRPUSDC", "timeframe": "15m",
			"indicator_name": indicatorName, "indicator_params": map[string]interface{}{},
		}, "st"), true)
	}
	subscribe("ma_stop")
	subscribe("rsi_stop")

	closes := make([]string, 60)
	for i := range closes {
		closes[i] = "1.00"
	}
	seed := klines(closes...)

	// Initialise only the first indicator directly, the way a targeted
	// historical-klines reply for just that indicator would.
	maKey := instanceKey{UserID: "user_001", Symbol: "XRPUSDC", Interval: "15m", IndicatorName: "ma_stop"}
	mgr.mu.Lock()
	maInst := mgr.instances[maKey]
	mgr.mu.Unlock()
	maInst.initialize(seed)

	bus.Publish(eventbus.New(eventbus.SubjectDEKlineUpdate, eventbus.Data{
		"user_id": "user_001", "symbol": "XRPUSDC", "interval": "15m",
		"kline": eventbus.Data{
			"open_time": int64(100), "open": "1.00", "high": "1.00", "low": "1.00",
			"close": "1.00", "volume": "1", "is_closed": true,
		},
	}, "de"), true)

	mu.Lock()
	assert.Equal(t, 0, completedCount, "aggregator must not fire while one indicator is unready")
	mu.Unlock()

	rsiKey := instanceKey{UserID: "user_001", Symbol: "XRPUSDC", Interval: "15m", IndicatorName: "rsi_stop"}
	mgr.mu.Lock()
	rsiInst := mgr.instances[rsiKey]
	mgr.mu.Unlock()
	rsiInst.initialize(seed)

	bus.Publish(eventbus.New(eventbus.SubjectDEKlineUpdate, eventbus.Data{
		"user_id": "user_001", "symbol": "XRPUSDC", "interval": "15m",
		"kline": eventbus.Data{
			"open_time": int64(101), "open": "1.00", "high": "1.00", "low": "1.00",
			"close": "1.00", "volume": "1", "is_closed": true,
		},
	}, "de"), true)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, completedCount, "aggregator must fire exactly once once every matching indicator is ready")
	assert.Contains(t, lastIndicators, "ma_stop")
	assert.Contains(t, lastIndicators, "rsi_stop")
}
