package st

import (
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stfutures/engine/internal/eventbus"
)

// Manager is the strategy engine. It owns one Strategy per account and
// reacts to the upstream indicator pipeline and downstream position
// lifecycle to produce st.signal.generated / st.grid.create.
type Manager struct {
	bus       *eventbus.Bus
	log       zerolog.Logger
	registry  *Registry
	configDir string

	mu         sync.Mutex
	strategies map[string]*Strategy
}

// New constructs a Manager bound to bus. configDir is the root "config"
// directory; strategy files live at configDir/strategies/<user_id>/<name>.json.
func New(bus *eventbus.Bus, registry *Registry, configDir string, log zerolog.Logger) *Manager {
	m := &Manager{
		bus:        bus,
		log:        log.With().Str("component", "st_manager").Logger(),
		registry:   registry,
		configDir:  configDir,
		strategies: make(map[string]*Strategy),
	}
	m.subscribe()
	return m
}

func (m *Manager) subscribe() {
	m.bus.Subscribe(eventbus.SubjectPMAccountLoaded, m.onAccountLoaded)
	m.bus.Subscribe(eventbus.SubjectTACalculationCompleted, m.onCalculationCompleted)
	m.bus.Subscribe(eventbus.SubjectTRPositionOpened, m.onPositionOpened)
	m.bus.Subscribe(eventbus.SubjectTRPositionClosed, m.onPositionClosed)
}

func (m *Manager) strategyPath(userID, strategyName string) string {
	return filepath.Join(m.configDir, "strategies", userID, strategyName+".json")
}

func (m *Manager) onAccountLoaded(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	strategyName := stringOf(e.Data["strategy_name"])

	cfg, err := LoadConfig(m.strategyPath(userID, strategyName))
	if err != nil {
		m.log.Warn().Str("user_id", userID).Str("strategy_name", strategyName).Err(err).Msg("failed to load strategy config")
		return nil
	}

	logic, ok := m.registry.Create(strategyName, cfg)
	if !ok {
		m.log.Warn().Str("user_id", userID).Str("strategy_name", strategyName).Msg("unknown strategy name, no logic registered")
		return nil
	}

	strategy := newStrategy(userID, cfg, logic)

	m.mu.Lock()
	m.strategies[userID] = strategy
	m.mu.Unlock()

	for _, pair := range cfg.TradingPairs {
		for indicatorName, params := range pair.IndicatorParams {
			m.bus.Publish(eventbus.New(eventbus.SubjectTAIndicatorSubscribe, eventbus.Data{
				"user_id":          userID,
				"symbol":           pair.Symbol,
				"indicator_name":   indicatorName,
				"indicator_params": params,
				"timeframe":        cfg.Timeframe,
			}, "st"), true)
		}
	}
	return nil
}

func (m *Manager) strategy(userID string) (*Strategy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[userID]
	return s, ok
}

func (m *Manager) onCalculationCompleted(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])

	strategy, ok := m.strategy(userID)
	if !ok {
		return nil
	}

	indicators := indicatorsFromData(e.Data["indicators"])
	decision := strategy.logic.Decide(strategy.position(symbol), indicators)
	if !decision.HasSignal {
		return nil
	}

	m.emitSignal(userID, symbol, decision.Side, decision.Action)

	// NORMAL_GRID has no preliminary market order, so the ladder must be
	// requested directly off the OPEN signal rather than waiting for
	// tr.position.opened. Entry reference is taken from whichever indicator
	// exposed a "close" field, since no position/fill price exists yet.
	if decision.Action == "OPEN" && strategy.Config.TradingMode() == ModeNormalGrid {
		m.emitGridCreate(userID, symbol, closeFromIndicators(indicators), strategy.Config.GridTrading)
	}
	return nil
}

func (m *Manager) onPositionOpened(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	side := stringOf(e.Data["side"])
	entryPrice := floatOf(e.Data["entry_price"])

	strategy, ok := m.strategy(userID)
	if !ok {
		return nil
	}
	strategy.setPosition(symbol, positionFromSide(side))

	grid := strategy.Config.GridTrading
	// NORMAL_GRID already placed its ladder directly on the OPEN signal and
	// NO_GRID has no ladder; an ABNORMAL_GRID position, market-entered with
	// its ratio share, still needs its grid built around the actual fill
	// price.
	if grid != nil && grid.Enabled && strategy.Config.TradingMode() == ModeAbnormalGrid {
		m.emitGridCreate(userID, symbol, entryPrice, grid)
	}
	return nil
}

func (m *Manager) onPositionClosed(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	side := stringOf(e.Data["side"])

	strategy, ok := m.strategy(userID)
	if !ok {
		return nil
	}
	strategy.setPosition(symbol, PositionNone)

	if strategy.Config.Reverse {
		m.emitSignal(userID, symbol, oppositeSide(side), "OPEN")
	}
	return nil
}

func (m *Manager) emitSignal(userID, symbol, side, action string) {
	m.bus.Publish(eventbus.New(eventbus.SubjectSTSignalGenerated, eventbus.Data{
		"user_id": userID, "symbol": symbol, "side": side, "action": action,
	}, "st"), true)
}

func (m *Manager) emitGridCreate(userID, symbol string, entryPrice float64, grid *GridConfig) {
	if grid == nil || entryPrice <= 0 {
		return
	}
	band := entryPrice * grid.RangePercent / 100
	m.bus.Publish(eventbus.New(eventbus.SubjectSTGridCreate, eventbus.Data{
		"user_id":     userID,
		"symbol":      symbol,
		"entry_price": entryPrice,
		"upper_price": entryPrice + band,
		"lower_price": entryPrice - band,
		"grid_levels": grid.GridLevels,
		"grid_ratio":  grid.Ratio,
		"move_up":     grid.MoveUp,
		"move_down":   grid.MoveDown,
	}, "st"), true)
}

func indicatorsFromData(v interface{}) map[string]IndicatorResult {
	raw, ok := v.(eventbus.Data)
	if !ok {
		return nil
	}
	out := make(map[string]IndicatorResult, len(raw))
	for name, entryRaw := range raw {
		entry, ok := entryRaw.(eventbus.Data)
		if !ok {
			continue
		}
		data, _ := entry["data"].(map[string]interface{})
		out[name] = IndicatorResult{Signal: stringOf(entry["signal"]), Data: data}
	}
	return out
}

func closeFromIndicators(indicators map[string]IndicatorResult) float64 {
	for _, r := range indicators {
		if c, ok := r.Data["close"].(float64); ok {
			return c
		}
	}
	return 0
}

// Shutdown clears the per-account strategy table.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies = make(map[string]*Strategy)
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func floatOf(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}
