package ta

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/stfutures/engine/internal/de"
	"github.com/stfutures/engine/internal/eventbus"
)

// maxBufferedKlines bounds each (user, symbol, interval) rolling history,
// mirroring the exchange's own historical-kline request ceiling.
const maxBufferedKlines = 1500

// defaultSeedLimit is the floor on every historical seed request; an
// indicator with a small window still seeds a usable shared history.
const defaultSeedLimit = 200

// bufferKey identifies one (account, symbol, interval) rolling kline
// history shared across every indicator subscribed on that key.
type bufferKey struct {
	UserID   string
	Symbol   string
	Interval string
}

// Manager is the technical-analysis engine. It owns every indicator
// instance subscribed across all accounts and the per-(account, symbol)
// aggregator that gates ta.calculation.completed.
type Manager struct {
	bus      *eventbus.Bus
	log      zerolog.Logger
	registry *Registry

	mu        sync.Mutex
	instances map[instanceKey]*instance
	buffers   map[bufferKey][]de.Kline
	agg       *aggregator
}

// New constructs a Manager bound to bus using registry for indicator
// lookups (pass ta.DefaultRegistry in production; tests may pass an
// isolated registry).
func New(bus *eventbus.Bus, registry *Registry, log zerolog.Logger) *Manager {
	m := &Manager{
		bus:       bus,
		log:       log.With().Str("component", "ta_manager").Logger(),
		registry:  registry,
		instances: make(map[instanceKey]*instance),
		buffers:   make(map[bufferKey][]de.Kline),
		agg:       newAggregator(),
	}
	m.subscribe()
	return m
}

func (m *Manager) subscribe() {
	m.bus.Subscribe(eventbus.SubjectTAIndicatorSubscribe, m.onIndicatorSubscribe)
	m.bus.Subscribe(eventbus.SubjectDEHistoricalSuccess, m.onHistoricalSuccess)
	m.bus.Subscribe(eventbus.SubjectDEHistoricalFailed, m.onHistoricalFailed)
	m.bus.Subscribe(eventbus.SubjectDEKlineUpdate, m.onKlineUpdate)
}

func (m *Manager) onIndicatorSubscribe(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	interval := stringOf(e.Data["timeframe"])
	name := stringOf(e.Data["indicator_name"])
	params, _ := e.Data["indicator_params"].(map[string]interface{})

	indicator, ok := m.registry.Create(name, params)
	if !ok {
		m.bus.Publish(eventbus.New(eventbus.SubjectTAIndicatorCreateFailed, eventbus.Data{
			"user_id": userID, "symbol": symbol, "indicator_name": name,
			"error": "unknown indicator: " + name,
		}, "ta"), true)
		return nil
	}

	key := instanceKey{UserID: userID, Symbol: symbol, Interval: interval, IndicatorName: name}
	inst := &instance{key: key, indicator: indicator}

	m.mu.Lock()
	m.instances[key] = inst
	m.mu.Unlock()

	m.bus.Publish(eventbus.New(eventbus.SubjectTAIndicatorCreated, eventbus.Data{
		"user_id": userID, "symbol": symbol, "indicator_name": name,
	}, "ta"), true)

	limit := indicator.MinKlinesRequired()
	if limit < defaultSeedLimit {
		limit = defaultSeedLimit
	}
	if limit > maxBufferedKlines {
		limit = maxBufferedKlines
	}
	m.bus.Publish(eventbus.New(eventbus.SubjectDEGetHistoricalKlines, eventbus.Data{
		"user_id": userID, "symbol": symbol, "interval": interval,
		"limit": limit,
	}, "ta"), true)
	return nil
}

func (m *Manager) onHistoricalSuccess(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	interval := stringOf(e.Data["interval"])
	klines := klinesFromData(e.Data["klines"])

	key := bufferKey{UserID: userID, Symbol: symbol, Interval: interval}
	m.mu.Lock()
	// A later, larger seed (from an indicator with a bigger min-required)
	// supersedes a smaller one; a smaller one never truncates history
	// another indicator already seeded.
	if existing := m.buffers[key]; len(klines) > len(existing) {
		m.buffers[key] = klines
	}
	m.mu.Unlock()

	for _, inst := range m.matching(userID, symbol, interval) {
		inst.initialize(klines)
	}
	return nil
}

func (m *Manager) onHistoricalFailed(e *eventbus.Event) error {
	m.log.Warn().
		Str("user_id", stringOf(e.Data["user_id"])).
		Str("symbol", stringOf(e.Data["symbol"])).
		Str("error", stringOf(e.Data["error"])).
		Msg("historical klines fetch failed, indicator stays unready")
	return nil
}

func (m *Manager) onKlineUpdate(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	interval := stringOf(e.Data["interval"])

	klineData, _ := e.Data["kline"].(eventbus.Data)
	latest := klineFromData(klineData)
	klines := m.appendBuffer(bufferKey{UserID: userID, Symbol: symbol, Interval: interval}, latest)

	matching := m.matching(userID, symbol, interval)
	expected := len(matching)

	for _, inst := range matching {
		if !inst.isReady() {
			continue
		}
		result := inst.calculate(klines)

		key := symbolKey{UserID: userID, Symbol: symbol}
		if bucket, complete := m.agg.addResult(key, inst.key.IndicatorName, result, expected); complete {
			m.emitCompleted(userID, symbol, interval, bucket)
		}
	}
	return nil
}

func (m *Manager) emitCompleted(userID, symbol, interval string, bucket map[string]Result) {
	indicators := make(eventbus.Data, len(bucket))
	for name, result := range bucket {
		indicators[name] = eventbus.Data{
			"signal": result.Signal,
			"data":   result.Data,
		}
	}
	m.bus.Publish(eventbus.New(eventbus.SubjectTACalculationCompleted, eventbus.Data{
		"user_id": userID, "symbol": symbol, "timeframe": interval,
		"indicators": indicators,
	}, "ta"), true)
}

// matching returns every instance subscribed for (userID, symbol, interval),
// including unready ones — the aggregator's expected count must count all
// of them, ready or not: a symbol's joint result is only meaningful once
// every subscribed indicator contributes.
func (m *Manager) matching(userID, symbol, interval string) []*instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*instance
	for key, inst := range m.instances {
		if key.UserID == userID && key.Symbol == symbol && key.Interval == interval {
			out = append(out, inst)
		}
	}
	return out
}

// appendBuffer appends latest to key's rolling history, trims it to
// maxBufferedKlines, and returns a copy for the caller to pass to
// indicators — callers never hold a reference into the manager's buffer.
func (m *Manager) appendBuffer(key bufferKey, latest de.Kline) []de.Kline {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := append(m.buffers[key], latest)
	if len(buf) > maxBufferedKlines {
		buf = buf[len(buf)-maxBufferedKlines:]
	}
	m.buffers[key] = buf
	out := make([]de.Kline, len(buf))
	copy(out, buf)
	return out
}

func klinesFromData(v interface{}) []de.Kline {
	raw, ok := v.([]eventbus.Data)
	if !ok {
		return nil
	}
	out := make([]de.Kline, 0, len(raw))
	for _, d := range raw {
		out = append(out, klineFromData(d))
	}
	return out
}

func klineFromData(d eventbus.Data) de.Kline {
	openTime, _ := d["open_time"].(int64)
	isClosed, _ := d["is_closed"].(bool)
	return de.Kline{
		OpenTime: openTime,
		Open:     stringOf(d["open"]),
		High:     stringOf(d["high"]),
		Low:      stringOf(d["low"]),
		Close:    stringOf(d["close"]),
		Volume:   stringOf(d["volume"]),
		IsClosed: isClosed,
	}
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}
