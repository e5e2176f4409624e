package tr

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stfutures/engine/internal/eventbus"
)

type taskKey struct {
	UserID string
	Symbol string
}

// Manager is the trading engine. It owns one CapitalManager and one
// TradingTask per (account, symbol), sizing and placing orders from
// strategy signals and reconciling fills back into position/PnL state.
type Manager struct {
	bus       *eventbus.Bus
	log       zerolog.Logger
	configDir string
	precision *PrecisionTable

	mu        sync.Mutex
	configs   map[string]*strategyConfig
	capital   map[string]*CapitalManager
	tasks     map[taskKey]*TradingTask
	lastPrice map[taskKey]float64
}

// New constructs a Manager bound to bus. configDir is the root "config"
// directory, mirroring st.Manager's path convention.
func New(bus *eventbus.Bus, configDir string, log zerolog.Logger) *Manager {
	m := &Manager{
		bus:       bus,
		log:       log.With().Str("component", "tr_manager").Logger(),
		configDir: configDir,
		precision: NewPrecisionTable(),
		configs:   make(map[string]*strategyConfig),
		capital:   make(map[string]*CapitalManager),
		tasks:     make(map[taskKey]*TradingTask),
		lastPrice: make(map[taskKey]float64),
	}
	m.subscribe()
	return m
}

func (m *Manager) subscribe() {
	m.bus.Subscribe(eventbus.SubjectPMAccountLoaded, m.onAccountLoaded)
	m.bus.Subscribe(eventbus.SubjectSTSignalGenerated, m.onSignalGenerated)
	m.bus.Subscribe(eventbus.SubjectSTGridCreate, m.onGridCreate)
	m.bus.Subscribe(eventbus.SubjectDEOrderFilled, m.onOrderFilled)
	m.bus.Subscribe(eventbus.SubjectDEOrderUpdate, m.onOrderUpdate)
	m.bus.Subscribe(eventbus.SubjectDEOrderSubmitted, m.onOrderSubmitted)
	m.bus.Subscribe(eventbus.SubjectDEOrderFailed, m.onOrderFailed)
	m.bus.Subscribe(eventbus.SubjectDEOrderCancelled, m.onOrderCancelled)
	m.bus.Subscribe(eventbus.SubjectDEAccountBalance, m.onAccountBalance)
	// A MARKET entry must be sized before any fill price exists, and no
	// other subject carries a usable price, so the manager keeps a
	// last-price cache fed by kline updates (see DESIGN.md).
	m.bus.Subscribe(eventbus.SubjectDEKlineUpdate, m.onKlineUpdate)
}

func (m *Manager) onAccountLoaded(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	strategyName := stringOf(e.Data["strategy_name"])

	cfg, err := loadStrategyConfig(m.configDir, userID, strategyName)
	if err != nil {
		m.log.Warn().Str("user_id", userID).Err(err).Msg("failed to load strategy config")
		return nil
	}

	cm := NewCapitalManager(cfg.Leverage, len(cfg.TradingPairs))

	m.mu.Lock()
	m.configs[userID] = cfg
	m.capital[userID] = cm
	m.mu.Unlock()

	m.bus.Publish(eventbus.New(eventbus.SubjectTRGetAccountBalance, eventbus.Data{
		"user_id": userID, "asset": "USDT",
	}, "tr"), true)
	return nil
}

func (m *Manager) onAccountBalance(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	cm, ok := m.capitalManager(userID)
	if !ok {
		return nil
	}
	cm.UpdateBalance(floatOf(e.Data["available_balance"]), floatOf(e.Data["balance"]))
	return nil
}

func (m *Manager) onKlineUpdate(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	kline, _ := e.Data["kline"].(eventbus.Data)
	if kline == nil {
		return nil
	}
	price, err := strconv.ParseFloat(stringOf(kline["close"]), 64)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	m.lastPrice[taskKey{userID, symbol}] = price
	m.mu.Unlock()
	return nil
}

func (m *Manager) config(userID string) (*strategyConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.configs[userID]
	return c, ok
}

func (m *Manager) capitalManager(userID string) (*CapitalManager, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.capital[userID]
	return c, ok
}

func (m *Manager) referencePrice(userID, symbol string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrice[taskKey{userID, symbol}]
}

func (m *Manager) getOrCreateTask(userID, symbol string, cfg *strategyConfig) *TradingTask {
	key := taskKey{userID, symbol}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tasks[key]; ok {
		return t
	}
	t := newTask(userID, symbol, cfg.tradingMode())
	m.tasks[key] = t
	return t
}

func (m *Manager) task(userID, symbol string) (*TradingTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskKey{userID, symbol}]
	return t, ok
}

func (m *Manager) onSignalGenerated(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	side := stringOf(e.Data["side"])
	action := stringOf(e.Data["action"])

	cfg, ok := m.config(userID)
	if !ok {
		m.log.Warn().Str("user_id", userID).Msg("signal received before strategy config loaded")
		return nil
	}
	task := m.getOrCreateTask(userID, symbol, cfg)

	switch action {
	case "OPEN":
		m.handleOpen(task, cfg, side)
	case "CLOSE":
		m.handleClose(task, side)
	}
	return nil
}

func (m *Manager) handleOpen(task *TradingTask, cfg *strategyConfig, side string) {
	if task.Mode == ModeNormalGrid {
		// No preliminary market order: the ladder itself is the entry, built
		// once st.grid.create arrives (see onGridCreate).
		return
	}

	ratio := 1.0
	if task.Mode == ModeAbnormalGrid && cfg.GridTrading != nil {
		ratio = cfg.GridTrading.Ratio
	}

	price := m.referencePrice(task.UserID, task.Symbol)
	if price <= 0 {
		m.log.Warn().Str("user_id", task.UserID).Str("symbol", task.Symbol).Msg("no reference price yet, dropping open signal")
		return
	}

	cm, ok := m.capitalManager(task.UserID)
	if !ok {
		return
	}
	qty, err := cm.PositionSize(price, ratio)
	if err != nil {
		m.log.Warn().Str("user_id", task.UserID).Err(err).Msg("failed to size entry order")
		return
	}

	orderSide := eventbus.SideSell
	if side == eventbus.SideLong {
		orderSide = eventbus.SideBuy
	}

	task.markPendingEntry()
	m.bus.Publish(eventbus.New(eventbus.SubjectTROrderCreate, eventbus.Data{
		"user_id": task.UserID, "symbol": task.Symbol, "side": orderSide, "type": "MARKET", "quantity": qty,
	}, "tr"), true)
}

func (m *Manager) handleClose(task *TradingTask, side string) {
	if task.Position() == PositionNone {
		return
	}

	for _, o := range task.openOrders() {
		if o.IsGrid {
			m.bus.Publish(eventbus.New(eventbus.SubjectTROrderCancel, eventbus.Data{
				"user_id": task.UserID, "symbol": task.Symbol, "order_id": o.OrderID,
			}, "tr"), true)
		}
	}

	exitSide := eventbus.SideBuy
	if task.Position() == PositionLong {
		exitSide = eventbus.SideSell
	}

	task.markPendingClose()
	m.bus.Publish(eventbus.New(eventbus.SubjectTROrderCreate, eventbus.Data{
		"user_id": task.UserID, "symbol": task.Symbol, "side": exitSide, "type": "MARKET", "quantity": task.entryQty(),
	}, "tr"), true)
}

func (m *Manager) onGridCreate(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	entryPrice := floatOf(e.Data["entry_price"])
	upperPrice := floatOf(e.Data["upper_price"])
	lowerPrice := floatOf(e.Data["lower_price"])
	gridLevels := intOf(e.Data["grid_levels"])
	moveUp := boolOf(e.Data["move_up"])
	moveDown := boolOf(e.Data["move_down"])

	cfg, ok := m.config(userID)
	if !ok {
		return nil
	}
	task := m.getOrCreateTask(userID, symbol, cfg)

	if task.Mode != ModeNormalGrid && task.Mode != ModeAbnormalGrid {
		return nil
	}
	if task.Mode == ModeAbnormalGrid && task.Position() == PositionNone {
		m.log.Warn().Str("user_id", userID).Str("symbol", symbol).Msg("grid create for abnormal mode with no open position yet")
		return nil
	}

	cm, ok := m.capitalManager(userID)
	if !ok {
		return nil
	}

	ratio := 1.0
	if task.Mode == ModeAbnormalGrid {
		if cfg.GridTrading == nil {
			m.log.Warn().Str("user_id", userID).Msg("abnormal grid mode with no grid_trading config")
			return nil
		}
		ratio = 1 - cfg.GridTrading.Ratio
		if ratio <= 0 {
			m.log.Warn().Str("user_id", userID).Msg("abnormal grid ratio leaves no remaining capital")
			return nil
		}
	}
	totalQty, err := cm.PositionSize(entryPrice, ratio)
	if err != nil {
		m.log.Warn().Str("user_id", userID).Err(err).Msg("failed to size grid ladder")
		return nil
	}

	rungs, err := BuildSymmetricLadder(entryPrice, lowerPrice, upperPrice, gridLevels, totalQty)
	if err != nil {
		m.log.Warn().Str("user_id", userID).Str("symbol", symbol).Err(err).Msg("failed to build grid ladder")
		return nil
	}

	task.setGridBounds(upperPrice, lowerPrice, gridLevels, moveUp, moveDown)

	pairs, unpaired := PairRungs(rungs, entryPrice)

	prec := m.precision.For(symbol)
	for _, pr := range pairs {
		pairID := uuid.NewString()
		pair := newGridPair(pairID, pr.Buy.Price, pr.Sell.Price, pr.Buy.Quantity)
		task.setGridPair(pair)
		m.submitGridRung(task, prec, pr.Buy, pairID, "buy")
		m.submitGridRung(task, prec, pr.Sell, pairID, "sell")
	}
	for _, r := range unpaired {
		m.submitGridRung(task, prec, r, "", "")
	}
	return nil
}

func (m *Manager) submitGridRung(task *TradingTask, prec SymbolPrecision, rung Rung, pairID, leg string) {
	price, qty := prec.Quantize(rung.Price, rung.Quantity)
	if !prec.MeetsMinNotional(price, qty) {
		m.log.Warn().Str("user_id", task.UserID).Str("symbol", task.Symbol).
			Float64("price", price).Float64("quantity", qty).
			Msg("grid rung below minimum notional, skipping")
		return
	}

	if pairID != "" {
		task.registerPendingGridRung(price, rung.Side, pairID, leg)
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectTROrderCreate, eventbus.Data{
		"user_id": task.UserID, "symbol": task.Symbol, "side": rung.Side,
		"type": "POST_ONLY", "price": price, "quantity": qty,
	}, "tr"), true)
}

func (m *Manager) onOrderSubmitted(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	task, ok := m.task(userID, symbol)
	if !ok {
		return nil
	}

	orderID := orderIDOf(e.Data["order_id"])
	side := stringOf(e.Data["side"])
	orderType := stringOf(e.Data["type"])
	price := floatOf(e.Data["price"])
	quantity := floatOf(e.Data["quantity"])

	if orderType == "MARKET" {
		role := task.takePendingMarketRole()
		task.addOrder(&OrderRecord{
			OrderID: orderID, Symbol: symbol, Side: side, Type: orderType,
			Price: price, Quantity: quantity, Status: "NEW", CreatedAt: now(),
		})
		if role == "close" {
			task.setCloseOrderID(orderID)
		}
		return nil
	}

	pending, matched := task.resolvePendingGridRung(price, side)
	record := &OrderRecord{
		OrderID: orderID, Symbol: symbol, Side: side, Type: orderType,
		Price: price, Quantity: quantity, Status: "NEW", IsGrid: true, CreatedAt: now(),
	}
	if matched {
		record.PairID = pending.pairID
		if pair, ok := task.gridPair(pending.pairID); ok {
			if pending.leg == "buy" {
				pair.setBuyOrderID(orderID)
			} else {
				pair.setSellOrderID(orderID)
			}
		}
	}
	task.addOrder(record)
	return nil
}

func (m *Manager) onOrderUpdate(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	task, ok := m.task(userID, symbol)
	if !ok {
		return nil
	}
	orderID := orderIDOf(e.Data["order_id"])
	order, ok := task.order(orderID)
	if !ok {
		return nil
	}
	order.Status = stringOf(e.Data["status"])
	if fq, present := e.Data["filled_quantity"]; present {
		order.FilledQuantity = floatOf(fq)
	}
	return nil
}

func (m *Manager) onOrderFilled(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	task, ok := m.task(userID, symbol)
	if !ok {
		return nil
	}

	orderID := orderIDOf(e.Data["order_id"])
	side := stringOf(e.Data["side"])
	price := floatOf(e.Data["price"])
	quantity := floatOf(e.Data["quantity"])

	if order, ok := task.order(orderID); ok {
		order.FilledQuantity = quantity
		order.Status = "FILLED"
		order.FilledAt = now()
	}

	if task.Position() == PositionNone {
		task.openPosition(side, price, quantity)
		m.bus.Publish(eventbus.New(eventbus.SubjectTRPositionOpened, eventbus.Data{
			"user_id": userID, "symbol": symbol, "side": string(task.Position()),
			"entry_price": price, "quantity": quantity,
		}, "tr"), true)
		return nil
	}

	if task.isCloseOrder(orderID) {
		profit, closedSide := task.closePosition(price)
		m.bus.Publish(eventbus.New(eventbus.SubjectTRPositionClosed, eventbus.Data{
			"user_id": userID, "symbol": symbol, "side": closedSide,
			"exit_price": price, "profit": profit,
		}, "tr"), true)
		return nil
	}

	// Neither an entry nor the tracked close order: a grid-leg fill.
	if order, ok := task.order(orderID); ok && order.IsGrid && order.PairID != "" {
		if pair, ok := task.gridPair(order.PairID); ok {
			if profit, completed := pair.markLegFilled(orderID); completed {
				task.addRealizedProfit(profit)
			}
		}
	}
	return nil
}

func (m *Manager) onOrderFailed(e *eventbus.Event) error {
	m.log.Warn().
		Str("user_id", stringOf(e.Data["user_id"])).
		Str("symbol", stringOf(e.Data["symbol"])).
		Str("error", stringOf(e.Data["error"])).
		Msg("order failed")
	return nil
}

func (m *Manager) onOrderCancelled(e *eventbus.Event) error {
	userID := stringOf(e.Data["user_id"])
	symbol := stringOf(e.Data["symbol"])
	task, ok := m.task(userID, symbol)
	if !ok {
		return nil
	}
	orderID := orderIDOf(e.Data["order_id"])
	if order, ok := task.order(orderID); ok {
		order.Status = "CANCELED"
	}
	return nil
}

// TaskSummary is one (account, symbol) task's state, for the introspection
// server.
type TaskSummary struct {
	UserID   string
	Symbol   string
	Mode     TradingMode
	Position PositionState
	Stats    Stats
}

// Tasks returns a snapshot of every task this manager is tracking.
func (m *Manager) Tasks() []TaskSummary {
	m.mu.Lock()
	tasks := make([]*TradingTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	out := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskSummary{
			UserID:   t.UserID,
			Symbol:   t.Symbol,
			Mode:     t.Mode,
			Position: t.Position(),
			Stats:    t.Stats(),
		})
	}
	return out
}

// Shutdown clears per-account state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs = make(map[string]*strategyConfig)
	m.capital = make(map[string]*CapitalManager)
	m.tasks = make(map[taskKey]*TradingTask)
	m.lastPrice = make(map[taskKey]float64)
}

func now() time.Time { return time.Now() }

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
	case int64:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func intOf(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}

func boolOf(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

// orderIDOf normalises an order id, which DE may emit as a string or as the
// raw int64/float64 the exchange's JSON payload carried.
func orderIDOf(v interface{}) string {
	switch n := v.(type) {
	case string:
		return n
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	case float64:
		return strconv.FormatInt(int64(n), 10)
	}
	return ""
}
