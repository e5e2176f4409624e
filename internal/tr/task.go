package tr

import (
	"sync"
	"time"
)

// PositionState is a TradingTask's current exposure on its symbol.
type PositionState string

const (
	PositionNone  PositionState = "NONE"
	PositionLong  PositionState = "LONG"
	PositionShort PositionState = "SHORT"
)

// TradingMode classifies how a task's entries and exits are executed.
type TradingMode string

const (
	ModeNoGrid       TradingMode = "NO_GRID"
	ModeNormalGrid   TradingMode = "NORMAL_GRID"
	ModeAbnormalGrid TradingMode = "ABNORMAL_GRID"
)

// TradingModeFromConfig classifies execution from the grid_trading config:
// disabled means a plain market entry; a normal grid at full ratio is a
// pure ladder; anything else market-enters part of the size and grids the
// remainder.
func TradingModeFromConfig(gridEnabled bool, gridType string, ratio float64) TradingMode {
	if !gridEnabled {
		return ModeNoGrid
	}
	if gridType == "normal" && ratio == 1 {
		return ModeNormalGrid
	}
	return ModeAbnormalGrid
}

// OrderRecord is one order this task has submitted, tracked from
// submission through fill.
type OrderRecord struct {
	OrderID        string
	Symbol         string
	Side           string
	Type           string
	Price          float64
	Quantity       float64
	FilledQuantity float64
	Status         string
	IsGrid         bool
	PairID         string
	CreatedAt      time.Time
	FilledAt       time.Time
}

// TradingTask is the per-(account, symbol) execution state machine: it
// holds the active position, every order it has submitted, and its grid
// ladder's pairing table.
type TradingTask struct {
	UserID string
	Symbol string
	Mode   TradingMode

	mu sync.Mutex

	position      PositionState
	entrySide     string
	entryPrice    float64
	entryQuantity float64

	gridUpper    float64
	gridLower    float64
	gridLevels   int
	moveUp       bool
	moveDown     bool

	orders       map[string]*OrderRecord
	gridPairs    map[string]*GridPair
	byPriceSide  map[priceSideKey]*pendingGridOrder // submitted-but-unconfirmed grid rungs, matched by price+side
	closeOrderID string

	// pendingMarketRole marks what the next MARKET order submission for this
	// task is for ("entry" or "close"), since de.order.submitted never echoes
	// back tr-internal intent.
	pendingMarketRole string

	totalProfit  float64
	realizedPnLs []float64
}

type priceSideKey struct {
	Price float64
	Side  string
}

type pendingGridOrder struct {
	pairID string
	leg    string // "buy" | "sell"
}

func newTask(userID, symbol string, mode TradingMode) *TradingTask {
	return &TradingTask{
		UserID:      userID,
		Symbol:      symbol,
		Mode:        mode,
		position:    PositionNone,
		orders:      make(map[string]*OrderRecord),
		gridPairs:   make(map[string]*GridPair),
		byPriceSide: make(map[priceSideKey]*pendingGridOrder),
	}
}

func (t *TradingTask) Position() PositionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.position
}

// openPosition records an entry fill and clears to an open position. It is
// the caller's responsibility to have checked Position() == NONE first.
func (t *TradingTask) openPosition(side string, price, quantity float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = sideToPosition(side)
	t.entrySide = side
	t.entryPrice = price
	t.entryQuantity = quantity
}

// closePosition clears the open position and returns the realised PnL,
// fee-adjusted on both legs, plus the side that was closed (needed by
// tr.position.closed's payload).
func (t *TradingTask) closePosition(exitPrice float64) (profit float64, side string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	qty := t.entryQuantity
	side = string(t.position)
	var gross float64
	if t.position == PositionLong {
		gross = (exitPrice - t.entryPrice) * qty
	} else {
		gross = (t.entryPrice - exitPrice) * qty
	}
	fee := t.entryPrice*qty*feeRate + exitPrice*qty*feeRate
	profit = gross - fee

	t.totalProfit += profit
	t.realizedPnLs = append(t.realizedPnLs, profit)
	t.position = PositionNone
	t.entrySide = ""
	t.entryPrice = 0
	t.entryQuantity = 0
	return profit, side
}

func (t *TradingTask) entryQty() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entryQuantity
}

func (t *TradingTask) markPendingEntry() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingMarketRole = "entry"
}

func (t *TradingTask) markPendingClose() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingMarketRole = "close"
}

func (t *TradingTask) takePendingMarketRole() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	role := t.pendingMarketRole
	t.pendingMarketRole = ""
	return role
}

func (t *TradingTask) addOrder(o *OrderRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[o.OrderID] = o
}

func (t *TradingTask) order(orderID string) (*OrderRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[orderID]
	return o, ok
}

func (t *TradingTask) setCloseOrderID(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeOrderID = id
}

func (t *TradingTask) isCloseOrder(orderID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return orderID != "" && orderID == t.closeOrderID
}

// registerPendingGridRung remembers that a just-submitted grid order at
// (price, side) belongs to pairID/leg, so the order-submitted handler can
// bind the real order id once the exchange assigns one (de.order.submitted
// never echoes back tr-internal correlation fields).
func (t *TradingTask) registerPendingGridRung(price float64, side, pairID, leg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byPriceSide[priceSideKey{Price: price, Side: side}] = &pendingGridOrder{pairID: pairID, leg: leg}
}

func (t *TradingTask) resolvePendingGridRung(price float64, side string) (*pendingGridOrder, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := priceSideKey{Price: price, Side: side}
	p, ok := t.byPriceSide[key]
	if ok {
		delete(t.byPriceSide, key)
	}
	return p, ok
}

func (t *TradingTask) setGridPair(p *GridPair) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gridPairs[p.PairID] = p
}

func (t *TradingTask) gridPair(pairID string) (*GridPair, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.gridPairs[pairID]
	return p, ok
}

func (t *TradingTask) addRealizedProfit(profit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalProfit += profit
	t.realizedPnLs = append(t.realizedPnLs, profit)
}

// TotalProfit returns the task's cumulative realised PnL across every
// closed position and completed grid pair.
func (t *TradingTask) TotalProfit() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalProfit
}

// Stats summarises realised PnL for the introspection server.
type Stats struct {
	TotalProfit float64
	WinCount    int
	LossCount   int
	WinRate     float64
}

func (t *TradingTask) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var wins, losses int
	for _, pnl := range t.realizedPnLs {
		if pnl >= 0 {
			wins++
		} else {
			losses++
		}
	}
	total := wins + losses
	winRate := 0.0
	if total > 0 {
		winRate = float64(wins) / float64(total)
	}
	return Stats{TotalProfit: t.totalProfit, WinCount: wins, LossCount: losses, WinRate: winRate}
}

func (t *TradingTask) openOrders() []*OrderRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*OrderRecord, 0, len(t.orders))
	for _, o := range t.orders {
		if o.Status == "NEW" || o.Status == "PARTIALLY_FILLED" {
			out = append(out, o)
		}
	}
	return out
}

func (t *TradingTask) setGridBounds(upper, lower float64, levels int, moveUp, moveDown bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.gridUpper, t.gridLower, t.gridLevels, t.moveUp, t.moveDown = upper, lower, levels, moveUp, moveDown
}

func sideToPosition(side string) PositionState {
	if side == "BUY" {
		return PositionLong
	}
	return PositionShort
}
