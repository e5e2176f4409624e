package tr

import "sync"

// feeRate is the per-leg taker/maker fee rate shared by position-close and
// grid-pair profit math.
const feeRate = 0.0004

// GridPair tracks one BUY rung and its matching SELL rung. Profit is
// realised only once both legs have filled.
type GridPair struct {
	PairID    string
	BuyPrice  float64
	SellPrice float64
	Quantity  float64

	mu          sync.Mutex
	buyOrderID  string
	sellOrderID string
	buyFilled   bool
	sellFilled  bool
	completed   bool
	profit      float64
}

func newGridPair(id string, buyPrice, sellPrice, qty float64) *GridPair {
	return &GridPair{PairID: id, BuyPrice: buyPrice, SellPrice: sellPrice, Quantity: qty}
}

func (p *GridPair) setBuyOrderID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buyOrderID = id
}

func (p *GridPair) setSellOrderID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sellOrderID = id
}

// markLegFilled records one leg's fill by order id and returns the realised
// profit and true once the second leg completes the pair. Calling it again
// after completion is a no-op.
func (p *GridPair) markLegFilled(orderID string) (profit float64, completed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.completed {
		return 0, false
	}
	switch orderID {
	case p.buyOrderID:
		p.buyFilled = true
	case p.sellOrderID:
		p.sellFilled = true
	}

	if p.buyFilled && p.sellFilled {
		fee := p.BuyPrice*p.Quantity*feeRate + p.SellPrice*p.Quantity*feeRate
		p.profit = (p.SellPrice-p.BuyPrice)*p.Quantity - fee
		p.completed = true
		return p.profit, true
	}
	return 0, false
}

func (p *GridPair) isCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}
