package tr

import (
	"fmt"
	"math"

	"github.com/stfutures/engine/internal/eventbus"
)

// Rung is one unplaced grid ladder leg.
type Rung struct {
	Side     string // BUY | SELL
	Price    float64
	Quantity float64
}

const priceEpsilon = 1e-9

// BuildSymmetricLadder partitions the evenly-spaced price set between lower
// and upper into BUY rungs (below entry) and SELL rungs (above entry).
// entry itself is excluded from both sides, and an entry outside
// [lower, upper] is rejected. Quantity is split evenly across however many
// rungs result.
func BuildSymmetricLadder(entry, lower, upper float64, levels int, totalQty float64) ([]Rung, error) {
	prices, err := ladderPrices(lower, upper, levels)
	if err != nil {
		return nil, err
	}
	if entry < lower || entry > upper {
		return nil, fmt.Errorf("grid entry price %v outside range %v to %v", entry, lower, upper)
	}

	var buys, sells []float64
	for _, p := range prices {
		switch {
		case p < entry-priceEpsilon:
			buys = append(buys, p)
		case p > entry+priceEpsilon:
			sells = append(sells, p)
		}
	}

	count := len(buys) + len(sells)
	if count == 0 {
		return nil, fmt.Errorf("grid entry price %v excludes every rung between %v and %v", entry, lower, upper)
	}
	qty, err := GridLevelSize(totalQty, count)
	if err != nil {
		return nil, err
	}

	rungs := make([]Rung, 0, count)
	for _, p := range buys {
		rungs = append(rungs, Rung{Side: eventbus.SideBuy, Price: p, Quantity: qty})
	}
	for _, p := range sells {
		rungs = append(rungs, Rung{Side: eventbus.SideSell, Price: p, Quantity: qty})
	}
	return rungs, nil
}

// BuildDirectionalLadder places every rung on one side (used when the
// caller wants a one-directional ladder rather than a symmetric one around
// an entry price).
func BuildDirectionalLadder(side string, lower, upper float64, levels int, totalQty float64) ([]Rung, error) {
	prices, err := ladderPrices(lower, upper, levels)
	if err != nil {
		return nil, err
	}
	qty, err := GridLevelSize(totalQty, levels)
	if err != nil {
		return nil, err
	}
	rungs := make([]Rung, 0, len(prices))
	for _, p := range prices {
		rungs = append(rungs, Rung{Side: side, Price: p, Quantity: qty})
	}
	return rungs, nil
}

// ladderPrices returns levels+1 evenly-spaced price points from lower to
// upper inclusive, rounded to avoid floating-point drift across the
// entry-price partition above.
func ladderPrices(lower, upper float64, levels int) ([]float64, error) {
	if upper <= lower {
		return nil, fmt.Errorf("grid upper %v must be greater than lower %v", upper, lower)
	}
	if levels <= 0 {
		return nil, fmt.Errorf("grid levels must be positive, got %d", levels)
	}
	interval := (upper - lower) / float64(levels)
	prices := make([]float64, levels+1)
	for i := 0; i <= levels; i++ {
		prices[i] = roundTo(lower+float64(i)*interval, 8)
	}
	return prices, nil
}

func roundTo(v float64, decimals int) float64 {
	factor := math.Pow10(decimals)
	return math.Round(v*factor) / factor
}

// PairRungs matches each BUY rung with the SELL rung equidistant from entry
// on the opposite side of the ladder (entry-d pairs with entry+d), since a
// symmetric ladder's BUY and SELL rungs are not one raw interval apart once
// the entry price itself is excluded. Rungs with no matching counterpart are
// returned unpaired.
func PairRungs(rungs []Rung, entry float64) (pairs []RungPair, unpaired []Rung) {
	sellByPrice := make(map[float64]Rung, len(rungs))
	for _, r := range rungs {
		if r.Side == eventbus.SideSell {
			sellByPrice[r.Price] = r
		}
	}

	matchedSells := make(map[float64]bool, len(rungs))
	for _, r := range rungs {
		if r.Side != eventbus.SideBuy {
			continue
		}
		mirror := roundTo(2*entry-r.Price, 8)
		if sell, ok := sellByPrice[mirror]; ok {
			pairs = append(pairs, RungPair{Buy: r, Sell: sell})
			matchedSells[mirror] = true
			continue
		}
		unpaired = append(unpaired, r)
	}
	for _, r := range rungs {
		if r.Side == eventbus.SideSell && !matchedSells[r.Price] {
			unpaired = append(unpaired, r)
		}
	}
	return pairs, unpaired
}

// RungPair is a BUY/SELL rung pairing candidate, before order placement.
type RungPair struct {
	Buy  Rung
	Sell Rung
}
