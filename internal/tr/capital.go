// Package tr is the trading engine: it consumes strategy signals, sizes
// and places orders, manages grid ladders, and tracks positions and
// realised PnL per (account, symbol) TradingTask.
package tr

import (
	"fmt"
	"sync"
)

const usableBalanceRatio = 0.95

// CapitalManager holds one account's capital state and derives position
// sizes from it.
type CapitalManager struct {
	leverage    int
	symbolCount int

	mu               sync.Mutex
	availableBalance float64
	totalBalance     float64
}

// NewCapitalManager constructs a manager for an account trading
// symbolCount distinct symbols at the given leverage.
func NewCapitalManager(leverage, symbolCount int) *CapitalManager {
	if symbolCount <= 0 {
		symbolCount = 1
	}
	return &CapitalManager{leverage: leverage, symbolCount: symbolCount}
}

// UpdateBalance records a fresh balance snapshot from de.account.balance.
func (c *CapitalManager) UpdateBalance(available, total float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.availableBalance = available
	c.totalBalance = total
}

func (c *CapitalManager) usableBalance() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.availableBalance * usableBalanceRatio
}

// marginPerSymbol splits the usable balance evenly across every symbol the
// strategy trades.
func (c *CapitalManager) marginPerSymbol() float64 {
	return c.usableBalance() / float64(c.symbolCount)
}

// PositionSize computes (margin * ratio * leverage) / entryPrice. ratio
// must be in (0, 1] and entryPrice must be positive.
func (c *CapitalManager) PositionSize(entryPrice, ratio float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("entry price must be positive, got %v", entryPrice)
	}
	if ratio <= 0 || ratio > 1 {
		return 0, fmt.Errorf("ratio must be in (0, 1], got %v", ratio)
	}
	margin := c.marginPerSymbol()
	if margin <= 0 {
		return 0, fmt.Errorf("no usable margin available")
	}
	return (margin * ratio * float64(c.leverage)) / entryPrice, nil
}

// GridLevelSize splits a total position size evenly across levels grid
// rungs.
func GridLevelSize(totalQty float64, levels int) (float64, error) {
	if levels <= 0 {
		return 0, fmt.Errorf("grid levels must be positive, got %d", levels)
	}
	if totalQty <= 0 {
		return 0, fmt.Errorf("total quantity must be positive, got %v", totalQty)
	}
	return totalQty / float64(levels), nil
}
