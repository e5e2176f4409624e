package tr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGridPair_CompletesOnBothLegsFilled(t *testing.T) {
	pair := newGridPair("pair-1", 0.95, 1.05, 100)
	pair.setBuyOrderID("buy-1")
	pair.setSellOrderID("sell-1")

	profit, completed := pair.markLegFilled("buy-1")
	assert.False(t, completed)
	assert.Equal(t, 0.0, profit)
	assert.False(t, pair.isCompleted())

	profit, completed = pair.markLegFilled("sell-1")
	assert.True(t, completed)
	// gross = (1.05-0.95)*100 = 10; fee = (0.95+1.05)*100*0.0004 = 0.08
	assert.InDelta(t, 9.92, profit, 1e-9)
	assert.True(t, pair.isCompleted())
}

func TestGridPair_IgnoresFillsAfterCompletion(t *testing.T) {
	pair := newGridPair("pair-1", 0.95, 1.05, 100)
	pair.setBuyOrderID("buy-1")
	pair.setSellOrderID("sell-1")
	pair.markLegFilled("buy-1")
	pair.markLegFilled("sell-1")

	profit, completed := pair.markLegFilled("sell-1")
	assert.False(t, completed)
	assert.Equal(t, 0.0, profit)
}

func TestGridPair_UnknownOrderIDIsNoOp(t *testing.T) {
	pair := newGridPair("pair-1", 0.95, 1.05, 100)
	pair.setBuyOrderID("buy-1")
	pair.setSellOrderID("sell-1")

	_, completed := pair.markLegFilled("unrelated-order")
	assert.False(t, completed)
}
