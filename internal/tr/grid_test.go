package tr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stfutures/engine/internal/eventbus"
)

func TestBuildSymmetricLadder(t *testing.T) {
	rungs, err := BuildSymmetricLadder(1.00, 0.95, 1.05, 10, 1000)
	require.NoError(t, err)
	require.Len(t, rungs, 10)

	var buys, sells []Rung
	for _, r := range rungs {
		if r.Side == eventbus.SideBuy {
			buys = append(buys, r)
		} else {
			sells = append(sells, r)
		}
	}
	assert.Len(t, buys, 5)
	assert.Len(t, sells, 5)
	for _, r := range rungs {
		assert.InDelta(t, 100.0, r.Quantity, 1e-9)
		assert.Less(t, r.Price, 1.051)
		assert.Greater(t, r.Price, 0.949)
	}
}

func TestBuildSymmetricLadder_EntryOutsideRange(t *testing.T) {
	_, err := BuildSymmetricLadder(2.0, 0.95, 1.05, 10, 1000)
	require.Error(t, err)
}

func TestPairRungs(t *testing.T) {
	rungs, err := BuildSymmetricLadder(1.00, 0.95, 1.05, 10, 1000)
	require.NoError(t, err)
	pairs, unpaired := PairRungs(rungs, 1.00)
	assert.Len(t, pairs, 5)
	assert.Empty(t, unpaired)
	for _, p := range pairs {
		assert.InDelta(t, 2.00, p.Buy.Price+p.Sell.Price, 1e-8)
	}
}
