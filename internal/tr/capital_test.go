package tr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapitalManager_PositionSize(t *testing.T) {
	cm := NewCapitalManager(10, 2)
	cm.UpdateBalance(10000, 10000)

	size, err := cm.PositionSize(50000, 1.0)
	require.NoError(t, err)
	// usable = 10000*0.95 = 9500; margin = 9500/2 = 4750
	// size = 4750*1*10/50000 = 0.95
	assert.InDelta(t, 0.95, size, 1e-9)
}

func TestCapitalManager_PositionSize_RejectsInvalidInputs(t *testing.T) {
	cm := NewCapitalManager(10, 1)
	cm.UpdateBalance(10000, 10000)

	_, err := cm.PositionSize(0, 1.0)
	assert.Error(t, err)

	_, err = cm.PositionSize(50000, 0)
	assert.Error(t, err)

	_, err = cm.PositionSize(50000, 1.5)
	assert.Error(t, err)
}

func TestCapitalManager_NoBalance(t *testing.T) {
	cm := NewCapitalManager(10, 1)
	_, err := cm.PositionSize(50000, 1.0)
	assert.Error(t, err)
}

func TestGridLevelSize(t *testing.T) {
	size, err := GridLevelSize(1000, 10)
	require.NoError(t, err)
	assert.Equal(t, 100.0, size)

	_, err = GridLevelSize(1000, 0)
	assert.Error(t, err)
}
