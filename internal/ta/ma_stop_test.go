package ta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stfutures/engine/internal/de"
)

func klines(closes ...string) []de.Kline {
	out := make([]de.Kline, len(closes))
	for i, c := range closes {
		out[i] = de.Kline{Close: c, IsClosed: true}
	}
	return out
}

func TestMAStop_Calculate_LongSignal(t *testing.T) {
	ind, ok := DefaultRegistry.Create("ma_stop", map[string]interface{}{
		"period": 3, "percent": 2,
	})
	require.True(t, ok)

	result := ind.Calculate(klines("1.00", "1.00", "1.00", "1.05"))

	assert.Equal(t, "LONG", result.Signal)
	assert.Equal(t, 1.0167, result.Data["ma"])
	assert.Equal(t, 0.9964, result.Data["stop_line_long"])
	assert.Equal(t, 1.037, result.Data["stop_line_short"])
	assert.Equal(t, 1.05, result.Data["close"])
}

func TestMAStop_Calculate_InsufficientKlines(t *testing.T) {
	ind, ok := DefaultRegistry.Create("ma_stop", map[string]interface{}{"period": 20})
	require.True(t, ok)

	result := ind.Calculate(klines("1.00", "1.00"))

	assert.Equal(t, "NONE", result.Signal)
	assert.Contains(t, result.Data, "error")
}
