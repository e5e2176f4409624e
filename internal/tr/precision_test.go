package tr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrecisionTable_DefaultFallback(t *testing.T) {
	table := NewPrecisionTable()
	p := table.For("BTCUSDT")
	assert.Equal(t, DefaultPrecision(), p)
}

func TestPrecisionTable_Override(t *testing.T) {
	table := NewPrecisionTable()
	table.Set("BTCUSDT", SymbolPrecision{PricePrecision: 1, QuantityPrecision: 3, MinNotional: 10})
	p := table.For("BTCUSDT")
	price, qty := p.Quantize(50123.456, 1.23456)
	assert.Equal(t, 50123.4, price)
	assert.Equal(t, 1.234, qty)
}

func TestQuantizeDown_Floors(t *testing.T) {
	assert.Equal(t, 1.99, QuantizeDown(1.999, 2))
	assert.Equal(t, 0.0, QuantizeDown(0.004, 2))
}

func TestMeetsMinNotional(t *testing.T) {
	p := DefaultPrecision()
	assert.True(t, p.MeetsMinNotional(100, 0.1))
	assert.False(t, p.MeetsMinNotional(1, 1))
}
