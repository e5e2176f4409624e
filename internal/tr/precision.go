package tr

import "math"

// SymbolPrecision holds one symbol's price/quantity decimal precision and
// minimum notional. Values are quantized downward (floored) so an order
// never rounds up past what the account can actually afford or the
// exchange's tick size allows.
type SymbolPrecision struct {
	PricePrecision    int
	QuantityPrecision int
	MinNotional       float64
}

// DefaultPrecision is 2 decimal places for price, 0 for quantity, and a
// 5 USD-equivalent minimum notional.
func DefaultPrecision() SymbolPrecision {
	return SymbolPrecision{PricePrecision: 2, QuantityPrecision: 0, MinNotional: 5}
}

// PrecisionTable maps symbol to its configured precision, falling back to
// DefaultPrecision for any symbol without an explicit entry. The strategy
// config schema has no per-symbol precision section, so this table is
// populated only by tests/operators that need a non-default tick size; in
// production every symbol uses the default.
type PrecisionTable struct {
	overrides map[string]SymbolPrecision
}

func NewPrecisionTable() *PrecisionTable {
	return &PrecisionTable{overrides: make(map[string]SymbolPrecision)}
}

func (t *PrecisionTable) Set(symbol string, p SymbolPrecision) {
	t.overrides[symbol] = p
}

func (t *PrecisionTable) For(symbol string) SymbolPrecision {
	if p, ok := t.overrides[symbol]; ok {
		return p
	}
	return DefaultPrecision()
}

// QuantizeDown floors value to precision decimal places.
func QuantizeDown(value float64, precision int) float64 {
	factor := math.Pow10(precision)
	return math.Floor(value*factor) / factor
}

// Quantize floors both price and quantity to this symbol's configured
// precision.
func (p SymbolPrecision) Quantize(price, quantity float64) (float64, float64) {
	return QuantizeDown(price, p.PricePrecision), QuantizeDown(quantity, p.QuantityPrecision)
}

// MeetsMinNotional reports whether price*quantity clears the symbol's
// minimum order size.
func (p SymbolPrecision) MeetsMinNotional(price, quantity float64) bool {
	return price*quantity >= p.MinNotional
}
