package ta

import (
	"sync"

	"github.com/stfutures/engine/internal/de"
)

// instanceKey identifies one indicator subscription.
type instanceKey struct {
	UserID        string
	Symbol        string
	Interval      string
	IndicatorName string
}

// instance wraps a registered Indicator with its readiness state. Readiness
// gates whether live kline updates trigger recomputation; it only becomes
// true once the historical seed has been processed.
type instance struct {
	key       instanceKey
	indicator Indicator

	mu      sync.Mutex
	ready   bool
	latest  Result
}

func (i *instance) initialize(klines []de.Kline) {
	result := i.indicator.Calculate(klines)
	i.mu.Lock()
	i.latest = result
	i.ready = true
	i.mu.Unlock()
}

func (i *instance) isReady() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready
}

func (i *instance) calculate(klines []de.Kline) Result {
	result := i.indicator.Calculate(klines)
	i.mu.Lock()
	i.latest = result
	i.mu.Unlock()
	return result
}
