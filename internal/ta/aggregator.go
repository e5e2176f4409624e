package ta

import "sync"

// symbolKey groups indicator results for one (account, symbol).
type symbolKey struct {
	UserID string
	Symbol string
}

// aggregator collects one result per matching indicator for a (user, symbol)
// pair and fires once every matching indicator has reported in for the
// current cycle, then resets.
type aggregator struct {
	mu      sync.Mutex
	pending map[symbolKey]map[string]Result
}

func newAggregator() *aggregator {
	return &aggregator{pending: make(map[symbolKey]map[string]Result)}
}

// addResult records indicatorName's result for key and reports whether
// expectedCount matching indicators have now all reported (in which case
// the caller should emit ta.calculation.completed using the returned map
// and the aggregator has already reset that key).
func (a *aggregator) addResult(key symbolKey, indicatorName string, result Result, expectedCount int) (map[string]Result, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	bucket, ok := a.pending[key]
	if !ok {
		bucket = make(map[string]Result)
		a.pending[key] = bucket
	}
	bucket[indicatorName] = result

	if len(bucket) < expectedCount {
		return nil, false
	}

	delete(a.pending, key)
	return bucket, true
}
