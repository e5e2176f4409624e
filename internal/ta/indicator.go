// Package ta is the technical-analysis engine: it owns per-(account,
// symbol, interval, indicator) instances, seeds them from history, and
// aggregates their results per symbol.
package ta

import "github.com/stfutures/engine/internal/de"

// Result is what calculate() returns: a directional signal plus whatever
// auxiliary numbers the indicator wants to expose downstream.
type Result struct {
	Signal string // LONG | SHORT | NONE
	Data   map[string]interface{}
}

// Indicator is a stateless function from a kline history to a Result.
// Implementations must not cache anything about prior calls; every call
// receives the full history it needs.
type Indicator interface {
	MinKlinesRequired() int
	Calculate(klines []de.Kline) Result
}

// Constructor builds an Indicator from its JSON-decoded parameters. Used by
// the open registry below.
type Constructor func(params map[string]interface{}) Indicator

// Registry is an open, name-keyed indicator factory. Concrete indicators
// register themselves via init() in their own files.
type Registry struct {
	constructors map[string]Constructor
}

// DefaultRegistry is populated at package init time by every indicator's
// own file (ma_stop.go, rsi_stop.go, ...). Call NewRegistry() instead when a
// test needs an isolated registry.
var DefaultRegistry = NewRegistry()

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// Register adds name to the registry. Calling Register twice with the same
// name replaces the prior constructor rather than rejecting redefinition.
func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

// Create instantiates the indicator registered under name, or reports
// ok=false if name is unknown.
func (r *Registry) Create(name string, params map[string]interface{}) (Indicator, bool) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, false
	}
	return ctor(params), true
}

// IsRegistered reports whether name has a constructor.
func (r *Registry) IsRegistered(name string) bool {
	_, ok := r.constructors[name]
	return ok
}

// Names returns every registered indicator name.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.constructors))
	for n := range r.constructors {
		out = append(out, n)
	}
	return out
}
