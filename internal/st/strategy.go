package st

import (
	"sync"

	"github.com/stfutures/engine/internal/eventbus"
)

// PositionState is per-(account, symbol) position state, as tracked by the
// owning Strategy rather than by TR (ST and TR each hold their own view;
// they stay in sync through tr.position.opened/closed).
type PositionState string

const (
	PositionNone  PositionState = "NONE"
	PositionLong  PositionState = "LONG"
	PositionShort PositionState = "SHORT"
)

// IndicatorResult is one indicator's contribution to a ta.calculation.completed
// bag, as decoded from the event payload.
type IndicatorResult struct {
	Signal string
	Data   map[string]interface{}
}

// Decision is what a Logic returns for one symbol's completed indicator bag.
// HasSignal false means "do nothing" — most recomputations do not cross a
// decision boundary.
type Decision struct {
	HasSignal bool
	Side      string // LONG | SHORT
	Action    string // OPEN | CLOSE
}

// Logic is the decision-making half of a strategy: a pure function from
// current position state plus the indicator bag to a Decision. It must not
// retain klines or call out to the bus; Strategy (below) owns all the
// stateful/event-facing plumbing.
type Logic interface {
	Decide(position PositionState, indicators map[string]IndicatorResult) Decision
}

// Constructor builds a Logic from the strategy's own config, mirroring
// ta.Constructor's shape.
type Constructor func(cfg *Config) Logic

// Registry is an open, name-keyed strategy-logic factory.
type Registry struct {
	constructors map[string]Constructor
}

// DefaultRegistry is populated at package init time by each concrete
// strategy's own file (registry.go).
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.constructors[name] = ctor
}

func (r *Registry) Create(name string, cfg *Config) (Logic, bool) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, false
	}
	return ctor(cfg), true
}

// Strategy is the per-account owned value: its config snapshot, its
// decision logic, and its per-symbol position states.
type Strategy struct {
	UserID string
	Config *Config
	logic  Logic

	mu        sync.Mutex
	positions map[string]PositionState
}

func newStrategy(userID string, cfg *Config, logic Logic) *Strategy {
	return &Strategy{
		UserID:    userID,
		Config:    cfg,
		logic:     logic,
		positions: make(map[string]PositionState),
	}
}

func (s *Strategy) position(symbol string) PositionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.positions[symbol]; ok {
		return p
	}
	return PositionNone
}

func (s *Strategy) setPosition(symbol string, p PositionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[symbol] = p
}

func oppositeSide(side string) string {
	if side == eventbus.SideLong {
		return eventbus.SideShort
	}
	return eventbus.SideLong
}

func positionFromSide(side string) PositionState {
	if side == eventbus.SideLong {
		return PositionLong
	}
	return PositionShort
}
