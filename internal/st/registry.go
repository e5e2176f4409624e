package st

import "github.com/stfutures/engine/internal/eventbus"

func init() {
	DefaultRegistry.Register("ma_stop_reverse", newMAStopReverse)
}

// maStopReverse is the one concrete strategy this engine ships: take every
// indicator's signal for the symbol, require unanimous agreement (ignoring
// NONE votes), and only cross a position boundary, opening from flat or
// closing an opposing position, on that consensus. Reverse-entry itself is
// handled by the manager's tr.position.closed handler, not here.
type maStopReverse struct{}

func newMAStopReverse(cfg *Config) Logic {
	return &maStopReverse{}
}

func (m *maStopReverse) Decide(position PositionState, indicators map[string]IndicatorResult) Decision {
	if len(indicators) == 0 {
		return Decision{}
	}

	consensus, unanimous := consensusSignal(indicators)
	if !unanimous || consensus == "NONE" {
		return Decision{}
	}

	switch position {
	case PositionNone:
		return Decision{HasSignal: true, Side: consensus, Action: "OPEN"}
	case PositionLong:
		if consensus == eventbus.SideShort {
			return Decision{HasSignal: true, Side: eventbus.SideLong, Action: "CLOSE"}
		}
	case PositionShort:
		if consensus == eventbus.SideLong {
			return Decision{HasSignal: true, Side: eventbus.SideShort, Action: "CLOSE"}
		}
	}
	return Decision{}
}

// consensusSignal returns the single signal every non-NONE indicator agrees
// on, and whether that agreement was unanimous. A bag with no opinionated
// indicator (all NONE) is never unanimous.
func consensusSignal(indicators map[string]IndicatorResult) (string, bool) {
	signal := ""
	for _, r := range indicators {
		if r.Signal == "NONE" || r.Signal == "" {
			continue
		}
		if signal == "" {
			signal = r.Signal
			continue
		}
		if signal != r.Signal {
			return "", false
		}
	}
	if signal == "" {
		return "NONE", false
	}
	return signal, true
}
