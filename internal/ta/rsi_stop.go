package ta

import (
	talib "github.com/markcheno/go-talib"

	"github.com/stfutures/engine/internal/de"
	"github.com/stfutures/engine/internal/eventbus"
)

func init() {
	DefaultRegistry.Register("rsi_stop", newRSIStop)
}

const (
	rsiDefaultPeriod     = 14
	rsiDefaultOverbought = 70.0
	rsiDefaultOversold   = 30.0
	rsiMinFloor          = 50
)

// rsiStop is a mean-reversion indicator:
// LONG when RSI drops below the oversold line, SHORT when it rises above
// the overbought line. Demonstrates a second concrete kind in the open
// indicator registry.
type rsiStop struct {
	period     int
	overbought float64
	oversold   float64
	minReq     int
}

func newRSIStop(params map[string]interface{}) Indicator {
	period := intParam(params, "period", rsiDefaultPeriod)
	overbought := floatParam(params, "overbought", rsiDefaultOverbought)
	oversold := floatParam(params, "oversold", rsiDefaultOversold)
	minReq := period * 3
	if minReq < rsiMinFloor {
		minReq = rsiMinFloor
	}
	return &rsiStop{period: period, overbought: overbought, oversold: oversold, minReq: minReq}
}

func (r *rsiStop) MinKlinesRequired() int { return r.minReq }

func (r *rsiStop) Calculate(klines []de.Kline) Result {
	if len(klines) < r.period+1 {
		return Result{Signal: "NONE", Data: map[string]interface{}{"error": "insufficient klines"}}
	}

	closes := closesOf(klines)
	rsiValues := talib.Rsi(closes, r.period)
	latest := rsiValues[len(rsiValues)-1]

	signal := "NONE"
	switch {
	case latest < r.oversold:
		signal = eventbus.SideLong
	case latest > r.overbought:
		signal = eventbus.SideShort
	}

	return Result{
		Signal: signal,
		Data: map[string]interface{}{
			"rsi":        round4(latest),
			"overbought": r.overbought,
			"oversold":   r.oversold,
			"close":      round4(closes[len(closes)-1]),
		},
	}
}
