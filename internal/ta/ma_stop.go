package ta

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/stfutures/engine/internal/de"
	"github.com/stfutures/engine/internal/eventbus"
)

func init() {
	DefaultRegistry.Register("ma_stop", newMAStop)
}

const (
	maStopDefaultPeriod  = 20
	maStopDefaultPercent = 2.0
	maStopMinFloor       = 50
)

// maStop is a moving average with
// percentage-offset stop lines, signalling LONG when the close breaks above
// the lower stop line and SHORT when it breaks below the upper one.
type maStop struct {
	period  int
	percent float64
	minReq  int
}

func newMAStop(params map[string]interface{}) Indicator {
	period := intParam(params, "period", maStopDefaultPeriod)
	percent := floatParam(params, "percent", maStopDefaultPercent)
	minReq := period * 2
	if minReq < maStopMinFloor {
		minReq = maStopMinFloor
	}
	return &maStop{period: period, percent: percent, minReq: minReq}
}

func (m *maStop) MinKlinesRequired() int { return m.minReq }

// Calculate computes ma = mean of the last
// `period` closes; stop_long = ma*(1-percent/100); stop_short =
// ma*(1+percent/100). LONG is checked before SHORT, so a close between the
// two stop lines (which satisfies both conditions) resolves to LONG; with a
// positive percent the result is never NONE once enough klines exist.
func (m *maStop) Calculate(klines []de.Kline) Result {
	if len(klines) < m.period {
		return Result{Signal: "NONE", Data: map[string]interface{}{
			"error": "insufficient klines",
		}}
	}

	closes := closesOf(klines)
	window := closes[len(closes)-m.period:]
	// ma is rounded before deriving the stop lines, not after, so the stop
	// lines reflect the same displayed precision a trader would see.
	ma := round4(stat.Mean(window, nil))
	stopLong := round4(ma * (1 - m.percent/100))
	stopShort := round4(ma * (1 + m.percent/100))
	last := closes[len(closes)-1]

	signal := "NONE"
	switch {
	case last > stopLong:
		signal = eventbus.SideLong
	case last < stopShort:
		signal = eventbus.SideShort
	}

	return Result{
		Signal: signal,
		Data: map[string]interface{}{
			"ma":              ma,
			"stop_line_long":  stopLong,
			"stop_line_short": stopShort,
			"close":           round4(last),
			"period":          m.period,
			"percent":         m.percent,
		},
	}
}

func closesOf(klines []de.Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		f, _ := strconv.ParseFloat(k.Close, 64)
		out[i] = f
	}
	return out
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func intParam(params map[string]interface{}, key string, def int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func floatParam(params map[string]interface{}, key string, def float64) float64 {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return def
}
