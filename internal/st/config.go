// Package st is the strategy engine: it owns one strategy instance per
// account, subscribes its indicators with TA, and turns completed
// indicator bags into open/close signals for TR.
package st

import (
	"encoding/json"
	"fmt"
	"os"
)

// TradingPair is one symbol this strategy trades, with the per-indicator
// parameters to subscribe for it.
type TradingPair struct {
	Symbol          string                            `json:"symbol"`
	IndicatorParams map[string]map[string]interface{} `json:"indicator_params"`
}

// GridConfig mirrors the strategy file's grid_trading block. RangePercent
// sets the band around the entry price from which the ladder's absolute
// upper and lower bounds are derived; st.grid.create always carries the
// resolved bounds, never the percentage.
type GridConfig struct {
	Enabled      bool    `json:"enabled"`
	GridType     string  `json:"grid_type"`
	Ratio        float64 `json:"ratio"`
	GridLevels   int     `json:"grid_levels"`
	MoveUp       bool    `json:"move_up"`
	MoveDown     bool    `json:"move_down"`
	RangePercent float64 `json:"range_percent"`
}

// Config is one account's strategy configuration, loaded from
// config/strategies/<user_id>/<strategy_name>.json.
type Config struct {
	Timeframe    string        `json:"timeframe"`
	Leverage     int           `json:"leverage"`
	PositionSide string        `json:"position_side"`
	MarginMode   string        `json:"margin_mode"`
	MarginType   string        `json:"margin_type"`
	TradingPairs []TradingPair `json:"trading_pairs"`
	Reverse      bool          `json:"reverse"`
	GridTrading  *GridConfig   `json:"grid_trading"`
}

const defaultGridRangePercent = 5.0

// LoadConfig reads and validates the strategy file at path.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse strategy config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.GridTrading != nil && cfg.GridTrading.RangePercent <= 0 {
		cfg.GridTrading.RangePercent = defaultGridRangePercent
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Timeframe == "" {
		return fmt.Errorf("missing timeframe")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("missing or non-positive leverage")
	}
	if c.PositionSide == "" {
		return fmt.Errorf("missing position_side")
	}
	if c.MarginMode == "" {
		return fmt.Errorf("missing margin_mode")
	}
	if c.MarginType == "" {
		return fmt.Errorf("missing margin_type")
	}
	if len(c.TradingPairs) == 0 {
		return fmt.Errorf("trading_pairs must be a non-empty array")
	}
	for i, p := range c.TradingPairs {
		if p.Symbol == "" {
			return fmt.Errorf("trading_pairs[%d] missing symbol", i)
		}
	}
	return nil
}

// TradingMode classifies how TR will execute entries for this config. ST
// needs the same classification as TR (to decide when to emit
// st.grid.create directly on OPEN rather than wait for tr.position.opened),
// so it is computed independently here rather than imported from
// internal/tr: no cross-module sharing.
type TradingMode string

const (
	ModeNoGrid       TradingMode = "NO_GRID"
	ModeNormalGrid   TradingMode = "NORMAL_GRID"
	ModeAbnormalGrid TradingMode = "ABNORMAL_GRID"
)

func (c *Config) TradingMode() TradingMode {
	g := c.GridTrading
	if g == nil || !g.Enabled {
		return ModeNoGrid
	}
	if g.GridType == "normal" && g.Ratio == 1 {
		return ModeNormalGrid
	}
	return ModeAbnormalGrid
}
