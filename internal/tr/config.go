package tr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// gridConfig mirrors the strategy file's grid_trading block (only the
// fields TR needs to size and mode-classify the task).
type gridConfig struct {
	Enabled    bool    `json:"enabled"`
	GridType   string  `json:"grid_type"`
	Ratio      float64 `json:"ratio"`
	GridLevels int     `json:"grid_levels"`
	MoveUp     bool    `json:"move_up"`
	MoveDown   bool    `json:"move_down"`
}

type tradingPairConfig struct {
	Symbol string `json:"symbol"`
}

// strategyConfig is TR's own view of a strategy file, loaded independently
// of ST's internal/st.Config: each module manager owns and reads its own
// state, with no cross-module sharing.
type strategyConfig struct {
	Leverage     int                 `json:"leverage"`
	MarginType   string              `json:"margin_type"`
	TradingPairs []tradingPairConfig `json:"trading_pairs"`
	GridTrading  *gridConfig         `json:"grid_trading"`
}

func loadStrategyConfig(configDir, userID, strategyName string) (*strategyConfig, error) {
	path := filepath.Join(configDir, "strategies", userID, strategyName+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy config %s: %w", path, err)
	}
	var cfg strategyConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse strategy config %s: %w", path, err)
	}
	if cfg.Leverage <= 0 {
		return nil, fmt.Errorf("strategy config %s: missing or non-positive leverage", path)
	}
	if len(cfg.TradingPairs) == 0 {
		return nil, fmt.Errorf("strategy config %s: trading_pairs must be non-empty", path)
	}
	return &cfg, nil
}

func (c *strategyConfig) tradingMode() TradingMode {
	if c.GridTrading == nil {
		return TradingModeFromConfig(false, "", 0)
	}
	return TradingModeFromConfig(c.GridTrading.Enabled, c.GridTrading.GridType, c.GridTrading.Ratio)
}
