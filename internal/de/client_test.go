package de

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchangeClient_SignIsDeterministic(t *testing.T) {
	c := NewExchangeClient("user_001", "key", "secret", false)
	sig1 := c.sign("symbol=BTCUSDT&side=BUY")
	sig2 := c.sign("symbol=BTCUSDT&side=BUY")
	assert.Equal(t, sig1, sig2)
	assert.NotEmpty(t, sig1)

	sig3 := c.sign("symbol=BTCUSDT&side=SELL")
	assert.NotEqual(t, sig1, sig3)
}

func TestParseKlineRow(t *testing.T) {
	rowJSON := `[1499040000000,"0.01634790","0.80000000","0.01575800","0.01577100","148976.11427815",1499644799999,"2434.19055334",308,"1756.87402397","28.46694368","17928899.62484339"]`
	var raw []json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(rowJSON), &raw))

	k, err := parseKlineRow(raw)
	require.NoError(t, err)
	assert.Equal(t, int64(1499040000000), k.OpenTime)
	assert.Equal(t, "0.01634790", k.Open)
	assert.Equal(t, "0.01577100", k.Close)
	assert.True(t, k.IsClosed)
}
