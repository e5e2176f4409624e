// Package pm owns the registry of trading accounts: their credentials,
// assigned strategy, and enabled/disabled state.
package pm

import "sync"

// Account is one trader's identity and credentials. Downstream modules
// receive credentials once, via pm.account.loaded, and do not retain this
// struct; DE's ExchangeClient keeps its own copy of the key pair for
// request signing.
type Account struct {
	UserID       string
	Name         string
	APIKey       string
	APISecret    string
	StrategyName string
	IsTestnet    bool

	mu      sync.Mutex
	enabled bool
}

func newAccount(userID, name, apiKey, apiSecret, strategyName string, testnet bool) *Account {
	return &Account{
		UserID:       userID,
		Name:         name,
		APIKey:       apiKey,
		APISecret:    apiSecret,
		StrategyName: strategyName,
		IsTestnet:    testnet,
		enabled:      true,
	}
}

// Enabled reports whether the account currently accepts new signals.
func (a *Account) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *Account) setEnabled(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = v
}
