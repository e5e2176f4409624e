package pm

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stfutures/engine/internal/eventbus"
)

// rawConfig mirrors the pm_config.json shape: {"users": {user_id: {...}}}.
type rawConfig struct {
	Users map[string]json.RawMessage `json:"users"`
}

type rawUser struct {
	Name      string `json:"name"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Strategy  string `json:"strategy"`
	Testnet   bool   `json:"testnet"`
}

// Manager is the account registry. It is constructed once at bootstrap and
// owned by the caller; there is no package-level singleton.
type Manager struct {
	bus *eventbus.Bus
	log zerolog.Logger

	mu       sync.Mutex
	accounts map[string]*Account
}

// New constructs a Manager bound to bus.
func New(bus *eventbus.Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus:      bus,
		log:      log.With().Str("component", "pm_manager").Logger(),
		accounts: make(map[string]*Account),
	}
}

// LoadAccounts reads the account registry file at path, validates each
// entry, and publishes pm.account.loaded for every accepted account and
// pm.load.failed for every rejected one. It never aborts on a single bad
// entry. Returns an error only if the file itself cannot be read/parsed.
func (m *Manager) LoadAccounts(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read account config %s: %w", path, err)
	}

	var cfg rawConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("failed to parse account config %s: %w", path, err)
	}

	loadedCount, failedCount := 0, 0
	userIDs := make([]string, 0, len(cfg.Users))

	for userID, entry := range cfg.Users {
		var u rawUser
		err := json.Unmarshal(entry, &u)
		if err == nil {
			err = validateUser(u)
		}
		if err != nil {
			failedCount++
			m.log.Warn().Str("user_id", userID).Err(err).Msg("account rejected")
			m.bus.Publish(eventbus.New(eventbus.SubjectPMLoadFailed, eventbus.Data{
				"user_id": userID,
				"error":   err.Error(),
			}, "pm"), true)
			continue
		}

		account := newAccount(userID, u.Name, u.APIKey, u.APISecret, u.Strategy, u.Testnet)

		m.mu.Lock()
		m.accounts[userID] = account
		m.mu.Unlock()

		loadedCount++
		userIDs = append(userIDs, userID)

		m.bus.Publish(eventbus.New(eventbus.SubjectPMAccountLoaded, eventbus.Data{
			"user_id":       account.UserID,
			"name":          account.Name,
			"api_key":       account.APIKey,
			"api_secret":    account.APISecret,
			"strategy_name": account.StrategyName,
			"is_testnet":    account.IsTestnet,
		}, "pm"), true)
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectPMManagerReady, eventbus.Data{
		"loaded_count": loadedCount,
		"failed_count": failedCount,
		"user_ids":     userIDs,
	}, "pm"), true)

	return nil
}

func validateUser(u rawUser) error {
	if u.Name == "" {
		return fmt.Errorf("missing name")
	}
	if u.APIKey == "" {
		return fmt.Errorf("missing api_key")
	}
	if u.APISecret == "" {
		return fmt.Errorf("missing api_secret")
	}
	if u.Strategy == "" {
		return fmt.Errorf("missing strategy")
	}
	return nil
}

// Account returns the account for userID, if loaded.
func (m *Manager) Account(userID string) (*Account, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[userID]
	return a, ok
}

// Accounts returns every loaded account, for the introspection server.
func (m *Manager) Accounts() []*Account {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	return out
}

// Enable flips an account's enabled flag and announces it.
func (m *Manager) Enable(userID string) {
	m.mu.Lock()
	a, ok := m.accounts[userID]
	m.mu.Unlock()
	if !ok {
		return
	}
	a.setEnabled(true)
	m.bus.Publish(eventbus.New(eventbus.SubjectPMAccountEnabled, eventbus.Data{"user_id": userID}, "pm"), true)
}

// Disable flips an account's enabled flag off. persist controls whether the
// announcement is written to the event store (false during shutdown, to
// avoid writing to a store that is about to close).
func (m *Manager) Disable(userID string, persist bool) {
	m.mu.Lock()
	a, ok := m.accounts[userID]
	m.mu.Unlock()
	if !ok {
		return
	}
	a.setEnabled(false)
	m.bus.Publish(eventbus.New(eventbus.SubjectPMAccountDisabled, eventbus.Data{"user_id": userID}, "pm"), persist)
}

// Shutdown disables every account, announces manager shutdown without
// persistence, and clears the registry.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disable(id, false)
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectPMManagerShutdown, eventbus.Data{}, "pm"), false)

	m.mu.Lock()
	m.accounts = make(map[string]*Account)
	m.mu.Unlock()
}

// reset clears all state. Exposed only for tests, per the no-singleton
// design note: there is no global instance to reset, just this value.
func (m *Manager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = make(map[string]*Account)
}
