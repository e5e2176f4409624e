package de

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stfutures/engine/internal/eventbus"
)

const defaultHistoricalLimit = 200

// Manager is the data engine. It owns one ExchangeClient plus a market and
// user-data stream per account, and routes exchange-facing requests and
// responses across the bus.
type Manager struct {
	bus *eventbus.Bus
	log zerolog.Logger
	ctx context.Context

	mu      sync.Mutex
	clients map[string]*ExchangeClient
	markets map[string]*MarketStream
}

// New constructs a Manager bound to bus and subscribes its handlers. ctx
// governs the lifetime of every stream goroutine the manager starts.
func New(ctx context.Context, bus *eventbus.Bus, log zerolog.Logger) *Manager {
	m := &Manager{
		bus:     bus,
		log:     log.With().Str("component", "de_manager").Logger(),
		ctx:     ctx,
		clients: make(map[string]*ExchangeClient),
		markets: make(map[string]*MarketStream),
	}
	m.subscribe()
	return m
}

func (m *Manager) subscribe() {
	m.bus.Subscribe(eventbus.SubjectPMAccountLoaded, m.onAccountLoaded)
	m.bus.Subscribe(eventbus.SubjectDEGetHistoricalKlines, m.onGetHistoricalKlines)
	m.bus.Subscribe(eventbus.SubjectTROrderCreate, m.onOrderCreate)
	m.bus.Subscribe(eventbus.SubjectTROrderCancel, m.onOrderCancel)
	m.bus.Subscribe(eventbus.SubjectTRGetAccountBalance, m.onGetAccountBalance)
}

func (m *Manager) onAccountLoaded(e *eventbus.Event) error {
	userID, _ := e.Data["user_id"].(string)
	apiKey, _ := e.Data["api_key"].(string)
	apiSecret, _ := e.Data["api_secret"].(string)
	testnet, _ := e.Data["is_testnet"].(bool)

	if userID == "" || apiKey == "" || apiSecret == "" {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEClientConnFailed, eventbus.Data{
			"user_id":       userID,
			"error_type":    "missing_fields",
			"error_message": "user_id, api_key and api_secret are required",
		}, "de"), true)
		return nil
	}

	client := NewExchangeClient(userID, apiKey, apiSecret, testnet)

	m.mu.Lock()
	m.clients[userID] = client
	market := NewMarketStream(userID, client.WSBase(), m.bus, m.log)
	m.markets[userID] = market
	m.mu.Unlock()

	go market.Run(m.ctx)
	userStream := NewUserDataStream(client, m.bus, m.log)
	go userStream.Run(m.ctx)

	m.bus.Publish(eventbus.New(eventbus.SubjectDEClientConnected, eventbus.Data{
		"user_id":   userID,
		"timestamp": time.Now().Unix(),
	}, "de"), true)
	return nil
}

func (m *Manager) client(userID string) (*ExchangeClient, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[userID]
	return c, ok
}

// marketStream returns the per-account kline stream, for SubscribeKline.
func (m *Manager) marketStream(userID string) (*MarketStream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.markets[userID]
	return s, ok
}

// SubscribeKline registers (symbol, interval) on the account's market
// stream. Within the engine its only caller is onGetHistoricalKlines.
func (m *Manager) SubscribeKline(userID, symbol, interval string) {
	if market, ok := m.marketStream(userID); ok {
		market.SubscribeKline(symbol, interval)
	}
}

func (m *Manager) onGetHistoricalKlines(e *eventbus.Event) error {
	userID, _ := e.Data["user_id"].(string)
	symbol, _ := e.Data["symbol"].(string)
	interval, _ := e.Data["interval"].(string)
	limit := defaultHistoricalLimit
	if v, ok := e.Data["limit"].(int); ok && v > 0 {
		limit = v
	}

	client, ok := m.client(userID)
	if !ok {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEHistoricalFailed, eventbus.Data{
			"user_id": userID, "symbol": symbol, "interval": interval,
			"error": "no exchange client for account",
		}, "de"), true)
		return nil
	}

	// A historical fetch always precedes live evaluation for its (symbol,
	// interval), so this is also where the market stream learns what to
	// watch.
	m.SubscribeKline(userID, symbol, interval)

	klines, err := client.GetHistoricalKlines(m.ctx, symbol, interval, limit)
	if err != nil {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEHistoricalFailed, eventbus.Data{
			"user_id": userID, "symbol": symbol, "interval": interval,
			"error": err.Error(),
		}, "de"), true)
		return nil
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectDEHistoricalSuccess, eventbus.Data{
		"user_id": userID, "symbol": symbol, "interval": interval,
		"klines": klinesToData(klines),
	}, "de"), true)
	return nil
}

func klinesToData(klines []Kline) []eventbus.Data {
	out := make([]eventbus.Data, 0, len(klines))
	for _, k := range klines {
		out = append(out, eventbus.Data{
			"open_time": k.OpenTime,
			"open":      k.Open,
			"high":      k.High,
			"low":       k.Low,
			"close":     k.Close,
			"volume":    k.Volume,
			"is_closed": k.IsClosed,
		})
	}
	return out
}

func (m *Manager) onOrderCreate(e *eventbus.Event) error {
	userID, _ := e.Data["user_id"].(string)
	client, ok := m.client(userID)
	if !ok {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEOrderFailed, eventbus.Data{
			"user_id": userID, "error": "no exchange client for account", "retry_count": 0,
		}, "de"), true)
		return nil
	}

	symbol, _ := e.Data["symbol"].(string)
	params := OrderParams{
		Symbol:      symbol,
		Side:        stringOf(e.Data["side"]),
		Type:        stringOf(e.Data["type"]),
		Quantity:    floatOf(e.Data["quantity"]),
		Price:       floatOf(e.Data["price"]),
		TimeInForce: stringOf(e.Data["time_in_force"]),
		ReduceOnly:  boolOf(e.Data["reduce_only"]),
	}

	result, err := client.PlaceOrder(m.ctx, params)
	if err != nil {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEOrderFailed, eventbus.Data{
			"user_id": userID, "symbol": symbol, "error": err.Error(), "retry_count": 0,
		}, "de"), true)
		return nil
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectDEOrderSubmitted, eventbus.Data{
		"user_id": userID, "order_id": result.OrderID, "symbol": symbol,
		"side": params.Side, "type": params.Type, "quantity": params.Quantity, "price": params.Price,
	}, "de"), true)
	return nil
}

func (m *Manager) onOrderCancel(e *eventbus.Event) error {
	userID, _ := e.Data["user_id"].(string)
	client, ok := m.client(userID)
	if !ok {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEOrderFailed, eventbus.Data{
			"user_id": userID, "error": "no exchange client for account",
		}, "de"), true)
		return nil
	}

	symbol, _ := e.Data["symbol"].(string)
	orderID, _ := e.Data["order_id"].(string)
	clientOrderID, _ := e.Data["client_order_id"].(string)

	if err := client.CancelOrder(m.ctx, symbol, orderID, clientOrderID); err != nil {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEOrderFailed, eventbus.Data{
			"user_id": userID, "symbol": symbol, "error": err.Error(),
		}, "de"), true)
		return nil
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectDEOrderCancelled, eventbus.Data{
		"user_id": userID, "symbol": symbol, "order_id": orderID,
	}, "de"), true)
	return nil
}

func (m *Manager) onGetAccountBalance(e *eventbus.Event) error {
	userID, _ := e.Data["user_id"].(string)
	client, ok := m.client(userID)
	if !ok {
		return nil
	}

	asset := stringOf(e.Data["asset"])
	if asset == "" {
		asset = "USDT"
	}

	balance, err := client.GetAccountBalance(m.ctx, asset)
	if err != nil {
		m.log.Warn().Str("user_id", userID).Err(err).Msg("failed to fetch account balance")
		return nil
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectDEAccountBalance, eventbus.Data{
		"user_id": userID, "asset": asset,
		"balance": balance.Balance, "available_balance": balance.AvailableBalance,
	}, "de"), true)
	return nil
}

// Shutdown clears the client table; stream goroutines stop when ctx (passed
// to New) is cancelled by the caller.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = make(map[string]*ExchangeClient)
	m.markets = make(map[string]*MarketStream)
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func floatOf(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

func boolOf(v interface{}) bool {
	b, _ := v.(bool)
	return b
}
