package de

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/stfutures/engine/internal/eventbus"
)

const reconnectDelay = 3 * time.Second

type subscriptionKey struct {
	Symbol   string
	Interval string
}

// MarketStream is one account's kline WebSocket connection, with
// auto-reconnect and a live-updatable subscription set.
type MarketStream struct {
	userID string
	wsBase string
	bus    *eventbus.Bus
	log    zerolog.Logger

	mu   sync.Mutex
	subs []subscriptionKey
	conn *websocket.Conn
}

// NewMarketStream constructs a stream for one account; call Run to start it.
func NewMarketStream(userID, wsBase string, bus *eventbus.Bus, log zerolog.Logger) *MarketStream {
	return &MarketStream{
		userID: userID,
		wsBase: wsBase,
		bus:    bus,
		log:    log.With().Str("component", "market_stream").Str("user_id", userID).Logger(),
	}
}

// SubscribeKline adds (symbol, interval) to the live subscription set. If
// the stream is currently connected, the socket is closed to force a
// reconnect: Run's loop rebuilds the URL from the subscription set, so the
// new stream is picked up on the next connection. The subscription list
// survives across reconnects.
func (m *MarketStream) SubscribeKline(symbol, interval string) {
	m.mu.Lock()
	key := subscriptionKey{Symbol: strings.ToLower(symbol), Interval: interval}
	for _, s := range m.subs {
		if s == key {
			m.mu.Unlock()
			return
		}
	}
	m.subs = append(m.subs, key)
	conn := m.conn
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "resubscribe")
	}
}

func (m *MarketStream) url() string {
	m.mu.Lock()
	subs := append([]subscriptionKey(nil), m.subs...)
	m.mu.Unlock()

	if len(subs) == 0 {
		return m.wsBase + "/ws"
	}
	streams := make([]string, 0, len(subs))
	for _, s := range subs {
		streams = append(streams, fmt.Sprintf("%s@kline_%s", s.Symbol, s.Interval))
	}
	return m.wsBase + "/stream?streams=" + strings.Join(streams, "/")
}

// Run connects and reconnects until ctx is cancelled, emitting
// de.websocket.connected / de.websocket.disconnected and de.kline.update.
func (m *MarketStream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.connectOnce(ctx); err != nil {
			m.log.Warn().Err(err).Msg("market stream disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (m *MarketStream) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, m.url(), nil)
	if err != nil {
		m.bus.Publish(eventbus.New(eventbus.SubjectDEWebsocketDisconn, eventbus.Data{
			"user_id": m.userID, "connection_type": "market", "reason": err.Error(),
		}, "de"), true)
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
	}()

	m.bus.Publish(eventbus.New(eventbus.SubjectDEWebsocketConnected, eventbus.Data{
		"user_id": m.userID, "connection_type": "market",
	}, "de"), true)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			m.bus.Publish(eventbus.New(eventbus.SubjectDEWebsocketDisconn, eventbus.Data{
				"user_id": m.userID, "connection_type": "market", "reason": err.Error(),
			}, "de"), true)
			return err
		}
		m.handleMessage(data)
	}
}

func (m *MarketStream) handleMessage(raw []byte) {
	var wrapper struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	payload := raw
	if err := json.Unmarshal(raw, &wrapper); err == nil && len(wrapper.Data) > 0 {
		payload = wrapper.Data
	}

	var msg struct {
		EventType string `json:"e"`
		Kline     struct {
			Symbol   string `json:"s"`
			Interval string `json:"i"`
			OpenTime int64  `json:"t"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			IsClosed bool   `json:"x"`
		} `json:"k"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.log.Debug().Err(err).Msg("dropping unparseable market message")
		return
	}
	if msg.EventType != "kline" {
		return
	}
	if !msg.Kline.IsClosed {
		// Only closed candles are published; intra-candle ticks carry no
		// new decision input for indicator recomputation.
		return
	}

	m.bus.Publish(eventbus.New(eventbus.SubjectDEKlineUpdate, eventbus.Data{
		"user_id":  m.userID,
		"symbol":   msg.Kline.Symbol,
		"interval": msg.Kline.Interval,
		"kline": eventbus.Data{
			"open_time": msg.Kline.OpenTime,
			"open":      msg.Kline.Open,
			"high":      msg.Kline.High,
			"low":       msg.Kline.Low,
			"close":     msg.Kline.Close,
			"volume":    msg.Kline.Volume,
			"is_closed": msg.Kline.IsClosed,
		},
	}, "de"), true)
}
