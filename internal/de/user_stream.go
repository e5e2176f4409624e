package de

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/stfutures/engine/internal/eventbus"
)

const listenKeyKeepaliveInterval = 1800 * time.Second

// UserDataStream delivers order/account/position updates for one account.
// It manages the listen-key lifecycle (create, periodic keepalive)
// alongside the WebSocket connection itself. The key is never closed
// explicitly: on disconnect the keepalive stops and the key is left to
// expire.
type UserDataStream struct {
	userID string
	client *ExchangeClient
	bus    *eventbus.Bus
	log    zerolog.Logger
}

// NewUserDataStream constructs a stream bound to client's credentials.
func NewUserDataStream(client *ExchangeClient, bus *eventbus.Bus, log zerolog.Logger) *UserDataStream {
	return &UserDataStream{
		userID: client.UserID,
		client: client,
		bus:    bus,
		log:    log.With().Str("component", "user_data_stream").Str("user_id", client.UserID).Logger(),
	}
}

// Run connects and reconnects until ctx is cancelled.
func (s *UserDataStream) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.connectOnce(ctx); err != nil {
			s.log.Warn().Err(err).Msg("user data stream disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *UserDataStream) connectOnce(ctx context.Context) error {
	listenKey, err := s.client.CreateListenKey(ctx)
	if err != nil {
		return err
	}

	keepaliveCtx, cancelKeepalive := context.WithCancel(ctx)
	defer cancelKeepalive()
	go s.keepaliveLoop(keepaliveCtx, listenKey)

	conn, _, err := websocket.Dial(ctx, s.client.WSBase()+"/ws/"+listenKey, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.bus.Publish(eventbus.New(eventbus.SubjectDEUserStreamStarted, eventbus.Data{
		"user_id": s.userID, "listen_key": listenKey,
	}, "de"), true)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		s.handleMessage(data)
	}
}

func (s *UserDataStream) keepaliveLoop(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(listenKeyKeepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.client.KeepaliveListenKey(ctx, listenKey); err != nil {
				s.log.Warn().Err(err).Msg("listen key keepalive failed")
			}
		}
	}
}

func (s *UserDataStream) handleMessage(raw []byte) {
	var envelope struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.log.Debug().Err(err).Msg("dropping unparseable user data message")
		return
	}

	switch envelope.EventType {
	case "ORDER_TRADE_UPDATE":
		s.handleOrderTradeUpdate(raw)
	case "ACCOUNT_UPDATE":
		s.handleAccountUpdate(raw)
	}
}

func (s *UserDataStream) handleOrderTradeUpdate(raw []byte) {
	var msg struct {
		Order struct {
			OrderID           int64  `json:"i"`
			Symbol            string `json:"s"`
			Status            string `json:"X"`
			FilledQty         string `json:"z"`
			OrigQty           string `json:"q"`
			Price             string `json:"p"`
			TradeTime         int64  `json:"T"`
			Side              string `json:"S"`
		} `json:"o"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug().Err(err).Msg("dropping malformed order update")
		return
	}

	filled := parseFloatOrZero(msg.Order.FilledQty)
	orig := parseFloatOrZero(msg.Order.OrigQty)
	s.bus.Publish(eventbus.New(eventbus.SubjectDEOrderUpdate, eventbus.Data{
		"user_id":            s.userID,
		"order_id":           msg.Order.OrderID,
		"symbol":             msg.Order.Symbol,
		"status":             msg.Order.Status,
		"filled_quantity":    filled,
		"remaining_quantity": orig - filled,
	}, "de"), true)

	if msg.Order.Status == "FILLED" {
		s.bus.Publish(eventbus.New(eventbus.SubjectDEOrderFilled, eventbus.Data{
			"user_id":   s.userID,
			"order_id":  msg.Order.OrderID,
			"symbol":    msg.Order.Symbol,
			"side":      msg.Order.Side,
			"price":     msg.Order.Price,
			"quantity":  msg.Order.FilledQty,
			"timestamp": float64(msg.Order.TradeTime) / 1000.0,
		}, "de"), true)
	}
}

func (s *UserDataStream) handleAccountUpdate(raw []byte) {
	var msg struct {
		Update struct {
			Balances []struct {
				Asset              string `json:"a"`
				WalletBalance      string `json:"wb"`
				CrossWalletBalance string `json:"cw"`
			} `json:"B"`
			Positions []struct {
				Symbol        string `json:"s"`
				PositionAmt   string `json:"pa"`
				EntryPrice    string `json:"ep"`
				UnrealizedPnl string `json:"up"`
			} `json:"P"`
		} `json:"a"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug().Err(err).Msg("dropping malformed account update")
		return
	}

	for _, b := range msg.Update.Balances {
		if b.Asset != "USDT" {
			continue
		}
		wb := parseFloatOrZero(b.WalletBalance)
		cw := parseFloatOrZero(b.CrossWalletBalance)
		s.bus.Publish(eventbus.New(eventbus.SubjectDEAccountUpdate, eventbus.Data{
			"user_id":          s.userID,
			"total_equity":     wb,
			"available_balance": cw,
			"margin_used":       wb - cw,
		}, "de"), true)
	}

	for _, p := range msg.Update.Positions {
		amt := parseFloatOrZero(p.PositionAmt)
		side := eventbus.SideLong
		if amt < 0 {
			side = eventbus.SideShort
		}
		s.bus.Publish(eventbus.New(eventbus.SubjectDEPositionUpdate, eventbus.Data{
			"user_id":        s.userID,
			"symbol":         p.Symbol,
			"side":           side,
			"quantity":       absFloat(amt),
			"unrealized_pnl": parseFloatOrZero(p.UnrealizedPnl),
			"entry_price":    parseFloatOrZero(p.EntryPrice),
		}, "de"), true)
	}
}

func parseFloatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
