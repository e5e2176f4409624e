// Package de is the data engine: it owns one ExchangeClient plus a market
// data stream and a user data stream per account, and routes their events
// onto the bus.
package de

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRESTBaseURL = "https://fapi.binance.com"
	defaultWSBaseURL   = "wss://fstream.binance.com"
	defaultMaxRetries  = 3
)

// Kline is one OHLCV bucket. Prices and volume are carried as strings so
// exchange precision survives the round trip; callers parse to float64 only
// at the point of calculation.
type Kline struct {
	OpenTime int64
	Open     string
	High     string
	Low      string
	Close    string
	Volume   string
	IsClosed bool
}

// ExchangeClient is a signed REST client for one account's credentials. It
// holds no cached market state.
type ExchangeClient struct {
	UserID     string
	apiKey     string
	apiSecret  string
	restBase   string
	wsBase     string
	maxRetries int
	httpClient *http.Client
}

// NewExchangeClient constructs a client for one account. isTestnet is
// accepted and stored for forward-compatibility but is not currently wired
// to a distinct host (see DESIGN.md open-question #4).
func NewExchangeClient(userID, apiKey, apiSecret string, isTestnet bool) *ExchangeClient {
	return &ExchangeClient{
		UserID:     userID,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		restBase:   defaultRESTBaseURL,
		wsBase:     defaultWSBaseURL,
		maxRetries: defaultMaxRetries,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// WSBase returns the base WebSocket host, used by MarketStream/UserDataStream.
func (c *ExchangeClient) WSBase() string { return c.wsBase }

func (c *ExchangeClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *ExchangeClient) signedQuery(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	return query + "&signature=" + c.sign(query)
}

// doSigned performs one signed request, retrying up to c.maxRetries times
// on 5xx responses and network errors only; 4xx responses are terminal.
// Each retry recomputes timestamp and signature.
func (c *ExchangeClient) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		query := c.signedQuery(cloneValues(params))
		reqURL := c.restBase + path
		var req *http.Request
		var err error
		if method == http.MethodGet || method == http.MethodDelete {
			req, err = http.NewRequestWithContext(ctx, method, reqURL+"?"+query, nil)
		} else {
			req, err = http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(query))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build request: %w", err)
		}
		if method != http.MethodGet && method != http.MethodDelete {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
		req.Header.Set("X-MBX-APIKEY", c.apiKey)

		body, status, err := c.execute(req)
		if err != nil {
			lastErr = err
			continue
		}
		if status >= 500 {
			lastErr = fmt.Errorf("exchange returned server error %d: %s", status, string(body))
			continue
		}
		if status >= 400 {
			return nil, fmt.Errorf("exchange rejected request (%d): %s", status, string(body))
		}
		return body, nil
	}
	return nil, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *ExchangeClient) execute(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// GetHistoricalKlines fetches up to limit klines; this endpoint is public
// (no signature) and is not retried.
func (c *ExchangeClient) GetHistoricalKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))

	reqURL := c.restBase + "/fapi/v1/klines?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build klines request: %w", err)
	}

	body, status, err := c.execute(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("exchange rejected klines request (%d): %s", status, string(body))
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	klines := make([]Kline, 0, len(raw))
	for _, row := range raw {
		k, err := parseKlineRow(row)
		if err != nil {
			return nil, err
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKlineRow(row []json.RawMessage) (Kline, error) {
	if len(row) < 7 {
		return Kline{}, fmt.Errorf("malformed kline row: expected >=7 fields, got %d", len(row))
	}
	var openTime int64
	var open, high, low, close, volume string
	if err := json.Unmarshal(row[0], &openTime); err != nil {
		return Kline{}, fmt.Errorf("failed to parse kline open time: %w", err)
	}
	_ = json.Unmarshal(row[1], &open)
	_ = json.Unmarshal(row[2], &high)
	_ = json.Unmarshal(row[3], &low)
	_ = json.Unmarshal(row[4], &close)
	_ = json.Unmarshal(row[5], &volume)
	return Kline{OpenTime: openTime, Open: open, High: high, Low: low, Close: close, Volume: volume, IsClosed: true}, nil
}

// Balance represents one asset's balance as returned by /fapi/v2/balance.
type Balance struct {
	Asset              string
	Balance            float64
	AvailableBalance   float64
}

// GetAccountBalance fetches the balance for a single asset (typically USDT).
func (c *ExchangeClient) GetAccountBalance(ctx context.Context, asset string) (*Balance, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/fapi/v2/balance", url.Values{})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch account balance: %w", err)
	}

	var raw []struct {
		Asset            string `json:"asset"`
		Balance          string `json:"balance"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse balance response: %w", err)
	}

	for _, b := range raw {
		if b.Asset != asset {
			continue
		}
		bal, _ := strconv.ParseFloat(b.Balance, 64)
		avail, _ := strconv.ParseFloat(b.AvailableBalance, 64)
		return &Balance{Asset: asset, Balance: bal, AvailableBalance: avail}, nil
	}
	return nil, fmt.Errorf("asset %s not found in balance response", asset)
}

// OrderParams describes a new order. Price and TimeInForce are only
// meaningful for LIMIT/POST_ONLY orders.
type OrderParams struct {
	Symbol       string
	Side         string // BUY | SELL
	Type         string // MARKET | LIMIT | POST_ONLY
	Quantity     float64
	Price        float64
	TimeInForce  string
	ReduceOnly   bool
	ClosePosition bool
}

// OrderResult is the subset of the exchange's order response this engine
// cares about.
type OrderResult struct {
	OrderID string
	Status  string
}

// PlaceOrder submits params, retrying on 5xx per the client's retry policy.
func (c *ExchangeClient) PlaceOrder(ctx context.Context, p OrderParams) (*OrderResult, error) {
	q := url.Values{}
	q.Set("symbol", p.Symbol)
	q.Set("side", p.Side)
	q.Set("quantity", formatFloat(p.Quantity))

	switch p.Type {
	case "POST_ONLY":
		q.Set("type", "LIMIT")
		q.Set("price", formatFloat(p.Price))
		q.Set("timeInForce", "GTX") // GTX = post-only on Binance Futures
	case "LIMIT":
		q.Set("type", "LIMIT")
		q.Set("price", formatFloat(p.Price))
		tif := p.TimeInForce
		if tif == "" {
			tif = "GTC"
		}
		q.Set("timeInForce", tif)
	default:
		q.Set("type", "MARKET")
	}

	if p.ReduceOnly {
		q.Set("reduceOnly", "true")
	}
	if p.ClosePosition {
		q.Set("closePosition", "true")
	}

	body, err := c.doSigned(ctx, http.MethodPost, "/fapi/v1/order", q)
	if err != nil {
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	var raw struct {
		OrderID json.Number `json:"orderId"`
		Status  string      `json:"status"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse order response: %w", err)
	}
	return &OrderResult{OrderID: raw.OrderID.String(), Status: raw.Status}, nil
}

// CancelOrder cancels an order by id or client order id. At least one of the
// two must be non-empty; when both are set, orderID is used.
func (c *ExchangeClient) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) error {
	if orderID == "" && clientOrderID == "" {
		return fmt.Errorf("cancel requires either orderID or clientOrderID")
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	if orderID != "" {
		q.Set("orderId", orderID)
	} else {
		q.Set("origClientOrderId", clientOrderID)
	}
	_, err := c.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", q)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return nil
}

// CreateListenKey obtains a user-data stream token.
func (c *ExchangeClient) CreateListenKey(ctx context.Context) (string, error) {
	return c.listenKeyCall(ctx, http.MethodPost)
}

// KeepaliveListenKey refreshes the listen key's TTL.
func (c *ExchangeClient) KeepaliveListenKey(ctx context.Context, key string) error {
	_, err := c.listenKeyCallWithKey(ctx, http.MethodPut, key)
	return err
}

// CloseListenKey releases the listen key.
func (c *ExchangeClient) CloseListenKey(ctx context.Context, key string) error {
	_, err := c.listenKeyCallWithKey(ctx, http.MethodDelete, key)
	return err
}

func (c *ExchangeClient) listenKeyCall(ctx context.Context, method string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.restBase+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", fmt.Errorf("failed to build listen key request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	body, status, err := c.execute(req)
	if err != nil {
		return "", fmt.Errorf("failed to call listen key endpoint: %w", err)
	}
	if status >= 400 {
		return "", fmt.Errorf("exchange rejected listen key request (%d): %s", status, string(body))
	}
	var raw struct {
		ListenKey string `json:"listenKey"`
	}
	_ = json.Unmarshal(body, &raw)
	return raw.ListenKey, nil
}

func (c *ExchangeClient) listenKeyCallWithKey(ctx context.Context, method, key string) (string, error) {
	reqURL := c.restBase + "/fapi/v1/listenKey?listenKey=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build listen key request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	body, status, err := c.execute(req)
	if err != nil {
		return "", fmt.Errorf("failed to call listen key endpoint: %w", err)
	}
	if status >= 400 {
		return "", fmt.Errorf("exchange rejected listen key request (%d): %s", status, string(body))
	}
	return string(body), nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
