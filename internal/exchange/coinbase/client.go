// Package coinbase is a RESTClient adapter for the Coinbase Advanced Trade
// API, grounded on the teacher's pkg/smartconnect.SmartConnect: a route
// table keyed by logical name, a typed Config with sane defaults, and a
// single http.Client carrying the timeout. Generalized from Angel One's
// password/TOTP session login to Coinbase's API-key/secret header auth,
// and from an arbitrary equities route map to the handful of endpoints a
// BTC-USD spot engine needs.
package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trading-systemv1/internal/apperr"
	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/exchange/authtoken"
	"trading-systemv1/internal/model"
	"trading-systemv1/internal/ratelimit"
)

var _ authtoken.Exchanger = (*Client)(nil)

// Config configures the Coinbase client.
type Config struct {
	APIKey    string
	APISecret string

	BaseURL    string // default: https://api.coinbase.com
	ProductID  string // default: BTC-USD
	Timeout    time.Duration
}

const defaultBaseURL = "https://api.coinbase.com"
const defaultProductID = "BTC-USD"

var routes = map[string]string{
	"orders.create":  "/api/v3/brokerage/orders",
	"orders.cancel":  "/api/v3/brokerage/orders/batch_cancel",
	"orders.get":     "/api/v3/brokerage/orders/historical/", // + order_id
	"accounts.list":  "/api/v3/brokerage/accounts",
	"products.ticker": "/api/v3/brokerage/products/", // + product_id/ticker
	"auth.token":     "/api/v3/brokerage/auth/totp_exchange",
}

// Client is a RESTClient backed by the Coinbase Advanced Trade API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limits     *ratelimit.Gate
}

var _ exchange.RESTClient = (*Client)(nil)

// New builds a Client. limits may be nil, in which case calls are never
// throttled locally (useful for the sandbox/paper path).
func New(cfg Config, limits *ratelimit.Gate) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.ProductID == "" {
		cfg.ProductID = defaultProductID
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		limits:     limits,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) buildURL(route, suffix string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + routes[route] + suffix
}

// bucket identifies which rate-limit bucket a route belongs to.
type bucket int

const (
	bucketPublic bucket = iota
	bucketPrivate
	bucketOrder
)

func (c *Client) wait(ctx context.Context, b bucket) error {
	if c.limits == nil {
		return nil
	}
	switch b {
	case bucketOrder:
		return c.limits.WaitOrder(ctx)
	case bucketPrivate:
		return c.limits.WaitPrivate(ctx)
	default:
		return c.limits.WaitPublic(ctx)
	}
}

func (c *Client) authHeaders(method, path string, body []byte) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	// Coinbase's CDP JWT auth is out of scope here; callers that need the
	// real signature scheme plug a different RESTClient or wrap this one.
	// The API key is carried as a bearer token, matching sandbox/simple
	// key-auth deployments.
	if c.cfg.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	return h
}

// do performs one HTTP round-trip and classifies any failure into an
// apperr.Kind so callers (and apperr.Backoff.Retry) can branch on
// retryability instead of re-parsing status codes themselves.
func (c *Client) do(ctx context.Context, method, url string, body any) ([]byte, int, error) {
	var reader io.Reader
	var raw []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, 0, apperr.Validation("coinbase.do", fmt.Errorf("marshal request: %w", err))
		}
		raw = b
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, apperr.Validation("coinbase.do", fmt.Errorf("build request: %w", err))
	}
	req.Header = c.authHeaders(method, url, raw)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, apperr.Transient("coinbase.do", fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, apperr.Transient("coinbase.do", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cause := fmt.Errorf("coinbase: status %d: %s", resp.StatusCode, string(respBody))
		return respBody, resp.StatusCode, classifyStatus(resp.StatusCode, respBody, cause)
	}
	return respBody, resp.StatusCode, nil
}

// classifyStatus maps a non-2xx Coinbase response to an apperr.Kind: rate
// limiting and server errors are Transient (worth a backoff retry), auth
// failures are Fatal (retrying a bad key never helps), a body naming
// insufficient funds or a stale price is ExchangeConflict with the matching
// Subkind, and everything else is treated as a Business rejection (bad
// order parameters, not worth retrying).
func classifyStatus(status int, body []byte, cause error) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return apperr.Transient("coinbase.do", cause)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.Fatal("coinbase.do", cause)
	case bytes.Contains(body, []byte("INSUFFICIENT_FUND")):
		return apperr.ExchangeConflict("coinbase.do", apperr.SubkindInsufficientFunds, cause)
	case bytes.Contains(bytes.ToUpper(body), []byte("STALE")):
		return apperr.ExchangeConflict("coinbase.do", apperr.SubkindStalePrice, cause)
	default:
		return apperr.Business("coinbase.do", cause)
	}
}

type orderCreateRequest struct {
	ClientOrderID string `json:"client_order_id"`
	ProductID     string `json:"product_id"`
	Side          string `json:"side"`
	OrderConfiguration map[string]any `json:"order_configuration"`
}

type orderCreateResponse struct {
	Success    bool `json:"success"`
	OrderID    string `json:"order_id"`
	SuccessResponse struct {
		OrderID string `json:"order_id"`
	} `json:"success_response"`
}

func (c *Client) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if err := c.wait(ctx, bucketOrder); err != nil {
		return exchange.OrderAck{}, err
	}
	cfg := map[string]any{}
	switch req.Kind {
	case model.OrderMarket:
		cfg["market_market_ioc"] = map[string]any{
			"base_size": strconv.FormatFloat(req.SizeBase, 'f', 8, 64),
		}
	case model.OrderLimit:
		cfg["limit_limit_gtc"] = map[string]any{
			"base_size":   strconv.FormatFloat(req.SizeBase, 'f', 8, 64),
			"limit_price": strconv.FormatFloat(req.LimitPrice, 'f', 2, 64),
		}
	case model.OrderStopLimit:
		cfg["stop_limit_stop_limit_gtc"] = map[string]any{
			"base_size":      strconv.FormatFloat(req.SizeBase, 'f', 8, 64),
			"limit_price":    strconv.FormatFloat(req.LimitPrice, 'f', 2, 64),
			"stop_price":     strconv.FormatFloat(req.StopPrice, 'f', 2, 64),
			"stop_direction": "STOP_DIRECTION_STOP_DOWN",
		}
	default:
		return exchange.OrderAck{}, fmt.Errorf("coinbase: unsupported order kind %q", req.Kind)
	}

	body := orderCreateRequest{
		ClientOrderID:      req.ClientOrderID,
		ProductID:          c.cfg.ProductID,
		Side:               string(req.Side),
		OrderConfiguration: cfg,
	}

	raw, _, err := c.do(ctx, http.MethodPost, c.buildURL("orders.create", ""), body)
	if err != nil {
		return exchange.OrderAck{}, err
	}
	var out orderCreateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return exchange.OrderAck{}, fmt.Errorf("coinbase: decode order response: %w", err)
	}
	if !out.Success {
		return exchange.OrderAck{}, classifyStatus(http.StatusOK, raw, fmt.Errorf("coinbase: order rejected: %s", string(raw)))
	}
	orderID := out.OrderID
	if orderID == "" {
		orderID = out.SuccessResponse.OrderID
	}
	return exchange.OrderAck{OrderID: orderID, Status: model.OrderPending}, nil
}

// CancelOrder is idempotent on Coinbase's side (cancelling an already
// cancelled/filled order just no-ops in the batch response), so transient
// failures are retried with backoff rather than left to the caller.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.wait(ctx, bucketOrder); err != nil {
		return err
	}
	body := map[string]any{"order_ids": []string{orderID}}
	return apperr.DefaultBackoff().Retry(ctx, func() error {
		_, _, err := c.do(ctx, http.MethodPost, c.buildURL("orders.cancel", ""), body)
		return err
	})
}

type orderGetResponse struct {
	Order struct {
		OrderID          string `json:"order_id"`
		Status           string `json:"status"`
		AverageFilledPrice string `json:"average_filled_price"`
	} `json:"order"`
}

// OrderStatus is a read, so transient failures (timeouts, 5xx, rate limits)
// are retried with backoff instead of bubbling the first blip up to the
// monitor's poll loop.
func (c *Client) OrderStatus(ctx context.Context, orderID string) (exchange.OrderAck, error) {
	if err := c.wait(ctx, bucketPrivate); err != nil {
		return exchange.OrderAck{}, err
	}
	var raw []byte
	err := apperr.DefaultBackoff().Retry(ctx, func() error {
		var doErr error
		raw, _, doErr = c.do(ctx, http.MethodGet, c.buildURL("orders.get", orderID), nil)
		return doErr
	})
	if err != nil {
		return exchange.OrderAck{}, err
	}
	var out orderGetResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return exchange.OrderAck{}, fmt.Errorf("coinbase: decode order status: %w", err)
	}
	var fillPrice float64
	if out.Order.AverageFilledPrice != "" {
		fillPrice, _ = strconv.ParseFloat(out.Order.AverageFilledPrice, 64)
	}
	return exchange.OrderAck{
		OrderID:   out.Order.OrderID,
		Status:    mapOrderStatus(out.Order.Status),
		FillPrice: fillPrice,
	}, nil
}

func mapOrderStatus(s string) model.OrderStatus {
	switch strings.ToUpper(s) {
	case "FILLED":
		return model.OrderFilled
	case "CANCELLED":
		return model.OrderCancelled
	case "EXPIRED":
		return model.OrderExpired
	case "FAILED", "REJECTED":
		return model.OrderFailed
	case "OPEN":
		return model.OrderOpen
	default:
		return model.OrderPending
	}
}

type accountsResponse struct {
	Accounts []struct {
		Currency         string `json:"currency"`
		AvailableBalance struct {
			Value string `json:"value"`
		} `json:"available_balance"`
	} `json:"accounts"`
}

func (c *Client) AccountBalance(ctx context.Context) (float64, error) {
	if err := c.wait(ctx, bucketPrivate); err != nil {
		return 0, err
	}
	var raw []byte
	err := apperr.DefaultBackoff().Retry(ctx, func() error {
		var doErr error
		raw, _, doErr = c.do(ctx, http.MethodGet, c.buildURL("accounts.list", ""), nil)
		return doErr
	})
	if err != nil {
		return 0, err
	}
	var out accountsResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("coinbase: decode accounts: %w", err)
	}
	for _, a := range out.Accounts {
		if a.Currency == "USD" {
			v, err := strconv.ParseFloat(a.AvailableBalance.Value, 64)
			if err != nil {
				return 0, fmt.Errorf("coinbase: parse balance: %w", err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("coinbase: no USD account found")
}

type totpExchangeRequest struct {
	APIKey   string `json:"api_key"`
	TOTPCode string `json:"totp_code"`
}

type totpExchangeResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

// ExchangeCode implements authtoken.Exchanger, trading a TOTP code for a
// short-lived bearer token used to open an authenticated WebSocket stream.
func (c *Client) ExchangeCode(ctx context.Context, totpCode string) (string, time.Time, error) {
	if err := c.wait(ctx, bucketPrivate); err != nil {
		return "", time.Time{}, err
	}
	raw, _, err := c.do(ctx, http.MethodPost, c.buildURL("auth.token", ""), totpExchangeRequest{
		APIKey:   c.cfg.APIKey,
		TOTPCode: totpCode,
	})
	if err != nil {
		return "", time.Time{}, err
	}
	var out totpExchangeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", time.Time{}, fmt.Errorf("coinbase: decode token exchange: %w", err)
	}
	return out.Token, time.Now().Add(time.Duration(out.ExpiresIn) * time.Second), nil
}

func (c *Client) Ping(ctx context.Context) error {
	if err := c.wait(ctx, bucketPublic); err != nil {
		return err
	}
	return apperr.DefaultBackoff().Retry(ctx, func() error {
		_, _, err := c.do(ctx, http.MethodGet, c.buildURL("products.ticker", c.cfg.ProductID), nil)
		return err
	})
}
