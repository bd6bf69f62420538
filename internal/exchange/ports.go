// Package exchange defines the narrow ports the trading engine needs from
// the outside exchange: placing/cancelling orders, reading account state,
// streaming trade ticks, and minting the bearer token the streaming feed
// requires. Concrete adapters (coinbase, wsfeed, authtoken, paper) live in
// subpackages so the engine itself never imports net/http or
// gorilla/websocket directly.
package exchange

import (
	"context"
	"time"

	"trading-systemv1/internal/model"
)

// OrderRequest is everything an adapter needs to place one order. Not
// every field applies to every OrderKind: LimitPrice is ignored for
// OrderMarket, StopPrice only applies to OrderStopLimit.
type OrderRequest struct {
	ClientOrderID string
	Kind          model.OrderKind
	Side          model.OrderSide
	SizeBase      float64
	LimitPrice    float64
	StopPrice     float64
}

// OrderAck is the exchange's acknowledgement of an order action.
// FillPrice is the average fill price once Status is OrderFilled; zero
// otherwise.
type OrderAck struct {
	OrderID   string
	Status    model.OrderStatus
	FillPrice float64
}

// RESTClient is the trading engine's view of the exchange's order and
// account endpoints (§6). The Executor (C9) and Monitor (C10) depend on
// this interface, never on a concrete adapter.
type RESTClient interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderStatus(ctx context.Context, orderID string) (OrderAck, error)
	AccountBalance(ctx context.Context) (float64, error)
	// Ping reports whether the exchange is reachable, consumed by the risk
	// gate's (C7) exchange-unreachable check.
	Ping(ctx context.Context) error
}

// TickStream is the engine's view of the exchange's trade-print feed.
// Start blocks, pushing ticks into tickCh, until ctx is cancelled.
type TickStream interface {
	Start(ctx context.Context, tickCh chan<- model.Tick) error
}

// TokenMinter mints the short-lived bearer token some exchanges require
// before a streaming subscription is accepted (§6).
type TokenMinter interface {
	Mint(ctx context.Context) (token string, expiresAt time.Time, err error)
}

// Health adapts any RESTClient to risk.ExchangeHealth by treating a
// successful Ping as reachable.
type Health struct {
	Client RESTClient
}

func (h Health) Reachable(ctx context.Context) bool {
	return h.Client.Ping(ctx) == nil
}
