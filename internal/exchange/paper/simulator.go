// Package paper is a RESTClient that simulates fills instead of routing to
// a real exchange, grounded on the teacher's execution.PaperExecutor:
// sequential order IDs, basis-point slippage applied against the taker
// side, and an in-memory fill ledger. Generalized from paise-denominated
// equity quantities to float64 BTC-USD, and from a signal-channel consumer
// to the exchange.RESTClient interface the executor (C9) already expects.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/model"
)

// Fill records one simulated order fill.
type Fill struct {
	OrderID   string
	Request   exchange.OrderRequest
	FillPrice float64
	FilledAt  time.Time
	Slippage  float64
}

// Simulator is a RESTClient backed by an in-memory paper ledger. It never
// touches the network.
type Simulator struct {
	mu          sync.Mutex
	fills       map[string]Fill
	orderSeq    int64
	balance     float64
	slippageBps float64
	lastPrice   float64
}

var _ exchange.RESTClient = (*Simulator)(nil)

// New creates a paper simulator seeded with a starting balance. slippageBps
// is basis points of simulated slippage applied against the taker.
func New(startingBalance float64, slippageBps float64) *Simulator {
	return &Simulator{
		fills:       make(map[string]Fill),
		balance:     startingBalance,
		slippageBps: slippageBps,
	}
}

// SetLastPrice feeds the simulator the current market price, used to fill
// every OrderMarket request and any other order without a LimitPrice.
func (s *Simulator) SetLastPrice(price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPrice = price
}

func (s *Simulator) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	refPrice := req.LimitPrice
	if req.Kind == model.OrderMarket || refPrice == 0 {
		refPrice = s.lastPrice
	}
	if refPrice <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("paper: no reference price available to fill order")
	}

	slippage := refPrice * s.slippageBps / 10000
	fillPrice := refPrice
	if req.Side == model.SideBuy {
		fillPrice += slippage
	} else {
		fillPrice -= slippage
	}

	s.orderSeq++
	orderID := fmt.Sprintf("PAPER-%d", s.orderSeq)
	s.fills[orderID] = Fill{
		OrderID:   orderID,
		Request:   req,
		FillPrice: fillPrice,
		FilledAt:  time.Now().UTC(),
		Slippage:  slippage,
	}

	return exchange.OrderAck{OrderID: orderID, Status: model.OrderFilled, FillPrice: fillPrice}, nil
}

func (s *Simulator) CancelOrder(ctx context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fill, ok := s.fills[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	// Market/limit fills are instantaneous in this simulator; cancelling an
	// already-filled order is a no-op success, matching how a real exchange
	// responds to a late cancel race.
	_ = fill
	return nil
}

func (s *Simulator) OrderStatus(ctx context.Context, orderID string) (exchange.OrderAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fill, ok := s.fills[orderID]
	if !ok {
		return exchange.OrderAck{}, fmt.Errorf("paper: unknown order %s", orderID)
	}
	return exchange.OrderAck{OrderID: fill.OrderID, Status: model.OrderFilled, FillPrice: fill.FillPrice}, nil
}

func (s *Simulator) AccountBalance(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// Ping always succeeds: the simulator has no network dependency, so it can
// never contribute an "exchange unreachable" risk-gate failure.
func (s *Simulator) Ping(ctx context.Context) error {
	return nil
}

// Fills returns a snapshot of every simulated fill, for tests and
// reconciliation tooling.
func (s *Simulator) Fills() []Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Fill, 0, len(s.fills))
	for _, f := range s.fills {
		out = append(out, f)
	}
	return out
}
