// Package risk implements the pre-trade gate (C7), grounded on the
// teacher's portfolio.RiskManager.CanTrade shape but specialized to the
// spec's fixed checklist: one open position, a daily-loss floor, a
// consecutive-loss circuit breaker, a balance floor, and exchange
// reachability.
package risk

import (
	"context"
	"fmt"
	"time"

	"trading-systemv1/internal/model"
)

// MaxDailyLossFraction bounds realized P&L since UTC midnight as a fraction
// of account balance (§4.7: -3%).
const MaxDailyLossFraction = -0.03

// MaxConsecutiveLosses trips the circuit breaker (§4.7).
const MaxConsecutiveLosses = 3

// Limits configures the gate's configurable floor.
type Limits struct {
	MinAccountBalance float64
}

// ExchangeHealth reports whether the exchange adapter considers itself
// reachable, decoupling the gate from any concrete exchange client.
type ExchangeHealth interface {
	Reachable(ctx context.Context) bool
}

// Gate evaluates the pre-trade checklist.
type Gate struct {
	trades   model.TradeRepo
	exchange ExchangeHealth
	limits   Limits
}

func New(trades model.TradeRepo, exchange ExchangeHealth, limits Limits) *Gate {
	return &Gate{trades: trades, exchange: exchange, limits: limits}
}

// Decision is the gate's verdict, carrying every failing check so the
// caller can log and alert on exactly what blocked the trade (§4.7: "any
// failure blocks the trade and records the failing checks").
type Decision struct {
	Allowed        bool
	FailedChecks   []string
}

// Evaluate runs every check in §4.7 and returns a Decision. It never
// short-circuits on the first failure so the operator sees the full
// picture.
func (g *Gate) Evaluate(ctx context.Context, accountBalance float64) (Decision, error) {
	var failed []string

	open, err := g.trades.Open(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("risk: load open trades: %w", err)
	}
	if len(open) >= 1 {
		failed = append(failed, "open_positions >= 1")
	}

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	realized, err := g.trades.RealizedPnLSince(ctx, midnight)
	if err != nil {
		return Decision{}, fmt.Errorf("risk: load realized pnl: %w", err)
	}
	if accountBalance > 0 && realized <= MaxDailyLossFraction*accountBalance {
		failed = append(failed, "daily_loss_floor_breached")
	}

	losses, err := g.trades.ConsecutiveLosses(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("risk: load consecutive losses: %w", err)
	}
	if losses >= MaxConsecutiveLosses {
		failed = append(failed, "consecutive_losses >= 3")
	}

	if accountBalance < g.limits.MinAccountBalance {
		failed = append(failed, "account_balance_below_floor")
	}

	if !g.exchange.Reachable(ctx) {
		failed = append(failed, "exchange_unreachable")
	}

	return Decision{Allowed: len(failed) == 0, FailedChecks: failed}, nil
}
