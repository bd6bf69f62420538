// Package ratelimit token-buckets outbound exchange calls into the three
// buckets the spec names — public market data, private account/order
// reads, and order placement (§5) — using golang.org/x/time/rate, the
// idiomatic Go answer to a token-bucket requirement. None of the teacher's
// domain code reached for it directly, but golang.org/x/time already rides
// along as an indirect dependency; this package promotes it to direct use.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Limits configures the three buckets' rate (events/sec) and burst size.
type Limits struct {
	PublicRPS  float64
	PublicBurst int
	PrivateRPS float64
	PrivateBurst int
	OrderRPS   float64
	OrderBurst int
}

// DefaultLimits are conservative values suitable for a single BTC-USD
// trading pipeline well under typical exchange API tiers.
func DefaultLimits() Limits {
	return Limits{
		PublicRPS: 10, PublicBurst: 20,
		PrivateRPS: 5, PrivateBurst: 10,
		OrderRPS: 2, OrderBurst: 4,
	}
}

// Gate holds the three named limiters the exchange adapters wait on before
// issuing a call.
type Gate struct {
	Public  *rate.Limiter
	Private *rate.Limiter
	Order   *rate.Limiter
}

func New(limits Limits) *Gate {
	return &Gate{
		Public:  rate.NewLimiter(rate.Limit(limits.PublicRPS), limits.PublicBurst),
		Private: rate.NewLimiter(rate.Limit(limits.PrivateRPS), limits.PrivateBurst),
		Order:   rate.NewLimiter(rate.Limit(limits.OrderRPS), limits.OrderBurst),
	}
}

// WaitPublic, WaitPrivate, and WaitOrder block until a token is available
// in the corresponding bucket or ctx is cancelled.
func (g *Gate) WaitPublic(ctx context.Context) error  { return g.Public.Wait(ctx) }
func (g *Gate) WaitPrivate(ctx context.Context) error { return g.Private.Wait(ctx) }
func (g *Gate) WaitOrder(ctx context.Context) error   { return g.Order.Wait(ctx) }
