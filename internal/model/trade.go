package model

import "time"

// Trade is the durable record of one executed setup, from entry through
// closure. SizeBase is fixed at creation and never mutated afterward — only
// status, outcome, exit fields, P&L, and trailing-stop fields change once
// the trade is open.
type Trade struct {
	ID                int64      `json:"id"`
	ConfluenceStateID int64      `json:"confluence_state_id"`
	Direction         Direction  `json:"direction"`
	EntryPrice        float64    `json:"entry_price"`
	EntryAt           time.Time  `json:"entry_at"`
	SizeBase          float64    `json:"size_base"`
	SizeQuote         float64    `json:"size_quote"`
	StopPrice         float64    `json:"stop_price"`
	StopSource        StopSource `json:"stop_source"`
	TakeProfit        float64    `json:"take_profit"`
	RRRatio           float64    `json:"rr_ratio"`
	EntryOrderID      string     `json:"entry_order_id"`
	StopOrderID       string     `json:"stop_order_id"`
	TPOrderID         string     `json:"tp_order_id"`
	Status            TradeStatus `json:"status"`
	Outcome           *Outcome   `json:"outcome,omitempty"`
	ExitPrice         *float64   `json:"exit_price,omitempty"`
	ExitAt            *time.Time `json:"exit_at,omitempty"`
	PnLQuote          *float64   `json:"pnl_quote,omitempty"`
	PnLPercent        *float64   `json:"pnl_percent,omitempty"`
	TrailingActivated bool       `json:"trailing_activated"`
	TrailingPrice     *float64   `json:"trailing_price,omitempty"`
	AIConfidence      int        `json:"ai_confidence"`
	AIReasoning       string     `json:"ai_reasoning"`
}

// MaxTradeDuration bounds how long a trade may stay open before the monitor
// force-closes it at market (§4.10, §9 — resolved to 72h).
const MaxTradeDuration = 72 * time.Hour

// UnrealizedPnLQuote computes mark-to-market P&L in quote currency (USD)
// for the given reference price, signed for direction.
func (t *Trade) UnrealizedPnLQuote(price float64) float64 {
	diff := price - t.EntryPrice
	if t.Direction == DirectionShort {
		diff = -diff
	}
	return t.SizeBase * diff
}

// ProgressToTarget returns the fraction of the entry-to-take-profit distance
// covered by price, clamped to [0, 1]. Adverse moves return 0.
func (t *Trade) ProgressToTarget(price float64) float64 {
	target := t.TakeProfit - t.EntryPrice
	moved := price - t.EntryPrice
	if t.Direction == DirectionShort {
		target = -target
		moved = -moved
	}
	if target <= 0 {
		return 0
	}
	p := moved / target
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
