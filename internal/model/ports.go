package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine's business logic from the concrete
// SQLite repository (internal/store/sqlite). Each repository satisfies the
// subset of operations its owning component needs (§4, §9 "raw SQL strewn
// through modules" redesign flag: callers only ever see these methods).

// InsertOutcome reports what Insert did, avoiding exceptions for the
// expected "already have this row" case (§9 redesign flag).
type InsertOutcome int

const (
	Inserted InsertOutcome = iota
	DuplicateIgnored
	InvalidCandle
)

// CandleRepo is the durable mapping (timeframe, bucket_start) → OHLCV (C1).
type CandleRepo interface {
	Insert(ctx context.Context, c Candle) (InsertOutcome, error)
	Range(ctx context.Context, tf Timeframe, from, to time.Time) ([]Candle, error)
	Latest(ctx context.Context, tf Timeframe, n int) ([]Candle, error)
	DetectGaps(ctx context.Context, tf Timeframe, window time.Duration) ([]time.Time, error)
	Prune(ctx context.Context, tf Timeframe, olderThan time.Time) (int64, error)
}

// SwingRepo persists SwingLevels for C2.
type SwingRepo interface {
	// InsertAndSupersede inserts a new active swing and flips any existing
	// active swing of the same (timeframe, kind) to inactive, atomically.
	InsertAndSupersede(ctx context.Context, s SwingLevel) (SwingLevel, error)
	ActiveSwing(ctx context.Context, tf Timeframe, kind SwingKind) (*SwingLevel, error)
	ByID(ctx context.Context, id int64) (*SwingLevel, error)
}

// SweepRepo persists Sweeps and enforces the single-active-sweep invariant
// for C3.
type SweepRepo interface {
	// InsertAndSupersede creates a new sweep (with its initial
	// ConfluenceState in WAITING_CHOCH) and expires any other active sweep
	// and its ConfluenceState, all within one transaction.
	InsertAndSupersede(ctx context.Context, s Sweep) (Sweep, ConfluenceState, error)
	ActiveSweep(ctx context.Context) (*Sweep, error)
	ByID(ctx context.Context, id int64) (*Sweep, error)
	MarkExpired(ctx context.Context, id int64) error
}

// ConfluenceRepo persists ConfluenceState transitions for C4/C5.
type ConfluenceRepo interface {
	ByID(ctx context.Context, id int64) (*ConfluenceState, error)
	ByStatusNonTerminal(ctx context.Context) ([]ConfluenceState, error)
	ByCompleteSince(ctx context.Context, since time.Time) ([]ConfluenceState, error)
	// Transition persists a new phase and any accompanying field writes in
	// a single atomic write, guarded by the row's current phase to enforce
	// total ordering under the per-state lock (§5).
	Transition(ctx context.Context, cs ConfluenceState) error
	Active(ctx context.Context) (*ConfluenceState, error)
}

// TradeRepo persists Trade lifecycle writes for C9/C10.
type TradeRepo interface {
	Create(ctx context.Context, t Trade) (Trade, error)
	ByID(ctx context.Context, id int64) (*Trade, error)
	Open(ctx context.Context) ([]Trade, error)
	// Close performs the conditional OPEN→CLOSED update exactly once (§5):
	// it fails silently (returns false) if the trade is already CLOSED.
	Close(ctx context.Context, id int64, exitPrice float64, exitAt time.Time, outcome Outcome, pnlQuote, pnlPercent float64) (bool, error)
	UpdateUnrealized(ctx context.Context, id int64, pnlPercent float64) error
	ActivateTrailing(ctx context.Context, id int64, newStopOrderID string, trailingPrice float64) error
	// ReinstateStop records a freshly placed stop order that replaces one
	// cancelled during a failed trailing promotion, without marking the
	// trade's trailing state (the stop price itself is unchanged).
	ReinstateStop(ctx context.Context, id int64, stopOrderID string) error
	ConsecutiveLosses(ctx context.Context) (int, error)
	RealizedPnLSince(ctx context.Context, since time.Time) (float64, error)
}

// FlagRepo is the key-value table for operator flags (emergency-stop,
// paper-mode).
type FlagRepo interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}
