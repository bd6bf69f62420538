// Package monitor polls every OPEN trade, closing it on stop/take-profit
// fill or max-duration timeout and promoting its stop to breakeven once
// price has progressed far enough toward the target (§4.10). The per-trade
// Observe-then-decide shape is grounded on the teacher's closedetector.
// Detector: a small struct that watches one thing and returns a decision
// on each call, generalized from a single stability check to the five
// checks a trade's lifecycle needs. Position-level price bookkeeping
// mirrors internal/portfolio.Portfolio.UpdatePrice/TotalUnrealizedPnL,
// generalized from integer-paise LTP tracking to the float64 mark price
// already read once per sweep.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
)

// TrailingMode selects how the stop is promoted once progress-to-target
// crosses TrailingActivationProgress (§4.10, §9 Open Question).
type TrailingMode int

const (
	// TrailingBreakeven moves the stop to the entry price exactly — the
	// spec's default.
	TrailingBreakeven TrailingMode = iota
	// TrailingDynamicLock moves the stop to lock in LockInFraction of the
	// distance already covered toward the target, beyond breakeven.
	TrailingDynamicLock
)

const (
	// TrailingActivationProgress is the progress-to-target fraction that
	// triggers trailing promotion (§4.10: "progress-to-target >= 80%").
	TrailingActivationProgress = 0.80
	// StopRevalidationBand bounds how far the new stop may sit from entry
	// (§4.10: "within entry ± 0.5%").
	StopRevalidationBand = 0.005
)

// Config configures one Monitor instance.
type Config struct {
	Mode          TrailingMode
	LockInFraction float64 // only used by TrailingDynamicLock; default 0.5
}

// Monitor evaluates every OPEN trade on each Sweep call.
type Monitor struct {
	cfg     Config
	client  exchange.RESTClient
	trades  model.TradeRepo
	metrics *metrics.Metrics
	log     *slog.Logger
}

func New(cfg Config, client exchange.RESTClient, trades model.TradeRepo, m *metrics.Metrics, log *slog.Logger) *Monitor {
	if cfg.LockInFraction == 0 {
		cfg.LockInFraction = 0.5
	}
	return &Monitor{cfg: cfg, client: client, trades: trades, metrics: m, log: log}
}

// Sweep evaluates every OPEN trade once: stop/tp fill, max-duration
// timeout, unrealized P&L, and trailing promotion. Errors on individual
// trades are logged and do not halt the sweep.
func (m *Monitor) Sweep(ctx context.Context, currentPrice float64) {
	open, err := m.trades.Open(ctx)
	if err != nil {
		m.log.Error("monitor: list open trades failed", "stage", "sweep", "error", err)
		return
	}
	for _, t := range open {
		if err := m.evaluate(ctx, t, currentPrice); err != nil {
			m.log.Error("monitor: evaluate trade failed",
				"stage", "evaluate", "trade_id", t.ID, "error", err)
		}
	}
}

// ForceCloseAll cancels every open trade's risk orders and closes the
// position at market, for the operator emergency-stop flag (§ operator
// surface). Reuses the same timeout-close path so closed trades are
// classified identically by realized P&L.
func (m *Monitor) ForceCloseAll(ctx context.Context, currentPrice float64) {
	open, err := m.trades.Open(ctx)
	if err != nil {
		m.log.Error("monitor: list open trades failed", "stage", "emergency_stop", "error", err)
		return
	}
	for _, t := range open {
		if err := m.forceCloseOnTimeout(ctx, t, currentPrice); err != nil {
			m.log.Error("monitor: emergency close failed", "stage", "emergency_stop", "trade_id", t.ID, "error", err)
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, t model.Trade, currentPrice float64) error {
	stopAck, err := m.client.OrderStatus(ctx, t.StopOrderID)
	if err != nil {
		return fmt.Errorf("query stop order: %w", err)
	}
	if stopAck.Status == model.OrderFilled {
		return m.closeTrade(ctx, t, model.OutcomeLoss, stopAck.FillPrice)
	}

	tpAck, err := m.client.OrderStatus(ctx, t.TPOrderID)
	if err != nil {
		return fmt.Errorf("query take-profit order: %w", err)
	}
	if tpAck.Status == model.OrderFilled {
		return m.closeTrade(ctx, t, model.OutcomeWin, tpAck.FillPrice)
	}

	if time.Since(t.EntryAt) > model.MaxTradeDuration {
		return m.forceCloseOnTimeout(ctx, t, currentPrice)
	}

	pnlPercent := t.UnrealizedPnLQuote(currentPrice) / (t.EntryPrice * t.SizeBase) * 100
	if err := m.trades.UpdateUnrealized(ctx, t.ID, pnlPercent); err != nil {
		return fmt.Errorf("update unrealized pnl: %w", err)
	}

	if !t.TrailingActivated && t.ProgressToTarget(currentPrice) >= TrailingActivationProgress {
		if err := m.promoteTrailing(ctx, t, currentPrice); err != nil {
			return fmt.Errorf("promote trailing: %w", err)
		}
	}
	return nil
}

func (m *Monitor) closeTrade(ctx context.Context, t model.Trade, outcome model.Outcome, exitPrice float64) error {
	pnlQuote := t.UnrealizedPnLQuote(exitPrice)
	pnlPercent := pnlQuote / (t.EntryPrice * t.SizeBase) * 100
	ok, err := m.trades.Close(ctx, t.ID, exitPrice, time.Now().UTC(), outcome, pnlQuote, pnlPercent)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	if !ok {
		m.log.Warn("monitor: trade already closed, skipping", "trade_id", t.ID)
		return nil
	}
	m.metrics.TradesClosed.WithLabelValues(string(outcome)).Inc()
	return nil
}

// forceCloseOnTimeout implements §4.10 step 3: beyond MaxTradeDuration the
// stop and tp orders are cancelled, the position is closed at market, and
// the outcome is classified by the sign of the realized P&L rather than by
// which order filled.
func (m *Monitor) forceCloseOnTimeout(ctx context.Context, t model.Trade, currentPrice float64) error {
	if err := m.client.CancelOrder(ctx, t.StopOrderID); err != nil {
		m.log.Warn("monitor: cancel stop on timeout failed", "trade_id", t.ID, "error", err)
	}
	if err := m.client.CancelOrder(ctx, t.TPOrderID); err != nil {
		m.log.Warn("monitor: cancel take-profit on timeout failed", "trade_id", t.ID, "error", err)
	}

	closeAck, err := m.client.PlaceOrder(ctx, exchange.OrderRequest{
		Kind:     model.OrderMarket,
		Side:     exitSide(t.Direction),
		SizeBase: t.SizeBase,
	})
	if err != nil {
		return fmt.Errorf("place market close on timeout: %w", err)
	}
	exitPrice := closeAck.FillPrice
	if exitPrice == 0 {
		exitPrice = currentPrice
	}

	pnlQuote := t.UnrealizedPnLQuote(exitPrice)
	outcome := model.OutcomeBreakeven
	if pnlQuote > 0 {
		outcome = model.OutcomeWin
	} else if pnlQuote < 0 {
		outcome = model.OutcomeLoss
	}
	return m.closeTrade(ctx, t, outcome, exitPrice)
}

// promoteTrailing implements §4.10 step 5: compute a new stop, validate it
// strictly improves on the old one without crossing current price or the
// entry±0.5% band, then cancel-and-replace. If placing the new stop fails
// after the old one is cancelled, the original stop is re-placed at its old
// price as a best effort (§4.10: "the original stop is reinstated where
// possible") before the operator is alerted — a naked open position is
// worse than one that failed to trail.
func (m *Monitor) promoteTrailing(ctx context.Context, t model.Trade, currentPrice float64) error {
	newStop := computeTrailingStop(m.cfg, t, currentPrice)

	if !improvesStop(t.Direction, t.StopPrice, newStop) {
		return nil
	}
	if !withinBand(t.EntryPrice, newStop, StopRevalidationBand) {
		return nil
	}
	if t.Direction == model.DirectionLong && newStop >= currentPrice {
		return nil
	}
	if t.Direction == model.DirectionShort && newStop <= currentPrice {
		return nil
	}

	if err := m.client.CancelOrder(ctx, t.StopOrderID); err != nil {
		return fmt.Errorf("cancel existing stop: %w", err)
	}

	newAck, err := m.client.PlaceOrder(ctx, exchange.OrderRequest{
		Kind:       model.OrderStopLimit,
		Side:       exitSide(t.Direction),
		SizeBase:   t.SizeBase,
		StopPrice:  newStop,
		LimitPrice: newStop,
	})
	if err != nil {
		m.reinstateOriginalStop(ctx, t, err)
		return fmt.Errorf("place new stop: %w", err)
	}

	if err := m.trades.ActivateTrailing(ctx, t.ID, newAck.OrderID, newStop); err != nil {
		return err
	}
	m.metrics.TrailingPromotions.Inc()
	return nil
}

// reinstateOriginalStop re-places the just-cancelled stop at its original
// price and size after the replacement stop failed to place. Success still
// leaves the trade un-promoted (trailing_activated stays false) but with a
// live stop order again; failure here means the position is genuinely
// naked and the WARN log is the operator's only signal.
func (m *Monitor) reinstateOriginalStop(ctx context.Context, t model.Trade, placeErr error) {
	ack, err := m.client.PlaceOrder(ctx, exchange.OrderRequest{
		Kind:       model.OrderStopLimit,
		Side:       exitSide(t.Direction),
		SizeBase:   t.SizeBase,
		StopPrice:  t.StopPrice,
		LimitPrice: t.StopPrice,
	})
	if err != nil {
		m.log.Warn("monitor: trailing stop replacement failed and original could not be reinstated, position is unprotected",
			"stage", "trailing_promotion", "trade_id", t.ID, "place_error", placeErr, "reinstate_error", err)
		return
	}
	if err := m.trades.ReinstateStop(ctx, t.ID, ack.OrderID); err != nil {
		m.log.Warn("monitor: original stop reinstated at exchange but trade record update failed",
			"stage", "trailing_promotion", "trade_id", t.ID, "error", err)
		return
	}
	m.log.Warn("monitor: trailing stop replacement failed, original stop reinstated",
		"stage", "trailing_promotion", "trade_id", t.ID, "place_error", placeErr)
}

func computeTrailingStop(cfg Config, t model.Trade, currentPrice float64) float64 {
	if cfg.Mode == TrailingBreakeven {
		return t.EntryPrice
	}
	// TrailingDynamicLock: lock in LockInFraction of the distance already
	// covered from entry toward current price, beyond breakeven.
	covered := currentPrice - t.EntryPrice
	if t.Direction == model.DirectionShort {
		covered = -covered
	}
	locked := t.EntryPrice + sign(t.Direction)*covered*cfg.LockInFraction
	return locked
}

func sign(dir model.Direction) float64 {
	if dir == model.DirectionLong {
		return 1
	}
	return -1
}

func improvesStop(dir model.Direction, oldStop, newStop float64) bool {
	if dir == model.DirectionLong {
		return newStop > oldStop
	}
	return newStop < oldStop
}

func withinBand(entry, price, band float64) bool {
	dev := (price - entry) / entry
	if dev < 0 {
		dev = -dev
	}
	return dev <= band
}

func exitSide(dir model.Direction) model.OrderSide {
	if dir == model.DirectionLong {
		return model.SideSell
	}
	return model.SideBuy
}
