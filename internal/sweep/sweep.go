// Package sweep detects liquidity sweeps against the active 4H swing levels
// (C3): a tick or candle close that pierces a swing by the configured
// threshold creates a Sweep and seeds its ConfluenceState in WAITING_CHOCH.
package sweep

import (
	"context"
	"fmt"
	"time"

	"trading-systemv1/internal/model"
)

// PierceThreshold is the fractional distance price must clear beyond a
// swing level to count as a sweep (§4.3: 0.1%).
const PierceThreshold = 0.001

type Detector struct {
	swings model.SwingRepo
	sweeps model.SweepRepo
}

func New(swings model.SwingRepo, sweeps model.SweepRepo) *Detector {
	return &Detector{swings: swings, sweeps: sweeps}
}

// Result reports what CheckAndEmit did.
type Result int

const (
	NoSweep Result = iota
	Emitted
)

// CheckAndEmit evaluates a price against both active 4H swing kinds and
// persists a Sweep + initial ConfluenceState on the first one that's pierced.
// If persistence fails, the sweep is not considered emitted — no partial
// publication (§4.3 failure mode).
func (d *Detector) CheckAndEmit(ctx context.Context, tf model.Timeframe, price float64) (Result, *model.Sweep, error) {
	high, err := d.swings.ActiveSwing(ctx, tf, model.SwingHigh)
	if err != nil {
		return NoSweep, nil, fmt.Errorf("sweep: load active high: %w", err)
	}
	if high != nil && price > high.Price*(1+PierceThreshold) {
		return d.emit(ctx, high, model.BiasForSweepKind(model.SwingHigh), price)
	}

	low, err := d.swings.ActiveSwing(ctx, tf, model.SwingLow)
	if err != nil {
		return NoSweep, nil, fmt.Errorf("sweep: load active low: %w", err)
	}
	if low != nil && price < low.Price*(1-PierceThreshold) {
		return d.emit(ctx, low, model.BiasForSweepKind(model.SwingLow), price)
	}

	return NoSweep, nil, nil
}

// emit guards against re-emitting a sweep of the same swing level on every
// tick a sustained breakout keeps clearing it (§8: "replaying the same
// sweep-detection tick emits at most one Sweep"). A new Sweep is only
// created when no sweep is currently active, or the active one breached a
// different swing level than the one just pierced.
func (d *Detector) emit(ctx context.Context, sw *model.SwingLevel, bias model.Bias, price float64) (Result, *model.Sweep, error) {
	active, err := d.sweeps.ActiveSweep(ctx)
	if err != nil {
		return NoSweep, nil, fmt.Errorf("sweep: load active sweep: %w", err)
	}
	if active != nil && active.SwingLevelID == sw.ID {
		return NoSweep, nil, nil
	}

	now := time.Now().UTC()
	created, _, err := d.sweeps.InsertAndSupersede(ctx, model.Sweep{
		DetectedAt:       now,
		Kind:             sw.Kind,
		PriceAtDetection: price,
		SwingLevelID:     sw.ID,
		Bias:             bias,
		ExpiresAt:        now.Add(model.SweepExpiry),
	})
	if err != nil {
		return NoSweep, nil, fmt.Errorf("sweep: insert: %w", err)
	}
	return Emitted, &created, nil
}
