// Package sizer computes a candidate stop-loss and position size for an
// approaching setup (C6), grounded on the teacher's portfolio.RiskManager
// CanTrade/RecordTrade shapes but specialized to the spec's fixed 1%-risk,
// minimum-2R sizing rule rather than a multi-position exposure limit.
package sizer

import (
	"context"
	"fmt"

	"trading-systemv1/internal/model"
)

// RiskFraction is the fraction of account balance risked per trade (§4.6).
const RiskFraction = 0.01

// Sizer computes SwingBasedStop candidates against the most recent active
// swing levels.
type Sizer struct {
	swings model.SwingRepo
}

func New(swings model.SwingRepo) *Sizer {
	return &Sizer{swings: swings}
}

// ErrNoValidStop is returned when neither the 5M nor 4H swing yields an
// acceptable stop — the setup must be rejected (§4.6 step 3).
var ErrNoValidStop = fmt.Errorf("sizer: no valid stop candidate")

// ComputeStop finds the nearest valid swing-based stop for a candidate
// entry, trying 5M first and falling back to 4H (§4.6 steps 1-2).
func (s *Sizer) ComputeStop(ctx context.Context, entry float64, direction model.Direction) (model.SwingBasedStop, error) {
	opposite := oppositeSwingKind(direction)

	if stop, ok, err := s.candidateFrom(ctx, model.TF5M, model.StopSource5M, opposite, entry, direction); err != nil {
		return model.SwingBasedStop{}, err
	} else if ok {
		return stop, nil
	}

	if stop, ok, err := s.candidateFrom(ctx, model.TF4H, model.StopSource4H, opposite, entry, direction); err != nil {
		return model.SwingBasedStop{}, err
	} else if ok {
		return stop, nil
	}

	return model.SwingBasedStop{}, ErrNoValidStop
}

func (s *Sizer) candidateFrom(ctx context.Context, tf model.Timeframe, source model.StopSource, kind model.SwingKind, entry float64, direction model.Direction) (model.SwingBasedStop, bool, error) {
	sw, err := s.swings.ActiveSwing(ctx, tf, kind)
	if err != nil {
		return model.SwingBasedStop{}, false, fmt.Errorf("sizer: load active %s swing: %w", tf, err)
	}
	if sw == nil {
		return model.SwingBasedStop{}, false, nil
	}

	var stopPrice float64
	switch direction {
	case model.DirectionLong:
		stopPrice = sw.Price * 0.998
	case model.DirectionShort:
		stopPrice = sw.Price * 1.003
	}

	if !correctSide(direction, entry, stopPrice) {
		return model.SwingBasedStop{}, false, nil
	}

	distance := distancePercent(entry, stopPrice)
	if distance < model.MinStopDistancePercent || distance > model.MaxStopDistancePercent {
		return model.SwingBasedStop{}, false, nil
	}

	return model.SwingBasedStop{
		Price:             stopPrice,
		Source:            source,
		SwingPrice:        sw.Price,
		DistancePercent:   distance,
		MinimumTakeProfit: minimumTakeProfit(entry, stopPrice, direction),
	}, true, nil
}

// PositionSize computes size_base from account balance and the chosen stop,
// risking RiskFraction of the account per trade (§4.6).
func PositionSize(accountBalance, entry, stopPrice float64) (sizeBase, riskQuote float64) {
	riskQuote = accountBalance * RiskFraction
	distance := absDiff(entry, stopPrice)
	if distance == 0 {
		return 0, riskQuote
	}
	return riskQuote / distance, riskQuote
}

func oppositeSwingKind(direction model.Direction) model.SwingKind {
	if direction == model.DirectionLong {
		return model.SwingLow
	}
	return model.SwingHigh
}

func correctSide(direction model.Direction, entry, stop float64) bool {
	if direction == model.DirectionLong {
		return stop < entry
	}
	return stop > entry
}

func distancePercent(entry, stop float64) float64 {
	return absDiff(entry, stop) / entry
}

func minimumTakeProfit(entry, stop float64, direction model.Direction) float64 {
	risk := absDiff(entry, stop)
	if direction == model.DirectionLong {
		return entry + model.MinRewardRiskRatio*risk
	}
	return entry - model.MinRewardRiskRatio*risk
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
