// Package swing detects swing highs and lows from closed candles (C2),
// keeping a small sliding window per timeframe in the same spirit as
// internal/ringbuf but sized and indexed for the five-candle confirmation
// rule rather than SPSC throughput.
package swing

import (
	"context"
	"fmt"

	"trading-systemv1/internal/model"
)

// window size needed to confirm a swing at index i: i-2 and i+2 must both
// be present, so five candles total.
const confirmWindow = 5

// Tracker maintains one sliding window of recent closed candles per
// timeframe and emits SwingLevel detections through repo.InsertAndSupersede.
type Tracker struct {
	repo    model.SwingRepo
	windows map[model.Timeframe][]model.Candle
}

func New(repo model.SwingRepo) *Tracker {
	return &Tracker{
		repo:    repo,
		windows: make(map[model.Timeframe][]model.Candle),
	}
}

// Result reports what OnClose did, per the redesign flag preferring result
// types over sentinel errors for expected "no signal" outcomes.
type Result int

const (
	NoChange Result = iota
	HighDetected
	LowDetected
)

// OnClose folds a newly-closed candle into the timeframe's window and checks
// for a confirmed swing at the now-third-from-last position. Fewer than five
// candles buffered is a no-op, per §4.2's edge case.
func (t *Tracker) OnClose(ctx context.Context, tf model.Timeframe, c model.Candle) (Result, *model.SwingLevel, error) {
	w := append(t.windows[tf], c)
	if len(w) > confirmWindow {
		w = w[len(w)-confirmWindow:]
	}
	t.windows[tf] = w

	if len(w) < confirmWindow {
		return NoChange, nil, nil
	}

	i := confirmWindow - 3 // the "two candles before the latest" position
	mid := w[i]

	if mid.High > w[i-2].High && mid.High > w[i+2].High {
		sw, err := t.repo.InsertAndSupersede(ctx, model.SwingLevel{
			Timeframe:   tf,
			Kind:        model.SwingHigh,
			BucketStart: mid.BucketStart,
			Price:       mid.High,
		})
		if err != nil {
			return NoChange, nil, fmt.Errorf("swing: insert high: %w", err)
		}
		return HighDetected, &sw, nil
	}

	if mid.Low < w[i-2].Low && mid.Low < w[i+2].Low {
		sw, err := t.repo.InsertAndSupersede(ctx, model.SwingLevel{
			Timeframe:   tf,
			Kind:        model.SwingLow,
			BucketStart: mid.BucketStart,
			Price:       mid.Low,
		})
		if err != nil {
			return NoChange, nil, fmt.Errorf("swing: insert low: %w", err)
		}
		return LowDetected, &sw, nil
	}

	return NoChange, nil, nil
}

// ActiveSwing proxies to the repo for callers (C3) that only need the
// current active level, not the window itself.
func (t *Tracker) ActiveSwing(ctx context.Context, tf model.Timeframe, kind model.SwingKind) (*model.SwingLevel, error) {
	return t.repo.ActiveSwing(ctx, tf, kind)
}

// Seed primes a timeframe's window from historical candles on startup, so
// the first live closes after a restart aren't stuck waiting for five fresh
// candles to accumulate.
func (t *Tracker) Seed(tf model.Timeframe, candles []model.Candle) {
	if len(candles) > confirmWindow {
		candles = candles[len(candles)-confirmWindow:]
	}
	w := make([]model.Candle, len(candles))
	copy(w, candles)
	t.windows[tf] = w
}
