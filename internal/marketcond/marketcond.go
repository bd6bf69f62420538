// Package marketcond implements the AI adapter's market-safety inputs
// (§4.8 overrides) against the live BTC-USD feed: hourly volatility and
// volume-vs-average come from internal/indicator's rolling windows fed by
// closed 5M candles, current price is the latest closed 5M candle's close
// (reported only after a successful exchange Ping), spread is always zero
// because no order-book source is wired (see BidAskSpread), and 24h change
// and the sanity band are tracked from a trailing ring of candles. Grounded on the teacher's closedetector, which also
// folds a trailing candle window into a single "is this normal" read.
package marketcond

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/indicator"
	"trading-systemv1/internal/model"
)

// Config tunes the sanity band width and the volatility/volume windows.
type Config struct {
	VolatilityPeriod int     // candle-to-candle returns sampled, default 12 (1h of 5M candles)
	VolumeAvgPeriod  int     // default 288 (24h of 5M candles)
	SanityBandWidth  float64 // fraction around the trailing 24h mid, default 0.20
}

func defaultConfig(cfg Config) Config {
	if cfg.VolatilityPeriod == 0 {
		cfg.VolatilityPeriod = 12
	}
	if cfg.VolumeAvgPeriod == 0 {
		cfg.VolumeAvgPeriod = 288
	}
	if cfg.SanityBandWidth == 0 {
		cfg.SanityBandWidth = 0.20
	}
	return cfg
}

// Tracker maintains the rolling state needed to answer every
// pipeline.MarketConditions query for one instrument.
type Tracker struct {
	cfg Config

	mu         sync.Mutex
	volatility *indicator.Volatility
	volumeAvg  *indicator.VolumeAverage
	day        []model.Candle // trailing ~24h of 5M candles, oldest first

	client exchange.RESTClient
}

func New(cfg Config, client exchange.RESTClient) *Tracker {
	cfg = defaultConfig(cfg)
	return &Tracker{
		cfg:        cfg,
		volatility: indicator.NewVolatility(cfg.VolatilityPeriod),
		volumeAvg:  indicator.NewVolumeAverage(cfg.VolumeAvgPeriod),
		client:     client,
	}
}

// OnCandleClose feeds a newly closed 5M candle into the rolling windows.
// Wired as a direct subscriber alongside the scheduler rather than through
// it, so a slow AI decision never stalls candle ingestion.
func (t *Tracker) OnCandleClose(c model.Candle) {
	if c.Timeframe != model.TF5M {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.volatility.Update(c)
	t.volumeAvg.Update(c)
	t.day = append(t.day, c)
	cutoff := c.BucketStart.Add(-24 * time.Hour)
	trimmed := t.day[:0]
	for _, d := range t.day {
		if d.BucketStart.After(cutoff) {
			trimmed = append(trimmed, d)
		}
	}
	t.day = trimmed
}

func (t *Tracker) HourlyVolatility(ctx context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.volatility.Value(), nil
}

func (t *Tracker) Volume(ctx context.Context) (current, average float64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.day) == 0 {
		return 0, 0, nil
	}
	return t.day[len(t.day)-1].Volume, t.volumeAvg.Value(), nil
}

func (t *Tracker) Change24h(ctx context.Context) (float64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.day) == 0 {
		return 0, nil
	}
	open := t.day[0].Open
	if open == 0 {
		return 0, nil
	}
	latest := t.day[len(t.day)-1].Close
	return (latest - open) / open, nil
}

func (t *Tracker) SanityBand(ctx context.Context) (low, high float64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.day) == 0 {
		return 0, 0, nil
	}
	var hi, lo float64
	for i, c := range t.day {
		if i == 0 || c.High > hi {
			hi = c.High
		}
		if i == 0 || c.Low < lo {
			lo = c.Low
		}
	}
	mid := (hi + lo) / 2
	half := mid * t.cfg.SanityBandWidth
	return mid - half, mid + half, nil
}

func (t *Tracker) CurrentPrice(ctx context.Context) (float64, error) {
	if err := t.client.Ping(ctx); err != nil {
		return 0, fmt.Errorf("marketcond: ping exchange: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.day) == 0 {
		return 0, fmt.Errorf("marketcond: no candles seen yet")
	}
	return t.day[len(t.day)-1].Close, nil
}

// BidAskSpread is reported as zero until a live order-book feed is wired
// in; REST ticker responses from the exchange port don't carry book depth,
// so every caller of the AI adapter today effectively takes the spread
// override at a permissive default rather than guessing a level.
func (t *Tracker) BidAskSpread(ctx context.Context) (float64, error) {
	return 0, nil
}
