package indicator

import (
	"context"
	"log"

	"trading-systemv1/internal/model"
)

// Restorer orchestrates indicator engine state restoration on startup,
// following a checkpoint-then-replay chain: restore from the last
// snapshot, then backfill from the candle store to catch up.
type Restorer struct {
	configs []TFIndicatorConfig
}

func NewRestorer(configs []TFIndicatorConfig) *Restorer {
	return &Restorer{configs: configs}
}

// RestoreFromSnap attempts to restore an engine from a snapshot. If snap is
// nil, returns a fresh engine (cold start).
func (r *Restorer) RestoreFromSnap(snap *EngineSnapshot) (*Engine, error) {
	if snap == nil {
		log.Println("indicator: no snapshot found, cold starting")
		return NewEngine(r.configs), nil
	}

	engine, err := RestoreEngine(r.configs, snap)
	if err != nil {
		log.Printf("indicator: snapshot restore failed: %v, falling back to cold start", err)
		return NewEngine(r.configs), nil
	}
	log.Println("indicator: restored engine from snapshot")
	return engine, nil
}

// BackfillFromCandles reads the most recent candles per configured
// timeframe from repo and feeds them into the engine to warm up cold
// indicators. maxPeriod is the largest indicator period configured (e.g.
// 20 for VOLUME_AVG_20); it determines how many candles to pull.
func (r *Restorer) BackfillFromCandles(ctx context.Context, engine *Engine, repo model.CandleRepo) (int, error) {
	maxPeriod := 0
	for _, cfg := range r.configs {
		for _, ind := range cfg.Indicators {
			if ind.Period > maxPeriod {
				maxPeriod = ind.Period
			}
		}
	}
	if maxPeriod == 0 {
		return 0, nil
	}

	total := 0
	for _, cfg := range r.configs {
		candles, err := repo.Latest(ctx, cfg.TF, maxPeriod+1)
		if err != nil {
			log.Printf("indicator: backfill read failed for timeframe=%s: %v", cfg.TF, err)
			continue
		}
		for _, c := range candles {
			engine.Process(c)
			total++
		}
		if len(candles) > 0 {
			log.Printf("indicator: backfilled %d candles for timeframe=%s", len(candles), cfg.TF)
		}
	}
	return total, nil
}
