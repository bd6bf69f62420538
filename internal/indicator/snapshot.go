package indicator

import (
	"encoding/json"
	"fmt"
	"log"

	"trading-systemv1/internal/model"
)

// Snapshottable is implemented by indicators that support state serialization.
type Snapshottable interface {
	Indicator
	Snapshot() IndicatorSnapshot
	RestoreFromSnapshot(snap IndicatorSnapshot) error
}

// IndicatorSnapshot holds the serialized state of a single indicator instance.
type IndicatorSnapshot struct {
	Type   string `json:"type"`   // "SMA", "EMA", "SMMA", "RSI"
	Period int    `json:"period"` // indicator period

	// SMA window (Buf, Idx) and the Count/Sum/Current state of SMA, EMA and SMMA
	Buf     []float64 `json:"buf,omitempty"`
	Idx     int       `json:"idx,omitempty"`
	Count   int       `json:"count"`
	Sum     float64   `json:"sum,omitempty"`
	Current float64   `json:"current"`

	// EMA fields
	Multiplier float64 `json:"multiplier,omitempty"`

	// RSI fields
	PrevClose float64 `json:"prev_close,omitempty"`
	AvgGain   float64 `json:"avg_gain,omitempty"`
	AvgLoss   float64 `json:"avg_loss,omitempty"`
}

// TFSnapshot holds indicator snapshots for a single timeframe.
type TFSnapshot struct {
	Timeframe  model.Timeframe     `json:"timeframe"`
	Indicators []IndicatorSnapshot `json:"indicators"`
}

// EngineSnapshot holds the full state of the indicator engine, checkpointed
// alongside the candle store so a restart resumes warm instead of cold.
type EngineSnapshot struct {
	Timeframes []TFSnapshot `json:"timeframes"`
	Version    int          `json:"version"` // schema version for forward compat
}

func (es *EngineSnapshot) MarshalJSON() ([]byte, error) {
	type Alias EngineSnapshot
	return json.Marshal((*Alias)(es))
}

func (es *EngineSnapshot) UnmarshalJSON(data []byte) error {
	type Alias EngineSnapshot
	return json.Unmarshal(data, (*Alias)(es))
}

// SnapshotEngine captures the full state of an indicator Engine.
func SnapshotEngine(e *Engine) (*EngineSnapshot, error) {
	snap := &EngineSnapshot{Version: 1}

	for tf, ti := range e.state {
		ts := TFSnapshot{Timeframe: tf, Indicators: make([]IndicatorSnapshot, 0, len(ti.indicators))}
		for _, ind := range ti.indicators {
			si, ok := ind.(Snapshottable)
			if !ok {
				// VOLATILITY and VOLUME_AVG indicators don't checkpoint;
				// they are rebuilt from replayed candles.
				continue
			}
			ts.Indicators = append(ts.Indicators, si.Snapshot())
		}
		snap.Timeframes = append(snap.Timeframes, ts)
	}

	return snap, nil
}

// RestoreEngine rebuilds an indicator Engine from a snapshot. It is
// tolerant of config changes — indicators are matched by Type+Period rather
// than by index. Matching indicators get their state restored; new
// indicators start fresh (cold). Removed indicators are silently skipped.
func RestoreEngine(configs []TFIndicatorConfig, snap *EngineSnapshot) (*Engine, error) {
	e := NewEngine(configs)
	if snap == nil {
		return e, nil
	}

	for _, ts := range snap.Timeframes {
		cfg, ok := e.findConfig(ts.Timeframe)
		if !ok {
			continue // timeframe no longer configured — skip
		}

		ti := e.createIndicators(cfg)

		snapLookup := make(map[string]IndicatorSnapshot, len(ts.Indicators))
		for _, indSnap := range ts.Indicators {
			snapLookup[fmt.Sprintf("%s:%d", indSnap.Type, indSnap.Period)] = indSnap
		}

		restored, cold := 0, 0
		for i, ind := range ti.indicators {
			icfg := ti.configs[i]
			key := fmt.Sprintf("%s:%d", icfg.Type, icfg.Period)

			indSnap, found := snapLookup[key]
			if !found {
				cold++
				continue
			}
			si, ok := ind.(Snapshottable)
			if !ok {
				cold++
				continue
			}
			if err := si.RestoreFromSnapshot(indSnap); err != nil {
				cold++
				continue
			}
			restored++
		}

		if cold > 0 {
			log.Printf("indicator: timeframe=%s restored=%d cold=%d", ts.Timeframe, restored, cold)
		}
		e.state[ts.Timeframe] = ti
	}

	return e, nil
}
