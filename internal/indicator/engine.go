package indicator

import (
	"context"

	"trading-systemv1/internal/model"
)

// IndicatorConfig specifies a single indicator to compute.
type IndicatorConfig struct {
	Type   string // "SMA", "EMA", "SMMA", "RSI", "VOLATILITY", "VOLUME_AVG"
	Period int
}

// TFIndicatorConfig groups indicator configs for a specific timeframe.
type TFIndicatorConfig struct {
	TF         model.Timeframe
	Indicators []IndicatorConfig
}

// tfIndicators holds live indicator instances for one timeframe. There is
// exactly one instrument (BTC-USD), so — unlike the multi-token engine this
// package is adapted from — there is no per-symbol keying.
type tfIndicators struct {
	indicators []Indicator
	configs    []IndicatorConfig
}

// Engine computes configured indicators across the scanner's two timeframes.
// Designed for single-goroutine usage — no locks needed.
type Engine struct {
	configs []TFIndicatorConfig
	state   map[model.Timeframe]*tfIndicators
}

// NewEngine creates an indicator engine with the given per-timeframe indicator configs.
func NewEngine(configs []TFIndicatorConfig) *Engine {
	return &Engine{
		configs: configs,
		state:   make(map[model.Timeframe]*tfIndicators, len(configs)),
	}
}

// Process feeds a finalized candle and computes all indicators configured
// for its timeframe. Returns indicator results (may include not-ready
// indicators with Ready=false). Returns nil if the timeframe isn't configured.
func (e *Engine) Process(c model.Candle) []model.IndicatorResult {
	cfg, ok := e.findConfig(c.Timeframe)
	if !ok {
		return nil
	}

	ti, exists := e.state[c.Timeframe]
	if !exists {
		ti = e.createIndicators(cfg)
		e.state[c.Timeframe] = ti
	}

	results := make([]model.IndicatorResult, 0, len(ti.indicators))
	for i, ind := range ti.indicators {
		ind.Update(c)
		results = append(results, model.IndicatorResult{
			Name:        ind.Name(),
			Timeframe:   c.Timeframe,
			Period:      ti.configs[i].Period,
			Value:       ind.Value(),
			BucketStart: c.BucketStart,
			Ready:       ind.Ready(),
		})
	}
	return results
}

// ProcessPeek computes live indicator values for a forming candle using
// Peek(). Does NOT mutate indicator state. Returns nil if the timeframe
// hasn't been seeded by a completed candle yet.
func (e *Engine) ProcessPeek(c model.Candle) []model.IndicatorResult {
	ti, exists := e.state[c.Timeframe]
	if !exists {
		return nil
	}

	field := c.Close
	results := make([]model.IndicatorResult, 0, len(ti.indicators))
	for i, ind := range ti.indicators {
		v := field
		if ti.configs[i].Type == "VOLUME_AVG" {
			v = c.Volume
		}
		results = append(results, model.IndicatorResult{
			Name:        ind.Name(),
			Timeframe:   c.Timeframe,
			Period:      ti.configs[i].Period,
			Value:       ind.Peek(v),
			BucketStart: c.BucketStart,
			Ready:       ind.Ready(),
			Live:        true,
		})
	}
	return results
}

// Run consumes closed candles and emits indicator results. Blocks until ctx done.
func (e *Engine) Run(ctx context.Context, candleCh <-chan model.Candle, resultCh chan<- model.IndicatorResult) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-candleCh:
			if !ok {
				return
			}
			for _, r := range e.Process(c) {
				select {
				case resultCh <- r:
				default:
					// drop if channel full
				}
			}
		}
	}
}

// Latest returns the current value and readiness of a named indicator on a
// timeframe, read directly from the engine rather than through Run's channel.
func (e *Engine) Latest(tf model.Timeframe, name string) (value float64, ready bool, found bool) {
	ti, exists := e.state[tf]
	if !exists {
		return 0, false, false
	}
	for _, ind := range ti.indicators {
		if ind.Name() == name {
			return ind.Value(), ind.Ready(), true
		}
	}
	return 0, false, false
}

func (e *Engine) createIndicators(cfg TFIndicatorConfig) *tfIndicators {
	inds := make([]Indicator, len(cfg.Indicators))
	for i, ic := range cfg.Indicators {
		inds[i] = newIndicator(ic)
	}
	return &tfIndicators{indicators: inds, configs: cfg.Indicators}
}

func newIndicator(ic IndicatorConfig) Indicator {
	switch ic.Type {
	case "SMA":
		return NewSMA(ic.Period)
	case "EMA":
		return NewEMA(ic.Period)
	case "SMMA":
		return NewSMMA(ic.Period)
	case "RSI":
		return NewRSI(ic.Period)
	case "VOLATILITY":
		return NewVolatility(ic.Period)
	case "VOLUME_AVG":
		return NewVolumeAverage(ic.Period)
	default:
		return NewSMA(ic.Period) // fallback
	}
}

func (e *Engine) findConfig(tf model.Timeframe) (TFIndicatorConfig, bool) {
	for _, cfg := range e.configs {
		if cfg.TF == tf {
			return cfg, true
		}
	}
	return TFIndicatorConfig{}, false
}
