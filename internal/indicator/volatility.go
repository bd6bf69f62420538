package indicator

import (
	"math"

	"trading-systemv1/internal/model"
	"trading-systemv1/internal/ringbuf"
)

// Volatility tracks the rolling standard deviation of candle-to-candle
// percent returns over a fixed window, feeding the AI adapter's
// "volatility exceeds normal range" safety override (C8).
type Volatility struct {
	period    int
	window    *ringbuf.Ring[float64]
	prevClose float64
	haveFirst bool
}

// NewVolatility creates a Volatility indicator over the given number of
// candle-to-candle returns.
func NewVolatility(period int) *Volatility {
	return &Volatility{period: period, window: ringbuf.New[float64](period)}
}

func (v *Volatility) Name() string { return "VOLATILITY" }

func (v *Volatility) Update(candle model.Candle) {
	if !v.haveFirst {
		v.prevClose = candle.Close
		v.haveFirst = true
		return
	}
	ret := (candle.Close - v.prevClose) / v.prevClose
	v.prevClose = candle.Close

	if v.window.Len() >= v.period {
		v.window.Pop()
	}
	v.window.Push(ret)
}

// Value returns the standard deviation of the window's returns, expressed
// as a fraction (0.01 == 1%).
func (v *Volatility) Value() float64 {
	returns := v.window.Snapshot()
	if len(returns) == 0 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

func (v *Volatility) Ready() bool { return v.window.Len() >= v.period }

// Peek is unused by the volatility feature (the AI adapter always reads the
// last closed candle's window, never a forming one) but satisfies Indicator.
func (v *Volatility) Peek(close float64) float64 {
	if !v.haveFirst {
		return 0
	}
	ret := (close - v.prevClose) / v.prevClose
	returns := v.window.Snapshot()
	returns = append(returns, ret)
	if len(returns) > v.period {
		returns = returns[len(returns)-v.period:]
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

// VolumeAverage tracks the rolling mean candle volume, feeding the AI
// adapter's "volume far below average" safety override (C8).
type VolumeAverage struct {
	sma *SMA
}

func NewVolumeAverage(period int) *VolumeAverage {
	return &VolumeAverage{sma: NewSMA(period)}
}

func (va *VolumeAverage) Name() string { return "VOLUME_AVG" }

func (va *VolumeAverage) Update(candle model.Candle) {
	va.sma.Update(model.Candle{Close: candle.Volume})
}

func (va *VolumeAverage) Value() float64         { return va.sma.Value() }
func (va *VolumeAverage) Ready() bool            { return va.sma.Ready() }
func (va *VolumeAverage) Peek(volume float64) float64 { return va.sma.Peek(volume) }
