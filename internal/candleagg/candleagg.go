// Package candleagg builds the 4H and 5M OHLCV candles the scanner chain
// runs on directly from the tick stream, grounded on the teacher's
// marketdata/agg.Aggregator (event-time watermark, bucket rollover, a single
// goroutine folding ticks into an in-progress candle) and marketdata/
// tfbuilder.Builder (one instrument feeding several timeframe buckets at
// once). Generalized from agg's per-(exchange,token) map and tfbuilder's
// configurable timeframe list down to the two fixed timeframes this engine
// needs for a single BTC-USD instrument.
package candleagg

import (
	"sync"
	"time"

	"trading-systemv1/internal/model"
)

// ReorderBuffer bounds how long a tick may arrive behind the running
// watermark before it's dropped as too late to affect an unflushed bucket.
const ReorderBuffer = 300 * time.Millisecond

// Aggregator folds a tick stream into 4H and 5M candles.
type Aggregator struct {
	mu    sync.Mutex
	state map[model.Timeframe]*bucket

	watermark time.Time

	// OnLateTick is called (if set) whenever a tick arrives behind the
	// watermark and is dropped.
	OnLateTick func()
}

type bucket struct {
	start  time.Time
	candle model.Candle
}

func New() *Aggregator {
	return &Aggregator{
		state: map[model.Timeframe]*bucket{
			model.TF4H: nil,
			model.TF5M: nil,
		},
	}
}

// alignedBucket floors t to the start of its timeframe bucket. 4H buckets
// align to UTC midnight; 5M buckets align to the hour.
func alignedBucket(tf model.Timeframe, t time.Time) time.Time {
	t = t.UTC()
	d := tf.Duration()
	switch tf {
	case model.TF4H:
		dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		elapsed := t.Sub(dayStart)
		return dayStart.Add((elapsed / d) * d)
	case model.TF5M:
		hourStart := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
		elapsed := t.Sub(hourStart)
		return hourStart.Add((elapsed / d) * d)
	default:
		return t
	}
}

// Ingest folds one tick into both timeframes' running candle, returning any
// candles that rolled over into a new bucket as a result (closed and ready
// to persist/publish). A tick more than ReorderBuffer behind the current
// watermark is dropped.
func (a *Aggregator) Ingest(tick model.Tick) []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	at := tick.At.UTC()
	if at.After(a.watermark) {
		a.watermark = at
	} else if a.watermark.Sub(at) > ReorderBuffer {
		if a.OnLateTick != nil {
			cb := a.OnLateTick
			a.mu.Unlock()
			cb()
			a.mu.Lock()
		}
		return nil
	}

	var closed []model.Candle
	for _, tf := range []model.Timeframe{model.TF4H, model.TF5M} {
		if c := a.ingestOne(tf, tick, at); c != nil {
			closed = append(closed, *c)
		}
	}
	return closed
}

func (a *Aggregator) ingestOne(tf model.Timeframe, tick model.Tick, at time.Time) *model.Candle {
	start := alignedBucket(tf, at)
	b := a.state[tf]

	if b == nil {
		a.state[tf] = &bucket{start: start, candle: newCandle(tf, start, tick.Price, tick.Size)}
		return nil
	}

	if start.Equal(b.start) {
		b.candle.High = max(b.candle.High, tick.Price)
		b.candle.Low = min(b.candle.Low, tick.Price)
		b.candle.Close = tick.Price
		b.candle.Volume += tick.Size
		return nil
	}

	if start.Before(b.start) {
		// Tick lands in an already-superseded bucket; within the reorder
		// tolerance it's folded into the still-open running bucket instead
		// of reopening a closed one.
		b.candle.High = max(b.candle.High, tick.Price)
		b.candle.Low = min(b.candle.Low, tick.Price)
		return nil
	}

	closed := b.candle
	a.state[tf] = &bucket{start: start, candle: newCandle(tf, start, tick.Price, tick.Size)}
	return &closed
}

// Flush emits every in-progress candle immediately, for use on shutdown so
// the final partial bucket isn't silently lost.
func (a *Aggregator) Flush() []model.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []model.Candle
	for tf, b := range a.state {
		if b != nil {
			out = append(out, b.candle)
			a.state[tf] = nil
		}
	}
	return out
}

func newCandle(tf model.Timeframe, start time.Time, price, size float64) model.Candle {
	return model.Candle{
		Timeframe:   tf,
		BucketStart: start,
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		Volume:      size,
	}
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
