package model

import (
	"encoding/json"
	"time"
)

// Candle is an OHLCV bar for one of the two scanner timeframes. Prices are
// float64 USD (not fixed-point paise, unlike the equities teacher this
// package is adapted from): spot crypto prices span many orders of
// magnitude and a single pair (BTC-USD) does not need tick-size-driven
// integer scaling. Keyed uniquely by (Timeframe, BucketStart).
type Candle struct {
	Timeframe   Timeframe `json:"timeframe"`
	BucketStart time.Time `json:"bucket_start"` // UTC, timeframe-aligned
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
}

// Key returns a unique key for this candle within its timeframe.
func (c *Candle) Key() string {
	return string(c.Timeframe) + ":" + c.BucketStart.UTC().Format(time.RFC3339)
}

// Valid checks the OHLCV invariant from the data model: low <= min(open,
// close), high >= max(open,close), and all values strictly positive.
func (c *Candle) Valid() bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	minOC := c.Open
	if c.Close < minOC {
		minOC = c.Close
	}
	maxOC := c.Open
	if c.Close > maxOC {
		maxOC = c.Close
	}
	if c.Low > minOC || c.High < maxOC {
		return false
	}
	if c.Volume < 0 {
		return false
	}
	return true
}

// JSON returns the JSON-encoded candle (errors ignored — used for logging
// and snapshot payloads, never for the wire format of record).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}
