package model

import "time"

// SwingLevel is a confirmed local extremum on one timeframe. At most one
// SwingLevel per (Timeframe, Kind) is active at any instant; superseding
// swings flip the prior one's Active flag to false rather than deleting it.
type SwingLevel struct {
	ID          int64     `json:"id"`
	Timeframe   Timeframe `json:"timeframe"`
	Kind        SwingKind `json:"kind"`
	BucketStart time.Time `json:"bucket_start"` // candle that confirmed the swing
	Price       float64   `json:"price"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}
