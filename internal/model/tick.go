package model

import "time"

// Tick is a single trade print on the BTC-USD pair, the unit the monitor
// (C10) and confluence engine's OnTick path react to between candle closes.
type Tick struct {
	Price float64   `json:"price"`
	Size  float64   `json:"size"`
	At    time.Time `json:"at"`
}
