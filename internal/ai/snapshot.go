package ai

import (
	"time"

	"trading-systemv1/internal/model"
)

// Snapshot assembles everything the model needs to approve or reject a
// candidate setup (§4.8): the sweep/confluence that produced it, the
// sizer's computed stop, current market conditions, and account state.
type Snapshot struct {
	Sweep       model.Sweep
	Confluence  model.ConfluenceState
	Bias        model.Bias
	Direction   model.Direction
	CurrentPrice float64

	Stop      model.SwingBasedStop
	SizeBase  float64
	RiskQuote float64

	AccountBalance float64

	// Market-safety inputs (§4.8 overrides).
	HourlyVolatility float64 // fractional stdev of 1h returns
	Volume           float64
	AverageVolume    float64
	BidAskSpread     float64 // fractional
	Change24h        float64 // fractional, signed
	EconBlackout     bool
	EconEventName    string
	SanityBandLow    float64
	SanityBandHigh   float64

	AsOf time.Time
}
