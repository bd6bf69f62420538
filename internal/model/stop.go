package model

// SwingBasedStop is computed by the sizer (C6) for a candidate setup. It is
// never persisted on its own — accepted values are copied onto the Trade
// that results from the setup.
type SwingBasedStop struct {
	Price             float64    `json:"price"`
	Source            StopSource `json:"source"`
	SwingPrice        float64    `json:"swing_price"`
	DistancePercent   float64    `json:"distance_percent"`
	MinimumTakeProfit float64    `json:"minimum_take_profit"`
}

// MinStopDistancePercent and MaxStopDistancePercent bound the acceptable
// entry-to-stop distance as a fraction of entry price (§4.6, §8).
const (
	MinStopDistancePercent = 0.005
	MaxStopDistancePercent = 0.03
	MinRewardRiskRatio     = 2.0
)
