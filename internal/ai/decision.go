package ai

// rawDecision is the literal wire shape the model is asked to respond with.
// "decision" arrives as the string YES/NO rather than a JSON bool so the
// adapter can reject anything else outright (§4.8: "decision value not
// {YES,NO}").
type rawDecision struct {
	Decision   string  `json:"decision"`
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	Stop       float64 `json:"stop"`
	StopSource string  `json:"stop_source"`
	TakeProfit float64 `json:"take_profit"`
	SizeBase   float64 `json:"size_base"`
	RR         float64 `json:"rr"`
	Confidence int     `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Decision is the adapter's validated view of the model's response.
type Decision struct {
	Approve    bool
	Direction  string
	Entry      float64
	Stop       float64
	StopSource string
	TakeProfit float64
	SizeBase   float64
	RR         float64
	Confidence int
	Reasoning  string
}

// OverrideReason names a market-safety override that forced the decision
// to "no" regardless of what the model returned (§4.8).
type OverrideReason string

const (
	OverrideVolatility OverrideReason = "HOURLY_VOLATILITY_EXCEEDS_5PCT"
	OverrideLowVolume  OverrideReason = "VOLUME_BELOW_30PCT_AVERAGE"
	OverrideSpread     OverrideReason = "SPREAD_EXCEEDS_0.1PCT"
	OverrideChange24h  OverrideReason = "24H_CHANGE_EXCEEDS_15PCT"
	OverrideEconEvent  OverrideReason = "ECONOMIC_EVENT_WINDOW"
	OverrideSanityBand OverrideReason = "PRICE_OUTSIDE_SANITY_BAND"
)

// RejectReason names a validation failure against the sizer/confluence
// inputs (§4.8).
type RejectReason string

const (
	RejectBadApprovalValue RejectReason = "DECISION_VALUE_NOT_YES_NO"
	RejectDirectionMismatch RejectReason = "DIRECTION_INCONSISTENT_WITH_BIAS"
	RejectEntryDeviation    RejectReason = "ENTRY_DEVIATION_EXCEEDS_0.5PCT"
	RejectStopWrongSide     RejectReason = "STOP_WRONG_SIDE_OF_ENTRY"
	RejectStopDistance      RejectReason = "STOP_DISTANCE_OUTSIDE_RANGE"
	RejectRRTooLow          RejectReason = "RR_BELOW_2.0"
	RejectRRInconsistent    RejectReason = "RR_INCONSISTENT_WITH_PRICES"
	RejectLowConfidence     RejectReason = "CONFIDENCE_BELOW_70"
	RejectSizeDeviation     RejectReason = "SIZE_DEVIATES_FROM_SIZER"
	RejectReasoningTooShort RejectReason = "REASONING_TOO_SHORT"
)

// Verdict is the adapter's final word: either an approved, validated
// Decision, or the collected reasons it was rejected/overridden.
type Verdict struct {
	Approved  bool
	Decision  Decision
	Rejects   []RejectReason
	Overrides []OverrideReason
}
