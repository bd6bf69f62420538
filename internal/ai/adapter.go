// Package ai is the adapter around an optional language-model veto layer
// (C8, §4.8). The confluence engine and sizer already produce a fully
// specified candidate trade; the adapter's only power is to confirm it or
// reject/override it. It never invents entries, stops, or sizes of its own.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"trading-systemv1/internal/llmclient"
	"trading-systemv1/internal/model"
)

// fencePattern strips an optional ```json ... ``` markdown fence around the
// model's response, grounded on the same pattern the koshedutech analyzer
// uses to tolerate chat-style models that wrap JSON in prose fences.
var fencePattern = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

func stripMarkdownFence(raw string) string {
	raw = strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1])
	}
	return raw
}

// entryDeviationTolerance, sizeDeviationTolerance, and reasoningMinLength
// bound the validation checks in validate (§4.8).
const (
	entryDeviationTolerance = 0.005
	sizeDeviationTolerance  = 0.05
	rrTolerance             = 0.1
	confidenceFloor         = 70
	reasoningMinLength      = 15
)

// Adapter wraps an llmclient.Client with the prompt/parse/validate pipeline.
type Adapter struct {
	client llmclient.Client
}

func New(client llmclient.Client) *Adapter {
	return &Adapter{client: client}
}

// Decide sends the snapshot to the model and returns a fully validated
// Verdict. A transport or parse failure is returned as an error rather than
// folded into the Verdict, since it is not a reasoned rejection — callers
// should treat it like any other upstream failure (no trade, retry later).
func (a *Adapter) Decide(ctx context.Context, snap Snapshot) (Verdict, error) {
	raw, err := a.client.Complete(ctx, systemPrompt, buildUserPrompt(snap))
	if err != nil {
		return Verdict{}, fmt.Errorf("ai: model call failed: %w", err)
	}

	// Decode the first JSON object in the response; prose before it is
	// skipped and anything after it is ignored.
	body := stripMarkdownFence(raw)
	if i := strings.Index(body, "{"); i > 0 {
		body = body[i:]
	}
	var rd rawDecision
	if err := json.NewDecoder(strings.NewReader(body)).Decode(&rd); err != nil {
		return Verdict{}, fmt.Errorf("ai: unparsable model response: %w", err)
	}

	decision, rejects := validate(rd, snap)
	overrides := checkOverrides(snap)

	verdict := Verdict{
		Decision:  decision,
		Rejects:   rejects,
		Overrides: overrides,
	}
	verdict.Approved = decision.Approve && len(rejects) == 0 && len(overrides) == 0
	return verdict, nil
}

// validate checks the raw model response against the sizer/confluence
// inputs it was given, returning the parsed Decision (decision.Approve set
// from the YES/NO string) and every RejectReason that fired. Rejects
// accumulate rather than short-circuit, matching the risk gate's style
// (C7) of surfacing every violated check at once.
func validate(rd rawDecision, snap Snapshot) (Decision, []RejectReason) {
	d := Decision{
		Direction:  rd.Direction,
		Entry:      rd.Entry,
		Stop:       rd.Stop,
		StopSource: rd.StopSource,
		TakeProfit: rd.TakeProfit,
		SizeBase:   rd.SizeBase,
		RR:         rd.RR,
		Confidence: rd.Confidence,
		Reasoning:  rd.Reasoning,
	}

	var rejects []RejectReason

	switch rd.Decision {
	case "YES":
		d.Approve = true
	case "NO":
		d.Approve = false
	default:
		rejects = append(rejects, RejectBadApprovalValue)
	}

	if rd.Direction != string(snap.Direction) {
		rejects = append(rejects, RejectDirectionMismatch)
	}

	if deviation(rd.Entry, snap.CurrentPrice) > entryDeviationTolerance {
		rejects = append(rejects, RejectEntryDeviation)
	}

	if !stopOnCorrectSide(snap.Direction, rd.Entry, rd.Stop) {
		rejects = append(rejects, RejectStopWrongSide)
	}

	stopDistance := deviation(rd.Stop, rd.Entry)
	if stopDistance < model.MinStopDistancePercent || stopDistance > model.MaxStopDistancePercent {
		rejects = append(rejects, RejectStopDistance)
	}

	if rd.RR < model.MinRewardRiskRatio {
		rejects = append(rejects, RejectRRTooLow)
	}
	if !rrConsistent(rd) {
		rejects = append(rejects, RejectRRInconsistent)
	}

	if rd.Confidence < confidenceFloor {
		rejects = append(rejects, RejectLowConfidence)
	}

	if deviation(rd.SizeBase, snap.SizeBase) > sizeDeviationTolerance {
		rejects = append(rejects, RejectSizeDeviation)
	}

	if len(strings.TrimSpace(rd.Reasoning)) < reasoningMinLength {
		rejects = append(rejects, RejectReasoningTooShort)
	}

	return d, rejects
}

// checkOverrides evaluates the market-safety conditions that force a
// rejection regardless of what the model decided (§4.8). Like validate,
// every condition is checked and accumulated rather than short-circuited so
// the logged verdict shows every reason a human reviewer would want.
func checkOverrides(snap Snapshot) []OverrideReason {
	var overrides []OverrideReason

	if snap.HourlyVolatility > 0.05 {
		overrides = append(overrides, OverrideVolatility)
	}
	if snap.AverageVolume > 0 && snap.Volume < 0.3*snap.AverageVolume {
		overrides = append(overrides, OverrideLowVolume)
	}
	if snap.BidAskSpread > 0.001 {
		overrides = append(overrides, OverrideSpread)
	}
	if abs(snap.Change24h) > 0.15 {
		overrides = append(overrides, OverrideChange24h)
	}
	if snap.EconBlackout {
		overrides = append(overrides, OverrideEconEvent)
	}
	if snap.CurrentPrice < snap.SanityBandLow || snap.CurrentPrice > snap.SanityBandHigh {
		overrides = append(overrides, OverrideSanityBand)
	}

	return overrides
}

func deviation(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return abs(a-b) / b
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

func stopOnCorrectSide(dir model.Direction, entry, stop float64) bool {
	if dir == model.DirectionLong {
		return stop < entry
	}
	return stop > entry
}

func rrConsistent(rd rawDecision) bool {
	risk := abs(rd.Entry - rd.Stop)
	if risk == 0 {
		return false
	}
	reward := abs(rd.TakeProfit - rd.Entry)
	computed := reward / risk
	return abs(computed-rd.RR) <= rrTolerance
}
