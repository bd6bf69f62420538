package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a risk-averse trading assistant reviewing a single candidate BTC-USD setup produced by a rules-based confluence engine. The engine has already detected a liquidity sweep, a change of character, a fair value gap fill, and a break of structure. Your job is not to find the setup — it exists. Your job is to veto it if the current market context makes it unsafe, and otherwise confirm the engine's numbers.

Respond with a single JSON object and nothing else, no prose before or after, no markdown fence is required but may be used. The object must have exactly these fields:
{"decision":"YES"|"NO","direction":"LONG"|"SHORT","entry":number,"stop":number,"stop_source":"5M"|"4H","take_profit":number,"size_base":number,"rr":number,"confidence":0-100,"reasoning":"short string"}

Use the sizer's numbers for stop/take_profit/size_base/rr unless you have a specific, stated reason to adjust them. A low confidence score should translate into "decision":"NO".`

// buildUserPrompt renders a Snapshot into the structured text prompt handed
// to the model (§4.8: "sends a structured prompt to the model with the
// confluence context, proposed entry/stop/size, and current market
// conditions").
func buildUserPrompt(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Setup\n")
	fmt.Fprintf(&b, "  bias: %s\n", s.Bias)
	fmt.Fprintf(&b, "  direction: %s\n", s.Direction)
	fmt.Fprintf(&b, "  sweep_kind: %s  sweep_price: %.2f  sweep_detected_at: %s\n",
		s.Sweep.Kind, s.Sweep.PriceAtDetection, s.Sweep.DetectedAt.UTC().Format("2006-01-02T15:04:05Z"))
	if s.Confluence.CHoCHPrice != nil {
		fmt.Fprintf(&b, "  choch_price: %.2f\n", *s.Confluence.CHoCHPrice)
	}
	if s.Confluence.FVGLow != nil && s.Confluence.FVGHigh != nil {
		fmt.Fprintf(&b, "  fvg_zone: [%.2f, %.2f]\n", *s.Confluence.FVGLow, *s.Confluence.FVGHigh)
	}
	if s.Confluence.BOSPrice != nil {
		fmt.Fprintf(&b, "  bos_price: %.2f\n", *s.Confluence.BOSPrice)
	}
	fmt.Fprintf(&b, "  current_price: %.2f\n\n", s.CurrentPrice)

	fmt.Fprintf(&b, "Sizer proposal\n")
	fmt.Fprintf(&b, "  entry: %.2f\n", s.CurrentPrice)
	fmt.Fprintf(&b, "  stop: %.2f  stop_source: %s  stop_distance_pct: %.4f\n",
		s.Stop.Price, s.Stop.Source, s.Stop.DistancePercent)
	fmt.Fprintf(&b, "  minimum_take_profit: %.2f\n", s.Stop.MinimumTakeProfit)
	fmt.Fprintf(&b, "  size_base: %.8f  risk_quote: %.2f\n\n", s.SizeBase, s.RiskQuote)

	fmt.Fprintf(&b, "Account\n")
	fmt.Fprintf(&b, "  balance: %.2f\n\n", s.AccountBalance)

	fmt.Fprintf(&b, "Market conditions\n")
	fmt.Fprintf(&b, "  hourly_volatility: %.4f\n", s.HourlyVolatility)
	fmt.Fprintf(&b, "  volume: %.2f  average_volume: %.2f\n", s.Volume, s.AverageVolume)
	fmt.Fprintf(&b, "  bid_ask_spread: %.4f\n", s.BidAskSpread)
	fmt.Fprintf(&b, "  change_24h: %.4f\n", s.Change24h)
	fmt.Fprintf(&b, "  sanity_band: [%.2f, %.2f]\n", s.SanityBandLow, s.SanityBandHigh)
	if s.EconBlackout {
		fmt.Fprintf(&b, "  econ_blackout: true (%s)\n", s.EconEventName)
	} else {
		fmt.Fprintf(&b, "  econ_blackout: false\n")
	}

	return b.String()
}
