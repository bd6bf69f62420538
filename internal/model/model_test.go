package model

import (
	"testing"
	"time"
)

func TestCandle_ValidRejectsInconsistentOHLC(t *testing.T) {
	cases := []struct {
		name string
		c    Candle
		want bool
	}{
		{"valid", Candle{Open: 100, High: 105, Low: 95, Close: 102, Volume: 1}, true},
		{"high below close", Candle{Open: 100, High: 101, Low: 95, Close: 102, Volume: 1}, false},
		{"low above open", Candle{Open: 100, High: 105, Low: 101, Close: 102, Volume: 1}, false},
		{"zero close", Candle{Open: 100, High: 105, Low: 95, Close: 0, Volume: 1}, false},
		{"negative volume", Candle{Open: 100, High: 105, Low: 95, Close: 102, Volume: -1}, false},
	}
	for _, tc := range cases {
		if got := tc.c.Valid(); got != tc.want {
			t.Errorf("%s: Valid() = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPhase_AdvancesFrom(t *testing.T) {
	if !PhaseWaitingFVG.AdvancesFrom(PhaseWaitingCHoCH) {
		t.Errorf("expected WAITING_FVG to advance from WAITING_CHOCH")
	}
	if PhaseWaitingBOS.AdvancesFrom(PhaseWaitingCHoCH) {
		t.Errorf("expected WAITING_BOS to not advance directly from WAITING_CHOCH (skips a rank)")
	}
	if PhaseWaitingCHoCH.AdvancesFrom(PhaseWaitingFVG) {
		t.Errorf("expected no backward transition")
	}
	if !PhaseExpired.AdvancesFrom(PhaseWaitingBOS) {
		t.Errorf("expected EXPIRED reachable from any non-terminal phase")
	}
	if PhaseExpired.AdvancesFrom(PhaseComplete) {
		t.Errorf("expected EXPIRED not reachable from COMPLETE")
	}
}

func TestPhase_Terminal(t *testing.T) {
	for _, p := range []Phase{PhaseComplete, PhaseExpired} {
		if !p.Terminal() {
			t.Errorf("expected %s to be terminal", p)
		}
	}
	for _, p := range []Phase{PhaseWaitingCHoCH, PhaseWaitingFVG, PhaseWaitingBOS} {
		if p.Terminal() {
			t.Errorf("expected %s to not be terminal", p)
		}
	}
}

func TestConfluenceState_OrderedTimesValid(t *testing.T) {
	base := time.Now().UTC()
	t1 := base.Add(time.Minute)
	t2 := base.Add(2 * time.Minute)
	t3 := base.Add(3 * time.Minute)

	ok := ConfluenceState{CHoCHAt: &t1, FVGFillAt: &t2, BOSAt: &t3}
	if !ok.OrderedTimesValid() {
		t.Errorf("expected strictly increasing times to be valid")
	}

	bad := ConfluenceState{CHoCHAt: &t2, FVGFillAt: &t1, BOSAt: &t3}
	if bad.OrderedTimesValid() {
		t.Errorf("expected fvg_fill_at before choch_at to be invalid")
	}

	partial := ConfluenceState{CHoCHAt: &t1}
	if !partial.OrderedTimesValid() {
		t.Errorf("expected a state with only choch_at set to be trivially valid")
	}
}

func TestConfluenceState_CompleteFieldsPopulated(t *testing.T) {
	base := time.Now().UTC()
	price := 90000.0
	cs := ConfluenceState{
		CHoCHPrice: &price, CHoCHAt: &base,
		FVGLow: &price, FVGHigh: &price, FVGFillAt: &base, FVGFillPx: &price,
		BOSPrice: &price, BOSAt: &base,
	}
	if !cs.CompleteFieldsPopulated() {
		t.Errorf("expected a fully populated state to report complete")
	}
	cs.BOSAt = nil
	if cs.CompleteFieldsPopulated() {
		t.Errorf("expected a missing bos_at to report incomplete")
	}
}

func TestBiasForSweepKindAndDirectionForBias(t *testing.T) {
	if BiasForSweepKind(SwingLow) != BiasBullish {
		t.Errorf("expected a LOW sweep to imply a bullish bias")
	}
	if BiasForSweepKind(SwingHigh) != BiasBearish {
		t.Errorf("expected a HIGH sweep to imply a bearish bias")
	}
	if DirectionForBias(BiasBullish) != DirectionLong {
		t.Errorf("expected bullish bias to imply LONG")
	}
	if DirectionForBias(BiasBearish) != DirectionShort {
		t.Errorf("expected bearish bias to imply SHORT")
	}
}

func TestTrade_UnrealizedPnLQuote(t *testing.T) {
	long := Trade{Direction: DirectionLong, EntryPrice: 90000, SizeBase: 0.1}
	if got := long.UnrealizedPnLQuote(91000); got != 100 {
		t.Errorf("expected long PnL of 100, got %.4f", got)
	}
	short := Trade{Direction: DirectionShort, EntryPrice: 90000, SizeBase: 0.1}
	if got := short.UnrealizedPnLQuote(91000); got != -100 {
		t.Errorf("expected short PnL of -100, got %.4f", got)
	}
}

func TestTrade_ProgressToTarget(t *testing.T) {
	tr := Trade{Direction: DirectionLong, EntryPrice: 90000, TakeProfit: 93600}
	if got := tr.ProgressToTarget(92880); got < 0.799 || got > 0.801 {
		t.Errorf("expected progress ~0.80 at 92880, got %.4f", got)
	}
	if got := tr.ProgressToTarget(89000); got != 0 {
		t.Errorf("expected an adverse move to clamp progress to 0, got %.4f", got)
	}
	if got := tr.ProgressToTarget(95000); got != 1 {
		t.Errorf("expected progress beyond target to clamp to 1, got %.4f", got)
	}
}
