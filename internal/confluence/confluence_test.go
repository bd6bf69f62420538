package confluence

import (
	"context"
	"sync"
	"testing"
	"time"

	"trading-systemv1/internal/model"
)

// fakeConfluenceRepo is an in-memory model.ConfluenceRepo backing the
// Machine tests, modeled on the teacher's hand-written fakes rather than a
// generated mock.
type fakeConfluenceRepo struct {
	mu     sync.Mutex
	states map[int64]model.ConfluenceState
	nextID int64
	active int64
}

func newFakeConfluenceRepo() *fakeConfluenceRepo {
	return &fakeConfluenceRepo{states: make(map[int64]model.ConfluenceState)}
}

func (f *fakeConfluenceRepo) seed(cs model.ConfluenceState) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cs.ID = f.nextID
	f.states[cs.ID] = cs
	if !cs.Phase.Terminal() {
		f.active = cs.ID
	}
	return cs.ID
}

func (f *fakeConfluenceRepo) ByID(ctx context.Context, id int64) (*model.ConfluenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs, ok := f.states[id]
	if !ok {
		return nil, nil
	}
	cp := cs
	return &cp, nil
}

func (f *fakeConfluenceRepo) ByStatusNonTerminal(ctx context.Context) ([]model.ConfluenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ConfluenceState
	for _, cs := range f.states {
		if !cs.Phase.Terminal() {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (f *fakeConfluenceRepo) ByCompleteSince(ctx context.Context, since time.Time) ([]model.ConfluenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ConfluenceState
	for _, cs := range f.states {
		if cs.Phase == model.PhaseComplete && !cs.UpdatedAt.Before(since) {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (f *fakeConfluenceRepo) Transition(ctx context.Context, cs model.ConfluenceState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[cs.ID] = cs
	if cs.Phase.Terminal() && f.active == cs.ID {
		f.active = 0
	}
	return nil
}

func (f *fakeConfluenceRepo) Active(ctx context.Context) (*model.ConfluenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == 0 {
		return nil, nil
	}
	cp := f.states[f.active]
	return &cp, nil
}

// fakePublisher records PublishSetupReady/PublishSetupExpired calls instead
// of fanning out through a real bus.
type fakePublisher struct {
	ready   []model.ConfluenceState
	expired []model.ConfluenceState
}

func (p *fakePublisher) PublishSetupReady(cs model.ConfluenceState)   { p.ready = append(p.ready, cs) }
func (p *fakePublisher) PublishSetupExpired(cs model.ConfluenceState) { p.expired = append(p.expired, cs) }

func candleAt(base time.Time, offsetMin int, open, high, low, close float64) model.Candle {
	return model.Candle{
		Timeframe:   model.TF5M,
		BucketStart: base.Add(time.Duration(offsetMin) * time.Minute),
		Open:        open,
		High:        high,
		Low:         low,
		Close:       close,
		Volume:      10,
	}
}

// TestMachine_BullishSetupCompletes walks scenario 1: a CHoCH confirmed by a
// close above the prior five candles' high, a three-candle FVG whose zone is
// later filled by an intra-candle tick, and a BOS confirmed once price clears
// choch_price by more than the threshold.
func TestMachine_BullishSetupCompletes(t *testing.T) {
	repo := newFakeConfluenceRepo()
	pub := &fakePublisher{}
	m := New(repo, pub)
	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)

	id := repo.seed(model.ConfluenceState{Phase: model.PhaseWaitingCHoCH, CreatedAt: base})

	prior := []model.Candle{
		candleAt(base, 0, 89100, 89200, 89050, 89150),
		candleAt(base, 5, 89150, 89300, 89100, 89250),
		candleAt(base, 10, 89250, 89100, 89000, 89050),
		candleAt(base, 15, 89050, 89400, 89000, 89350),
		candleAt(base, 20, 89350, 89250, 89150, 89200),
	}
	closer := candleAt(base, 25, 89200, 89650, 89150, 89600)
	recent := append(append([]model.Candle{}, prior...), closer)

	res, cs, err := m.OnCandleClose(ctx, model.BiasBullish, recent, closer)
	if err != nil {
		t.Fatalf("CHoCH close: %v", err)
	}
	if res != AdvancedPhase {
		t.Fatalf("expected AdvancedPhase on CHoCH confirmation, got %v", res)
	}
	if cs.Phase != model.PhaseWaitingFVG {
		t.Fatalf("expected WAITING_FVG, got %s", cs.Phase)
	}
	if cs.CHoCHPrice == nil || *cs.CHoCHPrice != 89600 {
		t.Fatalf("expected choch_price=89600, got %v", cs.CHoCHPrice)
	}

	fvgWindow := append(append([]model.Candle{}, recent...),
		candleAt(base, 30, 89400, 89200, 89180, 89195),
		candleAt(base, 35, 89195, 89250, 89190, 89220),
		candleAt(base, 40, 89220, 89370, 89350, 89360),
	)
	fvgCloser := fvgWindow[len(fvgWindow)-1]

	res, cs, err = m.OnCandleClose(ctx, model.BiasBullish, fvgWindow, fvgCloser)
	if err != nil {
		t.Fatalf("FVG close: %v", err)
	}
	if res != NoChange {
		t.Fatalf("expected NoChange (zone found but not yet filled), got %v", res)
	}
	if cs.FVGLow == nil || cs.FVGHigh == nil {
		t.Fatalf("expected FVG zone recorded")
	}
	if *cs.FVGLow != 89200 || *cs.FVGHigh != 89350 {
		t.Fatalf("expected FVG zone [89200,89350], got [%v,%v]", *cs.FVGLow, *cs.FVGHigh)
	}

	res, cs, err = m.OnTick(ctx, model.BiasBullish, 89300)
	if err != nil {
		t.Fatalf("FVG fill tick: %v", err)
	}
	if res != AdvancedPhase || cs.Phase != model.PhaseWaitingBOS {
		t.Fatalf("expected fill to advance to WAITING_BOS, got %v / %s", res, cs.Phase)
	}

	res, cs, err = m.OnTick(ctx, model.BiasBullish, 89689)
	if err != nil {
		t.Fatalf("sub-threshold BOS tick: %v", err)
	}
	if res != NoChange {
		t.Fatalf("expected BOS threshold not yet cleared, got %v", res)
	}

	res, cs, err = m.OnTick(ctx, model.BiasBullish, 89800)
	if err != nil {
		t.Fatalf("BOS tick: %v", err)
	}
	if res != Completed || cs.Phase != model.PhaseComplete {
		t.Fatalf("expected Completed, got %v / %s", res, cs.Phase)
	}
	if len(pub.ready) != 1 || pub.ready[0].ID != id {
		t.Fatalf("expected exactly one setup.ready publish for state %d, got %+v", id, pub.ready)
	}
}

// TestMachine_BearishSetupCompletes mirrors the bullish path for scenario 2's
// bearish lean, confirming the confluence state machine reaches COMPLETE
// before the sizer's stop-distance rejection (covered in the sizer/executor
// test) ever runs.
func TestMachine_BearishSetupCompletes(t *testing.T) {
	repo := newFakeConfluenceRepo()
	pub := &fakePublisher{}
	m := New(repo, pub)
	ctx := context.Background()
	base := time.Now().UTC().Add(-2 * time.Hour)

	repo.seed(model.ConfluenceState{Phase: model.PhaseWaitingCHoCH, CreatedAt: base})

	prior := []model.Candle{
		candleAt(base, 0, 91100, 91200, 91050, 91150),
		candleAt(base, 5, 91150, 91250, 91000, 91050),
		candleAt(base, 10, 91050, 91150, 90950, 91100),
		candleAt(base, 15, 91100, 91200, 90900, 90950),
		candleAt(base, 20, 90950, 91050, 90980, 91000),
	}
	closer := candleAt(base, 25, 91000, 91050, 90700, 90750)
	recent := append(append([]model.Candle{}, prior...), closer)

	res, cs, err := m.OnCandleClose(ctx, model.BiasBearish, recent, closer)
	if err != nil {
		t.Fatalf("CHoCH close: %v", err)
	}
	if res != AdvancedPhase || cs.Phase != model.PhaseWaitingFVG {
		t.Fatalf("expected advance to WAITING_FVG, got %v / %s", res, cs.Phase)
	}

	fvgWindow := append(append([]model.Candle{}, recent...),
		candleAt(base, 30, 90750, 90700, 90650, 90680),
		candleAt(base, 35, 90680, 90650, 90600, 90620),
		candleAt(base, 40, 90620, 90480, 90450, 90460),
	)
	fvgCloser := fvgWindow[len(fvgWindow)-1]
	res, cs, err = m.OnCandleClose(ctx, model.BiasBearish, fvgWindow, fvgCloser)
	if err != nil {
		t.Fatalf("FVG close: %v", err)
	}
	if cs.FVGLow == nil || cs.FVGHigh == nil {
		t.Fatalf("expected bearish FVG zone recorded")
	}

	res, cs, err = m.OnTick(ctx, model.BiasBearish, (*cs.FVGLow+*cs.FVGHigh)/2)
	if err != nil {
		t.Fatalf("fill tick: %v", err)
	}
	if res != AdvancedPhase || cs.Phase != model.PhaseWaitingBOS {
		t.Fatalf("expected WAITING_BOS, got %v / %s", res, cs.Phase)
	}

	res, cs, err = m.OnTick(ctx, model.BiasBearish, *cs.CHoCHPrice*(1-BOSThreshold)-1)
	if err != nil {
		t.Fatalf("BOS tick: %v", err)
	}
	if res != Completed || cs.Phase != model.PhaseComplete {
		t.Fatalf("expected Completed, got %v / %s", res, cs.Phase)
	}
}

// TestMachine_ExpiresWhenFVGNeverFills walks scenario 3: a state stuck in
// WAITING_FVG past ConfluenceExpiry is marked EXPIRED and no setup is
// published, rather than being silently left open forever.
func TestMachine_ExpiresWhenFVGNeverFills(t *testing.T) {
	repo := newFakeConfluenceRepo()
	pub := &fakePublisher{}
	m := New(repo, pub)
	ctx := context.Background()

	createdAt := time.Now().UTC().Add(-model.ConfluenceExpiry - time.Minute)
	chochPrice := 89600.0
	repo.seed(model.ConfluenceState{
		Phase:      model.PhaseWaitingFVG,
		CreatedAt:  createdAt,
		CHoCHPrice: &chochPrice,
	})

	res, cs, err := m.OnTick(ctx, model.BiasBullish, 89300)
	if err != nil {
		t.Fatalf("expire tick: %v", err)
	}
	if res != Expired || cs.Phase != model.PhaseExpired {
		t.Fatalf("expected Expired, got %v / %s", res, cs.Phase)
	}
	if len(pub.ready) != 0 {
		t.Fatalf("expected no setup.ready publish for an expired state")
	}
	if len(pub.expired) != 1 {
		t.Fatalf("expected exactly one setup.expired publish, got %d", len(pub.expired))
	}

	active, err := repo.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active state after expiry, got %+v", active)
	}
}

// TestMachine_CompletedStateIsImmutable backstops scenario 4's precondition:
// once a ConfluenceState reaches COMPLETE, the state machine must treat it
// as inert so a resulting Trade's trailing-stop lifecycle (owned by
// internal/monitor) is never disturbed by a late tick or candle close
// replaying against the same state.
func TestMachine_CompletedStateIsImmutable(t *testing.T) {
	repo := newFakeConfluenceRepo()
	pub := &fakePublisher{}
	m := New(repo, pub)
	ctx := context.Background()

	bosPrice := 89800.0
	completedID := repo.seed(model.ConfluenceState{
		Phase:     model.PhaseComplete,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		BOSPrice:  &bosPrice,
	})

	res, cs, err := m.OnTick(ctx, model.BiasBullish, 95000)
	if err != nil {
		t.Fatalf("tick against completed state: %v", err)
	}
	if res != NoChange {
		t.Fatalf("expected NoChange against a terminal state, got %v", res)
	}
	if cs != nil && cs.ID == completedID && cs.Phase != model.PhaseComplete {
		t.Fatalf("completed state must not be mutated by a later tick")
	}

	active, err := repo.Active(ctx)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active != nil {
		t.Fatalf("a COMPLETE state must never be reported active")
	}
}
