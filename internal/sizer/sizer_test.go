package sizer

import (
	"context"
	"errors"
	"testing"

	"trading-systemv1/internal/model"
)

// fakeSwingRepo is a minimal model.SwingRepo backing sizer tests: only
// ActiveSwing is ever called by the sizer, so the other methods just return
// an error if exercised by accident.
type fakeSwingRepo struct {
	byTFKind map[model.Timeframe]map[model.SwingKind]*model.SwingLevel
}

func newFakeSwingRepo() *fakeSwingRepo {
	return &fakeSwingRepo{byTFKind: make(map[model.Timeframe]map[model.SwingKind]*model.SwingLevel)}
}

func (f *fakeSwingRepo) set(tf model.Timeframe, kind model.SwingKind, price float64) {
	if f.byTFKind[tf] == nil {
		f.byTFKind[tf] = make(map[model.SwingKind]*model.SwingLevel)
	}
	f.byTFKind[tf][kind] = &model.SwingLevel{Timeframe: tf, Kind: kind, Price: price, Active: true}
}

func (f *fakeSwingRepo) InsertAndSupersede(ctx context.Context, s model.SwingLevel) (model.SwingLevel, error) {
	return model.SwingLevel{}, errors.New("not used by sizer tests")
}

func (f *fakeSwingRepo) ActiveSwing(ctx context.Context, tf model.Timeframe, kind model.SwingKind) (*model.SwingLevel, error) {
	byKind, ok := f.byTFKind[tf]
	if !ok {
		return nil, nil
	}
	return byKind[kind], nil
}

func (f *fakeSwingRepo) ByID(ctx context.Context, id int64) (*model.SwingLevel, error) {
	return nil, errors.New("not used by sizer tests")
}

// TestSizer_BullishEntryUsesFiveMinuteSwing walks the stop-side portion of
// scenario 1: a 5M swing low of 89,100 under a 90,000 entry yields a stop at
// 0.998x that swing, within the accepted distance band.
func TestSizer_BullishEntryUsesFiveMinuteSwing(t *testing.T) {
	repo := newFakeSwingRepo()
	repo.set(model.TF5M, model.SwingLow, 89100)
	repo.set(model.TF4H, model.SwingLow, 89000)
	s := New(repo)

	stop, err := s.ComputeStop(context.Background(), 90000, model.DirectionLong)
	if err != nil {
		t.Fatalf("ComputeStop: %v", err)
	}
	if stop.Source != model.StopSource5M {
		t.Fatalf("expected 5M stop source, got %s", stop.Source)
	}
	wantStop := 89100 * 0.998
	if stop.Price != wantStop {
		t.Fatalf("expected stop price %.4f, got %.4f", wantStop, stop.Price)
	}

	sizeBase, riskQuote := PositionSize(10000, 90000, stop.Price)
	if riskQuote != 100 {
		t.Fatalf("expected risk_quote=100, got %.4f", riskQuote)
	}
	wantSize := 100 / (90000 - wantStop)
	if diffFrac(sizeBase, wantSize) > 0.0001 {
		t.Fatalf("expected size_base~%.6f, got %.6f", wantSize, sizeBase)
	}
}

// TestSizer_RejectsWhenBothTimeframesOutOfBand walks scenario 2: a 5M swing
// too close to entry (distance below the 0.5% floor) and a 4H swing too far
// (distance above the 3% ceiling) both get rejected, leaving ErrNoValidStop
// and no Trade ever reaching the executor.
func TestSizer_RejectsWhenBothTimeframesOutOfBand(t *testing.T) {
	repo := newFakeSwingRepo()
	repo.set(model.TF5M, model.SwingHigh, 91050)
	repo.set(model.TF4H, model.SwingHigh, 93500)
	s := New(repo)

	_, err := s.ComputeStop(context.Background(), 91000, model.DirectionShort)
	if !errors.Is(err, ErrNoValidStop) {
		t.Fatalf("expected ErrNoValidStop, got %v", err)
	}
}

// TestSizer_RejectsWrongSideSwing covers a swing that sits on the wrong
// side of entry for the requested direction (e.g. a "high" that sits
// below a short's entry) — correctSide must reject it rather than emit a
// stop that would never trigger.
func TestSizer_RejectsWrongSideSwing(t *testing.T) {
	repo := newFakeSwingRepo()
	repo.set(model.TF5M, model.SwingHigh, 89000) // below entry; wrong side for a SHORT stop
	repo.set(model.TF4H, model.SwingHigh, 89000)
	s := New(repo)

	_, err := s.ComputeStop(context.Background(), 90000, model.DirectionShort)
	if !errors.Is(err, ErrNoValidStop) {
		t.Fatalf("expected ErrNoValidStop for wrong-side swing, got %v", err)
	}
}

// TestSizer_NoActiveSwingFallsThrough ensures a missing 5M swing falls
// through to 4H rather than erroring outright.
func TestSizer_NoActiveSwingFallsThrough(t *testing.T) {
	repo := newFakeSwingRepo()
	repo.set(model.TF4H, model.SwingLow, 89000)
	s := New(repo)

	stop, err := s.ComputeStop(context.Background(), 90000, model.DirectionLong)
	if err != nil {
		t.Fatalf("ComputeStop: %v", err)
	}
	if stop.Source != model.StopSource4H {
		t.Fatalf("expected fallback to 4H source, got %s", stop.Source)
	}
}

func diffFrac(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	d := a - b
	if d < 0 {
		d = -d
	}
	return d / b
}
