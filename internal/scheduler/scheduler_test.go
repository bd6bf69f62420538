package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"trading-systemv1/internal/bus"
	"trading-systemv1/internal/candlestore"
	"trading-systemv1/internal/confluence"
	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
	"trading-systemv1/internal/monitor"
	"trading-systemv1/internal/sweep"
	"trading-systemv1/internal/swing"
)

var testMetricsOnce sync.Once
var testMetricsInstance *metrics.Metrics

func testMetrics() *metrics.Metrics {
	testMetricsOnce.Do(func() { testMetricsInstance = metrics.NewMetrics() })
	return testMetricsInstance
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

type fakeSwingRepo struct {
	active map[string]*model.SwingLevel
}

func swingKey(tf model.Timeframe, kind model.SwingKind) string { return string(tf) + ":" + string(kind) }

func (f *fakeSwingRepo) InsertAndSupersede(ctx context.Context, s model.SwingLevel) (model.SwingLevel, error) {
	if f.active == nil {
		f.active = map[string]*model.SwingLevel{}
	}
	s.Active = true
	f.active[swingKey(s.Timeframe, s.Kind)] = &s
	return s, nil
}
func (f *fakeSwingRepo) ActiveSwing(ctx context.Context, tf model.Timeframe, kind model.SwingKind) (*model.SwingLevel, error) {
	return f.active[swingKey(tf, kind)], nil
}
func (f *fakeSwingRepo) ByID(ctx context.Context, id int64) (*model.SwingLevel, error) { return nil, nil }

type fakeSweepRepo struct {
	mu       sync.Mutex
	active   *model.Sweep
	inserted []model.Sweep
}

func (f *fakeSweepRepo) InsertAndSupersede(ctx context.Context, s model.Sweep) (model.Sweep, model.ConfluenceState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = int64(len(f.inserted) + 1)
	s.Active = true
	f.inserted = append(f.inserted, s)
	f.active = &s
	return s, model.ConfluenceState{ID: s.ID, SweepID: s.ID, Phase: model.PhaseWaitingCHoCH}, nil
}
func (f *fakeSweepRepo) ActiveSweep(ctx context.Context) (*model.Sweep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active, nil
}
func (f *fakeSweepRepo) ByID(ctx context.Context, id int64) (*model.Sweep, error) { return nil, nil }
func (f *fakeSweepRepo) MarkExpired(ctx context.Context, id int64) error          { return nil }

type fakeConfluenceRepo struct {
	active    *model.ConfluenceState
	transitions []model.ConfluenceState
}

func (f *fakeConfluenceRepo) ByID(ctx context.Context, id int64) (*model.ConfluenceState, error) {
	if f.active != nil && f.active.ID == id {
		return f.active, nil
	}
	return nil, nil
}
func (f *fakeConfluenceRepo) ByStatusNonTerminal(ctx context.Context) ([]model.ConfluenceState, error) {
	return nil, nil
}
func (f *fakeConfluenceRepo) ByCompleteSince(ctx context.Context, since time.Time) ([]model.ConfluenceState, error) {
	return nil, nil
}
func (f *fakeConfluenceRepo) Transition(ctx context.Context, cs model.ConfluenceState) error {
	f.transitions = append(f.transitions, cs)
	f.active = &cs
	return nil
}
func (f *fakeConfluenceRepo) Active(ctx context.Context) (*model.ConfluenceState, error) {
	return f.active, nil
}

type fakeCandleRepo struct {
	latestResult []model.Candle
	pruneCalls   []struct {
		tf        model.Timeframe
		olderThan time.Time
	}
}

func (f *fakeCandleRepo) Insert(ctx context.Context, c model.Candle) (model.InsertOutcome, error) {
	return model.Inserted, nil
}
func (f *fakeCandleRepo) Range(ctx context.Context, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	return nil, nil
}
func (f *fakeCandleRepo) Latest(ctx context.Context, tf model.Timeframe, n int) ([]model.Candle, error) {
	return f.latestResult, nil
}
func (f *fakeCandleRepo) DetectGaps(ctx context.Context, tf model.Timeframe, window time.Duration) ([]time.Time, error) {
	return nil, nil
}
func (f *fakeCandleRepo) Prune(ctx context.Context, tf model.Timeframe, olderThan time.Time) (int64, error) {
	f.pruneCalls = append(f.pruneCalls, struct {
		tf        model.Timeframe
		olderThan time.Time
	}{tf, olderThan})
	return 3, nil
}

type fakeTradeRepo struct{}

func (f *fakeTradeRepo) Create(ctx context.Context, t model.Trade) (model.Trade, error) { return t, nil }
func (f *fakeTradeRepo) ByID(ctx context.Context, id int64) (*model.Trade, error)       { return nil, nil }
func (f *fakeTradeRepo) Open(ctx context.Context) ([]model.Trade, error)                { return nil, nil }
func (f *fakeTradeRepo) Close(ctx context.Context, id int64, exitPrice float64, exitAt time.Time, outcome model.Outcome, pnlQuote, pnlPercent float64) (bool, error) {
	return true, nil
}
func (f *fakeTradeRepo) UpdateUnrealized(ctx context.Context, id int64, pnlPercent float64) error {
	return nil
}
func (f *fakeTradeRepo) ActivateTrailing(ctx context.Context, id int64, newStopOrderID string, trailingPrice float64) error {
	return nil
}
func (f *fakeTradeRepo) ReinstateStop(ctx context.Context, id int64, stopOrderID string) error {
	return nil
}
func (f *fakeTradeRepo) ConsecutiveLosses(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeTradeRepo) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	return 0, nil
}

type fakeRESTClient struct{}

func (f *fakeRESTClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	return exchange.OrderAck{OrderID: "o1", Status: model.OrderFilled}, nil
}
func (f *fakeRESTClient) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeRESTClient) OrderStatus(ctx context.Context, orderID string) (exchange.OrderAck, error) {
	return exchange.OrderAck{OrderID: orderID, Status: model.OrderFilled}, nil
}
func (f *fakeRESTClient) AccountBalance(ctx context.Context) (float64, error) { return 10000, nil }
func (f *fakeRESTClient) Ping(ctx context.Context) error                     { return nil }

func buildScheduler(t *testing.T, swingRepo *fakeSwingRepo, sweepRepo *fakeSweepRepo, confluenceRepo *fakeConfluenceRepo, candleRepo *fakeCandleRepo) *Scheduler {
	t.Helper()
	b := bus.New(8, discardLogger())
	deps := Dependencies{
		Bus:        b,
		Candles:    candlestore.New(candleRepo),
		Swings:     swing.New(swingRepo),
		Sweeps:     sweep.New(swingRepo, sweepRepo),
		Confluence: confluence.New(confluenceRepo, b),
		SweepRepo:  sweepRepo,
		CandleRepo: candleRepo,
		Monitor:    monitor.New(monitor.Config{}, &fakeRESTClient{}, &fakeTradeRepo{}, testMetrics(), discardLogger()),
		Metrics:    testMetrics(),
	}
	return New(Config{}, deps, discardLogger())
}

// TestScheduler_OnTickEmitsSweepWhenActiveSwingPierced confirms a tick
// clearing the active 4H low swing's pierce threshold emits a sweep and
// seeds a fresh active ConfluenceState.
func TestScheduler_OnTickEmitsSweepWhenActiveSwingPierced(t *testing.T) {
	swingRepo := &fakeSwingRepo{active: map[string]*model.SwingLevel{
		swingKey(model.TF4H, model.SwingLow): {ID: 1, Timeframe: model.TF4H, Kind: model.SwingLow, Price: 90000, Active: true},
	}}
	sweepRepo := &fakeSweepRepo{}
	confluenceRepo := &fakeConfluenceRepo{}
	s := buildScheduler(t, swingRepo, sweepRepo, confluenceRepo, &fakeCandleRepo{})

	s.onTick(context.Background(), model.Tick{Price: 89800, At: time.Now().UTC()})

	if len(sweepRepo.inserted) != 1 {
		t.Fatalf("expected one sweep emitted, got %d", len(sweepRepo.inserted))
	}
	if sweepRepo.inserted[0].Bias != model.BiasBullish {
		t.Fatalf("expected a low-swing sweep to carry a bullish reversal bias, got %v", sweepRepo.inserted[0].Bias)
	}
}

// TestScheduler_OnTickDoesNotReemitWhileSameSwingStaysBreached confirms a
// sustained breakout lasting multiple ticks emits at most one sweep, so the
// fresh ConfluenceState it seeds is never reset mid-formation.
func TestScheduler_OnTickDoesNotReemitWhileSameSwingStaysBreached(t *testing.T) {
	swingRepo := &fakeSwingRepo{active: map[string]*model.SwingLevel{
		swingKey(model.TF4H, model.SwingLow): {ID: 1, Timeframe: model.TF4H, Kind: model.SwingLow, Price: 90000, Active: true},
	}}
	sweepRepo := &fakeSweepRepo{}
	confluenceRepo := &fakeConfluenceRepo{}
	s := buildScheduler(t, swingRepo, sweepRepo, confluenceRepo, &fakeCandleRepo{})

	for i := 0; i < 5; i++ {
		s.onTick(context.Background(), model.Tick{Price: 89800 - float64(i), At: time.Now().UTC()})
	}

	if len(sweepRepo.inserted) != 1 {
		t.Fatalf("expected a sustained breach to emit exactly one sweep, got %d", len(sweepRepo.inserted))
	}
}

// TestScheduler_DriveConfluenceOnTickAdvancesWaitingBOS confirms a tick
// that clears the CHoCH price by the BOS threshold advances an active
// WAITING_BOS state to COMPLETE.
func TestScheduler_DriveConfluenceOnTickAdvancesWaitingBOS(t *testing.T) {
	sweepRepo := &fakeSweepRepo{active: &model.Sweep{ID: 7, Bias: model.BiasBullish, Active: true}}
	chochPrice := 90000.0
	confluenceRepo := &fakeConfluenceRepo{active: &model.ConfluenceState{
		ID: 7, SweepID: 7, Phase: model.PhaseWaitingBOS, CHoCHPrice: &chochPrice, CreatedAt: time.Now().UTC(),
	}}
	s := buildScheduler(t, &fakeSwingRepo{}, sweepRepo, confluenceRepo, &fakeCandleRepo{})

	s.driveConfluenceOnTick(context.Background(), 90200)

	if len(confluenceRepo.transitions) != 1 {
		t.Fatalf("expected one confluence transition, got %d", len(confluenceRepo.transitions))
	}
	if confluenceRepo.transitions[0].Phase != model.PhaseComplete {
		t.Fatalf("expected the state to complete on BOS confirmation, got %v", confluenceRepo.transitions[0].Phase)
	}
}

// TestScheduler_ActiveSweepBiasReportsFalseWithNoActiveSweep confirms the
// scheduler does not drive confluence when no sweep is active.
func TestScheduler_ActiveSweepBiasReportsFalseWithNoActiveSweep(t *testing.T) {
	sweepRepo := &fakeSweepRepo{}
	s := buildScheduler(t, &fakeSwingRepo{}, sweepRepo, &fakeConfluenceRepo{}, &fakeCandleRepo{})

	_, ok := s.activeSweepBias(context.Background())
	if ok {
		t.Fatalf("expected no active sweep to report false")
	}
}

// TestScheduler_RunDailyPruneUsesRetentionFloorsForBothTimeframes confirms
// the daily prune sweep covers both timeframes with their documented
// retention floors.
func TestScheduler_RunDailyPruneUsesRetentionFloorsForBothTimeframes(t *testing.T) {
	candleRepo := &fakeCandleRepo{}
	s := buildScheduler(t, &fakeSwingRepo{}, &fakeSweepRepo{}, &fakeConfluenceRepo{}, candleRepo)

	s.runDailyPrune(context.Background())

	if len(candleRepo.pruneCalls) != 2 {
		t.Fatalf("expected both timeframes pruned, got %d calls", len(candleRepo.pruneCalls))
	}
	seen := map[model.Timeframe]bool{}
	for _, call := range candleRepo.pruneCalls {
		seen[call.tf] = true
	}
	if !seen[model.TF4H] || !seen[model.TF5M] {
		t.Fatalf("expected both 4H and 5M pruned, got %+v", candleRepo.pruneCalls)
	}
}
