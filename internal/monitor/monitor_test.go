package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
)

var metricsOnce sync.Once
var sharedMetrics *metrics.Metrics

// testMetrics returns a single process-wide Metrics instance: NewMetrics
// registers against the default Prometheus registry and panics on a second
// registration, so every test in this file shares one.
func testMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = metrics.NewMetrics()
	})
	return sharedMetrics
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeRESTClient sequences OrderStatus replies per order ID and records
// every PlaceOrder/CancelOrder call in order.
type fakeRESTClient struct {
	statusByOrder map[string]exchange.OrderAck
	placeResults  []exchange.OrderAck
	placeErrs     []error
	placeCalls    []exchange.OrderRequest
	cancelCalls   []string
	cancelErrs    map[string]error
}

func (f *fakeRESTClient) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	i := len(f.placeCalls)
	f.placeCalls = append(f.placeCalls, req)
	var ack exchange.OrderAck
	var err error
	if i < len(f.placeResults) {
		ack = f.placeResults[i]
	}
	if i < len(f.placeErrs) {
		err = f.placeErrs[i]
	}
	return ack, err
}

func (f *fakeRESTClient) CancelOrder(ctx context.Context, orderID string) error {
	f.cancelCalls = append(f.cancelCalls, orderID)
	if f.cancelErrs != nil {
		return f.cancelErrs[orderID]
	}
	return nil
}

func (f *fakeRESTClient) OrderStatus(ctx context.Context, orderID string) (exchange.OrderAck, error) {
	if ack, ok := f.statusByOrder[orderID]; ok {
		return ack, nil
	}
	return exchange.OrderAck{OrderID: orderID, Status: model.OrderPending}, nil
}

func (f *fakeRESTClient) AccountBalance(ctx context.Context) (float64, error) { return 10000, nil }
func (f *fakeRESTClient) Ping(ctx context.Context) error                     { return nil }

// fakeTradeRepo implements model.TradeRepo and records every mutating call.
type fakeTradeRepo struct {
	open []model.Trade

	closedID      int64
	closeCalled   bool
	activateCalls []activateCall
	reinstateCalls []reinstateCall
}

type activateCall struct {
	id            int64
	newStopOrder  string
	trailingPrice float64
}

type reinstateCall struct {
	id      int64
	orderID string
}

func (f *fakeTradeRepo) Create(ctx context.Context, t model.Trade) (model.Trade, error) {
	return t, nil
}

func (f *fakeTradeRepo) ByID(ctx context.Context, id int64) (*model.Trade, error) {
	for _, t := range f.open {
		if t.ID == id {
			return &t, nil
		}
	}
	return nil, nil
}

func (f *fakeTradeRepo) Open(ctx context.Context) ([]model.Trade, error) {
	return f.open, nil
}

func (f *fakeTradeRepo) Close(ctx context.Context, id int64, exitPrice float64, exitAt time.Time, outcome model.Outcome, pnlQuote, pnlPercent float64) (bool, error) {
	f.closeCalled = true
	f.closedID = id
	return true, nil
}

func (f *fakeTradeRepo) UpdateUnrealized(ctx context.Context, id int64, pnlPercent float64) error {
	return nil
}

func (f *fakeTradeRepo) ActivateTrailing(ctx context.Context, id int64, newStopOrderID string, trailingPrice float64) error {
	f.activateCalls = append(f.activateCalls, activateCall{id, newStopOrderID, trailingPrice})
	return nil
}

func (f *fakeTradeRepo) ReinstateStop(ctx context.Context, id int64, stopOrderID string) error {
	f.reinstateCalls = append(f.reinstateCalls, reinstateCall{id, stopOrderID})
	return nil
}

func (f *fakeTradeRepo) ConsecutiveLosses(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeTradeRepo) RealizedPnLSince(ctx context.Context, since time.Time) (float64, error) {
	return 0, nil
}

func openLongTrade() model.Trade {
	return model.Trade{
		ID:           1,
		Direction:    model.DirectionLong,
		EntryPrice:   90000,
		EntryAt:      time.Now().UTC().Add(-time.Hour),
		SizeBase:     0.1,
		StopPrice:    89200,
		TakeProfit:   93600,
		Status:       model.TradeOpen,
		StopOrderID:  "stop-1",
		TPOrderID:    "tp-1",
	}
}

// TestMonitor_PromotesTrailingStopAtEightyPercentProgress walks the scenario
// where price has covered 80%+ of the distance to target: the stop must be
// cancelled and replaced at breakeven, and the trade record marked trailing.
func TestMonitor_PromotesTrailingStopAtEightyPercentProgress(t *testing.T) {
	trade := openLongTrade()
	repo := &fakeTradeRepo{open: []model.Trade{trade}}
	client := &fakeRESTClient{
		statusByOrder: map[string]exchange.OrderAck{
			"stop-1": {OrderID: "stop-1", Status: model.OrderOpen},
			"tp-1":   {OrderID: "tp-1", Status: model.OrderOpen},
		},
		placeResults: []exchange.OrderAck{{OrderID: "stop-2", Status: model.OrderOpen}},
	}
	mon := New(Config{Mode: TrailingBreakeven}, client, repo, testMetrics(), discardLogger())

	currentPrice := 92980.0 // progress ~0.83
	mon.Sweep(context.Background(), currentPrice)

	if len(client.cancelCalls) != 1 || client.cancelCalls[0] != "stop-1" {
		t.Fatalf("expected the original stop cancelled exactly once, got %+v", client.cancelCalls)
	}
	if len(client.placeCalls) != 1 {
		t.Fatalf("expected exactly one replacement stop placed, got %d", len(client.placeCalls))
	}
	if client.placeCalls[0].StopPrice != trade.EntryPrice {
		t.Fatalf("expected the replacement stop at breakeven (%v), got %v", trade.EntryPrice, client.placeCalls[0].StopPrice)
	}
	if len(repo.activateCalls) != 1 || repo.activateCalls[0].newStopOrder != "stop-2" {
		t.Fatalf("expected ActivateTrailing recorded with the new stop order id, got %+v", repo.activateCalls)
	}
}

// TestMonitor_ReinstatesOriginalStopWhenReplacementFails covers §4.10's
// requirement that a failed trailing promotion leaves the original stop
// re-placed rather than the position naked.
func TestMonitor_ReinstatesOriginalStopWhenReplacementFails(t *testing.T) {
	trade := openLongTrade()
	repo := &fakeTradeRepo{open: []model.Trade{trade}}
	client := &fakeRESTClient{
		statusByOrder: map[string]exchange.OrderAck{
			"stop-1": {OrderID: "stop-1", Status: model.OrderOpen},
			"tp-1":   {OrderID: "tp-1", Status: model.OrderOpen},
		},
		placeResults: []exchange.OrderAck{
			{},                                           // replacement stop placement
			{OrderID: "stop-reinstated", Status: model.OrderOpen}, // reinstated original
		},
		placeErrs: []error{errors.New("exchange rejected order"), nil},
	}
	mon := New(Config{Mode: TrailingBreakeven}, client, repo, testMetrics(), discardLogger())

	mon.Sweep(context.Background(), 92980.0)

	if len(client.placeCalls) != 2 {
		t.Fatalf("expected a failed replacement followed by a reinstatement attempt, got %d place calls", len(client.placeCalls))
	}
	if client.placeCalls[1].StopPrice != trade.StopPrice {
		t.Fatalf("expected the reinstated stop at the original price %v, got %v", trade.StopPrice, client.placeCalls[1].StopPrice)
	}
	if len(repo.reinstateCalls) != 1 || repo.reinstateCalls[0].orderID != "stop-reinstated" {
		t.Fatalf("expected ReinstateStop recorded with the reinstated order id, got %+v", repo.reinstateCalls)
	}
	if len(repo.activateCalls) != 0 {
		t.Fatalf("expected trailing to remain unactivated after a failed promotion, got %+v", repo.activateCalls)
	}
}

// TestMonitor_ClosesTradeOnStopFill confirms a filled stop order closes the
// trade as a loss without touching the take-profit or timeout paths.
func TestMonitor_ClosesTradeOnStopFill(t *testing.T) {
	trade := openLongTrade()
	repo := &fakeTradeRepo{open: []model.Trade{trade}}
	client := &fakeRESTClient{
		statusByOrder: map[string]exchange.OrderAck{
			"stop-1": {OrderID: "stop-1", Status: model.OrderFilled, FillPrice: 89200},
		},
	}
	mon := New(Config{Mode: TrailingBreakeven}, client, repo, testMetrics(), discardLogger())

	mon.Sweep(context.Background(), 89200)

	if !repo.closeCalled || repo.closedID != trade.ID {
		t.Fatalf("expected the trade closed on stop fill, got closeCalled=%v id=%v", repo.closeCalled, repo.closedID)
	}
}

// TestMonitor_SkipsAlreadyTrailingTrades confirms a trade that already had
// its stop promoted is never promoted a second time.
func TestMonitor_SkipsAlreadyTrailingTrades(t *testing.T) {
	trade := openLongTrade()
	trade.TrailingActivated = true
	repo := &fakeTradeRepo{open: []model.Trade{trade}}
	client := &fakeRESTClient{
		statusByOrder: map[string]exchange.OrderAck{
			"stop-1": {OrderID: "stop-1", Status: model.OrderOpen},
			"tp-1":   {OrderID: "tp-1", Status: model.OrderOpen},
		},
	}
	mon := New(Config{Mode: TrailingBreakeven}, client, repo, testMetrics(), discardLogger())

	mon.Sweep(context.Background(), 92980.0)

	if len(client.cancelCalls) != 0 || len(client.placeCalls) != 0 {
		t.Fatalf("expected no stop replacement for an already-trailing trade, got cancel=%v place=%v",
			client.cancelCalls, client.placeCalls)
	}
}
