// Package scheduler drives the periodic and event-triggered work the
// scanners need: sweep detection on every 4H close and every tick,
// confluence state advancement on every 5M close and every tick, a
// roughly-30s trade monitor sweep, and a daily candle prune. Grounded on
// the teacher's cmd/mdengine/main.go composition style — channels wired up
// front, a handful of goroutines each owning one concern — generalized
// from a single main-package assembly into a reusable Scheduler type the
// composition root configures and starts.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"trading-systemv1/internal/bus"
	"trading-systemv1/internal/candlestore"
	"trading-systemv1/internal/confluence"
	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
	"trading-systemv1/internal/monitor"
	"trading-systemv1/internal/sweep"
	"trading-systemv1/internal/swing"
)

// Config tunes the scheduler's periodic intervals.
type Config struct {
	MonitorInterval time.Duration // default 30s (§4.10)
	PruneInterval   time.Duration // default 24h
}

// Scheduler wires the event bus to the scanner chain and runs the periodic
// monitor/prune loops.
type Scheduler struct {
	cfg Config

	bus        *bus.Bus
	candles    *candlestore.Store
	swings     *swing.Tracker
	sweeps     *sweep.Detector
	confluence *confluence.Machine
	sweepRepo  model.SweepRepo
	candleRepo model.CandleRepo
	mon        *monitor.Monitor
	metrics    *metrics.Metrics

	log *slog.Logger

	lastPrice float64
}

// Dependencies groups the scanners and stores the scheduler dispatches to.
type Dependencies struct {
	Bus        *bus.Bus
	Candles    *candlestore.Store
	Swings     *swing.Tracker
	Sweeps     *sweep.Detector
	Confluence *confluence.Machine
	SweepRepo  model.SweepRepo
	CandleRepo model.CandleRepo
	Monitor    *monitor.Monitor
	Metrics    *metrics.Metrics
}

func New(cfg Config, deps Dependencies, log *slog.Logger) *Scheduler {
	if cfg.MonitorInterval == 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = 24 * time.Hour
	}
	return &Scheduler{
		cfg:        cfg,
		bus:        deps.Bus,
		candles:    deps.Candles,
		swings:     deps.Swings,
		sweeps:     deps.Sweeps,
		confluence: deps.Confluence,
		sweepRepo:  deps.SweepRepo,
		candleRepo: deps.CandleRepo,
		mon:        deps.Monitor,
		metrics:    deps.Metrics,
		log:        log,
	}
}

// Run starts every scheduled goroutine and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	candleCh := s.bus.Subscribe(bus.TopicCandleClose)
	tickCh := s.bus.Subscribe(bus.TopicTick)

	monitorTicker := time.NewTicker(s.cfg.MonitorInterval)
	defer monitorTicker.Stop()
	pruneTicker := time.NewTicker(s.cfg.PruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-candleCh:
			c, ok := ev.(model.Candle)
			if !ok {
				continue
			}
			s.lastPrice = c.Close
			s.metrics.CandlesTotal.WithLabelValues(string(c.Timeframe)).Inc()
			s.onCandleClose(ctx, c)

		case ev := <-tickCh:
			t, ok := ev.(model.Tick)
			if !ok {
				continue
			}
			s.lastPrice = t.Price
			s.metrics.TicksTotal.Inc()
			s.onTick(ctx, t)

		case <-monitorTicker.C:
			if s.lastPrice > 0 {
				s.mon.Sweep(ctx, s.lastPrice)
			}

		case <-pruneTicker.C:
			s.runDailyPrune(ctx)
		}
	}
}

func (s *Scheduler) onCandleClose(ctx context.Context, c model.Candle) {
	switch c.Timeframe {
	case model.TF4H:
		res, _, err := s.swings.OnClose(ctx, model.TF4H, c)
		if err != nil {
			s.log.Error("scheduler: 4H swing update failed", "stage", "swing_4h", "error", err)
		}
		s.recordSwingResult(model.TF4H, res)
		// Also runs once per 4H candle close against the latest closed bucket.
		s.recordSweepResult(s.sweeps.CheckAndEmit(ctx, model.TF4H, c.Close))

	case model.TF5M:
		res, _, err := s.swings.OnClose(ctx, model.TF5M, c)
		if err != nil {
			s.log.Error("scheduler: 5M swing update failed", "stage", "swing_5m", "error", err)
		}
		s.recordSwingResult(model.TF5M, res)
		s.driveConfluenceOnClose(ctx, c)
	}
}

func (s *Scheduler) onTick(ctx context.Context, t model.Tick) {
	s.recordSweepResult(s.sweeps.CheckAndEmit(ctx, model.TF4H, t.Price))
	s.driveConfluenceOnTick(ctx, t.Price)
}

func (s *Scheduler) recordSwingResult(tf model.Timeframe, res swing.Result) {
	switch res {
	case swing.HighDetected:
		s.metrics.SwingsDetected.WithLabelValues(string(tf), "high").Inc()
	case swing.LowDetected:
		s.metrics.SwingsDetected.WithLabelValues(string(tf), "low").Inc()
	}
}

func (s *Scheduler) recordSweepResult(res sweep.Result, sw *model.Sweep, err error) {
	if err != nil {
		s.log.Error("scheduler: sweep check failed", "stage", "sweep", "error", err)
		return
	}
	if res == sweep.Emitted && sw != nil {
		s.metrics.SweepsDetected.WithLabelValues(string(sw.Bias)).Inc()
	}
}

func (s *Scheduler) recordConfluenceResult(res confluence.Result, cs *model.ConfluenceState) {
	switch res {
	case confluence.AdvancedPhase:
		if cs != nil {
			s.metrics.ConfluenceAdvances.WithLabelValues(string(cs.Phase)).Inc()
		}
	case confluence.Completed:
		s.metrics.ConfluenceComplete.Inc()
	case confluence.Expired:
		s.metrics.ConfluenceExpired.Inc()
	}
}

func (s *Scheduler) driveConfluenceOnClose(ctx context.Context, c model.Candle) {
	bias, ok := s.activeSweepBias(ctx)
	if !ok {
		return
	}
	recent, err := s.candleRepo.Latest(ctx, model.TF5M, confluence.FVGLookback+1)
	if err != nil {
		s.log.Error("scheduler: load recent 5M candles failed", "stage", "confluence_close", "error", err)
		return
	}
	res, cs, err := s.confluence.OnCandleClose(ctx, bias, recent, c)
	if err != nil {
		s.log.Error("scheduler: confluence OnCandleClose failed", "stage", "confluence_close", "error", err)
		return
	}
	s.recordConfluenceResult(res, cs)
}

func (s *Scheduler) driveConfluenceOnTick(ctx context.Context, price float64) {
	bias, ok := s.activeSweepBias(ctx)
	if !ok {
		return
	}
	res, cs, err := s.confluence.OnTick(ctx, bias, price)
	if err != nil {
		s.log.Error("scheduler: confluence OnTick failed", "stage", "confluence_tick", "error", err)
		return
	}
	s.recordConfluenceResult(res, cs)
}

func (s *Scheduler) activeSweepBias(ctx context.Context) (model.Bias, bool) {
	active, err := s.sweepRepo.ActiveSweep(ctx)
	if err != nil {
		s.log.Error("scheduler: load active sweep failed", "stage", "active_sweep", "error", err)
		return "", false
	}
	if active == nil {
		return "", false
	}
	return active.Bias, true
}

func (s *Scheduler) runDailyPrune(ctx context.Context) {
	now := time.Now().UTC()
	for _, tf := range []model.Timeframe{model.TF4H, model.TF5M} {
		floor := candlestore.RetentionFloor(tf, now)
		n, err := s.candles.Prune(ctx, tf, floor)
		if err != nil {
			s.log.Error("scheduler: prune failed", "stage", "prune", "timeframe", tf, "error", err)
			continue
		}
		if n > 0 {
			s.log.Info("scheduler: pruned candles", "timeframe", tf, "rows", n)
		}
	}
}
