// Package pipeline is the consumer side of a completed setup: it subscribes
// to internal/bus's setup.ready topic and runs the sizer (C6), the risk gate
// (C7), the AI adapter (C8), and the executor (C9) in sequence, stopping at
// the first stage that declines the trade. Grounded on the teacher's
// cmd/mdengine/main.go, which wires its ingest-to-strategy chain the same
// way: a single goroutine reading one channel and calling each collaborator
// in turn, logging and continuing rather than crashing the process on a
// stage failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-systemv1/internal/ai"
	"trading-systemv1/internal/apperr"
	"trading-systemv1/internal/bus"
	"trading-systemv1/internal/econcalendar"
	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/executor"
	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
	"trading-systemv1/internal/notification"
	"trading-systemv1/internal/risk"
	"trading-systemv1/internal/sizer"
)

// MarketConditions supplies the AI adapter's market-safety inputs (§4.8
// overrides), sourced from whatever ticker/orderbook feed the composition
// root wires in. Kept as an interface so this package never imports a
// concrete market-data client.
type MarketConditions interface {
	HourlyVolatility(ctx context.Context) (float64, error)
	Volume(ctx context.Context) (current, average float64, err error)
	BidAskSpread(ctx context.Context) (float64, error)
	Change24h(ctx context.Context) (float64, error)
	SanityBand(ctx context.Context) (low, high float64, err error)
	CurrentPrice(ctx context.Context) (float64, error)
}

// Pipeline reacts to completed setups and drives them through sizing, the
// risk gate, AI approval, and execution.
type Pipeline struct {
	bus        *bus.Bus
	sweeps     model.SweepRepo
	confluence model.ConfluenceRepo
	flags      model.FlagRepo
	sizer      *sizer.Sizer
	risk       *risk.Gate
	ai         *ai.Adapter
	exec       *executor.Executor
	exchange   exchange.RESTClient
	market     MarketConditions
	econ       *econcalendar.Calendar
	notifier   notification.Notifier
	metrics    *metrics.Metrics

	log *slog.Logger
}

// Dependencies groups the collaborators Pipeline dispatches to.
type Dependencies struct {
	Bus        *bus.Bus
	Sweeps     model.SweepRepo
	Confluence model.ConfluenceRepo
	Flags      model.FlagRepo
	Sizer      *sizer.Sizer
	Risk       *risk.Gate
	AI         *ai.Adapter
	Executor   *executor.Executor
	Exchange   exchange.RESTClient
	Market     MarketConditions
	Econ       *econcalendar.Calendar
	Notifier   notification.Notifier
	Metrics    *metrics.Metrics
}

func New(deps Dependencies, log *slog.Logger) *Pipeline {
	return &Pipeline{
		bus:        deps.Bus,
		sweeps:     deps.Sweeps,
		confluence: deps.Confluence,
		flags:      deps.Flags,
		sizer:      deps.Sizer,
		risk:       deps.Risk,
		ai:         deps.AI,
		exec:       deps.Executor,
		exchange:   deps.Exchange,
		market:     deps.Market,
		econ:       deps.Econ,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		log:        log,
	}
}

// EmergencyStopFlag is the FlagRepo key the operator surface sets to halt
// new entries (§ operator surface). Monitor keeps managing open trades
// regardless; only the pipeline's entry path checks this.
const EmergencyStopFlag = "emergency_stop"

// Run subscribes to setup.ready and processes each completed setup in turn
// until ctx is cancelled. One goroutine, sequential processing: at most one
// setup is ever in flight, matching the engine's single-active-setup
// invariant (§3).
func (p *Pipeline) Run(ctx context.Context) {
	ch := p.bus.Subscribe(bus.TopicSetupReady)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			cs, ok := ev.(model.ConfluenceState)
			if !ok {
				continue
			}
			p.handle(ctx, cs)
		}
	}
}

// handle drives one completed ConfluenceState through C6-C9. Every stage
// failure is logged with the stage name and the function returns; nothing
// here is fatal to the pipeline goroutine itself.
func (p *Pipeline) handle(ctx context.Context, cs model.ConfluenceState) {
	if stopped, _, err := p.flags.Get(ctx, EmergencyStopFlag); err == nil && stopped == "true" {
		p.log.Warn("pipeline: emergency stop active, setup dropped", "stage", "emergency_stop", "confluence_state_id", cs.ID)
		return
	}

	sweep, err := p.sweeps.ByID(ctx, cs.SweepID)
	if err != nil || sweep == nil {
		p.log.Error("pipeline: load sweep for completed setup failed", "stage", "load_sweep", "confluence_state_id", cs.ID, "error", err)
		return
	}
	direction := model.DirectionForBias(sweep.Bias)

	currentPrice, err := p.market.CurrentPrice(ctx)
	if err != nil {
		p.log.Error("pipeline: read current price failed", "stage", "market_price", "confluence_state_id", cs.ID, "error", err)
		return
	}

	accountBalance, err := p.exchange.AccountBalance(ctx)
	if err != nil {
		p.log.Error("pipeline: read account balance failed", "stage", "account_balance", "confluence_state_id", cs.ID, "error", err)
		return
	}

	stop, err := p.sizer.ComputeStop(ctx, currentPrice, direction)
	if err != nil {
		p.log.Warn("pipeline: no valid stop, setup rejected", "stage", "sizer", "confluence_state_id", cs.ID, "error", err)
		return
	}
	sizeBase, riskQuote := sizer.PositionSize(accountBalance, currentPrice, stop.Price)

	riskDecision, err := p.risk.Evaluate(ctx, accountBalance)
	if err != nil {
		p.log.Error("pipeline: risk gate evaluation failed", "stage", "risk", "confluence_state_id", cs.ID, "error", err)
		return
	}
	if !riskDecision.Allowed {
		p.log.Warn("pipeline: risk gate blocked setup", "stage", "risk", "confluence_state_id", cs.ID, "failed_checks", riskDecision.FailedChecks)
		for _, check := range riskDecision.FailedChecks {
			p.metrics.RiskGateBlocks.WithLabelValues(check).Inc()
		}
		p.notify(notification.Alert{
			Level:             notification.AlertWarning,
			Title:             "risk gate blocked setup",
			Message:           fmt.Sprintf("failed checks: %v", riskDecision.FailedChecks),
			Stage:             "risk",
			ConfluenceStateID: cs.ID,
		})
		return
	}

	snap, err := p.buildSnapshot(ctx, *sweep, cs, direction, currentPrice, stop, sizeBase, riskQuote, accountBalance)
	if err != nil {
		p.log.Error("pipeline: market snapshot assembly failed", "stage", "snapshot", "confluence_state_id", cs.ID, "error", err)
		return
	}

	start := time.Now()
	verdict, err := p.ai.Decide(ctx, snap)
	p.metrics.AILatency.Observe(time.Since(start).Seconds())
	if err != nil {
		p.log.Error("pipeline: AI adapter call failed", "stage", "ai", "confluence_state_id", cs.ID, "error", err)
		return
	}
	for _, r := range verdict.Rejects {
		p.metrics.AIRejectsTotal.WithLabelValues(string(r)).Inc()
	}
	for _, o := range verdict.Overrides {
		p.metrics.AIOverridesTotal.WithLabelValues(string(o)).Inc()
	}
	if !verdict.Approved {
		p.metrics.AIDecisionsTotal.WithLabelValues("rejected").Inc()
		p.log.Info("pipeline: AI declined setup", "stage", "ai", "confluence_state_id", cs.ID, "rejects", verdict.Rejects)
		return
	}
	p.metrics.AIDecisionsTotal.WithLabelValues("approved").Inc()
	if len(verdict.Overrides) > 0 {
		p.log.Warn("pipeline: AI approved with overrides", "stage", "ai", "confluence_state_id", cs.ID, "overrides", verdict.Overrides)
	}

	req := executor.Request{
		ConfluenceStateID: cs.ID,
		Direction:         model.Direction(verdict.Decision.Direction),
		Entry:             verdict.Decision.Entry,
		Stop:              verdict.Decision.Stop,
		StopSource:        model.StopSource(verdict.Decision.StopSource),
		TakeProfit:        verdict.Decision.TakeProfit,
		SizeBase:          verdict.Decision.SizeBase,
		RR:                verdict.Decision.RR,
		AIConfidence:      verdict.Decision.Confidence,
		AIReasoning:       verdict.Decision.Reasoning,
	}

	execStart := time.Now()
	trade, err := p.exec.Execute(ctx, req, currentPrice)
	if err != nil {
		// The executor already classifies its own failures (revalidation is
		// Validation, a DB write after live orders is Fatal, exchange errors
		// carry whatever kind the REST client assigned); fall back to the
		// kind only when Execute returned a plain, unclassified error.
		appErr := apperr.New(apperr.KindOf(err), "executor.execute", err)
		p.log.Error("pipeline: execution failed", "stage", "executor", "confluence_state_id", cs.ID, "error", appErr)
		p.notify(notification.FromError("trade execution failed", appErr, 0))
		return
	}
	p.metrics.TradeExecutionDur.Observe(time.Since(execStart).Seconds())
	p.metrics.TradesOpened.Inc()
	p.log.Info("pipeline: trade opened", "trade_id", trade.ID, "confluence_state_id", cs.ID, "direction", trade.Direction, "entry_price", trade.EntryPrice)
}

// notify delivers alert through the configured notifier, swallowing
// delivery errors beyond a log line — a failed alert must never block the
// pipeline goroutine.
func (p *Pipeline) notify(alert notification.Alert) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(context.Background(), alert); err != nil {
		p.log.Error("pipeline: alert delivery failed", "stage", "notify", "error", err)
	}
}

func (p *Pipeline) buildSnapshot(ctx context.Context, sweep model.Sweep, cs model.ConfluenceState, direction model.Direction, currentPrice float64, stop model.SwingBasedStop, sizeBase, riskQuote, accountBalance float64) (ai.Snapshot, error) {
	hourlyVol, err := p.market.HourlyVolatility(ctx)
	if err != nil {
		return ai.Snapshot{}, fmt.Errorf("pipeline: hourly volatility: %w", err)
	}
	volume, avgVolume, err := p.market.Volume(ctx)
	if err != nil {
		return ai.Snapshot{}, fmt.Errorf("pipeline: volume: %w", err)
	}
	spread, err := p.market.BidAskSpread(ctx)
	if err != nil {
		return ai.Snapshot{}, fmt.Errorf("pipeline: spread: %w", err)
	}
	change24h, err := p.market.Change24h(ctx)
	if err != nil {
		return ai.Snapshot{}, fmt.Errorf("pipeline: 24h change: %w", err)
	}
	sanityLow, sanityHigh, err := p.market.SanityBand(ctx)
	if err != nil {
		return ai.Snapshot{}, fmt.Errorf("pipeline: sanity band: %w", err)
	}

	blackout, event := p.econ.InBlackout(time.Now().UTC())
	eventName := ""
	if event != nil {
		eventName = event.Name
	}

	return ai.Snapshot{
		Sweep:            sweep,
		Confluence:       cs,
		Bias:             sweep.Bias,
		Direction:        direction,
		CurrentPrice:     currentPrice,
		Stop:             stop,
		SizeBase:         sizeBase,
		RiskQuote:        riskQuote,
		AccountBalance:   accountBalance,
		HourlyVolatility: hourlyVol,
		Volume:           volume,
		AverageVolume:    avgVolume,
		BidAskSpread:     spread,
		Change24h:        change24h,
		EconBlackout:     blackout,
		EconEventName:    eventName,
		SanityBandLow:    sanityLow,
		SanityBandHigh:   sanityHigh,
		AsOf:             time.Now().UTC(),
	}, nil
}

