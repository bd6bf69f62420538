package confluence

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
)

// Validator performs the C5 startup recovery pass: loads every non-terminal
// ConfluenceState, expires the ones that outlived ConfluenceExpiry while the
// process was down, and re-arms the rest after checking them against their
// originating sweep (validateBias). COMPLETE states are not loaded by
// Recover; ValidateComplete checks those on request.
type Validator struct {
	repo    model.ConfluenceRepo
	sweeps  model.SweepRepo
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewValidator(repo model.ConfluenceRepo, sweeps model.SweepRepo, m *metrics.Metrics, log *slog.Logger) *Validator {
	return &Validator{repo: repo, sweeps: sweeps, metrics: m, log: log}
}

// RecoverResult summarizes one Recover() pass.
type RecoverResult struct {
	Expired    int
	ReArmed    int
	Invalid    []int64 // ConfluenceState IDs that failed validation
}

// Recover runs the startup pass described in §4.5.
func (v *Validator) Recover(ctx context.Context) (RecoverResult, error) {
	states, err := v.repo.ByStatusNonTerminal(ctx)
	if err != nil {
		return RecoverResult{}, fmt.Errorf("confluence recovery: load non-terminal: %w", err)
	}

	var res RecoverResult
	now := time.Now().UTC()
	for _, cs := range states {
		if now.Sub(cs.CreatedAt) > model.ConfluenceExpiry {
			cs.Phase = model.PhaseExpired
			cs.UpdatedAt = now
			if err := v.repo.Transition(ctx, cs); err != nil {
				v.log.Error("confluence recovery: expire stale state failed", "id", cs.ID, "err", err)
				continue
			}
			res.Expired++
			v.metrics.SweepsExpired.Inc()
			continue
		}

		if err := v.validateBias(ctx, cs); err != nil {
			res.Invalid = append(res.Invalid, cs.ID)
			v.log.Warn("confluence recovery: bias mismatch on re-arm", "id", cs.ID, "err", err)
			continue
		}

		res.ReArmed++
		v.log.Info("confluence recovery: re-armed", "id", cs.ID, "phase", cs.Phase)
	}
	return res, nil
}

func (v *Validator) validateBias(ctx context.Context, cs model.ConfluenceState) error {
	sw, err := v.sweeps.ByID(ctx, cs.SweepID)
	if err != nil {
		return fmt.Errorf("load sweep %d: %w", cs.SweepID, err)
	}
	if sw == nil {
		return fmt.Errorf("sweep %d not found", cs.SweepID)
	}
	if sw.Bias != model.BiasForSweepKind(sw.Kind) {
		return fmt.Errorf("sweep %d bias %s inconsistent with kind %s", sw.ID, sw.Bias, sw.Kind)
	}
	if !cs.OrderedTimesValid() {
		return fmt.Errorf("confluence state %d has out-of-order phase timestamps", cs.ID)
	}
	return nil
}

// ValidateComplete checks a COMPLETE state's invariants: all phase fields
// populated, times strictly ordered, bias consistent with the originating
// sweep.
func (v *Validator) ValidateComplete(ctx context.Context, cs model.ConfluenceState) error {
	if cs.Phase != model.PhaseComplete {
		return fmt.Errorf("state %d is not COMPLETE", cs.ID)
	}
	if !cs.CompleteFieldsPopulated() {
		return fmt.Errorf("state %d missing required COMPLETE fields", cs.ID)
	}
	if !cs.OrderedTimesValid() {
		return fmt.Errorf("state %d has out-of-order phase timestamps", cs.ID)
	}
	return v.validateBias(ctx, cs)
}
