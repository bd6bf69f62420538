package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-systemv1/internal/model"
)

// SweepRepo implements model.SweepRepo (C3).
type SweepRepo struct{ db *sql.DB }

// InsertAndSupersede creates a new sweep together with its initial
// ConfluenceState (WAITING_CHOCH), and expires any other active sweep and
// its ConfluenceState in the same transaction — at most one active Sweep
// exists at any instant (§5).
func (r *SweepRepo) InsertAndSupersede(ctx context.Context, sw model.Sweep) (model.Sweep, model.ConfluenceState, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite sweep tx begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM sweeps WHERE active = 1`)
	if err != nil {
		return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite query active sweeps: %w", err)
	}
	var staleIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite scan stale sweep: %w", err)
		}
		staleIDs = append(staleIDs, id)
	}
	rows.Close()

	for _, id := range staleIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE sweeps SET active = 0, updated_at = ? WHERE id = ?`, now.Unix(), id); err != nil {
			return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite expire stale sweep: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE confluence_states SET phase = ?, updated_at = ?
			WHERE sweep_id = ? AND phase NOT IN (?, ?)
		`, string(model.PhaseExpired), now.Unix(), id, string(model.PhaseComplete), string(model.PhaseExpired)); err != nil {
			return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite expire stale confluence: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO sweeps (detected_at, kind, price_at_detection, swing_level_id, bias, active, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
	`, sw.DetectedAt.UTC().Unix(), string(sw.Kind), sw.PriceAtDetection, sw.SwingLevelID, string(sw.Bias),
		sw.ExpiresAt.UTC().Unix(), now.Unix(), now.Unix())
	if err != nil {
		return model.Sweep{}, model.ConfluenceState{}, classifyWriteErr("sqlite.insert_sweep", fmt.Errorf("sqlite insert sweep: %w", err))
	}
	sweepID, err := res.LastInsertId()
	if err != nil {
		return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite sweep last insert id: %w", err)
	}

	csRes, err := tx.ExecContext(ctx, `
		INSERT INTO confluence_states (sweep_id, phase, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, sweepID, string(model.PhaseWaitingCHoCH), now.Unix(), now.Unix())
	if err != nil {
		return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite insert confluence state: %w", err)
	}
	csID, err := csRes.LastInsertId()
	if err != nil {
		return model.Sweep{}, model.ConfluenceState{}, fmt.Errorf("sqlite confluence last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.Sweep{}, model.ConfluenceState{}, classifyWriteErr("sqlite.sweep_tx_commit", fmt.Errorf("sqlite sweep tx commit: %w", err))
	}

	sw.ID = sweepID
	sw.Active = true
	cs := model.ConfluenceState{ID: csID, SweepID: sweepID, Phase: model.PhaseWaitingCHoCH, CreatedAt: now, UpdatedAt: now}
	return sw, cs, nil
}

func (r *SweepRepo) ActiveSweep(ctx context.Context) (*model.Sweep, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, detected_at, kind, price_at_detection, swing_level_id, bias, active, expires_at
		FROM sweeps WHERE active = 1 ORDER BY id DESC LIMIT 1
	`)
	return scanSweep(row)
}

func (r *SweepRepo) ByID(ctx context.Context, id int64) (*model.Sweep, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, detected_at, kind, price_at_detection, swing_level_id, bias, active, expires_at
		FROM sweeps WHERE id = ?
	`, id)
	return scanSweep(row)
}

func (r *SweepRepo) MarkExpired(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite mark expired tx begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE sweeps SET active = 0, updated_at = ? WHERE id = ?`, now.Unix(), id); err != nil {
		return fmt.Errorf("sqlite expire sweep: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE confluence_states SET phase = ?, updated_at = ?
		WHERE sweep_id = ? AND phase NOT IN (?, ?)
	`, string(model.PhaseExpired), now.Unix(), id, string(model.PhaseComplete), string(model.PhaseExpired)); err != nil {
		return fmt.Errorf("sqlite expire confluence: %w", err)
	}
	return tx.Commit()
}

func scanSweep(row *sql.Row) (*model.Sweep, error) {
	var sw model.Sweep
	var kind, bias string
	var detectedUnix, expiresUnix int64
	var active int
	err := row.Scan(&sw.ID, &detectedUnix, &kind, &sw.PriceAtDetection, &sw.SwingLevelID, &bias, &active, &expiresUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan sweep: %w", err)
	}
	sw.Kind = model.SwingKind(kind)
	sw.Bias = model.Bias(bias)
	sw.DetectedAt = time.Unix(detectedUnix, 0).UTC()
	sw.ExpiresAt = time.Unix(expiresUnix, 0).UTC()
	sw.Active = active != 0
	return &sw, nil
}
