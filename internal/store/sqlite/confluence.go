package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-systemv1/internal/model"
)

// ConfluenceRepo implements model.ConfluenceRepo (C4/C5).
type ConfluenceRepo struct{ db *sql.DB }

func (r *ConfluenceRepo) ByID(ctx context.Context, id int64) (*model.ConfluenceState, error) {
	row := r.db.QueryRowContext(ctx, confluenceSelect+` WHERE id = ?`, id)
	return scanConfluence(row)
}

func (r *ConfluenceRepo) ByStatusNonTerminal(ctx context.Context) ([]model.ConfluenceState, error) {
	rows, err := r.db.QueryContext(ctx, confluenceSelectRows+` WHERE phase NOT IN (?, ?)`,
		string(model.PhaseComplete), string(model.PhaseExpired))
	if err != nil {
		return nil, fmt.Errorf("sqlite query non-terminal confluence: %w", err)
	}
	defer rows.Close()
	return scanConfluences(rows)
}

func (r *ConfluenceRepo) ByCompleteSince(ctx context.Context, since time.Time) ([]model.ConfluenceState, error) {
	rows, err := r.db.QueryContext(ctx, confluenceSelectRows+` WHERE phase = ? AND updated_at >= ?`,
		string(model.PhaseComplete), since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite query completed confluence: %w", err)
	}
	defer rows.Close()
	return scanConfluences(rows)
}

// Transition persists a new phase and any accompanying field writes in a
// single atomic UPDATE keyed by id. The row's current phase is not checked,
// so ordering between writers rests on the caller; an unknown id is
// reported as an error.
func (r *ConfluenceRepo) Transition(ctx context.Context, cs model.ConfluenceState) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE confluence_states SET
			phase = ?, choch_price = ?, choch_at = ?, fvg_low = ?, fvg_high = ?,
			fvg_fill_at = ?, fvg_fill_price = ?, bos_price = ?, bos_at = ?, updated_at = ?
		WHERE id = ?
	`,
		string(cs.Phase),
		nullableFloat(cs.CHoCHPrice), nullableUnix(cs.CHoCHAt),
		nullableFloat(cs.FVGLow), nullableFloat(cs.FVGHigh),
		nullableUnix(cs.FVGFillAt), nullableFloat(cs.FVGFillPx),
		nullableFloat(cs.BOSPrice), nullableUnix(cs.BOSAt),
		now.Unix(), cs.ID)
	if err != nil {
		return classifyWriteErr("sqlite.transition_confluence", fmt.Errorf("sqlite transition confluence: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite transition rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite transition confluence: no row with id %d", cs.ID)
	}
	return nil
}

// Active returns the sole non-terminal ConfluenceState, or nil if none.
// There is at most one by construction (SweepRepo.InsertAndSupersede
// expires any prior one before creating a new sweep).
func (r *ConfluenceRepo) Active(ctx context.Context) (*model.ConfluenceState, error) {
	row := r.db.QueryRowContext(ctx, confluenceSelect+` WHERE phase NOT IN (?, ?) ORDER BY id DESC LIMIT 1`,
		string(model.PhaseComplete), string(model.PhaseExpired))
	return scanConfluence(row)
}

const confluenceCols = `id, sweep_id, phase, choch_price, choch_at, fvg_low, fvg_high, fvg_fill_at, fvg_fill_price, bos_price, bos_at, created_at, updated_at`
const confluenceSelect = `SELECT ` + confluenceCols + ` FROM confluence_states`
const confluenceSelectRows = confluenceSelect

func scanConfluence(row *sql.Row) (*model.ConfluenceState, error) {
	var cs model.ConfluenceState
	var phase string
	var chochAt, fvgFillAt, bosAt, createdAt, updatedAt sql.NullInt64
	var chochPrice, fvgLow, fvgHigh, fvgFillPx, bosPrice sql.NullFloat64

	err := row.Scan(&cs.ID, &cs.SweepID, &phase, &chochPrice, &chochAt, &fvgLow, &fvgHigh,
		&fvgFillAt, &fvgFillPx, &bosPrice, &bosAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan confluence: %w", err)
	}
	cs.Phase = model.Phase(phase)
	cs.CHoCHPrice = floatPtr(chochPrice)
	cs.CHoCHAt = unixPtr(chochAt)
	cs.FVGLow = floatPtr(fvgLow)
	cs.FVGHigh = floatPtr(fvgHigh)
	cs.FVGFillAt = unixPtr(fvgFillAt)
	cs.FVGFillPx = floatPtr(fvgFillPx)
	cs.BOSPrice = floatPtr(bosPrice)
	cs.BOSAt = unixPtr(bosAt)
	cs.CreatedAt = time.Unix(createdAt.Int64, 0).UTC()
	cs.UpdatedAt = time.Unix(updatedAt.Int64, 0).UTC()
	return &cs, nil
}

func scanConfluences(rows *sql.Rows) ([]model.ConfluenceState, error) {
	var out []model.ConfluenceState
	for rows.Next() {
		var cs model.ConfluenceState
		var phase string
		var chochAt, fvgFillAt, bosAt, createdAt, updatedAt sql.NullInt64
		var chochPrice, fvgLow, fvgHigh, fvgFillPx, bosPrice sql.NullFloat64

		if err := rows.Scan(&cs.ID, &cs.SweepID, &phase, &chochPrice, &chochAt, &fvgLow, &fvgHigh,
			&fvgFillAt, &fvgFillPx, &bosPrice, &bosAt, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("sqlite scan confluence row: %w", err)
		}
		cs.Phase = model.Phase(phase)
		cs.CHoCHPrice = floatPtr(chochPrice)
		cs.CHoCHAt = unixPtr(chochAt)
		cs.FVGLow = floatPtr(fvgLow)
		cs.FVGHigh = floatPtr(fvgHigh)
		cs.FVGFillAt = unixPtr(fvgFillAt)
		cs.FVGFillPx = floatPtr(fvgFillPx)
		cs.BOSPrice = floatPtr(bosPrice)
		cs.BOSAt = unixPtr(bosAt)
		cs.CreatedAt = time.Unix(createdAt.Int64, 0).UTC()
		cs.UpdatedAt = time.Unix(updatedAt.Int64, 0).UTC()
		out = append(out, cs)
	}
	return out, rows.Err()
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullableUnix(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func unixPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(n.Int64, 0).UTC()
	return &t
}
