package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-systemv1/internal/model"
)

// SwingRepo implements model.SwingRepo (C2).
type SwingRepo struct{ db *sql.DB }

// InsertAndSupersede inserts a new active swing and flips any existing
// active swing of the same (timeframe, kind) to inactive, atomically — at
// most one active SwingLevel per (timeframe, kind) at any instant.
func (r *SwingRepo) InsertAndSupersede(ctx context.Context, sw model.SwingLevel) (model.SwingLevel, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.SwingLevel{}, fmt.Errorf("sqlite swing tx begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE swings SET active = 0 WHERE timeframe = ? AND kind = ? AND active = 1
	`, string(sw.Timeframe), string(sw.Kind)); err != nil {
		return model.SwingLevel{}, fmt.Errorf("sqlite supersede swing: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO swings (timeframe, kind, bucket_start, price, active, created_at)
		VALUES (?, ?, ?, ?, 1, ?)
	`, string(sw.Timeframe), string(sw.Kind), sw.BucketStart.UTC().Unix(), sw.Price, now.Unix())
	if err != nil {
		return model.SwingLevel{}, fmt.Errorf("sqlite insert swing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.SwingLevel{}, fmt.Errorf("sqlite swing last insert id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.SwingLevel{}, fmt.Errorf("sqlite swing tx commit: %w", err)
	}

	sw.ID = id
	sw.Active = true
	sw.CreatedAt = now
	return sw, nil
}

func (r *SwingRepo) ActiveSwing(ctx context.Context, tf model.Timeframe, kind model.SwingKind) (*model.SwingLevel, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, timeframe, kind, bucket_start, price, active, created_at
		FROM swings WHERE timeframe = ? AND kind = ? AND active = 1
		ORDER BY id DESC LIMIT 1
	`, string(tf), string(kind))
	return scanSwing(row)
}

func (r *SwingRepo) ByID(ctx context.Context, id int64) (*model.SwingLevel, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, timeframe, kind, bucket_start, price, active, created_at
		FROM swings WHERE id = ?
	`, id)
	return scanSwing(row)
}

func scanSwing(row *sql.Row) (*model.SwingLevel, error) {
	var sw model.SwingLevel
	var tf, kind string
	var bucketUnix, createdUnix int64
	var active int
	err := row.Scan(&sw.ID, &tf, &kind, &bucketUnix, &sw.Price, &active, &createdUnix)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan swing: %w", err)
	}
	sw.Timeframe = model.Timeframe(tf)
	sw.Kind = model.SwingKind(kind)
	sw.BucketStart = time.Unix(bucketUnix, 0).UTC()
	sw.Active = active != 0
	sw.CreatedAt = time.Unix(createdUnix, 0).UTC()
	return &sw, nil
}
