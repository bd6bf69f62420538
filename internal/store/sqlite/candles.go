package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"trading-systemv1/internal/model"
)

// CandleRepo implements model.CandleRepo (C1).
type CandleRepo struct{ db *sql.DB }

// Insert writes one candle, reporting DuplicateIgnored instead of erroring
// on a (timeframe, bucket_start) collision — candle ingestion from a
// reconnecting stream routinely redelivers the in-progress bar (§9 redesign
// flag: result types over exceptions for expected outcomes).
func (r *CandleRepo) Insert(ctx context.Context, c model.Candle) (model.InsertOutcome, error) {
	if !c.Valid() {
		return model.InvalidCandle, nil
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO candles (timeframe, bucket_start, open, high, low, close, volume, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, string(c.Timeframe), c.BucketStart.UTC().Unix(), c.Open, c.High, c.Low, c.Close, c.Volume, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite insert candle: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite rows affected: %w", err)
	}
	if n == 0 {
		return model.DuplicateIgnored, nil
	}
	return model.Inserted, nil
}

func (r *CandleRepo) Range(ctx context.Context, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bucket_start, open, high, low, close, volume FROM candles
		WHERE timeframe = ? AND bucket_start >= ? AND bucket_start < ?
		ORDER BY bucket_start ASC
	`, string(tf), from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite range candles: %w", err)
	}
	defer rows.Close()
	return scanCandles(rows, tf)
}

func (r *CandleRepo) Latest(ctx context.Context, tf model.Timeframe, n int) ([]model.Candle, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT bucket_start, open, high, low, close, volume FROM candles
		WHERE timeframe = ?
		ORDER BY bucket_start DESC
		LIMIT ?
	`, string(tf), n)
	if err != nil {
		return nil, fmt.Errorf("sqlite latest candles: %w", err)
	}
	defer rows.Close()
	candles, err := scanCandles(rows, tf)
	if err != nil {
		return nil, err
	}
	// Reverse to oldest-first, matching Range's ordering.
	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

func scanCandles(rows *sql.Rows, tf model.Timeframe) ([]model.Candle, error) {
	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		var bucketUnix int64
		c.Timeframe = tf
		if err := rows.Scan(&bucketUnix, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.BucketStart = time.Unix(bucketUnix, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// DetectGaps returns the start times of missing buckets within window of
// now, by walking the expected bucket sequence and checking for holes.
func (r *CandleRepo) DetectGaps(ctx context.Context, tf model.Timeframe, window time.Duration) ([]time.Time, error) {
	step := timeframeDuration(tf)
	if step <= 0 {
		return nil, fmt.Errorf("sqlite detect gaps: unknown timeframe %q", tf)
	}

	now := time.Now().UTC()
	from := now.Add(-window).Truncate(step)
	candles, err := r.Range(ctx, tf, from, now)
	if err != nil {
		return nil, err
	}

	present := make(map[int64]bool, len(candles))
	for _, c := range candles {
		present[c.BucketStart.Unix()] = true
	}

	var gaps []time.Time
	for b := from; b.Before(now); b = b.Add(step) {
		if !present[b.Unix()] {
			gaps = append(gaps, b)
		}
	}
	return gaps, nil
}

func (r *CandleRepo) Prune(ctx context.Context, tf model.Timeframe, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM candles WHERE timeframe = ? AND bucket_start < ?`,
		string(tf), olderThan.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite prune candles: %w", err)
	}
	return res.RowsAffected()
}

func timeframeDuration(tf model.Timeframe) time.Duration {
	switch tf {
	case model.TF4H:
		return 4 * time.Hour
	case model.TF5M:
		return 5 * time.Minute
	default:
		return 0
	}
}
