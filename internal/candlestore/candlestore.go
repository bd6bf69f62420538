// Package candlestore is the narrow repository facade for candle storage
// (C1): callers never see database/sql directly, only Insert/Range/Latest/
// DetectGaps/Prune against the durable (timeframe, bucket_start) mapping.
package candlestore

import (
	"context"
	"time"

	"trading-systemv1/internal/model"
)

// Store wraps a model.CandleRepo with the fixed window sizes this engine
// needs, keeping SQL conventions out of the callers that drive C2/C3/C4.
type Store struct {
	repo model.CandleRepo
}

func New(repo model.CandleRepo) *Store {
	return &Store{repo: repo}
}

func (s *Store) Insert(ctx context.Context, c model.Candle) (model.InsertOutcome, error) {
	return s.repo.Insert(ctx, c)
}

func (s *Store) Range(ctx context.Context, tf model.Timeframe, from, to time.Time) ([]model.Candle, error) {
	return s.repo.Range(ctx, tf, from, to)
}

func (s *Store) Latest(ctx context.Context, tf model.Timeframe, n int) ([]model.Candle, error) {
	return s.repo.Latest(ctx, tf, n)
}

func (s *Store) DetectGaps(ctx context.Context, tf model.Timeframe, window time.Duration) ([]time.Time, error) {
	return s.repo.DetectGaps(ctx, tf, window)
}

func (s *Store) Prune(ctx context.Context, tf model.Timeframe, olderThan time.Time) (int64, error) {
	return s.repo.Prune(ctx, tf, olderThan)
}

// RetentionFloor returns the cutoff time below which candles of tf may be
// pruned, per the retention targets (4H keeps >=200 buckets, 5M keeps 7
// days). C12 calls this once a day per timeframe.
func RetentionFloor(tf model.Timeframe, now time.Time) time.Time {
	switch tf {
	case model.TF4H:
		return now.Add(-220 * 4 * time.Hour) // headroom above the 200-bucket floor
	case model.TF5M:
		return now.Add(-7 * 24 * time.Hour)
	default:
		return now
	}
}

// Collector is the named external collaborator (§6) responsible for
// fetching candles from the exchange and calling Insert. It has no concrete
// implementation and nothing calls it: C12 drives only Prune, and candles
// reach Insert from the live tick stream via internal/candleagg.
type Collector interface {
	// CollectOnce fetches and inserts any newly-closed candles for tf since
	// the last known bucket, returning how many were newly inserted.
	CollectOnce(ctx context.Context, tf model.Timeframe) (int, error)
}
