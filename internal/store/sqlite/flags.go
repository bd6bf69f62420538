package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FlagRepo implements model.FlagRepo: the key-value table backing operator
// controls such as emergency-stop and paper-mode.
type FlagRepo struct{ db *sql.DB }

func (r *FlagRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM system_flags WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get flag %q: %w", key, err)
	}
	return value, true, nil
}

func (r *FlagRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO system_flags (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("sqlite set flag %q: %w", key, err)
	}
	return nil
}
