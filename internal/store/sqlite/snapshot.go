package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"trading-systemv1/internal/indicator"
)

// SaveSnapshot persists an indicator engine snapshot, keeping the 10 most
// recent so a restart can restore warm state without replaying the full
// candle history (§9: checkpoint indicator state instead of a full replay).
func (s *Store) SaveSnapshot(snap *indicator.EngineSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if _, err := s.db.Exec(`INSERT INTO indicator_snapshots (data) VALUES (?)`, string(data)); err != nil {
		return fmt.Errorf("sqlite insert snapshot: %w", err)
	}

	_, err = s.db.Exec(`DELETE FROM indicator_snapshots WHERE id NOT IN (SELECT id FROM indicator_snapshots ORDER BY created_at DESC LIMIT 10)`)
	if err != nil {
		log.Printf("sqlite: prune snapshots warning: %v", err)
	}
	return nil
}

// ReadLatestSnapshot loads the most recent indicator engine snapshot, or nil
// if none has been written yet.
func (s *Store) ReadLatestSnapshot() (*indicator.EngineSnapshot, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM indicator_snapshots ORDER BY created_at DESC LIMIT 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite read snapshot: %w", err)
	}

	var snap indicator.EngineSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
