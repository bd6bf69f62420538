package model

import "time"

// Sweep records a breach of the active 4H swing of matching kind. It is
// exclusively owned by its ConfluenceState: the two are created together and
// share a lifecycle, but a Sweep additionally carries a weak (lookup-only)
// reference to the SwingLevel it breached.
type Sweep struct {
	ID               int64     `json:"id"`
	DetectedAt       time.Time `json:"detected_at"`
	Kind             SwingKind `json:"kind"`
	PriceAtDetection float64   `json:"price_at_detection"`
	SwingLevelID     int64     `json:"swing_level_id"`
	Bias             Bias      `json:"bias"`
	Active           bool      `json:"active"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// SweepExpiry is the fixed window after which an unresolved sweep expires.
// spec.md §9 resolves the documented inconsistency in favor of 12h.
const SweepExpiry = 12 * time.Hour
