package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TimeBucket coarsens a triggering timestamp to the bulletin validity
// window, so the same condition seen by consecutive runs maps to the same
// dedup key. Width must be positive.
func TimeBucket(t time.Time, width time.Duration) time.Time {
	return t.UTC().Truncate(width)
}

// AlertEvent is one detected condition instance for a monitored location.
// Ephemeral: it exists only within a single pipeline run; cross-run
// nonduplication is carried entirely by the dedup key.
type AlertEvent struct {
	LocationID   string    `json:"location_id"`
	LocationName string    `json:"location_name,omitempty"`
	StationID    string    `json:"station_id"`
	StationName  string    `json:"station_name,omitempty"`
	RuleID       string    `json:"rule_id"`
	Parameter    string    `json:"parameter"`
	Operator     Operator  `json:"operator"`
	Threshold    float64   `json:"threshold"`
	Value        float64   `json:"value"` // sample value at the triggering timestamp
	TriggeredAt  time.Time `json:"triggered_at"`
	Bucket       time.Time `json:"bucket"`

	Recipients []Recipient `json:"-"`
}

// DedupKey produces a deterministic key from location, rule, and time
// bucket. Deterministic keys enable at-most-once dispatch via atomic
// set-if-absent in the shared cache — reprocessing the same condition in a
// later run produces the same key. Station identity is deliberately not
// part of the key: if the nearest station changes between bulletins the
// user was still already notified about this condition window.
func (e AlertEvent) DedupKey() string {
	input := fmt.Sprintf("%s|%s|%d", e.LocationID, e.RuleID, e.Bucket.Unix())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:8])
}

// DispatchStatus classifies the outcome of one dispatch attempt.
type DispatchStatus string

const (
	StatusDelivered        DispatchStatus = "delivered"
	StatusSkippedDuplicate DispatchStatus = "skipped-duplicate"
	StatusFailed           DispatchStatus = "failed"
	StatusInvalidRecipient DispatchStatus = "invalid-recipient"
)

// DispatchOutcome records what happened to one alert event for one
// delivery target. Reporting/telemetry only; never persisted by the core.
type DispatchOutcome struct {
	LocationID string         `json:"location_id"`
	RuleID     string         `json:"rule_id"`
	StationID  string         `json:"station_id"`
	DedupKey   string         `json:"dedup_key"`
	Target     string         `json:"target,omitempty"` // token or topic, empty for skipped events
	Status     DispatchStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	At         time.Time      `json:"at"`
}
