// Package evaluate runs alert rules against forecast series.
//
// Each (location, rule) pair is an explicit hysteresis state machine,
// recomputed fresh from the current series on every run. The machine carries
// no memory between runs; "already notified" continuity is entirely the
// dedup gate's job via the time-bucketed key.
package evaluate

import (
	"log/slog"
	"time"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
	"github.com/couchcryptid/forecast-alert-service/internal/geo"
)

// state is the tagged evaluation state of one (location, rule) pair.
type state int

const (
	stateBelow state = iota // comparison not satisfied
	stateAccumulating       // satisfied, but for fewer samples than required
	stateCooldown           // triggered; waiting for the hysteresis crossing
)

// Config tunes evaluation behavior.
type Config struct {
	// BucketWidth coarsens triggering timestamps into dedup time buckets.
	BucketWidth time.Duration

	// MaxGap is how many consecutive missing samples are tolerated as
	// neutral before accumulated state resets. The upstream data source
	// leaves this unspecified, so it is configuration, not a constant.
	MaxGap int
}

// Evaluator produces alert events for matched locations.
type Evaluator struct {
	cfg    Config
	logger *slog.Logger
}

// New creates an Evaluator.
func New(cfg Config, logger *slog.Logger) *Evaluator {
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = 6 * time.Hour
	}
	return &Evaluator{cfg: cfg, logger: logger}
}

// Evaluate runs every rule of the matched location against the station's
// series and returns all resulting events. Rules referencing parameters the
// station does not report yield nothing.
func (e *Evaluator) Evaluate(match geo.Match, series *domain.ForecastSeries) []domain.AlertEvent {
	var events []domain.AlertEvent
	for _, rule := range match.Location.Rules {
		if err := rule.Validate(); err != nil {
			e.logger.Warn("skipping invalid rule", "location_id", match.Location.ID, "error", err)
			continue
		}
		events = append(events, e.evaluateRule(match, series, rule)...)
	}
	return events
}

// evaluateRule walks the series once, advancing the state machine:
//
//	Below ──satisfied──► Accumulating ──N consecutive──► emit + Cooldown
//	Cooldown ──value crosses threshold∓margin──► Below
//
// Missing samples are neutral (hold state) for up to MaxGap in a row;
// beyond that the accumulated run is stale and state resets to Below.
func (e *Evaluator) evaluateRule(match geo.Match, series *domain.ForecastSeries, rule domain.AlertRule) []domain.AlertEvent {
	col, ok := series.Column(rule.Parameter)
	if !ok {
		return nil
	}

	need := rule.MinConsecutive
	if need < 1 {
		need = 1
	}

	var events []domain.AlertEvent
	st := stateBelow
	run := 0
	gap := 0

	for i, v := range col {
		if !v.Valid {
			gap++
			if gap > e.cfg.MaxGap {
				st = stateBelow
				run = 0
			}
			continue
		}
		gap = 0

		switch st {
		case stateBelow, stateAccumulating:
			if !rule.Operator.Satisfied(v.Float, rule.Threshold) {
				st = stateBelow
				run = 0
				continue
			}
			run++
			if run < need {
				st = stateAccumulating
				continue
			}
			events = append(events, e.newEvent(match, rule, series.Timestamps[i], v.Float))
			st = stateCooldown
			run = 0

		case stateCooldown:
			if rule.Operator.Rearmed(v.Float, rule.Threshold, rule.Hysteresis) {
				st = stateBelow
				run = 0
			}
		}
	}
	return events
}

func (e *Evaluator) newEvent(match geo.Match, rule domain.AlertRule, at time.Time, value float64) domain.AlertEvent {
	return domain.AlertEvent{
		LocationID:   match.Location.ID,
		LocationName: match.Location.Name,
		StationID:    match.Station.ID,
		StationName:  match.Station.Name,
		RuleID:       rule.ID,
		Parameter:    rule.Parameter,
		Operator:     rule.Operator,
		Threshold:    rule.Threshold,
		Value:        value,
		TriggeredAt:  at,
		Bucket:       domain.TimeBucket(at, e.cfg.BucketWidth),
		Recipients:   match.Location.Recipients,
	}
}
