// Package pipeline orchestrates one scheduled alert run:
// fetch → parse → index → match → evaluate → dedup → dispatch.
//
// A run is one logical unit of work with no in-process state carried
// between invocations; everything cross-run lives in the shared cache and
// the subscriber store. Per-location matching and evaluation fan out over a
// bounded worker pool (stations and series are immutable once parsed) and
// join before dedup admission, so admission order only needs to be
// deterministic within key collisions — which the atomic cache claim
// already guarantees.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/forecast-alert-service/internal/bulletin"
	"github.com/couchcryptid/forecast-alert-service/internal/domain"
	"github.com/couchcryptid/forecast-alert-service/internal/evaluate"
	"github.com/couchcryptid/forecast-alert-service/internal/geo"
	"github.com/couchcryptid/forecast-alert-service/internal/observability"
)

// Fetcher retrieves the raw bulletin bytes.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Feed enumerates the monitored locations, refreshed once per run.
type Feed interface {
	Load(ctx context.Context) ([]domain.MonitoredLocation, error)
}

// Dispatcher gates and sends alert events, returning per-target outcomes.
type Dispatcher interface {
	Dispatch(ctx context.Context, events []domain.AlertEvent) []domain.DispatchOutcome
}

// OutcomeSink receives dispatch outcomes for telemetry. Optional.
type OutcomeSink interface {
	Publish(ctx context.Context, outcomes []domain.DispatchOutcome) error
}

// Config tunes one runner.
type Config struct {
	RadiusKm float64 // maximum location-to-station matching distance
	Workers  int     // bounded fan-out for matching and evaluation
}

// RunReport summarizes one completed run. Emitted as structured output by
// the CLI; per-location failures appear here, not in the exit code.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Source     string    `json:"source"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Stations        int `json:"stations"`
	SkippedStations int `json:"skipped_stations"`
	SkippedSamples  int `json:"skipped_samples"`

	Locations int `json:"locations"`
	Matched   int `json:"matched"`
	Unmatched int `json:"unmatched"`
	Deferred  int `json:"deferred"` // not evaluated before the run deadline

	Events     int `json:"events"`
	Admitted   int `json:"admitted"`
	Suppressed int `json:"suppressed"`

	Delivered         int `json:"delivered"`
	Failed            int `json:"failed"`
	InvalidRecipients int `json:"invalid_recipients"`
}

// Runner executes alert runs.
type Runner struct {
	fetcher    Fetcher
	feed       Feed
	evaluator  *evaluate.Evaluator
	dispatcher Dispatcher
	sink       OutcomeSink
	cfg        Config
	logger     *slog.Logger
	metrics    *observability.Metrics
	clock      clockwork.Clock

	mu   sync.Mutex
	last *RunReport
}

// New creates a Runner. sink may be nil; clock defaults to real time.
func New(fetcher Fetcher, feed Feed, evaluator *evaluate.Evaluator, dispatcher Dispatcher, sink OutcomeSink,
	cfg Config, logger *slog.Logger, metrics *observability.Metrics, clock clockwork.Clock,
) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 8
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		fetcher:    fetcher,
		feed:       feed,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		sink:       sink,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
	}
}

// Run executes one full pipeline invocation. Only bulletin retrieval and
// parse failures (and a failed subscriber feed) are fatal; everything else
// degrades into report counters.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		RunID:     uuid.NewString()[:8],
		StartedAt: r.clock.Now().UTC(),
	}
	logger := r.logger.With("run_id", report.RunID)

	r.metrics.RunInProgress.Set(1)
	defer r.metrics.RunInProgress.Set(0)

	err := r.run(ctx, logger, report)
	report.FinishedAt = r.clock.Now().UTC()
	r.metrics.RunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
	if err != nil {
		r.metrics.RunsTotal.WithLabelValues("error").Inc()
		logger.Error("run failed", "error", err)
		return report, err
	}
	r.metrics.RunsTotal.WithLabelValues("success").Inc()
	r.setLast(report)
	logger.Info("run complete",
		"stations", report.Stations,
		"locations", report.Locations,
		"matched", report.Matched,
		"unmatched", report.Unmatched,
		"events", report.Events,
		"admitted", report.Admitted,
		"suppressed", report.Suppressed,
		"delivered", report.Delivered,
		"failed", report.Failed,
	)
	return report, nil
}

func (r *Runner) run(ctx context.Context, logger *slog.Logger, report *RunReport) error {
	data, err := r.fetcher.Fetch(ctx)
	if err != nil {
		return err
	}

	parseStart := r.clock.Now()
	bul, err := bulletin.Parse(data, logger)
	if err != nil {
		return err
	}
	r.metrics.ParseDuration.Observe(r.clock.Now().Sub(parseStart).Seconds())

	report.Source = bul.Source
	report.Stations = len(bul.Stations)
	report.SkippedStations = len(bul.SkippedStations)
	report.SkippedSamples = bul.SkippedSamples
	r.metrics.StationsParsed.Add(float64(report.Stations))
	r.metrics.StationsSkipped.Add(float64(report.SkippedStations))
	r.metrics.SamplesSkipped.Add(float64(report.SkippedSamples))
	logger.Info("bulletin parsed",
		"source", bul.Source,
		"stations", report.Stations,
		"skipped_stations", report.SkippedStations,
		"skipped_samples", report.SkippedSamples,
	)

	locations, err := r.feed.Load(ctx)
	if err != nil {
		return fmt.Errorf("subscriber feed: %w", err)
	}
	report.Locations = len(locations)

	events := r.matchAndEvaluate(ctx, logger, bul, locations, report)
	report.Events = len(events)
	r.metrics.EventsEmitted.Add(float64(len(events)))

	outcomes := r.dispatcher.Dispatch(ctx, events)
	r.tally(report, outcomes)

	if r.sink != nil {
		if err := r.sink.Publish(ctx, outcomes); err != nil {
			logger.Warn("outcome telemetry publish failed", "error", err)
		}
	}
	return nil
}

// matchAndEvaluate fans locations out over the worker pool and joins before
// returning. Events are sorted afterwards so dispatch order is stable
// regardless of worker scheduling.
func (r *Runner) matchAndEvaluate(ctx context.Context, logger *slog.Logger,
	bul *domain.Bulletin, locations []domain.MonitoredLocation, report *RunReport,
) []domain.AlertEvent {
	matcher := geo.NewMatcher(geo.NewIndex(bul.Stations), r.cfg.RadiusKm)

	var mu sync.Mutex
	var events []domain.AlertEvent

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, loc := range locations {
		g.Go(func() error {
			// Past the deadline, remaining locations are deferred to the
			// next scheduled run. Safe: nothing was admitted for them.
			if gctx.Err() != nil {
				mu.Lock()
				report.Deferred++
				mu.Unlock()
				return nil
			}

			match, ok := matcher.Match(loc)
			if !ok {
				logger.Info("location unmatched", "location_id", loc.ID, "radius_km", r.cfg.RadiusKm)
				mu.Lock()
				report.Unmatched++
				mu.Unlock()
				return nil
			}

			evs := r.evaluator.Evaluate(match, bul.Series[match.Station.ID])
			mu.Lock()
			report.Matched++
			events = append(events, evs...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	r.metrics.LocationsMatched.Add(float64(report.Matched))
	r.metrics.LocationsUnmatched.Add(float64(report.Unmatched))
	r.metrics.LocationsDeferred.Add(float64(report.Deferred))

	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.LocationID != b.LocationID {
			return a.LocationID < b.LocationID
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.TriggeredAt.Before(b.TriggeredAt)
	})
	return events
}

func (r *Runner) tally(report *RunReport, outcomes []domain.DispatchOutcome) {
	admittedKeys := make(map[string]bool)
	for _, o := range outcomes {
		r.metrics.Outcomes.WithLabelValues(string(o.Status)).Inc()
		switch o.Status {
		case domain.StatusSkippedDuplicate:
			report.Suppressed++
		case domain.StatusDelivered:
			report.Delivered++
			admittedKeys[o.DedupKey] = true
		case domain.StatusFailed:
			report.Failed++
			admittedKeys[o.DedupKey] = true
		case domain.StatusInvalidRecipient:
			report.InvalidRecipients++
			admittedKeys[o.DedupKey] = true
		}
	}
	report.Admitted = len(admittedKeys)
	r.metrics.EventsAdmitted.Add(float64(report.Admitted))
	r.metrics.EventsSuppressed.Add(float64(report.Suppressed))
}

// RunLoop executes runs on a fixed interval until the context is
// cancelled. The first run starts immediately. Used by serve mode; cron
// deployments call Run once instead.
func (r *Runner) RunLoop(ctx context.Context, interval time.Duration) error {
	r.logger.Info("run loop started", "interval", interval)
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("scheduled run failed", "error", err)
		}
		select {
		case <-ctx.Done():
			r.logger.Info("run loop stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
		}
	}
}

// CheckReadiness returns nil once at least one run has completed
// successfully.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if r.LastReport() == nil {
		return fmt.Errorf("no successful run yet")
	}
	return nil
}

// LastReport returns the most recent successful run report, or nil.
func (r *Runner) LastReport() *RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Runner) setLast(report *RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = report
}
