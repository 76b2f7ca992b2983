// Package dedupe decides whether an alert event may be dispatched, backed
// by a shared key-value cache so the decision holds across scheduled runs
// and across overlapping invocations.
package dedupe

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

// keyPrefix namespaces dedup entries in the shared cache.
const keyPrefix = "alerts:dedup:"

// Store is the cache capability: atomic set-if-absent with TTL plus plain
// get/delete. Keys are opaque strings.
type Store interface {
	// SetIfAbsent atomically establishes key→value with a TTL. Returns
	// true only when this call created the entry.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
}

// Policy selects behavior when the cache is unavailable.
type Policy string

const (
	// FailClosed treats events as already dispatched when the cache is
	// down: notifications are skipped. A missed alert beats a
	// notification storm replayed on every scheduled run.
	FailClosed Policy = "fail-closed"
	// FailOpen admits events when the cache is down, accepting possible
	// duplicates.
	FailOpen Policy = "fail-open"
)

// Degraded is called when a cache operation fails, letting observability
// record degraded-mode operation.
type Degraded func()

// Gate admits each alert event at most once per dedup key within the TTL.
type Gate struct {
	store    Store
	ttl      time.Duration
	policy   Policy
	logger   *slog.Logger
	degraded Degraded
}

// New creates a Gate. ttl must cover at least the bulletin validity period
// (run interval plus safety margin) so consecutive runs over the same
// forecast window share one claim. degraded may be nil.
func New(store Store, ttl time.Duration, policy Policy, logger *slog.Logger, degraded Degraded) *Gate {
	if policy != FailOpen {
		policy = FailClosed
	}
	return &Gate{store: store, ttl: ttl, policy: policy, logger: logger, degraded: degraded}
}

// Admit returns true only if this call claimed the event's dedup key. A
// false return means the key was already claimed — by an earlier run, or by
// a concurrent invocation that won the atomic set. Cache failures never
// crash the run; the configured policy decides, with a degraded-mode
// warning either way.
func (g *Gate) Admit(ctx context.Context, event domain.AlertEvent) bool {
	key := keyPrefix + event.DedupKey()
	claimed, err := g.store.SetIfAbsent(ctx, key, domain.Clock().Now().UTC().Format(time.RFC3339), g.ttl)
	if err != nil {
		if g.degraded != nil {
			g.degraded()
		}
		g.logger.Warn("dedup cache unavailable, applying policy",
			"policy", g.policy,
			"dedup_key", event.DedupKey(),
			"location_id", event.LocationID,
			"rule_id", event.RuleID,
			"error", err,
		)
		return g.policy == FailOpen
	}
	return claimed
}
