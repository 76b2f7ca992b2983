// Package dispatch turns admitted alert events into push notifications and
// records a dispatch outcome per delivery target.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

// Admitter gates events against the shared dedup cache.
type Admitter interface {
	Admit(ctx context.Context, event domain.AlertEvent) bool
}

// Config tunes dispatch behavior.
type Config struct {
	// BatchSize caps messages per notifier call. The upstream provider
	// accepts at most 100 messages per batch.
	BatchSize int

	// MessageTTL bounds how long the provider should retain an
	// undelivered notification; an alert about a past forecast window is
	// noise.
	MessageTTL time.Duration
}

// Dispatcher sends admitted events through the notification capability.
type Dispatcher struct {
	gate     Admitter
	notifier domain.Notifier
	cfg      Config
	logger   *slog.Logger
}

// New creates a Dispatcher.
func New(gate Admitter, notifier domain.Notifier, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MessageTTL <= 0 {
		cfg.MessageTTL = 6 * time.Hour
	}
	return &Dispatcher{gate: gate, notifier: notifier, cfg: cfg, logger: logger}
}

// pending links an outbound message back to its event for outcome records.
type pending struct {
	event      domain.AlertEvent
	msg        domain.PushMessage
	recipients int // result count this message will produce
}

// Dispatch gates every event, groups admitted ones by delivery target, and
// sends them in batches. Failed sends are recorded but never retried within
// the run — the dedup key stays claimed, trading best-effort delivery for
// nonduplication simplicity.
func (d *Dispatcher) Dispatch(ctx context.Context, events []domain.AlertEvent) []domain.DispatchOutcome {
	outcomes := make([]domain.DispatchOutcome, 0, len(events))
	var queue []pending

	for _, event := range events {
		if !d.gate.Admit(ctx, event) {
			outcomes = append(outcomes, d.outcome(event, "", domain.StatusSkippedDuplicate, "dedup key already claimed"))
			continue
		}
		queue = append(queue, d.buildMessages(event)...)
	}

	for start := 0; start < len(queue); start += d.cfg.BatchSize {
		end := min(start+d.cfg.BatchSize, len(queue))
		outcomes = append(outcomes, d.sendChunk(ctx, queue[start:end])...)
	}
	return outcomes
}

// buildMessages expands an event into outbound messages: all token
// recipients share one multicast message, each topic gets its own. A
// location with no explicit recipients notifies its derived per-location
// topic, which clients subscribe to by default.
func (d *Dispatcher) buildMessages(event domain.AlertEvent) []pending {
	var tokens []string
	var topics []string
	for _, r := range event.Recipients {
		switch {
		case r.Token != "":
			tokens = append(tokens, r.Token)
		case r.Topic != "":
			topics = append(topics, r.Topic)
		}
	}
	if len(tokens) == 0 && len(topics) == 0 {
		topics = []string{locationTopic(event)}
	}

	title, body := formatMessage(event)
	base := domain.PushMessage{
		Title:     title,
		Body:      body,
		ChannelID: "forecast_alerts",
		Important: true,
		Expires:   domain.Clock().Now().Add(d.cfg.MessageTTL),
	}

	var out []pending
	if len(tokens) > 0 {
		msg := base
		msg.Tokens = tokens
		out = append(out, pending{event: event, msg: msg, recipients: len(tokens)})
	}
	for _, topic := range topics {
		msg := base
		msg.Topic = topic
		out = append(out, pending{event: event, msg: msg, recipients: 1})
	}
	return out
}

func (d *Dispatcher) sendChunk(ctx context.Context, chunk []pending) []domain.DispatchOutcome {
	msgs := make([]domain.PushMessage, len(chunk))
	total := 0
	for i, p := range chunk {
		msgs[i] = p.msg
		total += p.recipients
	}

	var outcomes []domain.DispatchOutcome
	results, err := d.notifier.Send(ctx, msgs)
	if err != nil || len(results) != total {
		if err == nil {
			err = fmt.Errorf("notifier returned %d results for %d recipients", len(results), total)
		}
		d.logger.Error("notification batch failed", "messages", len(chunk), "error", err)
		for _, p := range chunk {
			outcomes = append(outcomes, d.outcome(p.event, p.msg.Topic, domain.StatusFailed, err.Error()))
		}
		return outcomes
	}

	i := 0
	for _, p := range chunk {
		for range p.recipients {
			r := results[i]
			i++
			outcomes = append(outcomes, d.outcome(p.event, r.Target, r.Status, r.Reason))
		}
	}
	return outcomes
}

func (d *Dispatcher) outcome(event domain.AlertEvent, target string, status domain.DispatchStatus, reason string) domain.DispatchOutcome {
	return domain.DispatchOutcome{
		LocationID: event.LocationID,
		RuleID:     event.RuleID,
		StationID:  event.StationID,
		DedupKey:   event.DedupKey(),
		Target:     target,
		Status:     status,
		Reason:     reason,
		At:         domain.Clock().Now().UTC(),
	}
}

// locationTopic derives the default topic for a location. Slugged because
// provider topic names only allow [a-zA-Z0-9-_.~%] and location names carry
// umlauts and diacritics.
func locationTopic(event domain.AlertEvent) string {
	name := event.LocationName
	if name == "" {
		name = event.LocationID
	}
	return "alerts_" + Slug(name)
}

var paramUnits = map[string]string{
	domain.ParamTemperature:   "°C",
	domain.ParamDewPoint:      "°C",
	domain.ParamWindSpeed:     "m/s",
	domain.ParamWindGust:      "m/s",
	domain.ParamWindDirection: "°",
	domain.ParamCloudCover:    "%",
	domain.ParamPressureMSL:   "Pa",
	domain.ParamPrecipitation: "mm",
	domain.ParamSunshine:      "s",
	domain.ParamVisibility:    "m",
}

func formatMessage(event domain.AlertEvent) (title, body string) {
	unit := paramUnits[event.Parameter]
	title = fmt.Sprintf("%s: %s alert", displayName(event), event.Parameter)
	body = fmt.Sprintf("%s %s%s at %s (%s, threshold %s %s%s)",
		event.Parameter,
		trimFloat(event.Value), unit,
		event.TriggeredAt.UTC().Format("Mon 15:04 MST"),
		event.StationName,
		event.Operator,
		trimFloat(event.Threshold), unit,
	)
	return title, body
}

func displayName(event domain.AlertEvent) string {
	if event.LocationName != "" {
		return event.LocationName
	}
	return event.LocationID
}

func trimFloat(v float64) string {
	return fmt.Sprintf("%g", v)
}
