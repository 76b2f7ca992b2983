package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

type fakeAdmitter struct {
	admitted map[string]bool
}

func newFakeAdmitter() *fakeAdmitter {
	return &fakeAdmitter{admitted: make(map[string]bool)}
}

func (a *fakeAdmitter) Admit(_ context.Context, event domain.AlertEvent) bool {
	key := event.DedupKey()
	if a.admitted[key] {
		return false
	}
	a.admitted[key] = true
	return true
}

type admitAll struct{}

func (admitAll) Admit(context.Context, domain.AlertEvent) bool { return true }

// fakeNotifier delivers everything unless a per-target status override or a
// batch error is configured.
type fakeNotifier struct {
	batches  [][]domain.PushMessage
	statuses map[string]domain.DispatchStatus
	err      error
}

func (n *fakeNotifier) Send(_ context.Context, msgs []domain.PushMessage) ([]domain.PushResult, error) {
	n.batches = append(n.batches, msgs)
	if n.err != nil {
		return nil, n.err
	}
	var results []domain.PushResult
	for _, m := range msgs {
		targets := m.Tokens
		if m.Topic != "" {
			targets = []string{m.Topic}
		}
		for _, target := range targets {
			status := domain.StatusDelivered
			if s, ok := n.statuses[target]; ok {
				status = s
			}
			results = append(results, domain.PushResult{Target: target, Status: status})
		}
	}
	return results, nil
}

func eventFor(locID, ruleID string, recipients ...domain.Recipient) domain.AlertEvent {
	return domain.AlertEvent{
		LocationID:   locID,
		LocationName: "Home",
		StationID:    "10001",
		StationName:  "STATION",
		RuleID:       ruleID,
		Parameter:    domain.ParamTemperature,
		Operator:     domain.OpLess,
		Threshold:    10,
		Value:        7.5,
		TriggeredAt:  time.Date(2026, 8, 25, 13, 0, 0, 0, time.UTC),
		Bucket:       time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Recipients:   recipients,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("token recipients share one multicast message", func(t *testing.T) {
		notifier := &fakeNotifier{}
		d := New(admitAll{}, notifier, Config{}, testLogger())

		event := eventFor("L1", "temp-low",
			domain.Recipient{Token: "tok-1"},
			domain.Recipient{Token: "tok-2"},
		)
		outcomes := d.Dispatch(ctx, []domain.AlertEvent{event})

		require.Len(t, notifier.batches, 1)
		require.Len(t, notifier.batches[0], 1)
		assert.Equal(t, []string{"tok-1", "tok-2"}, notifier.batches[0][0].Tokens)

		require.Len(t, outcomes, 2)
		for _, o := range outcomes {
			assert.Equal(t, domain.StatusDelivered, o.Status)
			assert.Equal(t, event.DedupKey(), o.DedupKey)
		}
	})

	t.Run("each topic gets its own message", func(t *testing.T) {
		notifier := &fakeNotifier{}
		d := New(admitAll{}, notifier, Config{}, testLogger())

		event := eventFor("L1", "temp-low",
			domain.Recipient{Topic: "alerts_home"},
			domain.Recipient{Topic: "alerts_office"},
		)
		outcomes := d.Dispatch(ctx, []domain.AlertEvent{event})

		require.Len(t, notifier.batches[0], 2)
		require.Len(t, outcomes, 2)
		assert.Equal(t, "alerts_home", outcomes[0].Target)
		assert.Equal(t, "alerts_office", outcomes[1].Target)
	})

	t.Run("no recipients falls back to the derived location topic", func(t *testing.T) {
		notifier := &fakeNotifier{}
		d := New(admitAll{}, notifier, Config{}, testLogger())

		event := eventFor("L1", "temp-low")
		event.LocationName = "München Stadt"
		outcomes := d.Dispatch(ctx, []domain.AlertEvent{event})

		require.Len(t, outcomes, 1)
		assert.Equal(t, "alerts_munchen-stadt", outcomes[0].Target)
	})

	t.Run("suppressed duplicate never reaches the notifier", func(t *testing.T) {
		notifier := &fakeNotifier{}
		d := New(newFakeAdmitter(), notifier, Config{}, testLogger())

		event := eventFor("L1", "temp-low", domain.Recipient{Token: "tok-1"})
		outcomes := d.Dispatch(ctx, []domain.AlertEvent{event, event})

		require.Len(t, outcomes, 2)
		assert.Equal(t, domain.StatusDelivered, outcomes[1].Status)
		assert.Equal(t, domain.StatusSkippedDuplicate, outcomes[0].Status)
		require.Len(t, notifier.batches, 1)
		assert.Len(t, notifier.batches[0], 1)
	})

	t.Run("invalid recipient status passes through", func(t *testing.T) {
		notifier := &fakeNotifier{statuses: map[string]domain.DispatchStatus{
			"tok-dead": domain.StatusInvalidRecipient,
		}}
		d := New(admitAll{}, notifier, Config{}, testLogger())

		event := eventFor("L1", "temp-low",
			domain.Recipient{Token: "tok-live"},
			domain.Recipient{Token: "tok-dead"},
		)
		outcomes := d.Dispatch(ctx, []domain.AlertEvent{event})

		require.Len(t, outcomes, 2)
		assert.Equal(t, domain.StatusDelivered, outcomes[0].Status)
		assert.Equal(t, domain.StatusInvalidRecipient, outcomes[1].Status)
	})

	t.Run("notifier error marks the whole chunk failed", func(t *testing.T) {
		notifier := &fakeNotifier{err: errors.New("provider down")}
		d := New(admitAll{}, notifier, Config{}, testLogger())

		event := eventFor("L1", "temp-low", domain.Recipient{Token: "tok-1"})
		outcomes := d.Dispatch(ctx, []domain.AlertEvent{event})

		require.Len(t, outcomes, 1)
		assert.Equal(t, domain.StatusFailed, outcomes[0].Status)
		assert.Contains(t, outcomes[0].Reason, "provider down")
	})

	t.Run("messages are chunked by batch size", func(t *testing.T) {
		notifier := &fakeNotifier{}
		d := New(admitAll{}, notifier, Config{BatchSize: 2}, testLogger())

		events := []domain.AlertEvent{
			eventFor("L1", "r1", domain.Recipient{Topic: "t1"}),
			eventFor("L2", "r2", domain.Recipient{Topic: "t2"}),
			eventFor("L3", "r3", domain.Recipient{Topic: "t3"}),
		}
		outcomes := d.Dispatch(ctx, events)

		require.Len(t, notifier.batches, 2)
		assert.Len(t, notifier.batches[0], 2)
		assert.Len(t, notifier.batches[1], 1)
		assert.Len(t, outcomes, 3)
	})

	t.Run("no events produces no sends", func(t *testing.T) {
		notifier := &fakeNotifier{}
		d := New(admitAll{}, notifier, Config{}, testLogger())

		outcomes := d.Dispatch(ctx, nil)
		assert.Empty(t, outcomes)
		assert.Empty(t, notifier.batches)
	})
}

func TestDispatchMessageContent(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2026, 8, 25, 11, 0, 0, 0, time.UTC))
	domain.SetClock(fake)
	defer domain.SetClock(nil)

	notifier := &fakeNotifier{}
	d := New(admitAll{}, notifier, Config{MessageTTL: 3 * time.Hour}, testLogger())

	event := eventFor("L1", "temp-low", domain.Recipient{Token: "tok-1"})
	d.Dispatch(context.Background(), []domain.AlertEvent{event})

	require.Len(t, notifier.batches, 1)
	msg := notifier.batches[0][0]
	assert.Equal(t, "Home: temperature alert", msg.Title)
	assert.Contains(t, msg.Body, "7.5°C")
	assert.Contains(t, msg.Body, "STATION")
	assert.Contains(t, msg.Body, "< 10°C")
	assert.Equal(t, "forecast_alerts", msg.ChannelID)
	assert.True(t, msg.Important)
	assert.Equal(t, fake.Now().Add(3*time.Hour), msg.Expires)
}
