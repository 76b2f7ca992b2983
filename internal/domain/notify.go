package domain

import (
	"context"
	"time"
)

// PushMessage is one outbound notification. It targets either a set of
// device tokens (one multicast call) or a single topic.
type PushMessage struct {
	Tokens []string
	Topic  string

	Title     string
	Body      string
	ChannelID string
	Important bool
	Expires   time.Time
}

// PushResult is the per-recipient outcome of a send. Invalid recipients
// (unregistered tokens) are reported distinctly from transient provider
// errors so stale routing data can be pruned upstream.
type PushResult struct {
	Target string // token or topic
	Status DispatchStatus
	Reason string
}

// Notifier is the notification capability: send a batch of messages,
// return one result per recipient. Implementations must honor ctx
// deadlines so one slow recipient cannot stall the batch.
type Notifier interface {
	Send(ctx context.Context, msgs []PushMessage) ([]PushResult, error)
}
