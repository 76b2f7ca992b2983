// Package fcm implements the notification capability against the FCM
// legacy HTTP API. One request carries either a multicast to a token list
// or a single topic send; per-recipient results come back in request order.
package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

// DefaultEndpoint is the production FCM legacy send endpoint.
const DefaultEndpoint = "https://fcm.googleapis.com/fcm/send"

// Client sends push notifications. It implements domain.Notifier.
type Client struct {
	endpoint   string
	serverKey  string
	httpClient *http.Client
	dryRun     bool
	logger     *slog.Logger
}

// NewClient creates an FCM client. With dryRun the provider validates
// messages without delivering them.
func NewClient(endpoint, serverKey string, timeout time.Duration, dryRun bool, logger *slog.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint:  endpoint,
		serverKey: serverKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		dryRun: dryRun,
		logger: logger,
	}
}

// Send delivers a batch of messages, one provider call per message, and
// returns one result per recipient in input order. Per-message transport
// failures become failed results; only context cancellation aborts the
// batch.
func (c *Client) Send(ctx context.Context, msgs []domain.PushMessage) ([]domain.PushResult, error) {
	var results []domain.PushResult
	for _, msg := range msgs {
		res, err := c.sendOne(ctx, msg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("send batch: %w", ctx.Err())
			}
			c.logger.Warn("push send failed", "topic", msg.Topic, "tokens", len(msg.Tokens), "error", err)
			results = append(results, failAll(msg, err.Error())...)
			continue
		}
		results = append(results, res...)
	}
	return results, nil
}

// Legacy API request/response shapes.

type request struct {
	To              string       `json:"to,omitempty"`
	RegistrationIDs []string     `json:"registration_ids,omitempty"`
	Notification    notification `json:"notification"`
	Priority        string       `json:"priority,omitempty"`
	TimeToLive      *int         `json:"time_to_live,omitempty"`
	DryRun          bool         `json:"dry_run,omitempty"`
}

type notification struct {
	Title            string `json:"title"`
	Body             string `json:"body"`
	AndroidChannelID string `json:"android_channel_id,omitempty"`
	Sound            string `json:"sound,omitempty"`
}

type response struct {
	Success   int    `json:"success"`
	Failure   int    `json:"failure"`
	MessageID any    `json:"message_id,omitempty"` // set for topic sends
	Error     string `json:"error,omitempty"`
	Results   []struct {
		MessageID string `json:"message_id,omitempty"`
		Error     string `json:"error,omitempty"`
	} `json:"results,omitempty"`
}

func (c *Client) sendOne(ctx context.Context, msg domain.PushMessage) ([]domain.PushResult, error) {
	req := request{
		RegistrationIDs: msg.Tokens,
		Notification: notification{
			Title:            msg.Title,
			Body:             msg.Body,
			AndroidChannelID: msg.ChannelID,
			Sound:            "default",
		},
		DryRun: c.dryRun,
	}
	if msg.Topic != "" {
		req.To = "/topics/" + msg.Topic
		req.RegistrationIDs = nil
	}
	if msg.Important {
		req.Priority = "high"
	}
	if !msg.Expires.IsZero() {
		ttl := int(time.Until(msg.Expires).Seconds())
		if ttl < 0 {
			ttl = 0
		}
		req.TimeToLive = &ttl
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "key="+c.serverKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("provider status %d: %s", resp.StatusCode, raw)
	}

	var fcmResp response
	if err := json.NewDecoder(resp.Body).Decode(&fcmResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return mapResults(msg, fcmResp), nil
}

// mapResults converts a provider response into per-recipient results.
func mapResults(msg domain.PushMessage, resp response) []domain.PushResult {
	if msg.Topic != "" {
		if resp.Error != "" {
			return []domain.PushResult{{Target: msg.Topic, Status: domain.StatusFailed, Reason: resp.Error}}
		}
		return []domain.PushResult{{Target: msg.Topic, Status: domain.StatusDelivered}}
	}

	results := make([]domain.PushResult, len(msg.Tokens))
	for i, token := range msg.Tokens {
		results[i] = domain.PushResult{Target: token, Status: domain.StatusDelivered}
		if i >= len(resp.Results) {
			continue
		}
		if errCode := resp.Results[i].Error; errCode != "" {
			results[i].Status = classify(errCode)
			results[i].Reason = errCode
		}
	}
	return results
}

// classify separates dead recipients from transient provider errors so
// stale tokens can be pruned upstream.
func classify(errCode string) domain.DispatchStatus {
	switch errCode {
	case "NotRegistered", "InvalidRegistration", "MissingRegistration", "MismatchSenderId":
		return domain.StatusInvalidRecipient
	}
	return domain.StatusFailed
}

func failAll(msg domain.PushMessage, reason string) []domain.PushResult {
	if msg.Topic != "" {
		return []domain.PushResult{{Target: msg.Topic, Status: domain.StatusFailed, Reason: reason}}
	}
	results := make([]domain.PushResult, len(msg.Tokens))
	for i, token := range msg.Tokens {
		results[i] = domain.PushResult{Target: token, Status: domain.StatusFailed, Reason: reason}
	}
	return results
}
