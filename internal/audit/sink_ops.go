package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/slack-go/slack"
)

// SlackSink posts audit events as Slack attachments via an incoming
// webhook, one message per batch. Adapted from internal/alert/slack.go,
// switched from a hand-rolled payload map to slack-go/slack's typed
// WebhookMessage/Attachment so malformed fields fail at compile time
// instead of silently rendering wrong in Slack.
type SlackSink struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackSink constructs a SlackSink posting to webhookURL, optionally
// overriding the channel the incoming webhook defaults to.
func NewSlackSink(webhookURL, channel string) *SlackSink {
	return &SlackSink{webhookURL: webhookURL, channel: channel, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *SlackSink) Name() string { return "slack" }

// Send posts one Slack message summarizing the whole batch; individual
// events are listed as attachment fields, capped to keep the message
// within Slack's size limits.
func (s *SlackSink) Send(ctx context.Context, events []Event) error {
	const maxListed = 20
	attachments := make([]slack.Attachment, 0, len(events))
	for i, ev := range events {
		if i >= maxListed {
			break
		}
		attachments = append(attachments, slack.Attachment{
			Color: severityColor(ev.Severity),
			Title: string(ev.EventType),
			Text:  ev.Decision,
			Fields: []slack.AttachmentField{
				{Title: "Severity", Value: string(ev.Severity), Short: true},
				{Title: "Resource", Value: ev.ResourceID, Short: true},
				{Title: "Principal", Value: ev.PrincipalEmail, Short: true},
			},
			Ts: json.Number(fmt.Sprintf("%d", ev.Timestamp.Unix())),
		})
	}

	msg := slack.WebhookMessage{
		Channel:     s.channel,
		Text:        fmt.Sprintf("%d audit event(s)", len(events)),
		Attachments: attachments,
	}

	req, err := newWebhookRequest(ctx, s.webhookURL, msg)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit: slack post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("audit: slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// HealthCheck reports the webhook endpoint reachable; Slack's incoming
// webhooks have no dedicated health endpoint, so this is a best-effort
// HEAD request.
func (s *SlackSink) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.webhookURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 500
}

func newWebhookRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("audit: marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("audit: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func severityColor(sev Severity) string {
	switch sev {
	case SeverityCritical:
		return "#dc3545"
	case SeverityHigh:
		return "#fd7e14"
	case SeverityMedium:
		return "#ffc107"
	default:
		return "#17a2b8"
	}
}

// WebhookSink POSTs a batch of events as a JSON array to a generic
// endpoint, HMAC-signing the body when a secret is configured. Adapted
// from internal/alert/webhook.go's signing scheme, generalized from one
// Alert to a batch of Events.
type WebhookSink struct {
	name   string
	url    string
	secret string
	client *http.Client
}

// NewWebhookSink constructs a WebhookSink. name distinguishes multiple
// configured webhook sinks in stats and logs.
func NewWebhookSink(name, url, secret string) *WebhookSink {
	if name == "" {
		name = "webhook"
	}
	return &WebhookSink{name: name, url: url, secret: secret, client: &http.Client{Timeout: 10 * time.Second}}
}

func (w *WebhookSink) Name() string { return w.name }

func (w *WebhookSink) Send(ctx context.Context, events []Event) error {
	body, err := MarshalBatch(events)
	if err != nil {
		return fmt.Errorf("audit: marshal webhook batch: %w", err)
	}

	compressed, gzipped, err := Compress(body, 0)
	if err != nil {
		return fmt.Errorf("audit: compress webhook batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("audit: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sark-audit/1.0")
	if gzipped {
		req.Header.Set("Content-Encoding", "gzip")
	}
	if w.secret != "" {
		req.Header.Set("X-Sark-Signature", signHMAC(body, w.secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("audit: webhook post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("audit: webhook returned %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookSink) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, w.url, nil)
	if err != nil {
		return false
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < 500
}

func signHMAC(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
