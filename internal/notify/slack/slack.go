// Package slack posts critical alerts to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/riskwatch/internal/alert"
	"github.com/linnemanlabs/riskwatch/internal/alerting"
	"github.com/linnemanlabs/riskwatch/internal/event"
)

const (
	maxDescriptionLen = 3000
	httpTimeout       = 10 * time.Second
)

// Notifier sends critical alerts to a Slack webhook.
type Notifier struct {
	webhookURL string
	logger     log.Logger
	client     *http.Client
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		logger:     logger,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// AlertSink returns an alerting sink that posts CRITICAL alerts. The post
// happens on its own goroutine so a slow webhook never stretches the
// publish path.
func (n *Notifier) AlertSink() alerting.Sink {
	return func(ctx context.Context, a *alert.Alert) {
		if a.Severity != event.SeverityCritical || n.webhookURL == "" {
			return
		}
		go func(ctx context.Context, a *alert.Alert) {
			if err := n.Send(ctx, a); err != nil {
				n.logger.Error(ctx, err, "slack notification failed", "alert_id", a.ID)
			}
		}(context.WithoutCancel(ctx), a)
	}
}

// Send posts an alert to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, a *alert.Alert) error {
	if n.webhookURL == "" {
		return nil
	}

	msg := buildMessage(a)

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(a *alert.Alert) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(a),
			{"type": "divider"},
			fieldsBlock(a),
			{"type": "divider"},
			descriptionBlock(a),
			{"type": "divider"},
			contextBlock(a),
		},
	}
}

func headerBlock(a *alert.Alert) map[string]any {
	text := fmt.Sprintf("%s Risk Alert: %s", severityEmoji(a.Severity), a.RuleID)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(a *alert.Alert) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Severity:* %s", a.Severity),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Category:* %s", a.Category),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Withdrawal:* %s", orDash(a.WithdrawalID)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*User:* %s", orDash(a.UserID)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Events:* %d", len(a.RelatedEventIDs)),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Sources:* %s", orDash(strings.Join(a.Sources, ", "))),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func descriptionBlock(a *alert.Alert) map[string]any {
	text := truncate(a.Description, maxDescriptionLen)
	if text == "" {
		text = "_No description available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Description*\n\n%s", text),
		},
	}
}

func contextBlock(a *alert.Alert) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("riskwatch • alert %s • %s", a.ID, a.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func severityEmoji(severity event.Severity) string {
	switch severity {
	case event.SeverityCritical:
		return "\U0001f534" // red circle
	case event.SeverityWarning:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
