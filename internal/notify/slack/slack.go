// Package slack delivers escalation notifications to a Slack incoming
// webhook, rendered as Block Kit messages.
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

	"github.com/linnemanlabs/watchtower/internal/notify"
)

const (
	maxSummaryLen = 3000
	httpTimeout   = 10 * time.Second
)

// Dispatcher posts escalation messages to the Slack webhook URL in the
// recipient config.
type Dispatcher struct {
	client *http.Client
}

// New creates a Slack dispatcher.
func New() *Dispatcher {
	return &Dispatcher{client: &http.Client{Timeout: httpTimeout}}
}

// payloadFields is the slice of the alert payload the message renders.
type payloadFields struct {
	RuleName     string  `json:"rule_name"`
	EventTitle   string  `json:"event_title"`
	EventSummary string  `json:"event_summary"`
	Entity       string  `json:"entity"`
	VolumeScore  float64 `json:"volume_score"`
}

// Send posts the message to rc["url"]. Non-2xx responses are errors.
func (d *Dispatcher) Send(ctx context.Context, rc notify.RecipientConfig, msg notify.Message) error {
	url := rc["url"]
	if url == "" {
		return fmt.Errorf("slack: no url configured")
	}

	body, err := json.Marshal(buildMessage(msg))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
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

func buildMessage(msg notify.Message) map[string]any {
	var pf payloadFields
	_ = json.Unmarshal([]byte(msg.Body), &pf)

	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(msg, pf),
			{"type": "divider"},
			fieldsBlock(msg, pf),
			summaryBlock(pf),
			{"type": "divider"},
			contextBlock(msg),
		},
	}
}

func headerBlock(msg notify.Message, pf payloadFields) map[string]any {
	title := pf.EventTitle
	if title == "" {
		title = msg.Subject
	}
	text := fmt.Sprintf("\U0001f6a8 Escalation L%d: %s", msg.Level, title)

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(msg notify.Message, pf payloadFields) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Alert:* %s", msg.AlertID),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Level:* %d", msg.Level),
		},
	}
	if pf.RuleName != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Rule:* %s", pf.RuleName),
		})
	}
	if pf.Entity != "" {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Entity:* %s", pf.Entity),
		})
	}
	if pf.VolumeScore > 0 {
		fields = append(fields, map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Volume:* %.1f", pf.VolumeScore),
		})
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func summaryBlock(pf payloadFields) map[string]any {
	text := truncate(strings.TrimSpace(pf.EventSummary), maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}

	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Summary*\n\n%s", text),
		},
	}
}

func contextBlock(msg notify.Message) map[string]any {
	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("watchtower • alert %s • %s", msg.AlertID,
				time.Now().UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
