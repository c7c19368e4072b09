// Package webhook delivers escalation notifications as JSON POSTs to a
// configured webhook URL. Email, SMS and push channels ride the same
// adapter against their respective gateway endpoints.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/watchtower/internal/notify"
)

const httpTimeout = 10 * time.Second

// Dispatcher posts messages to the URL in the recipient config.
type Dispatcher struct {
	client *http.Client
}

// New creates a webhook dispatcher.
func New() *Dispatcher {
	return &Dispatcher{client: &http.Client{Timeout: httpTimeout}}
}

// Send posts the message to rc["url"]. Non-2xx responses are errors.
func (d *Dispatcher) Send(ctx context.Context, rc notify.RecipientConfig, msg notify.Message) error {
	url := rc["url"]
	if url == "" {
		return fmt.Errorf("webhook: no url configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req) //nolint:gosec // G704: url is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook: returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
