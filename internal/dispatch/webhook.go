package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// WebhookDispatcher POSTs {to, message} to a configured notify endpoint.
// This is the default channel: transport and endpoint are configuration, not
// part of the reminder contract.
type WebhookDispatcher struct {
	client *http.Client
	url    string
	logger *zap.Logger
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// notifyPayload is the wire shape the notification boundary expects.
type notifyPayload struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

// NewWebhookDispatcher creates a webhook dispatcher.
func NewWebhookDispatcher(cfg WebhookConfig, logger *zap.Logger) *WebhookDispatcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	return &WebhookDispatcher{
		client: &http.Client{Timeout: timeout},
		url:    cfg.URL,
		logger: logger,
	}
}

// Send delivers one message. A non-2xx response counts as a failed dispatch.
func (d *WebhookDispatcher) Send(ctx context.Context, recipient, message string) error {
	body, err := json.Marshal(notifyPayload{To: recipient, Message: message})
	if err != nil {
		return fmt.Errorf("marshal notify payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Tickler/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify request failed: %w", err)
	}
	defer resp.Body.Close()

	preview, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify endpoint returned %d: %s", resp.StatusCode, string(preview))
	}

	d.logger.Info("notification delivered via webhook",
		zap.String("recipient", recipient),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}
