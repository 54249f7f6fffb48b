package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook event types.
const (
	EventExportReady  = "export.ready"
	EventExportFailed = "export.failed"
)

// WebhookPayload is the JSON body posted to webhook targets.
type WebhookPayload struct {
	Type        string    `json:"type"`
	Filename    string    `json:"filename,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	Summary     string    `json:"summary"`
	Timestamp   time.Time `json:"timestamp"`
}

// WebhookPoster posts a payload to a URL.
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload WebhookPayload) error
}

// HTTPWebhook posts JSON with an http.Client. Any non-2xx response is an
// error.
type HTTPWebhook struct {
	Client *http.Client
}

// NewHTTPWebhook returns a poster whose requests time out after timeout.
func NewHTTPWebhook(timeout time.Duration) *HTTPWebhook {
	return &HTTPWebhook{Client: &http.Client{Timeout: timeout}}
}

func (h *HTTPWebhook) Post(ctx context.Context, url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "bulkio-webhook/1")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
