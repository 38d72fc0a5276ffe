package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/darshan-rambhia/racestats/internal/model"
	"github.com/goccy/go-json"
)

// Webhook payload formats.
const (
	FormatJSON    = "json"    // the notification as-is
	FormatDiscord = "discord" // a Discord execute-webhook message
)

// WebhookProvider posts notifications to an arbitrary HTTP endpoint, either
// as the raw notification JSON or as a Discord message.
type WebhookProvider struct {
	url     string
	method  string
	headers map[string]string
	encode  func(model.Notification) ([]byte, error)
	client  *http.Client
}

// NewWebhook returns a webhook provider. method defaults to POST and format
// to FormatJSON; headers are set on every request.
func NewWebhook(url, method, format string, headers map[string]string) *WebhookProvider {
	w := &WebhookProvider{
		url:     url,
		method:  orDefault(method, http.MethodPost),
		headers: headers,
		encode:  encodeJSON,
		client:  httpClient,
	}
	if format == FormatDiscord {
		w.encode = encodeDiscord
	}
	return w
}

func (w *WebhookProvider) Name() string { return "webhook" }

func (w *WebhookProvider) Send(ctx context.Context, n model.Notification) error {
	body, err := w.encode(n)
	if err != nil {
		return fmt.Errorf("webhook: encode: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	if err := do(w.client, req); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func encodeJSON(n model.Notification) ([]byte, error) { return json.Marshal(n) }

func encodeDiscord(n model.Notification) ([]byte, error) {
	return json.Marshal(struct {
		Username string `json:"username"`
		Content  string `json:"content"`
	}{"racestats", "**" + n.Title + "**\n" + n.Message})
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
