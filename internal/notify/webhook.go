package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/1broseidon/beacon/internal/config"
)

const (
	defaultWebhookField    = "content"
	defaultWebhookTemplate = "{{.Subject}}\n{{.Body}}"
)

// WebhookChannel posts alerts as JSON to an HTTP endpoint. The payload is a
// single field whose value is rendered from a template, which matches chat
// webhooks such as Discord's {"content": "..."}.
type WebhookChannel struct {
	url     string
	field   string
	tmpl    *template.Template
	headers map[string]string
	client  *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(cfg config.WebhookConfig, timeout time.Duration) (*WebhookChannel, error) {
	field := cfg.Field
	if field == "" {
		field = defaultWebhookField
	}
	text := cfg.Template
	if text == "" {
		text = defaultWebhookTemplate
	}
	tmpl, err := template.New("webhook").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook template: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookChannel{
		url:     cfg.URL,
		field:   field,
		tmpl:    tmpl,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) payload(alert Alert) ([]byte, error) {
	var content strings.Builder
	if err := w.tmpl.Execute(&content, alert); err != nil {
		return nil, fmt.Errorf("render webhook template: %w", err)
	}
	return json.Marshal(map[string]string{w.field: strings.TrimRight(content.String(), "\n")})
}

// Send posts the alert. Any non-2xx response is a failure.
func (w *WebhookChannel) Send(ctx context.Context, alert Alert) error {
	body, err := w.payload(alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Beacon/1.0")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
