package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Permission — аналог Notification.permission браузера.
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// PlatformNotifier — системное уведомление. Используется оппортунистически:
// вызывающий проверяет Permission и никогда не ждет выдачи разрешения.
type PlatformNotifier interface {
	Permission() Permission
	Notify(ctx context.Context, title, body string) error
}

// WebhookNotifier отправляет уведомления на внешний HTTP endpoint (ntfy, Slack-прокси и т.п.).
// Разрешение считается выданным, если URL задан в конфиге.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
}

func NewWebhookNotifier(url string, timeout time.Duration, headers map[string]string) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookNotifier{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: timeout},
	}
}

func (w *WebhookNotifier) Permission() Permission {
	if w.url == "" {
		return PermissionDenied
	}
	return PermissionGranted
}

type webhookPayload struct {
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, title, body string) error {
	if w.Permission() != PermissionGranted {
		return nil
	}

	data, err := json.Marshal(webhookPayload{Title: title, Body: body, Timestamp: time.Now()})
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notify: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: webhook delivery failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned status %s", resp.Status)
	}
	return nil
}
