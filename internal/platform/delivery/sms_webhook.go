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

// WebhookSMSSender hands SMS messages to an HTTP gateway as a JSON POST.
type WebhookSMSSender struct {
	url    string
	token  string
	client *http.Client
}

func NewWebhookSMSSender(url, token string, timeout time.Duration) *WebhookSMSSender {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WebhookSMSSender{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: timeout},
	}
}

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func (s *WebhookSMSSender) SendSMS(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(smsPayload{To: to, Body: body})
	if err != nil {
		return fmt.Errorf("encode sms payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway rejected request: status %d", resp.StatusCode)
	}
	return nil
}
