package botapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// WebhookMessenger forwards outbound messages to the bot front-end over a
// webhook. With no URL configured it logs messages instead, which keeps
// local development working without a front-end.
type WebhookMessenger struct {
	url    string
	httpc  *http.Client
	logger *log.Logger
}

// NewWebhookMessenger creates a messenger posting to url.
func NewWebhookMessenger(url string, logger *log.Logger) *WebhookMessenger {
	if logger == nil {
		logger = log.Default()
	}
	return &WebhookMessenger{
		url:    url,
		httpc:  &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (m *WebhookMessenger) post(ctx context.Context, payload any) error {
	if m.url == "" {
		data, _ := json.Marshal(payload)
		m.logger.Printf("INFO outbound message (no webhook configured): %s", data)
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SendText delivers a plain text message to the user.
func (m *WebhookMessenger) SendText(ctx context.Context, userID int64, text string) error {
	return m.post(ctx, map[string]any{
		"type":    "text",
		"user_id": userID,
		"text":    text,
	})
}

// SendPhoto delivers a captioned JPEG to the user.
func (m *WebhookMessenger) SendPhoto(ctx context.Context, userID int64, caption string, jpeg []byte) error {
	return m.post(ctx, map[string]any{
		"type":    "photo",
		"user_id": userID,
		"caption": caption,
		"photo":   base64.StdEncoding.EncodeToString(jpeg),
	})
}
