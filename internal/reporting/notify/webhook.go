package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookNotifier posts a text message to a chat-style webhook.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

type webhookPayload struct {
	MsgType string      `json:"msgtype"`
	Text    webhookText `json:"text"`
}

type webhookText struct {
	Content string `json:"content"`
}

// NewWebhookNotifier constructs a notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify sends the notice to the webhook.
func (n *WebhookNotifier) Notify(ctx context.Context, notice ReportNotice) error {
	if n == nil || n.url == "" {
		return errors.New("webhook notifier: empty url")
	}
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: formatNotice(notice)},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook notifier: status %d", resp.StatusCode)
	}
	return nil
}

func formatNotice(notice ReportNotice) string {
	var b strings.Builder
	if notice.Error != "" {
		b.WriteString("[Daily Report Failed]\n")
	} else {
		b.WriteString("[Daily Report]\n")
	}
	fmt.Fprintf(&b, "Window: %s - %s\n", notice.WindowStart.UTC().Format(time.RFC3339), notice.WindowEnd.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Format: %s\n", notice.Format)
	if notice.Key != "" {
		fmt.Fprintf(&b, "Object: %s\n", notice.Key)
		fmt.Fprintf(&b, "Devices: %d\n", notice.Devices)
	}
	if notice.Error != "" {
		fmt.Fprintf(&b, "Error: %s\n", notice.Error)
	}
	return strings.TrimSpace(b.String())
}
