package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWebhookNotifierPostsText(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	end := time.Date(2024, 1, 2, 2, 0, 0, 0, time.UTC)
	notice := ReportNotice{
		Key:         "reports/daily_report_2024-01-02.csv",
		Format:      "csv",
		Devices:     3,
		WindowStart: end.Add(-24 * time.Hour),
		WindowEnd:   end,
	}
	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), notice); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if got.MsgType != "text" {
		t.Fatalf("unexpected msgtype %q", got.MsgType)
	}
	for _, want := range []string{"[Daily Report]", "reports/daily_report_2024-01-02.csv", "Devices: 3"} {
		if !strings.Contains(got.Text.Content, want) {
			t.Fatalf("expected %q in %q", want, got.Text.Content)
		}
	}
}

func TestWebhookNotifierErrors(t *testing.T) {
	if err := NewWebhookNotifier("").Notify(context.Background(), ReportNotice{}); err == nil {
		t.Fatalf("expected empty url error")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL).Notify(context.Background(), ReportNotice{Error: "boom"}); err == nil {
		t.Fatalf("expected non-2xx error")
	}
}

func TestFormatNoticeFailure(t *testing.T) {
	content := formatNotice(ReportNotice{Format: "pdf", Error: "db down"})
	if !strings.HasPrefix(content, "[Daily Report Failed]") || !strings.Contains(content, "Error: db down") {
		t.Fatalf("unexpected content %q", content)
	}
	if strings.Contains(content, "Object:") {
		t.Fatalf("failed notice must not list an object")
	}
}
