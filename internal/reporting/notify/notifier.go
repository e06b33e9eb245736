package notify

import (
	"context"
	"time"
)

// ReportNotice describes a finished report run.
type ReportNotice struct {
	Key         string    `json:"key,omitempty"`
	Format      string    `json:"format"`
	Devices     int       `json:"devices"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Error       string    `json:"error,omitempty"`
}

// Notifier delivers report notices.
type Notifier interface {
	Notify(ctx context.Context, notice ReportNotice) error
}
