package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"telemetry-pipeline/internal/archive"
	"telemetry-pipeline/internal/observability/metrics"
	reporting "telemetry-pipeline/internal/reporting/domain"
	"telemetry-pipeline/internal/reporting/export"
	"telemetry-pipeline/internal/reporting/notify"
)

// SummaryQuery reads per-device aggregates for a window.
type SummaryQuery interface {
	Summaries(ctx context.Context, from, to time.Time) ([]reporting.DeviceSummary, error)
}

// Job builds the daily report and uploads it to the archive.
type Job struct {
	query    SummaryQuery
	store    archive.ObjectStore
	format   reporting.Format
	window   time.Duration
	logger   *log.Logger
	notifier notify.Notifier
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithNotifier sends a notice after every run, successful or not.
func WithNotifier(n notify.Notifier) JobOption {
	return func(j *Job) {
		j.notifier = n
	}
}

// NewJob constructs a report job.
func NewJob(query SummaryQuery, store archive.ObjectStore, format reporting.Format, window time.Duration, logger *log.Logger, opts ...JobOption) (*Job, error) {
	if query == nil {
		return nil, errors.New("report job: nil query")
	}
	if store == nil {
		return nil, errors.New("report job: nil archive store")
	}
	if _, err := reporting.ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	if logger == nil {
		logger = log.Default()
	}
	j := &Job{query: query, store: store, format: format, window: window, logger: logger}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Run aggregates [now-window, now), renders it and writes
// reports/daily_report_<date>.<ext>. It returns the object key.
func (j *Job) Run(ctx context.Context, now time.Time) (string, error) {
	start := time.Now()
	report := reporting.Report{
		GeneratedAt: now.UTC(),
		WindowStart: now.UTC().Add(-j.window),
		WindowEnd:   now.UTC(),
	}
	key, err := j.run(ctx, &report)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		j.logger.Printf("report job: failed format=%s err=%v", j.format, err)
	} else {
		j.logger.Printf("report job: uploaded key=%s devices=%d", key, len(report.Rows))
	}
	metrics.ObserveReport(string(j.format), result, time.Since(start))
	j.notify(ctx, key, report, err)
	return key, err
}

func (j *Job) run(ctx context.Context, report *reporting.Report) (string, error) {
	rows, err := j.query.Summaries(ctx, report.WindowStart, report.WindowEnd)
	if err != nil {
		return "", fmt.Errorf("report job: query: %w", err)
	}
	report.Rows = rows

	data, err := export.Render(j.format, *report)
	if err != nil {
		return "", fmt.Errorf("report job: render: %w", err)
	}
	key := archive.ReportKey(report.GeneratedAt, string(j.format))
	if err := j.store.Put(ctx, key, data, j.format.ContentType()); err != nil {
		return "", fmt.Errorf("report job: upload %s: %w", key, err)
	}
	return key, nil
}

func (j *Job) notify(ctx context.Context, key string, report reporting.Report, runErr error) {
	if j.notifier == nil {
		return
	}
	notice := notify.ReportNotice{
		Key:         key,
		Format:      string(j.format),
		Devices:     len(report.Rows),
		WindowStart: report.WindowStart,
		WindowEnd:   report.WindowEnd,
	}
	if runErr != nil {
		notice.Error = runErr.Error()
	}
	if err := j.notifier.Notify(ctx, notice); err != nil {
		j.logger.Printf("report job: notify failed: %v", err)
	}
}
