package application

import (
	"context"
	"errors"
	"log"
	"time"

	reporting "telemetry-pipeline/internal/reporting/domain"
)

// Scheduler runs the report job once a day at a fixed UTC time.
type Scheduler struct {
	job     *Job
	hour    int
	minute  int
	logger  *log.Logger
	lastRun time.Time
}

// NewScheduler constructs a Scheduler for an HH:MM UTC slot.
func NewScheduler(job *Job, dailyAt string, logger *log.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("report scheduler: nil job")
	}
	hour, minute, err := reporting.ParseDailyAt(dailyAt)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{job: job, hour: hour, minute: minute, logger: logger}, nil
}

// Start blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(ctx, now.UTC())
		}
	}
}

// Tick runs the job if now matches the daily slot and it has not run today.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) bool {
	if !s.shouldRun(now) {
		return false
	}
	s.lastRun = now
	if _, err := s.job.Run(ctx, now); err != nil {
		s.logger.Printf("report schedule error: err=%v", err)
	}
	return true
}

func (s *Scheduler) shouldRun(now time.Time) bool {
	now = now.UTC()
	if now.Hour() != s.hour || now.Minute() != s.minute {
		return false
	}
	return !sameDay(s.lastRun, now)
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
