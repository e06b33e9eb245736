// Package bootstrap builds process-wide clients from configuration.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telemetry-pipeline/internal/archive"
	archivefs "telemetry-pipeline/internal/archive/filesystem"
	archivememory "telemetry-pipeline/internal/archive/memory"
	archives3 "telemetry-pipeline/internal/archive/s3"
	"telemetry-pipeline/internal/config"
	"telemetry-pipeline/internal/queue"
	queuememory "telemetry-pipeline/internal/queue/memory"
	queuepostgres "telemetry-pipeline/internal/queue/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var (
	// ErrNoDSN is returned when a database-backed client has no DSN.
	ErrNoDSN = errors.New("bootstrap: no database dsn configured")
	// ErrQueueRequired is returned when a worker-only process has no queue.
	ErrQueueRequired = errors.New("bootstrap: worker role requires a queue")
)

// Queue is a queue client usable from both sides.
type Queue interface {
	queue.Publisher
	queue.Subscriber
}

// OpenDB opens a pgx-backed pool and verifies connectivity.
func OpenDB(ctx context.Context, dsn string, maxOpen int) (*sql.DB, error) {
	if dsn == "" {
		return nil, ErrNoDSN
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if maxOpen <= 0 {
		maxOpen = 10
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// StartWorker decides whether the processing worker runs. A worker-only
// process without a queue cannot do anything and fails. A combined process
// skips the worker and keeps the gateway up in simulated mode.
func StartWorker(cfg config.Config, queueReady bool) (bool, error) {
	if !cfg.RunsWorker() {
		return false, nil
	}
	if queueReady {
		return true, nil
	}
	if cfg.Role == config.RoleWorker {
		return false, ErrQueueRequired
	}
	return false, nil
}

// OpenQueue builds the configured queue. The postgres driver needs db.
func OpenQueue(cfg config.QueueConfig, db *sql.DB) (Queue, error) {
	switch cfg.Driver {
	case config.QueueMemory:
		return queuememory.New(queuememory.WithMaxAttempts(cfg.MaxAttempts)), nil
	case config.QueuePostgres:
		if db == nil {
			return nil, ErrNoDSN
		}
		return queuepostgres.NewQueue(db, cfg.Topic,
			queuepostgres.WithTable(cfg.Table),
			queuepostgres.WithDeadLetterTable(cfg.DeadLetterTable),
			queuepostgres.WithLease(cfg.Lease),
			queuepostgres.WithPollInterval(cfg.PollInterval),
			queuepostgres.WithMaxAttempts(cfg.MaxAttempts),
		)
	default:
		return nil, fmt.Errorf("bootstrap: unknown queue driver %q", cfg.Driver)
	}
}

// OpenArchive builds the configured object store.
func OpenArchive(ctx context.Context, cfg config.ArchiveConfig) (archive.ObjectStore, error) {
	switch cfg.Driver {
	case config.ArchiveFilesystem:
		return archivefs.New(cfg.Root)
	case config.ArchiveS3:
		return archives3.New(ctx, s3Config(cfg))
	case config.ArchiveMemory:
		return archivememory.New(), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown archive driver %q", cfg.Driver)
	}
}

func s3Config(cfg config.ArchiveConfig) archives3.Config {
	return archives3.Config{
		Bucket:          cfg.Bucket,
		Prefix:          cfg.Prefix,
		Region:          cfg.Region,
		Endpoint:        cfg.Endpoint,
		UsePathStyle:    cfg.UsePathStyle,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	}
}
