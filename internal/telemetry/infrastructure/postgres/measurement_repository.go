package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	telemetry "telemetry-pipeline/internal/telemetry/domain"
)

const defaultMeasurementTable = "sensor_measurements"

// WriteMode selects how rows are written.
type WriteMode string

const (
	// WriteModeInsert appends one row per call; redelivered messages
	// produce duplicate rows.
	WriteModeInsert WriteMode = "insert"
	// WriteModeUpsert records message_id and ignores repeats of the same
	// message. The table needs a unique message_id column.
	WriteModeUpsert WriteMode = "upsert"
)

// MeasurementRepository is the Postgres structured sink.
type MeasurementRepository struct {
	db    *sql.DB
	table string
	mode  WriteMode
}

// RepositoryOption configures the repository.
type RepositoryOption func(*MeasurementRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *MeasurementRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithWriteMode selects insert or upsert.
func WithWriteMode(mode WriteMode) RepositoryOption {
	return func(repo *MeasurementRepository) {
		if mode == WriteModeInsert || mode == WriteModeUpsert {
			repo.mode = mode
		}
	}
}

// NewMeasurementRepository constructs a repository with default table name.
func NewMeasurementRepository(db *sql.DB, opts ...RepositoryOption) *MeasurementRepository {
	repo := &MeasurementRepository{db: db, table: defaultMeasurementTable, mode: WriteModeInsert}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// InsertMeasurement writes one row with a single parameterized statement.
func (r *MeasurementRepository) InsertMeasurement(ctx context.Context, m telemetry.Measurement) error {
	if r == nil || r.db == nil {
		return errors.New("measurement repo: nil db")
	}
	if m.DeviceID == "" || m.Timestamp.IsZero() {
		return errors.New("measurement repo: invalid measurement")
	}

	query, args := r.insertQuery(m)
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("measurement repo: insert: %w", err)
	}
	return nil
}

func (r *MeasurementRepository) insertQuery(m telemetry.Measurement) (string, []any) {
	if r.mode == WriteModeUpsert {
		query := fmt.Sprintf(`
INSERT INTO %s (
	message_id,
	device_id,
	"timestamp",
	temperature,
	humidity,
	battery_level
) VALUES (
	$1, $2, $3, $4, $5, $6
)
ON CONFLICT (message_id) DO NOTHING`, r.table)
		return query, []any{m.MessageID, m.DeviceID, m.Timestamp.UTC(), m.Temperature, m.Humidity, m.BatteryLevel}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id,
	"timestamp",
	temperature,
	humidity,
	battery_level
) VALUES (
	$1, $2, $3, $4, $5
)`, r.table)
	return query, []any{m.DeviceID, m.Timestamp.UTC(), m.Temperature, m.Humidity, m.BatteryLevel}
}
