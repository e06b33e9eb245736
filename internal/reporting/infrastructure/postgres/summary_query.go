package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	reporting "telemetry-pipeline/internal/reporting/domain"
)

const defaultMeasurementTable = "sensor_measurements"

// SummaryQuery aggregates measurements per device.
type SummaryQuery struct {
	db    *sql.DB
	table string
}

// QueryOption configures the query.
type QueryOption func(*SummaryQuery)

// WithTable overrides the default table name.
func WithTable(table string) QueryOption {
	return func(q *SummaryQuery) {
		if table != "" {
			q.table = table
		}
	}
}

// NewSummaryQuery constructs a query with default table name.
func NewSummaryQuery(db *sql.DB, opts ...QueryOption) *SummaryQuery {
	q := &SummaryQuery{db: db, table: defaultMeasurementTable}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Summaries returns one row per device with measurements in [from, to).
func (q *SummaryQuery) Summaries(ctx context.Context, from, to time.Time) ([]reporting.DeviceSummary, error) {
	if q == nil || q.db == nil {
		return nil, errors.New("summary query: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_id, AVG(temperature), MAX(temperature), AVG(humidity), COUNT(*)
FROM %s
WHERE "timestamp" >= $1 AND "timestamp" < $2
GROUP BY device_id
ORDER BY device_id ASC`, q.table)

	rows, err := q.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("summary query: %w", err)
	}
	defer rows.Close()

	var result []reporting.DeviceSummary
	for rows.Next() {
		var row reporting.DeviceSummary
		if err := rows.Scan(&row.DeviceID, &row.AvgTemperature, &row.MaxTemperature, &row.AvgHumidity, &row.Samples); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
