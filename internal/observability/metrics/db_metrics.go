package metrics

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	defaultQueueTable      = "telemetry_queue"
	defaultDeadLetterTable = "telemetry_dead_letters"
)

// QueueSource names the queue tables and topic the backlog gauges read.
// Empty table names fall back to the migration defaults.
type QueueSource struct {
	Table           string
	DeadLetterTable string
	Topic           string
}

func (s QueueSource) backlogQueries() (pending, dead string) {
	table := s.Table
	if table == "" {
		table = defaultQueueTable
	}
	deadTable := s.DeadLetterTable
	if deadTable == "" {
		deadTable = defaultDeadLetterTable
	}
	pending = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE topic = $1", table)
	dead = fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE topic = $1", deadTable)
	return pending, dead
}

func registerDBMetrics(db *sql.DB, logger *log.Logger, source QueueSource) {
	pendingQuery, deadQuery := source.backlogQueries()
	labels := prometheus.Labels{"topic": source.Topic}

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        metricPrefix + "queue_pending",
			Help:        "Queued messages not yet acknowledged",
			ConstLabels: labels,
		},
		func() float64 {
			return queryCount(db, logger, pendingQuery, source.Topic)
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name:        metricPrefix + "queue_dead_letters",
			Help:        "Dead-lettered queue messages",
			ConstLabels: labels,
		},
		func() float64 {
			return queryCount(db, logger, deadQuery, source.Topic)
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string, args ...any) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
