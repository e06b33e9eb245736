package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "pipeline_"

	resultSuccess   = "success"
	resultSimulated = "simulated"
	resultError     = "error"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	workerMessages *prometheus.CounterVec
	workerLatency  *prometheus.HistogramVec
	sinkWrites     *prometheus.CounterVec
	consumerLag    *prometheus.GaugeVec

	reportTotal   *prometheus.CounterVec
	reportLatency *prometheus.HistogramVec
)

// Init registers pipeline metrics. When db is non-nil, backlog gauges for the
// queue tables and topic in source are registered as well.
func Init(db *sql.DB, logger *log.Logger, source QueueSource) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		workerMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "worker_messages_total",
				Help: "Total processed queue messages by settlement action",
			},
			[]string{"action"},
		)
		workerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "worker_process_latency_seconds",
				Help:    "Per-message processing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		)
		sinkWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_writes_total",
				Help: "Total sink writes by sink and result",
			},
			[]string{"sink", "result"},
		)
		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "consumer_lag_seconds",
				Help: "Seconds between publish and processing of the last message",
			},
			[]string{"consumer"},
		)

		reportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_total",
				Help: "Total report runs by format and result",
			},
			[]string{"format", "result"},
		)
		reportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_latency_seconds",
				Help:    "Report generation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			workerMessages,
			workerLatency,
			sinkWrites,
			consumerLag,
			reportTotal,
			reportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger, source)
		}
	})
}

// ObserveIngest records ingest request duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// ObserveWorkerMessage records one settled message.
func ObserveWorkerMessage(action string, duration time.Duration) {
	if action == "" {
		action = "unknown"
	}
	if workerMessages != nil {
		workerMessages.WithLabelValues(action).Inc()
	}
	if workerLatency != nil {
		workerLatency.WithLabelValues(action).Observe(duration.Seconds())
	}
}

// IncSinkWrite counts a sink write attempt.
func IncSinkWrite(sink string, err error) {
	if sink == "" {
		sink = "unknown"
	}
	result := resultSuccess
	if err != nil {
		result = resultError
	}
	if sinkWrites != nil {
		sinkWrites.WithLabelValues(sink, result).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveReport records report generation latency and result.
func ObserveReport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportTotal != nil {
		reportTotal.WithLabelValues(format, result).Inc()
	}
	if reportLatency != nil {
		reportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	IngestResultSuccess   = resultSuccess
	IngestResultSimulated = resultSimulated
	IngestResultError     = resultError

	ResultSuccess = resultSuccess
	ResultError   = resultError
)
