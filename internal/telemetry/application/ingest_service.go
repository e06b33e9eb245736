package application

import (
	"context"
	"log"
	"time"

	"telemetry-pipeline/internal/observability/metrics"
	"telemetry-pipeline/internal/queue"
	telemetry "telemetry-pipeline/internal/telemetry/domain"
)

// IngestStatus is the outcome of an accepted payload.
type IngestStatus string

const (
	// StatusSuccess means the event was published to the queue.
	StatusSuccess IngestStatus = "success"
	// StatusSimulated means the event was valid but no queue is configured.
	StatusSimulated IngestStatus = "simulated"
)

// IngestResult describes an accepted payload.
type IngestResult struct {
	Status    IngestStatus
	MessageID string
	Event     telemetry.TelemetryEvent
}

// IngestService validates telemetry payloads and enqueues them.
type IngestService struct {
	publisher queue.Publisher
	logger    *log.Logger
}

// NewIngestService builds the gateway service. A nil publisher puts the
// service in simulated mode.
func NewIngestService(publisher queue.Publisher, logger *log.Logger) *IngestService {
	if logger == nil {
		logger = log.Default()
	}
	return &IngestService{publisher: publisher, logger: logger}
}

// Simulated reports whether the service runs without a queue.
func (s *IngestService) Simulated() bool {
	return s.publisher == nil
}

// Ingest validates body and publishes the canonical encoding exactly once.
// Invalid payloads return a *telemetry.ValidationError and are never
// published; publish failures return a *telemetry.DownstreamUnavailableError.
func (s *IngestService) Ingest(ctx context.Context, body []byte) (IngestResult, error) {
	start := time.Now()
	evt, err := telemetry.ParseEvent(body)
	if err != nil {
		metrics.IncIngestError("validation")
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
		return IngestResult{}, err
	}

	if s.publisher == nil {
		metrics.ObserveIngest(metrics.IngestResultSimulated, time.Since(start))
		return IngestResult{Status: StatusSimulated, Event: evt}, nil
	}

	payload, err := evt.Encode()
	if err != nil {
		metrics.IncIngestError("encode")
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
		return IngestResult{}, err
	}
	id, err := s.publisher.Publish(ctx, payload)
	if err != nil {
		s.logger.Printf("telemetry ingest: publish failed device=%s err=%v", evt.DeviceID, err)
		metrics.IncIngestError("downstream_unavailable")
		metrics.ObserveIngest(metrics.IngestResultError, time.Since(start))
		return IngestResult{}, &telemetry.DownstreamUnavailableError{Err: err}
	}

	metrics.ObserveIngest(metrics.IngestResultSuccess, time.Since(start))
	return IngestResult{Status: StatusSuccess, MessageID: id, Event: evt}, nil
}
