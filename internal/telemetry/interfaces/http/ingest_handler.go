package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"telemetry-pipeline/internal/telemetry/application"
	telemetry "telemetry-pipeline/internal/telemetry/domain"
)

// MaxBodyBytes caps the size of an ingest request body.
const MaxBodyBytes = 1 << 20

// IngestHandler serves POST /ingest.
type IngestHandler struct {
	service *application.IngestService
	logger  *log.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(service *application.IngestService, logger *log.Logger) (*IngestHandler, error) {
	if service == nil {
		return nil, errors.New("ingest handler: nil service")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &IngestHandler{service: service, logger: logger}, nil
}

// ServeHTTP validates and enqueues one telemetry event.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method_not_allowed"})
		return
	}

	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		h.logger.Printf("telemetry ingest: read body error: %v", err)
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "bad_request", "detail": "unreadable or oversized body"})
		return
	}

	result, err := h.service.Ingest(r.Context(), body)
	if err != nil {
		var verr *telemetry.ValidationError
		switch {
		case errors.As(err, &verr):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation",
				"field":  verr.Field,
				"detail": verr.Reason,
			})
		case errors.Is(err, telemetry.ErrDownstreamUnavailable):
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"error":  "downstream_unavailable",
				"detail": "message queue unavailable",
			})
		default:
			h.logger.Printf("telemetry ingest: unexpected error: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
		}
		return
	}

	switch result.Status {
	case application.StatusSimulated:
		writeJSON(w, http.StatusOK, map[string]any{"status": string(result.Status), "data": result.Event})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"status": string(result.Status), "message_id": result.MessageID})
	}
}

// StatusHandler serves GET / with a static service descriptor.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method_not_allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "running", "service": "ingestion-api"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
