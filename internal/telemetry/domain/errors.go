package telemetry

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation classifies malformed ingestion payloads.
	ErrValidation = errors.New("telemetry: validation failed")
	// ErrDownstreamUnavailable classifies queue outages at ingest time.
	ErrDownstreamUnavailable = errors.New("telemetry: downstream unavailable")
	// ErrDecode classifies queued messages that cannot be decoded.
	ErrDecode = errors.New("telemetry: decode failed")
	// ErrSinkWrite classifies archive or measurement store write failures.
	ErrSinkWrite = errors.New("telemetry: sink write failed")
	// ErrInvalidTimestamp is returned when a timestamp is not ISO-8601.
	ErrInvalidTimestamp = errors.New("telemetry: invalid timestamp")
)

// ValidationError reports the first schema violation found in a payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("telemetry: invalid payload: %s", e.Reason)
	}
	return fmt.Sprintf("telemetry: invalid field %s: %s", e.Field, e.Reason)
}

// Unwrap allows errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }

// DownstreamUnavailableError wraps a failed publish attempt.
type DownstreamUnavailableError struct {
	Err error
}

func (e *DownstreamUnavailableError) Error() string {
	return fmt.Sprintf("telemetry: queue unavailable: %v", e.Err)
}

// Unwrap exposes both the classification and the cause.
func (e *DownstreamUnavailableError) Unwrap() []error {
	return []error{ErrDownstreamUnavailable, e.Err}
}

// DecodeError wraps a queued payload that could not be parsed.
type DecodeError struct {
	MessageID string
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("telemetry: decode message %s: %v", e.MessageID, e.Err)
}

// Unwrap exposes both the classification and the cause.
func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// SinkWriteError wraps a failed write to one of the sinks.
type SinkWriteError struct {
	Sink string
	Key  string
	Err  error
}

func (e *SinkWriteError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("telemetry: %s write %s: %v", e.Sink, e.Key, e.Err)
	}
	return fmt.Sprintf("telemetry: %s write: %v", e.Sink, e.Err)
}

// Unwrap exposes both the classification and the cause.
func (e *SinkWriteError) Unwrap() []error {
	return []error{ErrSinkWrite, e.Err}
}
