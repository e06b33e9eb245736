package telemetry

import (
	"context"
	"time"
)

// Measurement is one structured row written to the measurement store.
type Measurement struct {
	MessageID    string
	DeviceID     string
	Timestamp    time.Time
	Temperature  float64
	Humidity     float64
	BatteryLevel float64
}

// MeasurementRepository persists structured measurements.
type MeasurementRepository interface {
	InsertMeasurement(ctx context.Context, m Measurement) error
}

// NewMeasurement maps a decoded event to a structured row.
func NewMeasurement(messageID string, evt TelemetryEvent) (Measurement, error) {
	ts, err := evt.ObservedAt()
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{
		MessageID:    messageID,
		DeviceID:     evt.DeviceID,
		Timestamp:    ts,
		Temperature:  evt.Temperature,
		Humidity:     evt.Humidity,
		BatteryLevel: evt.BatteryLevel,
	}, nil
}
