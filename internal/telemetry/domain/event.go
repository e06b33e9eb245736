package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Field names of the ingestion schema.
const (
	FieldDeviceID     = "device_id"
	FieldTimestamp    = "timestamp"
	FieldTemperature  = "temperature"
	FieldHumidity     = "humidity"
	FieldBatteryLevel = "battery_level"
)

// TelemetryEvent is a single sensor reading as produced by a device.
type TelemetryEvent struct {
	DeviceID     string  `json:"device_id"`
	Timestamp    string  `json:"timestamp"`
	Temperature  float64 `json:"temperature"`
	Humidity     float64 `json:"humidity"`
	BatteryLevel float64 `json:"battery_level"`
}

var stringFields = []string{FieldDeviceID, FieldTimestamp}

var numberFields = []string{FieldTemperature, FieldHumidity, FieldBatteryLevel}

// ParseEvent decodes a payload and checks it against the ingestion schema.
// Every field must be present with the right JSON primitive type; null counts
// as missing. Unknown fields are ignored. Values are not range checked.
func ParseEvent(data []byte) (TelemetryEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return TelemetryEvent{}, &ValidationError{Reason: "payload must be a JSON object"}
	}

	var evt TelemetryEvent
	for _, name := range stringFields {
		raw, err := requiredField(fields, name)
		if err != nil {
			return TelemetryEvent{}, err
		}
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return TelemetryEvent{}, &ValidationError{Field: name, Reason: "must be a string"}
		}
		switch name {
		case FieldDeviceID:
			if value == "" {
				return TelemetryEvent{}, &ValidationError{Field: name, Reason: "must not be empty"}
			}
			evt.DeviceID = value
		case FieldTimestamp:
			evt.Timestamp = value
		}
	}

	for _, name := range numberFields {
		raw, err := requiredField(fields, name)
		if err != nil {
			return TelemetryEvent{}, err
		}
		var value float64
		if err := json.Unmarshal(raw, &value); err != nil {
			return TelemetryEvent{}, &ValidationError{Field: name, Reason: "must be a number"}
		}
		switch name {
		case FieldTemperature:
			evt.Temperature = value
		case FieldHumidity:
			evt.Humidity = value
		case FieldBatteryLevel:
			evt.BatteryLevel = value
		}
	}
	return evt, nil
}

func requiredField(fields map[string]json.RawMessage, name string) (json.RawMessage, error) {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, &ValidationError{Field: name, Reason: "field required"}
	}
	return raw, nil
}

// Encode returns the canonical JSON form published to the queue.
func (e TelemetryEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ObservedAt parses the producer timestamp. Zone-less values are read as UTC.
func (e TelemetryEvent) ObservedAt() (time.Time, error) {
	value := strings.TrimSpace(e.Timestamp)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, e.Timestamp)
}
