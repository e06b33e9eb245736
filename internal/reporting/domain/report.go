package reporting

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Format is a report output format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

// ErrUnknownFormat is returned for unsupported report formats.
var ErrUnknownFormat = errors.New("reporting: unknown format")

// ParseFormat normalises a format name.
func ParseFormat(value string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(value))); f {
	case FormatCSV, FormatXLSX, FormatPDF:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, value)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv"
	}
}

// ParseDailyAt parses an HH:MM wall-clock time.
func ParseDailyAt(value string) (int, int, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("reporting: invalid daily_at %q", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("reporting: invalid daily_at %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("reporting: invalid daily_at %q", value)
	}
	return hour, minute, nil
}

// DeviceSummary aggregates one device over the report window.
type DeviceSummary struct {
	DeviceID       string
	AvgTemperature float64
	MaxTemperature float64
	AvgHumidity    float64
	Samples        int64
}

// Report is a per-device summary over [WindowStart, WindowEnd).
type Report struct {
	GeneratedAt time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Rows        []DeviceSummary
}
