// Package archive stores raw payloads and generated reports as immutable
// objects addressed by slash-separated keys.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ContentTypeJSON is the content type recorded for archived payloads.
const ContentTypeJSON = "application/json"

// ReportPrefix is the key namespace for generated reports.
const ReportPrefix = "reports/"

// ErrInvalidKey is returned for empty keys or keys that escape the namespace.
var ErrInvalidKey = errors.New("archive: invalid key")

// ObjectStore writes whole objects. Putting the same key again overwrites it.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Key returns the archive key for a message: YYYY/MM/DD/<id>.json, dated by
// the UTC day of arrival.
func Key(arrival time.Time, messageID string) string {
	day := arrival.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%s.json", day.Year(), int(day.Month()), day.Day(), messageID)
}

// ReportKey returns reports/daily_report_YYYY-MM-DD.<ext>.
func ReportKey(day time.Time, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("%sdaily_report_%s.%s", ReportPrefix, day.UTC().Format("2006-01-02"), ext)
}

// ValidateKey rejects keys that are empty, absolute or contain dot segments.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
