// Package event defines the telemetry record shipped to the ingestion
// endpoint and the sanitization applied to it before buffering.
package event

import (
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Field limits enforced by Sanitize.
const (
	MaxMethodLen     = 16
	MaxPathLen       = 2048
	MaxConsumerIDLen = 256
)

// TimestampLayout is RFC 3339 with millisecond precision. Timestamps are
// always rendered in UTC, so the offset collapses to "Z".
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is one observed API call. All fields are optional; Sanitize fills
// the timestamp and enforces the field limits above. Metadata is an opaque
// escape hatch for forward compatibility and is the first thing dropped
// when an event exceeds the configured size limit.
type Event struct {
	Method         string         `json:"method,omitempty"`
	Path           string         `json:"path,omitempty"`
	StatusCode     int            `json:"status_code,omitempty"`
	ResponseTimeMS float64        `json:"response_time_ms,omitempty"`
	RequestSize    int64          `json:"request_size,omitempty"`
	ResponseSize   int64          `json:"response_size,omitempty"`
	ConsumerID     string         `json:"consumer_id,omitempty"`
	Timestamp      string         `json:"timestamp,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Sanitize returns a best-effort cleaned copy of e. It never fails: fields
// that are missing stay missing, oversized fields are truncated, and an
// absent timestamp is filled with the current UTC time.
func Sanitize(e Event) Event {
	e.Method = strings.ToUpper(truncate(e.Method, MaxMethodLen))
	e.Path = truncate(e.Path, MaxPathLen)
	e.ConsumerID = truncate(e.ConsumerID, MaxConsumerIDLen)
	if e.Timestamp == "" {
		e.Timestamp = Timestamp(time.Now())
	}
	return e
}

// Timestamp formats t in the wire timestamp layout (UTC, milliseconds).
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Bound enforces the per-event serialized size limit. If the event is too
// large it retries once with Metadata dropped; if it still does not fit,
// ok is false and the event must be discarded.
func Bound(e Event, maxBytes int) (Event, bool) {
	if maxBytes <= 0 {
		return e, true
	}
	data, err := json.Marshal(e)
	if err != nil {
		return e, false
	}
	if len(data) <= maxBytes {
		return e, true
	}
	if e.Metadata == nil {
		return e, false
	}
	e.Metadata = nil
	data, err = json.Marshal(e)
	if err != nil || len(data) > maxBytes {
		return e, false
	}
	return e, true
}

// MarshalBatch serializes a batch as a single JSON array, the wire body
// format and the persisted line format.
func MarshalBatch(events []Event) ([]byte, error) {
	return json.Marshal(events)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
