package event

import (
	"strings"
	"testing"
	"time"
)

func TestSanitizeTruncatesAndUppercases(t *testing.T) {
	e := Sanitize(Event{
		Method:     "getwithaverylongverb",
		Path:       strings.Repeat("/segment", 1000),
		ConsumerID: strings.Repeat("c", 300),
	})

	if len(e.Method) != MaxMethodLen {
		t.Errorf("method length = %d, want %d", len(e.Method), MaxMethodLen)
	}
	if e.Method != strings.ToUpper(e.Method) {
		t.Errorf("method not uppercased: %q", e.Method)
	}
	if len(e.Path) != MaxPathLen {
		t.Errorf("path length = %d, want %d", len(e.Path), MaxPathLen)
	}
	if len(e.ConsumerID) != MaxConsumerIDLen {
		t.Errorf("consumer_id length = %d, want %d", len(e.ConsumerID), MaxConsumerIDLen)
	}
}

func TestSanitizeFillsTimestamp(t *testing.T) {
	e := Sanitize(Event{Method: "get"})
	if e.Timestamp == "" {
		t.Fatal("timestamp not populated")
	}

	parsed, err := time.Parse(TimestampLayout, e.Timestamp)
	if err != nil {
		t.Fatalf("timestamp %q does not parse: %v", e.Timestamp, err)
	}
	if d := time.Since(parsed); d < 0 || d > time.Minute {
		t.Errorf("timestamp %q not close to now", e.Timestamp)
	}
	if !strings.HasSuffix(e.Timestamp, "Z") {
		t.Errorf("timestamp %q not UTC", e.Timestamp)
	}
}

func TestSanitizeKeepsExistingTimestamp(t *testing.T) {
	want := "2026-01-02T03:04:05.678Z"
	e := Sanitize(Event{Timestamp: want})
	if e.Timestamp != want {
		t.Errorf("timestamp = %q, want %q", e.Timestamp, want)
	}
}

func TestSanitizeEmptyEvent(t *testing.T) {
	e := Sanitize(Event{})
	if e.Method != "" || e.Path != "" || e.ConsumerID != "" {
		t.Errorf("empty fields should stay empty: %+v", e)
	}
	if e.Timestamp == "" {
		t.Error("timestamp should be defaulted")
	}
}

func TestBoundDropsMetadataFirst(t *testing.T) {
	e := Event{
		Method:   "GET",
		Path:     "/small",
		Metadata: map[string]any{"blob": strings.Repeat("x", 4096)},
	}

	bounded, ok := Bound(e, 256)
	if !ok {
		t.Fatal("event should fit once metadata is dropped")
	}
	if bounded.Metadata != nil {
		t.Error("metadata should have been dropped")
	}
	if bounded.Path != "/small" {
		t.Errorf("path changed: %q", bounded.Path)
	}
}

func TestBoundDropsOversizedEvent(t *testing.T) {
	e := Event{Path: "/" + strings.Repeat("p", 199)}
	if _, ok := Bound(e, 100); ok {
		t.Error("event over the limit with no metadata should be rejected")
	}
}

func TestBoundKeepsSmallEvent(t *testing.T) {
	e := Event{Method: "GET", Path: "/", Metadata: map[string]any{"k": "v"}}
	bounded, ok := Bound(e, 64<<10)
	if !ok {
		t.Fatal("small event rejected")
	}
	if bounded.Metadata == nil {
		t.Error("metadata dropped although the event fits")
	}
}

func TestBoundNoLimit(t *testing.T) {
	e := Event{Path: strings.Repeat("x", 1<<16)}
	if _, ok := Bound(e, 0); !ok {
		t.Error("zero limit should disable bounding")
	}
}
