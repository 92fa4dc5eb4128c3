package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewLoggerToJSONCarriesService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "debug", Format: "json"}, "price-alerts")
	logger.Debug().Str("component", "test").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line should be JSON: %v (%q)", err, buf.String())
	}
	if entry["service"] != "price-alerts" {
		t.Fatalf("service field missing: %#v", entry)
	}
	if entry["level"] != "debug" {
		t.Fatalf("expected debug level, got %#v", entry["level"])
	}
}

func TestNewLoggerToDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "bogus"}, "")
	logger.Debug().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("debug entry should be filtered at info level, got %q", buf.String())
	}
}
