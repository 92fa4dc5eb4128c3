package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestFromBuildInfoFillsUnsetFields(t *testing.T) {
	bi := &debug.BuildInfo{
		Main: debug.Module{Version: "v1.2.3"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "abc123"},
			{Key: "vcs.time", Value: "2025-03-01T12:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}

	got := fromBuildInfo(Info{Version: "dev", Commit: "unknown", BuildDate: "unknown", GoVersion: "go1.24.0"}, bi)
	if got.Version != "v1.2.3" || got.Commit != "abc123" || got.BuildDate != "2025-03-01T12:00:00Z" || !got.Modified {
		t.Fatalf("unexpected info %+v", got)
	}
	if !strings.Contains(got.String(), "commit: abc123 (modified)") {
		t.Fatalf("unexpected rendering %q", got.String())
	}
}

func TestFromBuildInfoKeepsLinkerValues(t *testing.T) {
	bi := &debug.BuildInfo{
		Main:     debug.Module{Version: "(devel)"},
		Settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc123"}},
	}

	got := fromBuildInfo(Info{Version: "1.0.0", Commit: "deadbeef", BuildDate: "today"}, bi)
	if got.Version != "1.0.0" || got.Commit != "deadbeef" || got.BuildDate != "today" {
		t.Fatalf("linker values should win: %+v", got)
	}
}
