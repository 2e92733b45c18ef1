package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestNewLogger_Formats(t *testing.T) {
	t.Parallel()

	var jsonOut bytes.Buffer
	NewLogger(&jsonOut, "debug", "json").Debug("unit.event", "k", "v")
	if !strings.HasPrefix(jsonOut.String(), "{") || !strings.Contains(jsonOut.String(), `"msg":"unit.event"`) {
		t.Fatalf("json output: %q", jsonOut.String())
	}

	var textOut bytes.Buffer
	NewLogger(&textOut, "warn", "text").Info("dropped")
	if textOut.Len() != 0 {
		t.Fatalf("info should be filtered at warn: %q", textOut.String())
	}
	NewLogger(&textOut, "info", "TEXT").Info("unit.event", "k", "v")
	if strings.HasPrefix(textOut.String(), "{") || !strings.Contains(textOut.String(), "unit.event") {
		t.Fatalf("text output: %q", textOut.String())
	}
}
