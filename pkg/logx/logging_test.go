package logx

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewConsole(t *testing.T) {
	log := NewConsole("warn")
	if log.IsZero() {
		t.Fatal("console logger is zero")
	}
	if log.Enabled(LevelInfo) {
		t.Fatal("info enabled at warn level")
	}
	if !log.Enabled(LevelError) {
		t.Fatal("error disabled at warn level")
	}
	// Must not panic without a Service behind it.
	log.With(String("component", "boot")).Warn("hello", Err(nil))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"  INFO ", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in, zerolog.InfoLevel); got != tt.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 100); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 20)
	if len(got) != 20 || !strings.HasSuffix(got, "...") {
		t.Fatalf("truncate = %q", got)
	}
}
