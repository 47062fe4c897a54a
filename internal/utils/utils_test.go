package utils

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestAppErrorUnwrap(t *testing.T) {
	base := errors.New("disk full")
	err := NewAppError("templates.save", "write dropped", base)

	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to match base")
	}
	if OpOf(err) != "templates.save" {
		t.Fatalf("unexpected op: %q", OpOf(err))
	}
	if err.Error() != "templates.save: write dropped: disk full" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseRFC3339(t *testing.T) {
	ts, err := ParseRFC3339("2024-05-01T10:00:00.5Z")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.Nanosecond() != 500_000_000 {
		t.Fatalf("expected fractional seconds to be kept, got %v", ts)
	}
	if _, err := ParseRFC3339(""); err == nil {
		t.Fatalf("expected error for empty value")
	}
}

func TestSecondsSinceIsSigned(t *testing.T) {
	origin := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if got := SecondsSince(origin, origin.Add(1500*time.Millisecond)); got != 1.5 {
		t.Fatalf("expected 1.5, got %v", got)
	}
	if got := SecondsSince(origin, origin.Add(-2*time.Second)); got != -2 {
		t.Fatalf("expected -2, got %v", got)
	}
}

func TestSecondsToDuration(t *testing.T) {
	if got := SecondsToDuration(1.5); got != 1500*time.Millisecond {
		t.Fatalf("unexpected duration %v", got)
	}
}
