package log

import "testing"

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"Error":   LevelError,
		"info":    LevelInfo,
		"":        LevelInfo,
		"loud":    LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestEnabled(t *testing.T) {
	defer SetLevel(LevelInfo)

	SetLevel(LevelWarn)
	if enabled(LevelInfo) || enabled(LevelDebug) {
		t.Error("info enabled at WARN")
	}
	if !enabled(LevelWarn) || !enabled(LevelError) {
		t.Error("warn/error disabled at WARN")
	}
}

func TestFormatKVs(t *testing.T) {
	got := formatKVs("a", 1, 2, "skipped", "b", "x", "dangling")
	if got != " a=1 b=x" {
		t.Errorf("formatKVs = %q", got)
	}
}
