package logging

import (
	"strings"
	"testing"
)

func TestLoggerRespectsMinLevel(t *testing.T) {
	buffer := NewLogBuffer(10)
	output := &strings.Builder{}
	logger := NewLoggerWithOutput(buffer, LevelWarning, output)

	logger.Debug("quiet", nil)
	logger.Info("quiet", nil)
	logger.Warn("loud", nil)
	logger.Error("loud", nil)

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != LevelWarning || entries[1].Level != LevelError {
		t.Fatalf("unexpected levels: %#v", entries)
	}
}

func TestLoggerWithMergesFields(t *testing.T) {
	buffer := NewLogBuffer(4)
	logger := NewLoggerWithOutput(buffer, LevelDebug, nil).With(map[string]string{"persona": "pm"})

	logger.Info("status changed", map[string]string{"status": "working"})

	entries := buffer.List()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	context := entries[0].Context
	if context["persona"] != "pm" || context["status"] != "working" {
		t.Fatalf("unexpected context: %#v", context)
	}
}

func TestFormatEntrySortsContextKeys(t *testing.T) {
	line := formatEntry(Entry{
		Level:   LevelInfo,
		Message: "hello",
		Context: map[string]string{"zeta": "1", "alpha": "2"},
	})
	alphaIndex := strings.Index(line, "alpha=")
	zetaIndex := strings.Index(line, "zeta=")
	if alphaIndex < 0 || zetaIndex < 0 || alphaIndex > zetaIndex {
		t.Fatalf("context keys not sorted: %q", line)
	}
}

func TestLogBufferWrapsAround(t *testing.T) {
	buffer := NewLogBuffer(2)
	buffer.Add(Entry{Message: "one"})
	buffer.Add(Entry{Message: "two"})
	buffer.Add(Entry{Message: "three"})

	entries := buffer.List()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "two" || entries[1].Message != "three" {
		t.Fatalf("unexpected entries: %#v", entries)
	}
}

func TestParseLevel(t *testing.T) {
	if level, ok := ParseLevel("WARN"); !ok || level != LevelWarning {
		t.Fatalf("parse warn: %v %v", level, ok)
	}
	if _, ok := ParseLevel("verbose"); ok {
		t.Fatal("expected verbose to be rejected")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var logger *Logger
	logger.Info("ignored", nil)
	if logger.Enabled(LevelError) {
		t.Fatal("nil logger should report disabled")
	}
	if logger.With(map[string]string{"k": "v"}) != nil {
		t.Fatal("nil logger With should stay nil")
	}
}
