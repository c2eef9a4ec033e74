package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected LogLevel
	}{
		{"Debug", "debug", LevelDebug},
		{"Info", "info", LevelInfo},
		{"Warn", "warn", LevelWarn},
		{"Warning alias", "warning", LevelWarn},
		{"Error", "error", LevelError},
		{"Case insensitive", "DEBUG", LevelDebug},
		{"Whitespace", "  error ", LevelError},
		{"Unknown defaults to info", "verbose", LevelInfo},
		{"Empty defaults to info", "", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLogLevelConstants(t *testing.T) {
	if LevelDebug >= LevelInfo {
		t.Error("LevelDebug should be less than LevelInfo")
	}
	if LevelInfo >= LevelWarn {
		t.Error("LevelInfo should be less than LevelWarn")
	}
	if LevelWarn >= LevelError {
		t.Error("LevelWarn should be less than LevelError")
	}
}

func TestLogLevelString(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "debug"},
		{LevelInfo, "info"},
		{LevelWarn, "warn"},
		{LevelError, "error"},
		{LogLevel(42), "unknown(42)"},
	}

	for _, tt := range tests {
		if got := tt.level.String(); got != tt.expected {
			t.Errorf("LogLevel(%d).String() = %q, want %q", tt.level, got, tt.expected)
		}
	}
}

func TestInitFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "warn", Format: "text", Writer: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	Debug("debug %d", 1)
	Info("info %d", 2)
	Warn("warn %d", 3)
	Error("error %d", 4)

	out := buf.String()
	if strings.Contains(out, "debug 1") || strings.Contains(out, "info 2") {
		t.Errorf("expected debug/info to be filtered, got %q", out)
	}
	if !strings.Contains(out, "warn 3") || !strings.Contains(out, "error 4") {
		t.Errorf("expected warn/error records, got %q", out)
	}
}

func TestComponentLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Writer: &buf})
	t.Cleanup(func() { Init(Config{Level: "info"}) })

	With("supervisor").With("task", 7).Info("spawned %s", "ffprobe")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "spawned ffprobe" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["component"] != "supervisor" {
		t.Errorf("component = %v", record["component"])
	}
	if record["task"] != float64(7) {
		t.Errorf("task = %v", record["task"])
	}
}

func TestSetLevel(t *testing.T) {
	SetLevel(LevelError)
	t.Cleanup(func() { SetLevel(LevelInfo) })

	if GetLevel() != LevelError {
		t.Fatalf("GetLevel() = %v, want error", GetLevel())
	}
	if IsDebugEnabled() {
		t.Error("IsDebugEnabled() should be false at error level")
	}
}
