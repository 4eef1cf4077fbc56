package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spacecatcher/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := parseLevel(in)
		if err != nil || got != want {
			t.Errorf("parseLevel(%q): got %v, %v", in, got, err)
		}
	}
	if _, err := parseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewLogger_FileAndFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "spacecatcher.log")
	log, closeLog, err := newLogger(config.GeneralConfig{LogLevel: "debug", LogFormat: "json", LogFile: path})
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	log.Debug("hello", "job", "j1")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"job":"j1"`) {
		t.Errorf("expected JSON log line, got %q", data)
	}
	if !log.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug should be enabled")
	}
}

func TestNewLogger_BadFormat(t *testing.T) {
	if _, _, err := newLogger(config.GeneralConfig{LogFormat: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}
