package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func keepDefaultLogger(t *testing.T) {
	t.Helper()
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })
}

func TestSetupLoggerText(t *testing.T) {
	keepDefaultLogger(t)
	var stderr bytes.Buffer
	closeFn, err := SetupLogger("warn", "", &stderr)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer closeFn()

	slog.Info("hidden")
	slog.Warn("Attempt failed", "attempt", 1)
	got := stderr.String()
	if strings.Contains(got, "hidden") {
		t.Fatalf("info should be filtered at warn: %q", got)
	}
	if !strings.Contains(got, "msg=\"Attempt failed\"") || !strings.Contains(got, "attempt=1") {
		t.Fatalf("unexpected text record: %q", got)
	}
}

func TestSetupLoggerFileIsJSON(t *testing.T) {
	keepDefaultLogger(t)
	var stderr bytes.Buffer
	path := filepath.Join(t.TempDir(), "run.log")
	closeFn, err := SetupLogger("debug", path, &stderr)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	slog.Debug("Task created", "task_id", "t-1")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(b), &rec); err != nil {
		t.Fatalf("log file is not json: %v (%q)", err, b)
	}
	if rec["msg"] != "Task created" || rec["task_id"] != "t-1" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if !bytes.Equal(bytes.TrimSpace(b), bytes.TrimSpace(stderr.Bytes())) {
		t.Fatalf("stderr and file differ: %q vs %q", stderr.String(), b)
	}
}

func TestSetupLoggerRejectsLevel(t *testing.T) {
	keepDefaultLogger(t)
	if _, err := SetupLogger("loud", "", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
