package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_FansOutToFile(t *testing.T) {
	var term bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "darkarts.jsonl")
	l, err := New(Options{Terminal: &term, File: path})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Info("move dispatched", "from", "a", "to", "b")
	l.Debug("hidden")
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if !strings.Contains(term.String(), "move dispatched") || strings.Contains(term.String(), "hidden") {
		t.Fatalf("terminal output: %q", term.String())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &rec); err != nil {
		t.Fatalf("json line: %v (%q)", err, raw)
	}
	if rec["msg"] != "move dispatched" || rec["to"] != "b" {
		t.Fatalf("record: %v", rec)
	}
}

func TestNew_LevelIsShared(t *testing.T) {
	var term bytes.Buffer
	l, err := New(Options{Terminal: &term})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	l.Level.Set(slog.LevelDebug)
	l.Debug("now visible")
	if !strings.Contains(term.String(), "now visible") {
		t.Fatalf("debug not emitted after level change: %q", term.String())
	}
}
