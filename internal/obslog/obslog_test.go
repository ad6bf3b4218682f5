package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestOptionsFromEnv(t *testing.T) {
	env := map[string]string{"LOG_LEVEL": "debug", "LOG_TO_FILE": "true", "LOG_CALLER": "TRUE"}
	o := OptionsFromEnv(func(k string) string { return env[k] })
	want := Options{Level: "debug", Format: "json", Console: true, File: filepath.Join("logs", "arena.log"), Caller: true}
	if o != want {
		t.Fatalf("got %+v want %+v", o, want)
	}
}

func TestBuildJSONToStdoutAndFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "nested", "arena.log")
	l, closer, err := build(Options{Level: "warn", Format: "json", Console: true, File: path}, zapcore.AddSync(&buf))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	l.Info("match_move")
	l.Warn("hub_send_overflow", zap.String("code", "Ab3_9-xZ"))
	_ = l.Sync()
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("stdout lines = %q", lines)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if entry["msg"] != "hub_send_overflow" || entry["level"] != "warn" || entry["code"] != "Ab3_9-xZ" {
		t.Fatalf("entry = %v", entry)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "hub_send_overflow") {
		t.Fatalf("file sink missing entry: %q", data)
	}
}

func TestBuildNoSinks(t *testing.T) {
	l, _, err := Build(Options{})
	if err != nil {
		t.Fatal(err)
	}
	if l.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected no-op logger")
	}
}
