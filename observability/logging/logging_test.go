package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelInfo))
	logger.Info("round resolved", MaskField("authorization", "Bearer abc"), MaskField("owner", "perp1xyz"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["message"] != "round resolved" || line["severity"] != "INFO" {
		t.Fatalf("unexpected keys: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", line)
	}
	if line["authorization"] != RedactedValue {
		t.Fatalf("authorization not redacted: %v", line["authorization"])
	}
	if line["owner"] != "perp1xyz" {
		t.Fatalf("owner should pass through: %v", line["owner"])
	}
}

func TestWriterRotatesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakerd.log")
	var stdout bytes.Buffer
	w := NewWriter(&stdout, Options{File: path})
	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if string(data) != "hello\n" || stdout.String() != "hello\n" {
		t.Fatalf("expected line in both sinks, file=%q stdout=%q", data, stdout.String())
	}
	if NewWriter(&stdout, Options{}) != &stdout {
		t.Fatalf("expected stdout without a file")
	}
}
