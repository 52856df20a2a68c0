package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/natefinch/lumberjack.v2"
)

func TestNewFileWriter_Settings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notifier.log")
	w := NewFileWriter(FileConfig{Path: path, MaxSizeMB: 50, MaxFiles: 4, MaxAgeDays: 7})
	defer w.Close()

	lj, ok := w.(*lumberjack.Logger)
	if !ok {
		t.Fatalf("writer is %T, want *lumberjack.Logger", w)
	}
	if lj.Filename != path || lj.MaxSize != 50 || lj.MaxBackups != 4 || lj.MaxAge != 7 {
		t.Errorf("unexpected rotation settings: %+v", lj)
	}
	if !lj.Compress {
		t.Error("rotated files should be compressed")
	}
}

func TestNewFileWriter_DefaultPath(t *testing.T) {
	w := NewFileWriter(FileConfig{})
	lj := w.(*lumberjack.Logger)
	if lj.Filename != defaultLogPath {
		t.Errorf("Filename = %q, want %q", lj.Filename, defaultLogPath)
	}
}

// A job log line written through the file sink keeps its structured fields.
func TestNewFromConfig_FileSinkWritesJobFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "worker.log")

	log := NewFromConfig(Config{
		Level:     "debug",
		Output:    "file",
		FilePath:  path,
		MaxSizeMB: 1,
		Service:   "queue-worker",
	})
	log.Warn().
		Str("job_id", "job-9").
		Int("attempts_made", 2).
		Msg("job moved to dead-letter queue")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := strings.TrimSpace(string(data))

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%s)", err, line)
	}
	if entry["service"] != "queue-worker" {
		t.Errorf("service = %v", entry["service"])
	}
	if entry["job_id"] != "job-9" || entry["attempts_made"] != float64(2) {
		t.Errorf("job fields missing: %v", entry)
	}
	if entry["level"] != "warn" {
		t.Errorf("level = %v, want warn", entry["level"])
	}
}
