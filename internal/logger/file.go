package logger

import (
	"io"

	"gopkg.in/natefinch/lumberjack.v2"
)

const defaultLogPath = "logs/notifier.log"

// FileConfig controls the rotating log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxFiles   int
	MaxAgeDays int
}

// NewFileWriter returns a size-rotated, gzip-compressed log file writer.
// An empty path writes to logs/notifier.log.
func NewFileWriter(cfg FileConfig) io.WriteCloser {
	path := cfg.Path
	if path == "" {
		path = defaultLogPath
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}
