package logger

import (
	"context"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config selects the log level and sink. It mirrors config.LoggingConfig
// so this package stays import-free of the config layer.
type Config struct {
	Level      string
	Output     string // stdout (default), stderr, file, tee
	FilePath   string
	MaxSizeMB  int
	MaxFiles   int
	MaxAgeDays int
	Service    string
}

type contextKey string

const (
	loggerKey        contextKey = "logger"
	correlationIDKey contextKey = "correlation_id"
)

// New creates a JSON zerolog.Logger on stdout. Invalid levels fall back to info.
func New(level string) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewFromConfig builds a logger whose sink is chosen by cfg.Output:
//   - "file": rotating file via lumberjack
//   - "tee": stdout and the rotating file
//   - "stderr": os.Stderr
//   - anything else: os.Stdout
//
// When cfg.Service is set every entry carries a "service" field.
func NewFromConfig(cfg Config) zerolog.Logger {
	var writer io.Writer
	switch cfg.Output {
	case "file":
		writer = NewFileWriter(fileConfigFrom(cfg))
	case "tee":
		writer = zerolog.MultiLevelWriter(os.Stdout, NewFileWriter(fileConfigFrom(cfg)))
	case "stderr":
		writer = os.Stderr
	default:
		writer = os.Stdout
	}

	lc := zerolog.New(writer).
		Level(parseLevel(cfg.Level)).
		With().
		Timestamp()
	if cfg.Service != "" {
		lc = lc.Str("service", cfg.Service)
	}
	return lc.Logger()
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

func fileConfigFrom(cfg Config) FileConfig {
	return FileConfig{
		Path:       cfg.FilePath,
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxFiles:   cfg.MaxFiles,
		MaxAgeDays: cfg.MaxAgeDays,
	}
}

// WithLogger stores a logger in the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCorrelationID stores a correlation ID in the context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation ID, or "" when unset.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns the context logger with its correlation ID attached.
// Without a stored logger an info-level stdout logger is used.
func FromContext(ctx context.Context) zerolog.Logger {
	var log zerolog.Logger

	if l, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		log = l
	} else {
		log = New("info")
	}

	if id := CorrelationIDFromContext(ctx); id != "" {
		log = log.With().Str("correlation_id", id).Logger()
	}

	return log
}

// NewCorrelationID generates a new UUID-based correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}
