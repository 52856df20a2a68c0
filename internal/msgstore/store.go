// Package msgstore keeps composed .eml files written by the file transport,
// either in a local outbox directory or under an S3 prefix.
package msgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrNotFound is returned when a requested message does not exist.
	ErrNotFound = errors.New("msgstore: message not found")

	// ErrInvalidName is returned for names that could escape the outbox.
	ErrInvalidName = errors.New("msgstore: invalid message name")
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// Entry describes one stored message.
type Entry struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// MessageStore is the outbox used by the file transport and the outbox viewer.
type MessageStore interface {
	Put(ctx context.Context, name string, data []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
}

// Config selects and configures a MessageStore.
type Config struct {
	Type       string // "local" or "s3"
	Path       string // outbox directory for the local store
	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
	S3Region   string
}

// New creates a MessageStore based on cfg. Unknown or empty types fall back
// to the local store with a warning.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (MessageStore, error) {
	switch cfg.Type {
	case "local":
		return NewLocalFileStore(cfg.Path)
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("msgstore: s3 store requires a bucket")
		}
		return NewS3StoreFromConfig(ctx, cfg)
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported or empty store type, defaulting to local")
		return NewLocalFileStore(cfg.Path)
	}
}

// ValidateName rejects empty names and anything containing a path separator
// or a parent reference.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") ||
		strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
