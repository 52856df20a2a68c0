package msgstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DefaultOutboxPath is used when Config.Path is empty.
const DefaultOutboxPath = "./mail_output"

// LocalFileStore writes messages as files in a single outbox directory.
type LocalFileStore struct {
	basePath string
}

// NewLocalFileStore creates the outbox directory if needed.
func NewLocalFileStore(basePath string) (*LocalFileStore, error) {
	if basePath == "" {
		basePath = DefaultOutboxPath
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("msgstore: create outbox directory: %w", err)
	}
	return &LocalFileStore{basePath: basePath}, nil
}

// Path returns the outbox directory.
func (s *LocalFileStore) Path() string { return s.basePath }

// Put writes data through a temp file and rename so readers never see a
// partial message.
func (s *LocalFileStore) Put(_ context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.basePath, ".tmp-"+name+"-*")
	if err != nil {
		return fmt.Errorf("msgstore: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("msgstore: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("msgstore: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(s.basePath, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("msgstore: rename temp file: %w", err)
	}
	return nil
}

// Get returns ErrNotFound if the message does not exist.
func (s *LocalFileStore) Get(_ context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.basePath, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("msgstore: read file: %w", err)
	}
	return data, nil
}

// Delete is idempotent.
func (s *LocalFileStore) Delete(_ context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.basePath, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("msgstore: remove file: %w", err)
	}
	return nil
}

// List skips temp files and subdirectories.
func (s *LocalFileStore) List(_ context.Context, limit int) ([]Entry, error) {
	dirents, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("msgstore: read outbox: %w", err)
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		if d.IsDir() || ValidateName(d.Name()) != nil {
			continue
		}
		info, err := d.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, Entry{Name: d.Name(), Size: info.Size(), Modified: info.ModTime()})
	}

	sortNewestFirst(entries)
	if limit = clampLimit(limit); len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func sortNewestFirst(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Modified.Equal(entries[j].Modified) {
			return entries[i].Name > entries[j].Name
		}
		return entries[i].Modified.After(entries[j].Modified)
	})
}
