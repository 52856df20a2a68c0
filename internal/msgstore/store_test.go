package msgstore

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestNew_LocalDefault(t *testing.T) {
	dir := t.TempDir()

	store, err := New(context.Background(), Config{Type: "", Path: dir}, zerolog.New(os.Stderr))
	if err != nil {
		t.Fatalf("New with empty type: %v", err)
	}
	if _, ok := store.(*LocalFileStore); !ok {
		t.Errorf("New with empty type: got %T, want *LocalFileStore", store)
	}
}

func TestNew_LocalExplicit(t *testing.T) {
	dir := t.TempDir()

	store, err := New(context.Background(), Config{Type: "local", Path: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New with type=local: %v", err)
	}
	local, ok := store.(*LocalFileStore)
	if !ok {
		t.Fatalf("New with type=local: got %T, want *LocalFileStore", store)
	}
	if local.Path() != dir {
		t.Errorf("Path() = %q, want %q", local.Path(), dir)
	}
}

func TestNew_S3RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Type: "s3"}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for s3 store without bucket")
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"20240506T070809-job-1.eml", true},
		{"msg", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../etc/passwd", false},
		{"a/b.eml", false},
		{`a\b.eml`, false},
		{".tmp-x-123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.valid && err != nil {
				t.Errorf("ValidateName(%q) = %v, want nil", tt.name, err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", tt.name, err)
			}
		})
	}
}

func TestClampLimit(t *testing.T) {
	if got := clampLimit(0); got != DefaultListLimit {
		t.Errorf("clampLimit(0) = %d, want %d", got, DefaultListLimit)
	}
	if got := clampLimit(-3); got != DefaultListLimit {
		t.Errorf("clampLimit(-3) = %d, want %d", got, DefaultListLimit)
	}
	if got := clampLimit(7); got != 7 {
		t.Errorf("clampLimit(7) = %d, want 7", got)
	}
}
