package store

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/HatiCode/junctioncast/cmd/dashboard/config"
	"github.com/HatiCode/junctioncast/pkg/storage"
)

func TestNew_File(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "model.bin")

	s := New(&config.Config{Storage: "file", ModelFile: path}, logger)

	fs, ok := s.(*storage.FileStore)
	if !ok {
		t.Fatalf("New() = %T, want *storage.FileStore", s)
	}
	if fs.Path() != path {
		t.Errorf("Path() = %q, want %q", fs.Path(), path)
	}
}

func TestNew_Memory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := New(&config.Config{Storage: "memory"}, logger)
	if s.Name() != "memory" {
		t.Errorf("Name() = %q, want %q", s.Name(), "memory")
	}
}
