package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ExportStore persists generated export files on disk under a base directory.
type ExportStore struct {
	baseDir string
}

// NewExportStore ensures the base directory exists and returns a handle.
func NewExportStore(baseDir string) (*ExportStore, error) {
	if baseDir == "" {
		baseDir = "./exports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory: %w", err)
	}
	return &ExportStore{baseDir: baseDir}, nil
}

// Save writes data to name under the base dir and returns the stored name.
func (s *ExportStore) Save(name string, data []byte) (string, error) {
	path, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return name, nil
}

// Open returns a read-only handle for a stored export.
func (s *ExportStore) Open(name string) (*os.File, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	return file, nil
}

// Remove deletes a stored export, ignoring files already gone.
func (s *ExportStore) Remove(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete export file: %w", err)
	}
	return nil
}

// Sweep removes exports older than ttl and returns how many were deleted.
func (s *ExportStore) Sweep(ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl)
	deleted := 0
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return 0, fmt.Errorf("scan export directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return deleted, fmt.Errorf("stat export file: %w", err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.baseDir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return deleted, fmt.Errorf("sweep export file: %w", err)
		}
		deleted++
	}
	return deleted, nil
}

// resolve joins name under the base dir and rejects path traversal.
func (s *ExportStore) resolve(name string) (string, error) {
	cleaned := filepath.Clean(name)
	if cleaned == "." || filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid export file name %q", name)
	}
	return filepath.Join(s.baseDir, cleaned), nil
}
