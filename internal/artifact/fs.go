package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps artifacts at {base}/{runID}/{name}.
type FileStore struct {
	base string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(base string) (*FileStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{base: base}, nil
}

// Path returns where an artifact lives on disk.
func (s *FileStore) Path(runID, name string) string {
	return filepath.Join(s.base, runID, name)
}

// Exists reports whether the artifact file is present.
func (s *FileStore) Exists(_ context.Context, runID, name string) (bool, error) {
	if err := validateKey(runID, name); err != nil {
		return false, err
	}
	info, err := os.Stat(s.Path(runID, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat artifact: %w", err)
	}
	return !info.IsDir(), nil
}

// Read returns the artifact contents or ErrNotFound.
func (s *FileStore) Read(_ context.Context, runID, name string) ([]byte, error) {
	if err := validateKey(runID, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(runID, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return data, nil
}

// Write stores data atomically by renaming a temp file into place.
func (s *FileStore) Write(_ context.Context, runID, name string, data []byte) error {
	if err := validateKey(runID, name); err != nil {
		return err
	}
	dir := filepath.Join(s.base, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(runID, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename artifact: %w", err)
	}
	return nil
}
