package persistence

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileSystemBlobStore stores objects as files below a root directory:
//
//	<root>/
//	  snapshots/
//	    <owner>.json       (plaintext snapshots)
//	    <owner>.json.age   (encrypted snapshots)
type FileSystemBlobStore struct {
	root string
}

// NewFileSystemBlobStore creates a store rooted at root, creating it if needed.
func NewFileSystemBlobStore(root string) (*FileSystemBlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create persistence root: %w", err)
	}
	return &FileSystemBlobStore{root: root}, nil
}

func (s *FileSystemBlobStore) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid key: %q", key)
	}
	return filepath.Join(s.root, clean), nil
}

// Put writes the object atomically (temp file + rename).
func (s *FileSystemBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	destPath, err := s.path(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Temp file in the same directory so the rename is atomic
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (s *FileSystemBlobStore) Get(ctx context.Context, key string, w io.Writer) (bool, error) {
	srcPath, err := s.path(key)
	if err != nil {
		return false, err
	}
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return true, fmt.Errorf("failed to read file: %w", err)
	}
	return true, nil
}

var _ BlobStore = (*FileSystemBlobStore)(nil)
