// Package images normalizes uploaded cover images and stores them on disk.
package images

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/grimoireapp/grimoire-server/internal/id"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

// ErrNotFound is returned when no image exists for a ref.
var ErrNotFound = errors.New("image not found")

// ErrInvalidRef is returned for refs that were not produced by Store.
var ErrInvalidRef = errors.New("invalid image reference")

// Storage manages cover files under a single directory.
// Thread-safe for concurrent operations.
type Storage struct {
	basePath string
	mu       sync.RWMutex // Protects file operations
}

// NewStorage creates a Storage rooted at {basePath}/covers.
func NewStorage(basePath string) (*Storage, error) {
	return NewStorageWithSubdir(basePath, "covers")
}

// NewStorageWithSubdir creates a Storage rooted at {basePath}/{subdir},
// creating the directory if needed.
func NewStorageWithSubdir(basePath, subdir string) (*Storage, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if subdir == "" {
		return nil, fmt.Errorf("subdirectory cannot be empty")
	}

	storagePath := filepath.Join(basePath, subdir)
	if err := os.MkdirAll(storagePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", subdir, err)
	}

	return &Storage{basePath: storagePath}, nil
}

// Store writes imgData under a freshly generated cover ref and returns the ref.
// An expired ctx fails with store.ErrTimeout before anything is written.
func (s *Storage) Store(ctx context.Context, imgData []byte) (string, error) {
	if err := store.ContextError(ctx); err != nil {
		return "", err
	}
	ref, err := id.Generate(id.PrefixCover)
	if err != nil {
		return "", err
	}
	if err := s.Save(ref, imgData); err != nil {
		return "", err
	}
	return ref, nil
}

// Save writes imgData for ref, replacing any existing file.
// Filename format: {ref}.jpg.
func (s *Storage) Save(ref string, imgData []byte) error {
	if err := checkRef(ref); err != nil {
		return err
	}
	if len(imgData) == 0 {
		return fmt.Errorf("image data cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to a temp file and rename so readers never see a partial image.
	tmp, err := os.CreateTemp(s.basePath, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after a successful rename

	if _, err := tmp.Write(imgData); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write image file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set image permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path(ref)); err != nil {
		return fmt.Errorf("failed to move image into place: %w", err)
	}
	return nil
}

// Get retrieves the image stored under ref.
func (s *Storage) Get(ref string) ([]byte, error) {
	if err := checkRef(ref); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read image file: %w", err)
	}
	return data, nil
}

// Delete removes the image for ref. A missing image is not an error.
func (s *Storage) Delete(ctx context.Context, ref string) error {
	if err := checkRef(ref); err != nil {
		return err
	}
	if err := store.ContextError(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.Path(ref)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete image file: %w", err)
	}
	return nil
}

// ContentHash returns the hex SHA-256 of data, used as the cover ETag.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// Path returns the full filesystem path for ref's image.
func (s *Storage) Path(ref string) string {
	return filepath.Join(s.basePath, ref+".jpg")
}

// checkRef rejects anything that is not a generated id, which also keeps
// path separators out of file names.
func checkRef(ref string) error {
	if !id.Valid(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}
