package search

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/blevesearch/bleve/v2"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

var _ store.SearchIndexer = (*SearchIndex)(nil)

// SearchIndex is the Bleve-backed full text index over the catalog.
// Its methods are safe for concurrent use; Rebuild takes the lock exclusively.
type SearchIndex struct {
	index       bleve.Index
	path        string
	versionPath string
	logger      *slog.Logger
	mu          sync.RWMutex

	fresh bool // created empty on open; callers should backfill
}

// Options configures the search index.
type Options struct {
	DataPath string       // directory holding catalog.bleve
	Logger   *slog.Logger // discard when nil
}

// mappingVersion changes whenever buildIndexMapping does, which forces a
// rebuild on the next start.
const mappingVersion = "1"

// NewSearchIndex opens the index under opts.DataPath. A missing, unreadable
// or outdated index is replaced by an empty one and reported by Fresh.
func NewSearchIndex(opts Options) (*SearchIndex, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &SearchIndex{
		path:        filepath.Join(opts.DataPath, "catalog.bleve"),
		versionPath: filepath.Join(opts.DataPath, "catalog.version"),
		logger:      logger,
	}

	if reason := s.staleReason(); reason != "" {
		logger.Info("search index will be recreated", "path", s.path, "reason", reason)
		if err := s.recreate(); err != nil {
			return nil, err
		}
		return s, nil
	}

	index, err := bleve.Open(s.path)
	if err != nil {
		logger.Warn("failed to open search index, recreating", "path", s.path, "error", err)
		if err := s.recreate(); err != nil {
			return nil, err
		}
		return s, nil
	}
	s.index = index
	logger.Info("opened existing search index", "path", s.path)
	return s, nil
}

// staleReason explains why the on-disk index cannot be reused, or returns "".
func (s *SearchIndex) staleReason() string {
	if _, err := os.Stat(s.path); err != nil {
		return "missing"
	}
	version, err := os.ReadFile(s.versionPath)
	if err != nil {
		return "no version file"
	}
	if got := string(version); got != mappingVersion {
		return fmt.Sprintf("mapping version %s, want %s", got, mappingVersion)
	}
	return ""
}

// recreate replaces whatever is at s.path with an empty index. The caller
// holds the write lock or owns s exclusively.
func (s *SearchIndex) recreate() error {
	if err := os.RemoveAll(s.path); err != nil {
		return fmt.Errorf("remove old index: %w", err)
	}
	index, err := bleve.New(s.path, buildIndexMapping())
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := os.WriteFile(s.versionPath, []byte(mappingVersion), 0o644); err != nil {
		s.logger.Warn("failed to write search version file", "error", err)
	}
	s.index = index
	s.fresh = true
	s.logger.Info("created new search index", "path", s.path, "mapping_version", mappingVersion)
	return nil
}

// Fresh reports whether the index was created empty when opened.
func (s *SearchIndex) Fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fresh
}

// Close closes the index and releases resources.
func (s *SearchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// IndexBook adds or replaces a book in the index.
func (s *SearchIndex) IndexBook(_ context.Context, book *domain.Book) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Index(book.ID, NewBookDocument(book).ToMap())
}

// IndexBooks indexes books in batches. Used to rebuild the index from the store.
func (s *SearchIndex) IndexBooks(ctx context.Context, books []*domain.Book) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const batchSize = 500

	for i := 0; i < len(books); i += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+batchSize, len(books))

		batch := s.index.NewBatch()
		for _, book := range books[i:end] {
			if err := batch.Index(book.ID, NewBookDocument(book).ToMap()); err != nil {
				return fmt.Errorf("batch index %s: %w", book.ID, err)
			}
		}
		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("commit batch %d-%d: %w", i, end, err)
		}
	}
	return nil
}

// DeleteBook removes a book from the index. Unknown ids are ignored.
func (s *SearchIndex) DeleteBook(_ context.Context, bookID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Delete(bookID)
}

// DocCount returns the total number of indexed documents.
func (s *SearchIndex) DocCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Rebuild empties the index. It blocks every other operation until done.
func (s *SearchIndex) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}
	return s.recreate()
}
