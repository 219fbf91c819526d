// Package badgerdb implements store.Store on an embedded Badger database.
// Concurrent modifications of one record rely on Badger's optimistic
// transactions: a commit that read a key another transaction has since written
// fails with badger.ErrConflict and is retried.
package badgerdb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/normalize"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

const (
	bookPrefix = "book:"
	userPrefix = "user:"
)

// Store wraps a Badger database instance.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// Search indexer for keeping search in sync with store changes.
	// Set via SetSearchIndexer after store creation to avoid circular dependencies.
	searchIndexer store.SearchIndexer

	books *Entity[domain.Book]
	users *Entity[domain.User]
}

var _ store.Store = (*Store)(nil)

// Open creates a Store at path.
func Open(path string, logger *slog.Logger, opts ...store.Option) (*Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	options := store.BuildOptions(opts...)

	bopts := badger.DefaultOptions(path)
	bopts.Logger = nil            // Disable Badger's internal logging
	bopts.SyncWrites = true       // Ensure writes are synced to disk to prevent corruption on crashes
	bopts.CompactL0OnClose = true // Compact L0 tables on close for faster startup

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &Store{
		db:            db,
		logger:        logger,
		searchIndexer: store.NewNoopSearchIndexer(),
	}

	s.books = NewEntity[domain.Book](db, bookPrefix).WithRetry(options.Retry)

	// Case-insensitive email lookups: both stored and queried values go through normalize.Email.
	s.users = NewEntity[domain.User](db, userPrefix).
		WithRetry(options.Retry).
		WithIndexTransform("email",
			func(u *domain.User) []string { return []string{normalize.Email(u.Email)} },
			normalize.Email,
		)

	logger.Info("Badger database opened successfully", "path", path)
	return s, nil
}

// Close gracefully closes the database connection.
func (s *Store) Close() error {
	s.logger.Info("Closing database connection")
	return s.db.Close()
}

// SetSearchIndexer sets the search indexer for keeping search in sync.
func (s *Store) SetSearchIndexer(indexer store.SearchIndexer) {
	if indexer == nil {
		indexer = store.NewNoopSearchIndexer()
	}
	s.searchIndexer = indexer
}

// Size reports the on-disk LSM and value log sizes in bytes.
func (s *Store) Size() (lsm, vlog int64) {
	return s.db.Size()
}

func (s *Store) indexBook(ctx context.Context, book *domain.Book) {
	if err := s.searchIndexer.IndexBook(ctx, book); err != nil {
		s.logger.Warn("failed to index book", "book_id", book.ID, "error", err)
	}
}

func (s *Store) unindexBook(ctx context.Context, id string) {
	if err := s.searchIndexer.DeleteBook(ctx, id); err != nil {
		s.logger.Warn("failed to remove book from index", "book_id", id, "error", err)
	}
}
