// Package store defines the persistence interface for the Grimoire server.
// Implementations live in the badgerdb and sqlite subpackages.
package store

import (
	"context"

	"github.com/grimoireapp/grimoire-server/internal/domain"
)

// MutateFunc edits a freshly loaded book inside an atomic modification.
// Returning an error aborts the modification and is passed back unchanged.
// It may run several times when the store retries after a conflict, so it
// must not have side effects beyond the book it receives.
type MutateFunc func(book *domain.Book) error

// Store defines the interface for all persistence operations.
type Store interface {
	// Lifecycle
	Close() error
	SetSearchIndexer(indexer SearchIndexer)

	// Books
	CreateBook(ctx context.Context, book *domain.Book) error
	GetBook(ctx context.Context, id string) (*domain.Book, error)
	ListBooks(ctx context.Context) ([]*domain.Book, error)
	ModifyBook(ctx context.Context, id string, fn MutateFunc) (*domain.Book, error)
	DeleteBook(ctx context.Context, id string) error
	CountBooks(ctx context.Context) (int, error)

	// Users
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// SearchIndexer is the interface for updating the search index.
// Stores call it after a successful commit; failures are logged, never returned.
type SearchIndexer interface {
	IndexBook(ctx context.Context, book *domain.Book) error
	DeleteBook(ctx context.Context, bookID string) error
}

// NoopSearchIndexer is a no-op implementation for testing.
type NoopSearchIndexer struct{}

func (NoopSearchIndexer) IndexBook(context.Context, *domain.Book) error { return nil }
func (NoopSearchIndexer) DeleteBook(context.Context, string) error      { return nil }

// NewNoopSearchIndexer creates a new no-op search indexer for testing.
func NewNoopSearchIndexer() SearchIndexer { return NoopSearchIndexer{} }
