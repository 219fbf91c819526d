// Package service holds the business logic of the Grimoire catalog: account
// management and the coordination of book mutations.
package service

import (
	"context"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/media/images"
	"github.com/grimoireapp/grimoire-server/internal/search"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

// BookStore is the persistence collaborator for books.
// ModifyBook doubles as the document replace: fn rewrites the loaded book and
// the store writes it back whole.
type BookStore interface {
	GetBook(ctx context.Context, id string) (*domain.Book, error)
	ListBooks(ctx context.Context) ([]*domain.Book, error)
	CreateBook(ctx context.Context, book *domain.Book) error
	ModifyBook(ctx context.Context, id string, fn store.MutateFunc) (*domain.Book, error)
	DeleteBook(ctx context.Context, id string) error
}

// UserStore is the persistence collaborator for accounts.
type UserStore interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// CoverStore is the blob collaborator for cover images.
// Delete must treat a missing blob as success. Both fail once ctx is done.
type CoverStore interface {
	Store(ctx context.Context, data []byte) (string, error)
	Delete(ctx context.Context, ref string) error
}

// CoverProcessor normalizes uploaded cover images.
type CoverProcessor interface {
	Process(data []byte) (*images.Cover, error)
}

// BookSearcher queries the full-text index.
type BookSearcher interface {
	Search(ctx context.Context, params search.SearchParams) (*search.SearchResult, error)
}

var (
	_ BookStore      = (store.Store)(nil)
	_ UserStore      = (store.Store)(nil)
	_ CoverStore     = (*images.Storage)(nil)
	_ CoverProcessor = (*images.Processor)(nil)
	_ BookSearcher   = (*search.SearchIndex)(nil)
)
