package badgerdb

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

var errBookNotFound = store.ErrNotFound.WithMessage("book not found")

// CreateBook persists a new book. book.ID must be set by the caller.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	if book.ID == "" {
		return store.ErrInvalidInput.WithMessage("book id is required")
	}

	if err := s.books.Create(ctx, book.ID, book); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return store.ErrAlreadyExists.WithMessage("book already exists")
		}
		return fmt.Errorf("create book: %w", err)
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "book created",
		slog.String("book_id", book.ID),
		slog.String("title", book.Title),
		slog.String("user_id", book.UserID),
	)
	s.indexBook(ctx, book)
	return nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	book, err := s.books.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errBookNotFound
		}
		return nil, fmt.Errorf("get book: %w", err)
	}
	return book, nil
}

// ListBooks returns every book in insertion order.
func (s *Store) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	var books []*domain.Book
	for book, err := range s.books.List(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list books: %w", err)
		}
		books = append(books, book)
	}

	// Keys are random ids, so restore creation order explicitly.
	slices.SortStableFunc(books, func(a, b *domain.Book) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return books, nil
}

// ModifyBook applies fn to the stored book atomically, retrying on conflict.
func (s *Store) ModifyBook(ctx context.Context, id string, fn store.MutateFunc) (*domain.Book, error) {
	book, err := s.books.Modify(ctx, id, func(b *domain.Book) error {
		if b.Ratings == nil {
			b.Ratings = []domain.Rating{}
		}
		owner, created := b.UserID, b.CreatedAt
		if err := fn(b); err != nil {
			return err
		}
		// Ownership and creation time are fixed at creation.
		b.UserID, b.CreatedAt = owner, created
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errBookNotFound
		}
		return nil, err
	}

	s.logger.LogAttrs(ctx, slog.LevelDebug, "book modified", slog.String("book_id", id))
	s.indexBook(ctx, book)
	return book, nil
}

// DeleteBook removes a book. Returns ErrNotFound if it does not exist.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	existed, err := s.books.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if !existed {
		return errBookNotFound
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "book deleted", slog.String("book_id", id))
	s.unindexBook(ctx, id)
	return nil
}

// CountBooks returns the number of stored books.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	return s.books.Count(ctx)
}
