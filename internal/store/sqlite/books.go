package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

// bookColumns is the ordered list of columns selected in book queries.
// Must match the scan order in scanBook.
const bookColumns = `id, user_id, title, author, image_ref, image_blur_hash,
	year, genre, ratings, average_rating, version, created_at, updated_at`

var (
	errBookNotFound = store.ErrNotFound.WithMessage("book not found")

	// errStaleVersion marks an UPDATE that lost the optimistic race.
	errStaleVersion = errors.New("book version changed")
)

// scanBook scans a sql.Row (or sql.Rows via its Scan method) into a domain.Book
// and returns the row version alongside it.
func scanBook(scanner interface{ Scan(dest ...any) error }) (*domain.Book, int64, error) {
	var (
		b         domain.Book
		blurHash  sql.NullString
		ratings   string
		version   int64
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&b.ID,
		&b.UserID,
		&b.Title,
		&b.Author,
		&b.ImageRef,
		&blurHash,
		&b.Year,
		&b.Genre,
		&ratings,
		&b.AverageRating,
		&version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, 0, err
	}

	b.ImageBlurHash = blurHash.String
	if err := json.Unmarshal([]byte(ratings), &b.Ratings); err != nil {
		return nil, 0, fmt.Errorf("decode ratings of %s: %w", b.ID, err)
	}
	if b.Ratings == nil {
		b.Ratings = []domain.Rating{}
	}
	if b.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, 0, fmt.Errorf("parse created_at: %w", err)
	}
	if b.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, 0, fmt.Errorf("parse updated_at: %w", err)
	}
	return &b, version, nil
}

func encodeRatings(ratings []domain.Rating) (string, error) {
	if ratings == nil {
		ratings = []domain.Rating{}
	}
	data, err := json.Marshal(ratings)
	if err != nil {
		return "", fmt.Errorf("encode ratings: %w", err)
	}
	return string(data), nil
}

// CreateBook inserts a new book. book.ID must be set by the caller.
func (s *Store) CreateBook(ctx context.Context, book *domain.Book) error {
	if book.ID == "" {
		return store.ErrInvalidInput.WithMessage("book id is required")
	}
	ratings, err := encodeRatings(book.Ratings)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO books (
		id, user_id, title, author, image_ref, image_blur_hash,
		year, genre, ratings, average_rating, version, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		book.ID,
		book.UserID,
		book.Title,
		book.Author,
		book.ImageRef,
		nullString(book.ImageBlurHash),
		book.Year,
		book.Genre,
		ratings,
		book.AverageRating,
		formatTime(book.CreatedAt),
		formatTime(book.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists.WithMessage("book already exists")
		}
		return queryError(ctx, "insert book", err)
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "book created",
		slog.String("book_id", book.ID),
		slog.String("title", book.Title),
		slog.String("user_id", book.UserID),
	)
	s.indexBook(ctx, book)
	return nil
}

func (s *Store) getBook(ctx context.Context, id string) (*domain.Book, int64, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	book, version, err := scanBook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, errBookNotFound
	}
	if err != nil {
		return nil, 0, queryError(ctx, "get book", err)
	}
	return book, version, nil
}

// GetBook retrieves a book by ID.
func (s *Store) GetBook(ctx context.Context, id string) (*domain.Book, error) {
	book, _, err := s.getBook(ctx, id)
	return book, err
}

// ListBooks returns every book in insertion order.
func (s *Store) ListBooks(ctx context.Context) ([]*domain.Book, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+bookColumns+` FROM books ORDER BY seq`)
	if err != nil {
		return nil, queryError(ctx, "list books", err)
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		book, _, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(ctx, "iterate books", err)
	}
	return books, nil
}

// ModifyBook reads the book, applies fn, and writes it back only if no other
// writer bumped the version in between; otherwise the cycle is retried.
func (s *Store) ModifyBook(ctx context.Context, id string, fn store.MutateFunc) (*domain.Book, error) {
	var result *domain.Book

	err := store.Retry(ctx, s.retry, isStale, func() error {
		book, version, err := s.getBook(ctx, id)
		if err != nil {
			return err
		}
		owner, created := book.UserID, book.CreatedAt
		if err := fn(book); err != nil {
			return err
		}
		book.UserID, book.CreatedAt = owner, created

		if err := s.updateBook(ctx, book, version); err != nil {
			return err
		}
		result = book
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.LogAttrs(ctx, slog.LevelDebug, "book modified", slog.String("book_id", id))
	s.indexBook(ctx, result)
	return result, nil
}

func (s *Store) updateBook(ctx context.Context, book *domain.Book, version int64) error {
	ratings, err := encodeRatings(book.Ratings)
	if err != nil {
		return err
	}

	// user_id and created_at are never rewritten.
	res, err := s.db.ExecContext(ctx, `UPDATE books SET
		title = ?, author = ?, image_ref = ?, image_blur_hash = ?,
		year = ?, genre = ?, ratings = ?, average_rating = ?,
		updated_at = ?, version = version + 1
	WHERE id = ? AND version = ?`,
		book.Title,
		book.Author,
		book.ImageRef,
		nullString(book.ImageBlurHash),
		book.Year,
		book.Genre,
		ratings,
		book.AverageRating,
		formatTime(book.UpdatedAt),
		book.ID,
		version,
	)
	if err != nil {
		return queryError(ctx, "update book", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update book rows affected: %w", err)
	}
	if n == 0 {
		return errStaleVersion
	}
	return nil
}

// DeleteBook removes a book. Returns ErrNotFound if it does not exist.
func (s *Store) DeleteBook(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return queryError(ctx, "delete book", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete book rows affected: %w", err)
	}
	if n == 0 {
		return errBookNotFound
	}

	s.logger.LogAttrs(ctx, slog.LevelInfo, "book deleted", slog.String("book_id", id))
	if err := s.searchIndexer.DeleteBook(ctx, id); err != nil {
		s.logger.Warn("failed to remove book from index", "book_id", id, "error", err)
	}
	return nil
}

// CountBooks returns the number of stored books.
func (s *Store) CountBooks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM books`).Scan(&n); err != nil {
		return 0, queryError(ctx, "count books", err)
	}
	return n, nil
}

func (s *Store) indexBook(ctx context.Context, book *domain.Book) {
	if err := s.searchIndexer.IndexBook(ctx, book); err != nil {
		s.logger.Warn("failed to index book", "book_id", book.ID, "error", err)
	}
}

func isStale(err error) bool {
	return errors.Is(err, errStaleVersion)
}
