package sqlite

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/rating"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

func TestBooks_CRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	created := time.Date(2024, 5, 1, 10, 0, 0, 123, time.UTC)
	book := testBook("book-1", "usr-1", created)
	book.ImageRef = "cover-abc"
	book.ImageBlurHash = "LKO2?U%2Tw=w"
	book.Ratings = []domain.Rating{{UserID: "usr-2", Grade: 4}}
	book.AverageRating = 4
	require.NoError(t, s.CreateBook(ctx, book))

	got, err := s.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, book.Title, got.Title)
	assert.Equal(t, "cover-abc", got.ImageRef)
	assert.Equal(t, "LKO2?U%2Tw=w", got.ImageBlurHash)
	assert.Equal(t, book.Ratings, got.Ratings)
	assert.Equal(t, 4.0, got.AverageRating)
	assert.True(t, created.Equal(got.CreatedAt))

	assert.ErrorIs(t, s.CreateBook(ctx, book), store.ErrAlreadyExists)

	require.NoError(t, s.DeleteBook(ctx, "book-1"))
	_, err = s.GetBook(ctx, "book-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteBook(ctx, "book-1"), store.ErrNotFound)
}

func TestListBooks_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now()
	for _, id := range []string{"book-z", "book-a", "book-m"} {
		require.NoError(t, s.CreateBook(ctx, testBook(id, "usr-1", now)))
	}

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, []string{"book-z", "book-a", "book-m"}, []string{books[0].ID, books[1].ID, books[2].ID})

	n, err := s.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestModifyBook_KeepsOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateBook(ctx, testBook("book-1", "usr-1", time.Now())))

	got, err := s.ModifyBook(ctx, "book-1", func(b *domain.Book) error {
		b.Title = "New title"
		b.UserID = "usr-intruder"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "New title", got.Title)
	assert.Equal(t, "usr-1", got.UserID)

	stored, err := s.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, "usr-1", stored.UserID)

	var version int64
	require.NoError(t, s.db.QueryRow("SELECT version FROM books WHERE id = ?", "book-1").Scan(&version))
	assert.Equal(t, int64(2), version)
}

func TestModifyBook_StaleVersionRetries(t *testing.T) {
	ctx := context.Background()
	retries := 0
	s := newTestStore(t, store.WithRetryObserver(func() { retries++ }))
	require.NoError(t, s.CreateBook(ctx, testBook("book-1", "usr-1", time.Now())))

	calls := 0
	got, err := s.ModifyBook(ctx, "book-1", func(b *domain.Book) error {
		calls++
		if calls == 1 {
			// Another writer commits between our read and write.
			_, err := s.db.Exec("UPDATE books SET version = version + 1 WHERE id = ?", "book-1")
			require.NoError(t, err)
		}
		b.Genre = "Horror"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, retries)
	assert.Equal(t, "Horror", got.Genre)
}

func TestModifyBook_ConcurrentRatersAllPersist(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateBook(ctx, testBook("book-1", "usr-owner", time.Now())))

	agg := rating.NewAggregator(rating.DefaultBounds())
	grades := []int{5, 3, 4, 1, 2}

	var wg sync.WaitGroup
	errs := make([]error, len(grades))
	for i, g := range grades {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.ModifyBook(ctx, "book-1", func(b *domain.Book) error {
				_, err := agg.Submit(b, fmt.Sprintf("usr-%d", i), g)
				return err
			})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	book, err := s.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Len(t, book.Ratings, len(grades))
	assert.Equal(t, 3.0, book.AverageRating)
}

func TestModifyBook_NotFoundAndCallbackError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.ModifyBook(ctx, "book-missing", func(*domain.Book) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateBook(ctx, testBook("book-1", "usr-1", time.Now())))
	_, err = s.ModifyBook(ctx, "book-1", func(b *domain.Book) error {
		b.Title = "changed"
		return store.ErrInvalidInput
	})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	stored, err := s.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, "Title book-1", stored.Title)
}
