package badgerdb

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

func TestCreateAndGetBook(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	idx := &recordingIndexer{}
	s.SetSearchIndexer(idx)

	book := testBook("book-1", "usr-1", time.Now())
	require.NoError(t, s.CreateBook(ctx, book))

	got, err := s.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, book.Title, got.Title)
	assert.Equal(t, "usr-1", got.UserID)
	assert.NotNil(t, got.Ratings)
	assert.Equal(t, []string{"book-1"}, idx.indexed)

	err = s.CreateBook(ctx, book)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)

	err = s.CreateBook(ctx, &domain.Book{})
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestGetBook_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetBook(context.Background(), "book-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListBooks_InsertionOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	// ids chosen so key order differs from creation order
	for i, id := range []string{"book-z", "book-a", "book-m"} {
		require.NoError(t, s.CreateBook(ctx, testBook(id, "usr-1", base.Add(time.Duration(i)*time.Minute))))
	}

	books, err := s.ListBooks(ctx)
	require.NoError(t, err)
	require.Len(t, books, 3)
	assert.Equal(t, "book-z", books[0].ID)
	assert.Equal(t, "book-a", books[1].ID)
	assert.Equal(t, "book-m", books[2].ID)

	n, err := s.CountBooks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestModifyBook(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateBook(ctx, testBook("book-1", "usr-1", time.Now())))

	got, err := s.ModifyBook(ctx, "book-1", func(b *domain.Book) error {
		b.Title = "Renamed"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	stored, err := s.GetBook(ctx, "book-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Title)

	_, err = s.ModifyBook(ctx, "book-missing", func(*domain.Book) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestModifyBook_ConcurrentRatersAllPersist(t *testing.T) {
	ctx := context.Background()
	retries := 0
	var mu sync.Mutex
	s := newTestStore(t, store.WithRetryObserver(func() {
		mu.Lock()
		retries++
		mu.Unlock()
	}))
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
	t.Logf("conflict retries: %d", retries)
}

func TestModifyBook_DeadlineBecomesTimeout(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.CreateBook(context.Background(), testBook("book-1", "usr-1", time.Now())))

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := s.ModifyBook(ctx, "book-1", func(*domain.Book) error { return nil })
	assert.ErrorIs(t, err, store.ErrTimeout)
}

func TestDeleteBook(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	idx := &recordingIndexer{}
	s.SetSearchIndexer(idx)
	require.NoError(t, s.CreateBook(ctx, testBook("book-1", "usr-1", time.Now())))

	require.NoError(t, s.DeleteBook(ctx, "book-1"))
	assert.Equal(t, []string{"book-1"}, idx.deleted)

	_, err := s.GetBook(ctx, "book-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, s.DeleteBook(ctx, "book-1"), store.ErrNotFound)
}

func TestModifyBook_KeepsOwner(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateBook(ctx, testBook("book-1", "usr-1", time.Now())))

	got, err := s.ModifyBook(ctx, "book-1", func(b *domain.Book) error {
		b.UserID = "usr-intruder"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "usr-1", got.UserID)
}
