package badgerdb

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/grimoireapp/grimoire-server/internal/domain"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

func newTestStore(t *testing.T, opts ...store.Option) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "db"), nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recordingIndexer captures search index calls.
type recordingIndexer struct {
	mu      sync.Mutex
	indexed []string
	deleted []string
}

func (r *recordingIndexer) IndexBook(_ context.Context, b *domain.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, b.ID)
	return nil
}

func (r *recordingIndexer) DeleteBook(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	return nil
}

func testBook(id, owner string, created time.Time) *domain.Book {
	b := &domain.Book{
		UserID:  owner,
		Title:   "Title " + id,
		Author:  "Author",
		Year:    1999,
		Genre:   "Fantasy",
		Ratings: []domain.Rating{},
	}
	b.ID = id
	b.InitTimestamps(created)
	return b
}
