package providers

import (
	"context"
	"log/slog"

	"github.com/samber/do/v2"

	"github.com/grimoireapp/grimoire-server/internal/logger"
	"github.com/grimoireapp/grimoire-server/internal/search"
	"github.com/grimoireapp/grimoire-server/internal/store"
)

// TriggerSearchReindexIfNeeded rebuilds the index in the background when it
// was freshly created or its document count disagrees with the store.
// Should be called after all services are wired.
func TriggerSearchReindexIfNeeded(i do.Injector) {
	indexHandle := do.MustInvoke[*SearchIndexHandle](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	log := do.MustInvoke[*logger.Logger](i)

	ctx := context.Background()
	if !searchReindexNeeded(ctx, indexHandle.SearchIndex, storeHandle.Store, log.Logger) {
		return
	}

	go func() {
		if err := reindexAll(context.Background(), indexHandle.SearchIndex, storeHandle.Store); err != nil {
			log.Error("Search reindex failed", "error", err)
			return
		}
		count, _ := indexHandle.DocCount()
		log.Info("Search reindex completed", "documents", count)
	}()
}

func searchReindexNeeded(ctx context.Context, index *search.SearchIndex, db store.Store, log *slog.Logger) bool {
	books, err := db.CountBooks(ctx)
	if err != nil {
		log.Warn("Could not count books for search backfill", "error", err)
		return false
	}
	if books == 0 {
		return false
	}

	docs, err := index.DocCount()
	if err != nil {
		log.Warn("Could not count search documents", "error", err)
		return true
	}
	if !index.Fresh() && docs == uint64(books) {
		return false
	}

	log.Info("Search index out of step with store, triggering reindex",
		"book_count", books,
		"documents", docs,
		"fresh", index.Fresh(),
	)
	return true
}

func reindexAll(ctx context.Context, index *search.SearchIndex, db store.Store) error {
	books, err := db.ListBooks(ctx)
	if err != nil {
		return err
	}
	if err := index.Rebuild(); err != nil {
		return err
	}
	return index.IndexBooks(ctx, books)
}
