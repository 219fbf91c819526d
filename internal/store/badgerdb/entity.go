package badgerdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/grimoireapp/grimoire-server/internal/store"
)

// Entity provides generic CRUD operations for any JSON-encoded record type,
// stored under prefix+id with optional unique secondary indexes under
// prefix+"idx:"+name+":"+value.
type Entity[T any] struct {
	db      *badger.DB
	prefix  string
	indexes []Index[T]
	retry   store.RetryPolicy
}

// Index defines a unique secondary index on an entity.
type Index[T any] struct {
	name            string
	keyGen          func(*T) []string
	lookupTransform func(string) string // Optional transformation for lookups
}

// NewEntity creates a new Entity instance for type T.
func NewEntity[T any](db *badger.DB, prefix string) *Entity[T] {
	return &Entity[T]{
		db:     db,
		prefix: prefix,
		retry:  store.DefaultRetryPolicy(),
	}
}

// WithIndex adds a secondary index to the entity.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	return e.WithIndexTransform(name, keyGen, nil)
}

// WithIndexTransform adds a secondary index with lookup transformation.
// The lookupTransform function is applied to search values before index lookup,
// enabling case-insensitive searches, normalization, etc.
func (e *Entity[T]) WithIndexTransform(name string, keyGen func(*T) []string, lookupTransform func(string) string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{
		name:            name,
		keyGen:          keyGen,
		lookupTransform: lookupTransform,
	})
	return e
}

// WithRetry sets the policy Modify uses when a transaction conflicts.
func (e *Entity[T]) WithRetry(p store.RetryPolicy) *Entity[T] {
	e.retry = p
	return e
}

func (e *Entity[T]) key(id string) []byte {
	return []byte(e.prefix + id)
}

func (e *Entity[T]) indexKey(name, value string) []byte {
	return []byte(e.prefix + "idx:" + name + ":" + value)
}

// indexEntries maps every index key of entity to presence.
func (e *Entity[T]) indexEntries(entity *T) map[string]struct{} {
	out := make(map[string]struct{})
	if entity == nil {
		return out
	}
	for _, idx := range e.indexes {
		for _, v := range idx.keyGen(entity) {
			if v == "" {
				continue
			}
			out[string(e.indexKey(idx.name, v))] = struct{}{}
		}
	}
	return out
}

// writeIndexes moves the index entries of id from oldKeys to newKeys inside txn.
// A key held by a different id is a uniqueness violation.
func (e *Entity[T]) writeIndexes(txn *badger.Txn, id string, oldKeys, newKeys map[string]struct{}) error {
	for k := range oldKeys {
		if _, keep := newKeys[k]; keep {
			continue
		}
		if err := txn.Delete([]byte(k)); err != nil {
			return fmt.Errorf("delete index key: %w", err)
		}
	}

	for k := range newKeys {
		if _, had := oldKeys[k]; had {
			continue
		}
		_, err := txn.Get([]byte(k))
		if err == nil {
			return store.ErrAlreadyExists.WithMessage("index conflict on " + strings.TrimPrefix(k, e.prefix+"idx:"))
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check index key: %w", err)
		}
		if err := txn.Set([]byte(k), []byte(id)); err != nil {
			return fmt.Errorf("set index key: %w", err)
		}
	}
	return nil
}

func (e *Entity[T]) load(txn *badger.Txn, id string) (*T, error) {
	item, err := txn.Get(e.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	})
	if err != nil {
		return nil, fmt.Errorf("unmarshal entity: %w", err)
	}
	return &entity, nil
}

func (e *Entity[T]) save(txn *badger.Txn, id string, entity *T) error {
	data, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity: %w", err)
	}
	if err := txn.Set(e.key(id), data); err != nil {
		return fmt.Errorf("set key: %w", err)
	}
	return nil
}

// Create creates a new entity with the given ID.
// Returns ErrAlreadyExists if the ID or any unique index value is taken.
func (e *Entity[T]) Create(ctx context.Context, id string, entity *T) error {
	if err := store.ContextError(ctx); err != nil {
		return err
	}

	return e.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(e.key(id))
		if err == nil {
			return store.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check existing key: %w", err)
		}

		if err := e.writeIndexes(txn, id, nil, e.indexEntries(entity)); err != nil {
			return err
		}
		return e.save(txn, id, entity)
	})
}

// Get retrieves an entity by ID.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := store.ContextError(ctx); err != nil {
		return nil, err
	}

	var entity *T
	err := e.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = e.load(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// GetByIndex retrieves an entity by secondary index.
// If the index has a lookup transform, it will be applied to the value before lookup.
func (e *Entity[T]) GetByIndex(ctx context.Context, indexName, value string) (*T, error) {
	if err := store.ContextError(ctx); err != nil {
		return nil, err
	}

	for _, idx := range e.indexes {
		if idx.name == indexName && idx.lookupTransform != nil {
			value = idx.lookupTransform(value)
			break
		}
	}

	var entity *T
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(e.indexKey(indexName, value))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get index key: %w", err)
		}

		id, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("read index key: %w", err)
		}
		entity, err = e.load(txn, string(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// Modify loads the entity, applies fn, and writes the result in one
// transaction. Conflicting concurrent writers make badger reject the commit;
// the whole read-apply-write is then retried under the entity's policy.
// An error from fn aborts without writing and is returned as is.
func (e *Entity[T]) Modify(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	var result *T

	err := store.Retry(ctx, e.retry, isConflict, func() error {
		return e.db.Update(func(txn *badger.Txn) error {
			current, err := e.load(txn, id)
			if err != nil {
				return err
			}
			oldKeys := e.indexEntries(current)

			if err := fn(current); err != nil {
				return err
			}
			if err := e.writeIndexes(txn, id, oldKeys, e.indexEntries(current)); err != nil {
				return err
			}
			if err := e.save(txn, id, current); err != nil {
				return err
			}
			result = current
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Delete deletes an entity by ID and reports whether it existed.
func (e *Entity[T]) Delete(ctx context.Context, id string) (bool, error) {
	if err := store.ContextError(ctx); err != nil {
		return false, err
	}

	existed := false
	err := e.db.Update(func(txn *badger.Txn) error {
		entity, err := e.load(txn, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if err := e.writeIndexes(txn, id, e.indexEntries(entity), nil); err != nil {
			return err
		}
		if err := txn.Delete(e.key(id)); err != nil {
			return fmt.Errorf("delete key: %w", err)
		}
		existed = true
		return nil
	})
	return existed, err
}

// List returns an iterator over all entities in key order.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		_ = e.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(e.prefix)

			it := txn.NewIterator(opts)
			defer it.Close()

			idxPrefix := []byte(e.prefix + "idx:")
			for it.Rewind(); it.Valid(); it.Next() {
				if err := store.ContextError(ctx); err != nil {
					yield(nil, err)
					return err
				}

				item := it.Item()
				if hasPrefix(item.Key(), idxPrefix) {
					continue
				}

				var entity T
				err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				})
				if err != nil {
					err = fmt.Errorf("unmarshal %s: %w", item.Key(), err)
					yield(nil, err)
					return err
				}

				if !yield(&entity, nil) {
					return nil
				}
			}
			return nil
		})
	}
}

// Count returns the number of stored entities without decoding them.
func (e *Entity[T]) Count(ctx context.Context) (int, error) {
	n := 0
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(e.prefix)
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		idxPrefix := []byte(e.prefix + "idx:")
		for it.Rewind(); it.Valid(); it.Next() {
			if err := store.ContextError(ctx); err != nil {
				return err
			}
			if !hasPrefix(it.Item().Key(), idxPrefix) {
				n++
			}
		}
		return nil
	})
	return n, err
}

func hasPrefix(b, prefix []byte) bool {
	return len(b) >= len(prefix) && string(b[:len(prefix)]) == string(prefix)
}

func isConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}
