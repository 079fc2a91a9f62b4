package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Entity provides generic JSON CRUD for one record type under a key prefix,
// maintaining unique secondary indexes in the same transaction as the record.
type Entity[T any] struct {
	store   *Store
	prefix  string
	indexes []Index[T]
}

// Index defines a unique secondary index on an entity.
// keyGen may return several keys per record (one per page, for example).
type Index[T any] struct {
	name   string
	keyGen func(*T) []string
}

// NewEntity creates a new Entity instance for type T.
func NewEntity[T any](s *Store, prefix string) *Entity[T] {
	return &Entity[T]{
		store:  s,
		prefix: prefix,
	}
}

// WithIndex adds a unique secondary index to the entity.
func (e *Entity[T]) WithIndex(name string, keyGen func(*T) []string) *Entity[T] {
	e.indexes = append(e.indexes, Index[T]{name: name, keyGen: keyGen})
	return e
}

func (e *Entity[T]) key(id string) []byte {
	return []byte(e.prefix + id)
}

func (e *Entity[T]) indexKey(name, value string) []byte {
	return []byte(e.prefix + "idx:" + name + ":" + value)
}

func (e *Entity[T]) isIndexKey(key []byte) bool {
	return strings.HasPrefix(string(key[len(e.prefix):]), "idx:")
}

// Create stores a new entity with the given ID.
// Returns ErrAlreadyExists if the ID or any of its index keys is taken.
func (e *Entity[T]) Create(ctx context.Context, id string, entity *T) error {
	_, err := e.CreateFunc(ctx, id, func(int) (*T, error) { return entity, nil })
	return err
}

// CreateFunc stores the entity returned by build under id. build receives the
// number of entities already stored, counted in the same transaction, so
// derived fields such as sequence-based defaults are consistent with the write.
func (e *Entity[T]) CreateFunc(ctx context.Context, id string, build func(existing int) (*T, error)) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var created *T
	err := e.store.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(e.key(id))
		if err == nil {
			return ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("failed to check existing key: %w", err)
		}

		entity, err := build(e.count(txn))
		if err != nil {
			return err
		}
		if err := e.checkIndexConflicts(txn, entity, nil); err != nil {
			return err
		}

		data, err := json.Marshal(entity)
		if err != nil {
			return fmt.Errorf("failed to marshal entity: %w", err)
		}
		if err := txn.Set(e.key(id), data); err != nil {
			return fmt.Errorf("failed to set key: %w", err)
		}
		if err := e.setIndexKeys(txn, id, entity); err != nil {
			return err
		}
		created = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Count returns the number of stored entities.
func (e *Entity[T]) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := e.store.db.View(func(txn *badger.Txn) error {
		n = e.count(txn)
		return nil
	})
	return n, err
}

// Get retrieves an entity by ID.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Get(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entity *T
	err := e.store.db.View(func(txn *badger.Txn) error {
		var err error
		entity, err = e.read(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity, nil
}

// LookupIndex returns the ID stored under an index value.
// Returns ErrNotFound if nothing is indexed under value.
func (e *Entity[T]) LookupIndex(ctx context.Context, indexName, value string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var id string
	err := e.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(e.indexKey(indexName, value))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id = string(val)
			return nil
		})
	})
	return id, err
}

// Modify loads an entity, applies fn, and writes the result back in one
// transaction. Badger's optimistic concurrency aborts the commit if another
// transaction touched the record in between; Modify retries in that case.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Modify(ctx context.Context, id string, fn func(*T) error) (*T, error) {
	const maxAttempts = 5

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var updated *T
		err := e.store.db.Update(func(txn *badger.Txn) error {
			current, err := e.read(txn, id)
			if err != nil {
				return err
			}
			// fn must replace slices rather than mutate them in place;
			// old still shares their backing arrays.
			old := *current
			if err := fn(current); err != nil {
				return err
			}

			if err := e.checkIndexConflicts(txn, current, &old); err != nil {
				return err
			}
			if err := e.deleteIndexKeys(txn, &old); err != nil {
				return err
			}

			data, err := json.Marshal(current)
			if err != nil {
				return fmt.Errorf("failed to marshal entity: %w", err)
			}
			if err := txn.Set(e.key(id), data); err != nil {
				return fmt.Errorf("failed to set key: %w", err)
			}
			if err := e.setIndexKeys(txn, id, current); err != nil {
				return err
			}
			updated = current
			return nil
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
}

// Take deletes an entity and returns what was stored.
// Returns ErrNotFound if the entity does not exist.
func (e *Entity[T]) Take(ctx context.Context, id string) (*T, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var removed *T
	err := e.store.db.Update(func(txn *badger.Txn) error {
		entity, err := e.read(txn, id)
		if err != nil {
			return err
		}
		if err := e.deleteIndexKeys(txn, entity); err != nil {
			return err
		}
		if err := txn.Delete(e.key(id)); err != nil {
			return fmt.Errorf("failed to delete key: %w", err)
		}
		removed = entity
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// List returns an iterator over all entities in key order.
func (e *Entity[T]) List(ctx context.Context) iter.Seq2[*T, error] {
	return func(yield func(*T, error) bool) {
		prefix := []byte(e.prefix)
		_ = e.store.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return err
				}
				if e.isIndexKey(it.Item().Key()) {
					continue
				}

				var entity T
				err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &entity)
				})
				if err != nil {
					yield(nil, fmt.Errorf("failed to unmarshal entity: %w", err))
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

// IndexValues returns every value stored in the named index.
func (e *Entity[T]) IndexValues(ctx context.Context, indexName string) ([]string, error) {
	prefix := e.indexKey(indexName, "")
	var values []string

	err := e.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			values = append(values, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return values, err
}

func (e *Entity[T]) count(txn *badger.Txn) int {
	prefix := []byte(e.prefix)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if !e.isIndexKey(it.Item().Key()) {
			n++
		}
	}
	return n
}

func (e *Entity[T]) read(txn *badger.Txn, id string) (*T, error) {
	item, err := txn.Get(e.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key: %w", err)
	}

	var entity T
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}
	return &entity, nil
}

// checkIndexConflicts fails if any index key of entity is held by another record.
// Keys already owned by old (the pre-update version) are not conflicts.
func (e *Entity[T]) checkIndexConflicts(txn *badger.Txn, entity, old *T) error {
	for _, idx := range e.indexes {
		owned := make(map[string]bool)
		if old != nil {
			for _, k := range idx.keyGen(old) {
				owned[k] = true
			}
		}
		for _, k := range idx.keyGen(entity) {
			if owned[k] {
				continue
			}
			_, err := txn.Get(e.indexKey(idx.name, k))
			if err == nil {
				return fmt.Errorf("index %s conflict on key %s: %w", idx.name, k, ErrAlreadyExists)
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("failed to check index key: %w", err)
			}
		}
	}
	return nil
}

func (e *Entity[T]) setIndexKeys(txn *badger.Txn, id string, entity *T) error {
	for _, idx := range e.indexes {
		for _, k := range idx.keyGen(entity) {
			if err := txn.Set(e.indexKey(idx.name, k), []byte(id)); err != nil {
				return fmt.Errorf("failed to set index key: %w", err)
			}
		}
	}
	return nil
}

func (e *Entity[T]) deleteIndexKeys(txn *badger.Txn, entity *T) error {
	for _, idx := range e.indexes {
		for _, k := range idx.keyGen(entity) {
			if err := txn.Delete(e.indexKey(idx.name, k)); err != nil {
				return fmt.Errorf("failed to delete index key: %w", err)
			}
		}
	}
	return nil
}
