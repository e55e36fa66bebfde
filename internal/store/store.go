// Package store checkpoints batches in an embedded badger database so a
// restarted server can report and resume them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// ErrNotFound is returned for an unknown batch id
var ErrNotFound = errors.New("batch not found")

const batchPrefix = "batch:"

// Store persists batches keyed by id
type Store struct {
	db *badger.DB
}

// Open opens the database in dir. An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(batchPrefix + id)
}

// Save writes a snapshot of b
func (s *Store) Save(ctx context.Context, b *models.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(b.Snapshot())
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(b.ID), data)
	})
}

// Get loads one batch
func (s *Store) Get(ctx context.Context, id string) (*models.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var b models.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &b)
		})
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// List returns every stored batch, oldest first
func (s *Store) List(ctx context.Context) ([]*models.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []*models.Batch
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(batchPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var b models.Batch
				if err := json.Unmarshal(val, &b); err != nil {
					return fmt.Errorf("corrupt batch %s: %w", it.Item().Key(), err)
				}
				out = append(out, &b)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a batch
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(id))
	})
}
