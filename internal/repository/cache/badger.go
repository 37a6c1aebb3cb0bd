package cache

import (
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"example.com/walks/internal/domain"
)

const walkKeyPrefix = "walk:"

// Badger is the on-disk Store used by the running service. Records are JSON
// under "walk:<id>".
type Badger struct {
	db *badger.DB
}

// OpenBadger opens (or creates) the cache at path.
func OpenBadger(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Put(w domain.Walk) error {
	buf, err := json.Marshal(w)
	if err != nil {
		return domain.Wrap(domain.KindInvalidData, "encode walk", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(walkKeyPrefix+w.ID), buf)
	})
}

func (b *Badger) Get(id string) (*domain.Walk, error) {
	var out domain.Walk
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(walkKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &out); err != nil {
				return domain.Wrap(domain.KindInvalidData, "decode walk", err)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (b *Badger) ByOwner(ownerID string) ([]domain.Walk, error) {
	out := make([]domain.Walk, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(walkKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var w domain.Walk
			err := it.Item().Value(func(val []byte) error {
				if err := json.Unmarshal(val, &w); err != nil {
					return domain.Wrap(domain.KindInvalidData, "decode walk", err)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if w.OwnerID == ownerID {
				out = append(out, w)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortNewestFirst(out)
	return out, nil
}

func (b *Badger) Delete(id string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(walkKeyPrefix + id))
	})
}

func (b *Badger) Close() error { return b.db.Close() }
