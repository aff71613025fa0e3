package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/arcbond/bondengine/internal/journal"
)

// Keys:
// Entry by seq:  "entry:seq:<020d seq>" -> JSON entry
// Entry by id:   "entry:id:<id>"        -> seq key
// Params:        "series:params"        -> JSON params
const (
	entrySeqPrefix = "entry:seq:"
	entryIDPrefix  = "entry:id:"
	paramsKey      = "series:params"
)

// BadgerJournal implements journal.Journal on BadgerDB.
type BadgerJournal struct {
	db *badger.DB
}

var _ journal.Journal = (*BadgerJournal)(nil)

// OpenBadger creates or opens a badger journal at the given directory.
// If path is empty, it opens an in-memory journal (for testing).
func OpenBadger(path string) (*BadgerJournal, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	// Reduce logging noise
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger journal: %w", err)
	}
	return &BadgerJournal{db: db}, nil
}

// Close closes the database.
func (b *BadgerJournal) Close() error {
	return b.db.Close()
}

func seqKey(seq int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", entrySeqPrefix, seq))
}

// Append stores e. Re-appending the same entry is a no-op; a different entry
// at an existing seq is an error.
func (b *BadgerJournal) Append(_ context.Context, e journal.Entry) error {
	if err := journal.Verify(e); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("append entry seq=%d: %w", e.Seq, err)
	}

	return b.db.Update(func(txn *badger.Txn) error {
		idKey := []byte(entryIDPrefix + e.ID)
		if _, err := txn.Get(idKey); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		key := seqKey(e.Seq)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("append entry seq=%d: seq already used by another entry", e.Seq)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(idKey, key)
	})
}

// Entries returns all entries in seq order.
func (b *BadgerJournal) Entries(_ context.Context) ([]journal.Entry, error) {
	entries := []journal.Entry{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entrySeqPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e journal.Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			e.At = e.At.UTC()
			if err := journal.Verify(e); err != nil {
				return err
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// SaveParams stores the series parameters.
func (b *BadgerJournal) SaveParams(_ context.Context, data []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(paramsKey), data)
	})
}

// LoadParams returns the stored series parameters, or nil if none were saved.
func (b *BadgerJournal) LoadParams(_ context.Context) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(paramsKey))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load params: %w", err)
	}
	return data, nil
}
