// Package badgerstore keeps documents in an embedded Badger database, one key per
// document. Badger detects read-write conflicts at commit, so a transaction that lost
// a race is re-run from the start.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"

	"salonbook.app/internal/docstore"
)

const (
	keySeparator               = "\x00"
	defaultTransactionAttempts = 5
)

// Store implements docstore.Store.
type Store struct {
	docstore.Writer

	db       *badger.DB
	now      func() time.Time
	attempts int
}

var _ docstore.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithClock overrides the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTransactionAttempts bounds how often a conflicting transaction is re-run.
func WithTransactionAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.attempts = n
		}
	}
}

// Open opens (or creates) a database under dir. An empty dir keeps everything in
// memory.
func Open(dir string, opts ...Option) (*Store, error) {
	bopts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		bopts = bopts.WithInMemory(true)
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %q: %w", dir, err)
	}
	return New(db, opts...), nil
}

// New wraps an open database. Close closes it.
func New(db *badger.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, attempts: defaultTransactionAttempts}
	for _, opt := range opts {
		opt(s)
	}
	s.Writer = docstore.NewWriter(s.RunTransaction, s.clock)
	return s
}

func (s *Store) clock() time.Time { return s.now() }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return docstore.ErrClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	var doc docstore.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = getDocument(txn, collection, id)
		return err
	})
	return doc, err
}

// Query scans the collection prefix in key order, which is id order.
func (s *Store) Query(ctx context.Context, collection string, filters []docstore.Filter, limit int) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte(collection + keySeparator)
	var out []docstore.Document
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			id := strings.TrimPrefix(string(item.Key()), string(prefix))
			data, err := decode(raw)
			if err != nil {
				return fmt.Errorf("badgerstore: %s/%s: %w", collection, id, err)
			}
			if !docstore.MatchesAll(data, filters) {
				continue
			}
			out = append(out, docstore.Document{Collection: collection, ID: id, Data: data})
			if limit > 0 && len(out) == limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return docstore.RunWithRetry(ctx, s.attempts, isConflict, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.db.Update(func(txn *badger.Txn) error {
			btx := &badgerTx{txn: txn}
			if err := fn(ctx, btx); err != nil {
				return err
			}
			staged, err := docstore.ApplyWrites(btx.Writes(), s.now(), func(collection, id string) (map[string]any, bool, error) {
				doc, err := getDocument(txn, collection, id)
				if errors.Is(err, docstore.ErrNotFound) {
					return nil, false, nil
				}
				if err != nil {
					return nil, false, err
				}
				return doc.Data, true, nil
			})
			if err != nil {
				return err
			}
			for _, doc := range staged {
				raw, err := json.Marshal(doc.Data)
				if err != nil {
					return fmt.Errorf("badgerstore: encode %s/%s: %w", doc.Collection, doc.ID, err)
				}
				if err := txn.Set(key(doc.Collection, doc.ID), raw); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

type badgerTx struct {
	docstore.WriteBuffer
	txn *badger.Txn
}

func (t *badgerTx) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}
	return getDocument(t.txn, collection, id)
}

func getDocument(txn *badger.Txn, collection, id string) (docstore.Document, error) {
	item, err := txn.Get(key(collection, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return docstore.Document{}, fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	if err != nil {
		return docstore.Document{}, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return docstore.Document{}, err
	}
	data, err := decode(raw)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("badgerstore: %s/%s: %w", collection, id, err)
	}
	return docstore.Document{Collection: collection, ID: id, Data: data}, nil
}

func key(collection, id string) []byte {
	return []byte(collection + keySeparator + id)
}

func decode(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func isConflict(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}
