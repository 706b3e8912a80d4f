// Package docstore is the document database the callables persist into: collections of
// JSON documents addressed by id, equality queries, server timestamps, set-union array
// updates and atomic read-then-write transactions.
//
// Three backends implement Store: Memory (this package), pgstore (PostgreSQL jsonb) and
// badgerstore (embedded Badger). All of them normalise document data to JSON types on
// write, so a document reads back the same way regardless of backend.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"salonbook.app/internal/ids"
)

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	ErrClosed        = errors.New("docstore: store closed")
)

// Document is a snapshot of one stored document.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
}

// Path returns collection/id.
func (d Document) Path() string {
	return d.Collection + "/" + d.ID
}

// DataTo decodes the document into v using its JSON field names.
func (d Document) DataTo(v any) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", d.Path(), err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", d.Path(), err)
	}
	return nil
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Where builds a Filter.
func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// SetOption tunes Set.
type SetOption int

// MergeAll makes Set merge the given fields into the existing document instead of
// replacing it.
const MergeAll SetOption = 1

// TxFunc is the body of a transaction. It must only touch the store through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Tx reads committed state and buffers writes. Buffered writes are applied atomically
// once the TxFunc returns nil and discarded otherwise.
type Tx interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Set(collection, id string, data map[string]any, opts ...SetOption) error
	Create(collection, id string, data map[string]any) error
	Update(collection, id string, data map[string]any) error
}

// Store is implemented by every backend.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filters []Filter, limit int) ([]Document, error)
	RunTransaction(ctx context.Context, fn TxFunc) error

	Set(ctx context.Context, collection, id string, data map[string]any, opts ...SetOption) error
	Create(ctx context.Context, collection, id string, data map[string]any) error
	Update(ctx context.Context, collection, id string, data map[string]any) error
	Add(ctx context.Context, collection string, data map[string]any) (string, error)

	Ping(ctx context.Context) error
	Close() error
}

// Writer implements the single-document writes of Store as one-write transactions.
// Backends embed it.
type Writer struct {
	run func(ctx context.Context, fn TxFunc) error
	now func() time.Time
}

// NewWriter binds a Writer to a backend's transaction runner and clock.
func NewWriter(run func(ctx context.Context, fn TxFunc) error, now func() time.Time) Writer {
	return Writer{run: run, now: now}
}

func (w Writer) Set(ctx context.Context, collection, id string, data map[string]any, opts ...SetOption) error {
	return w.run(ctx, func(_ context.Context, tx Tx) error {
		return tx.Set(collection, id, data, opts...)
	})
}

func (w Writer) Create(ctx context.Context, collection, id string, data map[string]any) error {
	return w.run(ctx, func(_ context.Context, tx Tx) error {
		return tx.Create(collection, id, data)
	})
}

func (w Writer) Update(ctx context.Context, collection, id string, data map[string]any) error {
	return w.run(ctx, func(_ context.Context, tx Tx) error {
		return tx.Update(collection, id, data)
	})
}

// Add stores data under a fresh ULID and returns it.
func (w Writer) Add(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := ids.NewAt(w.now())
	if err := w.Create(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// RunWithRetry calls fn until it succeeds, fails with a non-retryable error or the
// attempts are used up. Backends use it to re-run transactions that lost a conflict.
func RunWithRetry(ctx context.Context, attempts int, retryable func(error) bool, fn func() error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
		}
	}
	return fmt.Errorf("docstore: transaction gave up after %d attempts: %w", attempts, err)
}
