package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store. Transactions hold a store-wide lock, so they are
// serialized and never need a retry.
type Memory struct {
	Writer

	mu     sync.RWMutex
	docs   map[string]map[string]map[string]any
	now    func() time.Time
	closed bool
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the clock used for server timestamps and generated ids.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory returns an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		docs: make(map[string]map[string]map[string]any),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Writer = NewWriter(m.RunTransaction, m.clock)
	return m
}

func (m *Memory) clock() time.Time {
	return m.now()
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return Document{}, ErrClosed
	}
	return m.getLocked(collection, id)
}

func (m *Memory) getLocked(collection, id string) (Document, error) {
	data, ok := m.docs[collection][id]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return Document{Collection: collection, ID: id, Data: clone(data)}, nil
}

// Query returns matching documents ordered by id. limit <= 0 means no limit.
func (m *Memory) Query(ctx context.Context, collection string, filters []Filter, limit int) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	docs := m.docs[collection]
	keys := make([]string, 0, len(docs))
	for id := range docs {
		keys = append(keys, id)
	}
	sort.Strings(keys)

	var out []Document
	for _, id := range keys {
		data := docs[id]
		if !MatchesAll(data, filters) {
			continue
		}
		out = append(out, Document{Collection: collection, ID: id, Data: clone(data)})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) RunTransaction(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	tx := &memoryTx{m: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	staged, err := ApplyWrites(tx.Writes(), m.now(), func(collection, id string) (map[string]any, bool, error) {
		data, ok := m.docs[collection][id]
		return data, ok, nil
	})
	if err != nil {
		return err
	}
	for _, doc := range staged {
		coll, ok := m.docs[doc.Collection]
		if !ok {
			coll = make(map[string]map[string]any)
			m.docs[doc.Collection] = coll
		}
		coll[doc.ID] = doc.Data
	}
	return nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len reports how many documents a collection holds.
func (m *Memory) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[collection])
}

type memoryTx struct {
	WriteBuffer
	m *Memory
}

func (tx *memoryTx) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	return tx.m.getLocked(collection, id)
}
