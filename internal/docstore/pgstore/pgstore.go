// Package pgstore keeps documents in a single PostgreSQL jsonb table.
//
//	documents(collection text, id text, data jsonb, created_at, updated_at, primary key(collection, id))
//
// Transactions run at SERIALIZABLE isolation with row locks on every document read,
// and are retried when PostgreSQL reports a serialization failure or a concurrent insert
// of the same document. Violations of other unique indexes surface as
// docstore.ErrAlreadyExists.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"salonbook.app/internal/docstore"
)

const (
	pgErrUniqueViolation       = "23505"
	pgErrSerializationFailure  = "40001"
	pgErrDeadlockDetected      = "40P01"
	documentsPrimaryKey        = "documents_pkey"
	defaultTransactionAttempts = 5
)

// Store implements docstore.Store.
type Store struct {
	docstore.Writer

	db       *sql.DB
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

// Open connects through the pgx stdlib driver.
func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db, opts...), nil
}

// New wraps an existing pool.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, now: time.Now, attempts: defaultTransactionAttempts}
	for _, opt := range opts {
		opt(s)
	}
	s.Writer = docstore.NewWriter(s.RunTransaction, s.clock)
	return s
}

func (s *Store) clock() time.Time { return s.now() }

// DB exposes the pool for migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return getDocument(ctx, s.db, collection, id, false)
}

// Query matches filters with jsonb containment, ordered by id.
func (s *Store) Query(ctx context.Context, collection string, filters []docstore.Filter, limit int) ([]docstore.Document, error) {
	match := make(map[string]any, len(filters))
	for _, f := range filters {
		match[f.Field] = f.Value
	}
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode filters: %w", err)
	}
	var lim sql.NullInt64
	if limit > 0 {
		lim = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, data from documents
		where collection = $1 and data @> $2::jsonb
		order by id
		limit $3
	`, collection, matchJSON, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []docstore.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		data, err := decode(raw)
		if err != nil {
			return nil, fmt.Errorf("pgstore: %s/%s: %w", collection, id, err)
		}
		out = append(out, docstore.Document{Collection: collection, ID: id, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	return docstore.RunWithRetry(ctx, s.attempts, retryable, func() error {
		return s.runOnce(ctx, fn)
	})
}

func (s *Store) runOnce(ctx context.Context, fn docstore.TxFunc) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ptx := &pgTx{tx: tx}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	writes := ptx.Writes()
	if len(writes) == 0 {
		return tx.Commit()
	}

	staged, err := docstore.ApplyWrites(writes, s.now(), func(collection, id string) (map[string]any, bool, error) {
		doc, err := getDocument(ctx, tx, collection, id, true)
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
			return fmt.Errorf("pgstore: encode %s/%s: %w", doc.Collection, doc.ID, err)
		}
		if doc.Existed {
			_, err = tx.ExecContext(ctx, `
				update documents set data = $3, updated_at = now()
				where collection = $1 and id = $2
			`, doc.Collection, doc.ID, raw)
		} else {
			_, err = tx.ExecContext(ctx, `
				insert into documents(collection, id, data, created_at, updated_at)
				values ($1, $2, $3, now(), now())
			`, doc.Collection, doc.ID, raw)
		}
		if err != nil {
			return writeError(doc.Collection, doc.ID, err)
		}
	}
	return tx.Commit()
}

// writeError maps unique violations outside the primary key to ErrAlreadyExists.
func writeError(collection, id string, err error) error {
	pgErr, ok := maybePgError(err)
	if !ok || pgErr.Code != pgErrUniqueViolation || pgErr.ConstraintName == documentsPrimaryKey {
		return err
	}
	return fmt.Errorf("pgstore: %s/%s violates %s: %w", collection, id, pgErr.ConstraintName, docstore.ErrAlreadyExists)
}

type pgTx struct {
	docstore.WriteBuffer
	tx *sql.Tx
}

func (t *pgTx) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	return getDocument(ctx, t.tx, collection, id, true)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryRower, collection, id string, lock bool) (docstore.Document, error) {
	query := `select data from documents where collection = $1 and id = $2`
	if lock {
		query += ` for update`
	}
	var raw []byte
	err := q.QueryRowContext(ctx, query, collection, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.Document{}, fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	if err != nil {
		return docstore.Document{}, err
	}
	data, err := decode(raw)
	if err != nil {
		return docstore.Document{}, fmt.Errorf("pgstore: %s/%s: %w", collection, id, err)
	}
	return docstore.Document{Collection: collection, ID: id, Data: data}, nil
}

func decode(raw []byte) (map[string]any, error) {
	data := map[string]any{}
	if len(raw) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// retryable reports conflicts that a fresh attempt can resolve. A primary key violation
// means a concurrent transaction created the document first; the retry observes it.
func retryable(err error) bool {
	pgErr, ok := maybePgError(err)
	if !ok {
		return false
	}
	switch pgErr.Code {
	case pgErrSerializationFailure, pgErrDeadlockDetected:
		return true
	case pgErrUniqueViolation:
		return pgErr.ConstraintName == documentsPrimaryKey
	default:
		return false
	}
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
