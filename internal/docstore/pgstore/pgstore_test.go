package pgstore

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"salonbook.app/internal/docstore"
)

// jsonArg matches a jsonb argument by decoded content.
type jsonArg struct {
	check func(map[string]any) bool
}

func (a jsonArg) Match(v driver.Value) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return false
	}
	return a.check(data)
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	return New(db, WithClock(func() time.Time { return at })), mock
}

func TestGet(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select data from documents where collection").
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"email":"a@b.com","roles":["client"]}`)))
	mock.ExpectQuery("select data from documents where collection").
		WithArgs("users", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))

	doc, err := store.Get(context.Background(), "users", "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Data["email"] != "a@b.com" {
		t.Fatalf("unexpected data: %v", doc.Data)
	}
	if _, err := store.Get(context.Background(), "users", "missing"); !errors.Is(err, docstore.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateInsertsNewDocument(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectExec("insert into documents").
		WithArgs("users", "u1", jsonArg{check: func(d map[string]any) bool {
			return d["email"] == "a@b.com" && d["createdAt"] == "2026-05-04T10:00:00Z"
		}}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Create(context.Background(), "users", "u1", map[string]any{
		"email":     "a@b.com",
		"createdAt": docstore.ServerTimestamp,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateExistingFails(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{}`)))
	mock.ExpectRollback()

	err := store.Create(context.Background(), "users", "u1", map[string]any{"email": "a@b.com"})
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionUpdatesWithArrayUnion(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"roles":["client"]}`)))
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"roles":["client"]}`)))
	mock.ExpectExec("update documents set data").
		WithArgs("users", "u1", jsonArg{check: func(d map[string]any) bool {
			roles, _ := d["roles"].([]any)
			return len(roles) == 2 && roles[1] == "owner"
		}}).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		if _, err := tx.Get(ctx, "users", "u1"); err != nil {
			return err
		}
		return tx.Update("users", "u1", map[string]any{"roles": docstore.ArrayUnion("owner", "client")})
	})
	if err != nil {
		t.Fatalf("RunTransaction: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionRetriesSerializationFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("rate_limits", "u1_login").
		WillReturnError(&pgconn.PgError{Code: pgErrSerializationFailure})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("rate_limits", "u1_login").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectExec("insert into documents").
		WithArgs("rate_limits", "u1_login", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Set(context.Background(), "rate_limits", "u1_login", map[string]any{"requests": []int64{1}}, docstore.MergeAll)
	if err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConcurrentInsertOfSameDocumentRetries(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectExec("insert into documents").
		WithArgs("users", "u1", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: documentsPrimaryKey})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("users", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"data"}).AddRow([]byte(`{"email":"a@b.com"}`)))
	mock.ExpectRollback()

	err := store.Create(context.Background(), "users", "u1", map[string]any{"email": "a@b.com"})
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists after retry, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSecondaryUniqueViolationIsNotRetried(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select data from documents .* for update").
		WithArgs("businesses", "b2").
		WillReturnRows(sqlmock.NewRows([]string{"data"}))
	mock.ExpectExec("insert into documents").
		WithArgs("businesses", "b2", sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation, ConstraintName: "businesses_active_link_code"})
	mock.ExpectRollback()

	err := store.Set(context.Background(), "businesses", "b2", map[string]any{
		"name": "Bela", "linkCode": "BELA2026", "status": "active",
	})
	if !errors.Is(err, docstore.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if !strings.Contains(err.Error(), "businesses_active_link_code") {
		t.Fatalf("expected constraint name in %q", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionBodyErrorRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx docstore.Tx) error {
		_ = tx.Set("c", "d", map[string]any{"v": 1})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected body error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestQuery(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select id, data from documents").
		WithArgs("businesses", jsonArg{check: func(d map[string]any) bool {
			return d["linkCode"] == "ABC123" && d["status"] == "active"
		}}, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "data"}).
			AddRow("b1", []byte(`{"name":"Salão Bela","linkCode":"ABC123","status":"active"}`)))

	docs, err := store.Query(context.Background(), "businesses", []docstore.Filter{
		docstore.Where("linkCode", "ABC123"),
		docstore.Where("status", "active"),
	}, 1)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "b1" || docs[0].Data["name"] != "Salão Bela" {
		t.Fatalf("unexpected docs: %+v", docs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
