package migrate

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook.app/internal/obs"
)

var fixedNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newMockManager(t *testing.T, migrations fstest.MapFS, opts ...Option) (*Manager, sqlmock.Sqlmock) {
	t.Helper()
	obs.SetOutput(io.Discard)
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewManager(db, migrations, opts...), mock
}

func expectTables(mock sqlmock.Sqlmock) {
	mock.ExpectExec("create table if not exists schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create table if not exists schema_seeds").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	files := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("create index b on t(x);")},
		"0001_a.up.sql":   {Data: []byte("-- first\ncreate table a(x text);\ninsert into a values ('x;y');")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	mgr, mock := newMockManager(t, files)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations order by name").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec(`create table a\(x text\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into a values \('x;y'\)`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0001_a.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`create index b on t\(x\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("insert into schema_migrations").
		WithArgs("0002_b.up.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := mgr.Up(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpSkipsAppliedAndRollsBackFailure(t *testing.T) {
	files := fstest.MapFS{
		"0001_a.up.sql": {Data: []byte("create table a(x text);")},
		"0002_b.up.sql": {Data: []byte("create broken;")},
	}
	mgr, mock := newMockManager(t, files)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("create broken").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	applied, err := mgr.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "0002_b.up.sql")
	assert.Empty(t, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownRollsBackLatest(t *testing.T) {
	files := fstest.MapFS{
		"0001_a.up.sql":   {Data: []byte("create table a(x text);")},
		"0001_a.down.sql": {Data: []byte("drop table a;")},
	}
	mgr, mock := newMockManager(t, files)

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_a.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec("drop table a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("delete from schema_migrations where name").
		WithArgs("0001_a.up.sql").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	name, err := mgr.Down(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0001_a.up.sql", name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDownWithNothingApplied(t *testing.T) {
	mgr, mock := newMockManager(t, fstest.MapFS{})

	expectTables(mock)
	mock.ExpectQuery("select name from schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	_, err := mgr.Down(context.Background())
	assert.ErrorIs(t, err, ErrNothingApplied)
}

func TestSeedUsesSeedsTable(t *testing.T) {
	seeds := fstest.MapFS{
		"0001_demo.sql": {Data: []byte("insert into documents values ('businesses', 'b1', '{}');")},
	}
	mgr, mock := newMockManager(t, fstest.MapFS{}, WithSeeds(seeds))

	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))
	mock.ExpectBegin()
	mock.ExpectExec("insert into documents").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into schema_seeds").
		WithArgs("0001_demo.sql", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	applied, err := mgr.Seed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_demo.sql"}, applied)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedWithoutSeedsIsNoop(t *testing.T) {
	mgr, mock := newMockManager(t, fstest.MapFS{})

	expectTables(mock)
	mock.ExpectQuery("select name from schema_seeds").
		WillReturnRows(sqlmock.NewRows([]string{"name"}))

	applied, err := mgr.Seed(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	files := Embedded()
	ups, err := collectSQL(files, ".up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	assert.Equal(t, "0001_documents.up.sql", ups[0])

	body, err := fs.ReadFile(files, ups[0])
	require.NoError(t, err)
	assert.Contains(t, string(body), "primary key (collection, id)")

	for _, up := range ups {
		_, err := fs.ReadFile(files, up[:len(up)-len(".up.sql")]+".down.sql")
		assert.NoError(t, err, up)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- comment\ncreate table a(x text);\n\ninsert into a values ('a;b');\n")
	assert.Equal(t, []string{"create table a(x text)", "insert into a values ('a;b')"}, stmts)
}
