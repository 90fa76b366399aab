package tools

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectSqlite(t *testing.T) {
	l, _ := test.NewNullLogger()
	db, err := ConnectSqlite(filepath.Join(t.TempDir(), "luxmeter.db"), l)
	require.NoError(t, err)
	defer db.Close()

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='readings'").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "readings", name)

	version, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	// Applied migrations are skipped on the next run.
	require.NoError(t, RunMigrations(db))
	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 1, applied)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	l, _ := test.NewNullLogger()
	db, err := connectWithBackoff("sqlite3", filepath.Join(t.TempDir(), "migrate.db"), 1, l)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestApplyMigrations(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"002_b.sql":  {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"001_a.sql":  {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.txt": {Data: []byte("not a migration")},
	}
	require.NoError(t, applyMigrations(db, fsys))
	version, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	fsys["003_c.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE c (id INTEGER);")}
	require.NoError(t, applyMigrations(db, fsys))
	version, err = SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 3, version)
}

func TestApplyMigrationsFailure(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"002_b.sql": {Data: []byte("CREATE TABLE b (id INTEGER); NOT SQL;")},
	}
	err := applyMigrations(db, fsys)
	assert.ErrorIs(t, err, ErrMigration)
	assert.ErrorContains(t, err, "002_b.sql")

	// The failed migration is rolled back and not recorded.
	version, err := SchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='b'").Scan(&n))
	assert.Zero(t, n)
}

func TestApplyMigrationsBadNames(t *testing.T) {
	db := openTestDB(t)

	err := applyMigrations(db, fstest.MapFS{"readings.sql": {Data: []byte("SELECT 1;")}})
	assert.ErrorIs(t, err, ErrMigration)

	err = applyMigrations(db, fstest.MapFS{
		"001_a.sql":   {Data: []byte("SELECT 1;")},
		"1_again.sql": {Data: []byte("SELECT 1;")},
	})
	assert.ErrorIs(t, err, ErrMigration)
	assert.ErrorContains(t, err, "share version 1")
}

func TestConnectSqliteRetries(t *testing.T) {
	defer func(d time.Duration) { retryDelay = d }(retryDelay)
	retryDelay = 0

	l, hook := test.NewNullLogger()
	_, err := ConnectSqlite(filepath.Join(t.TempDir(), "missing", "dir", "x.db"), l)
	assert.Error(t, err)
	assert.Len(t, hook.AllEntries(), 3)
}

func TestNewLogger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "luxmeter.log")
	l, err := NewLogger("debug", file)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, l.Formatter)

	l, err = NewLogger("bogus", "")
	require.NoError(t, err)
	assert.Equal(t, logrus.InfoLevel, l.GetLevel())

	_, err = NewLogger("info", filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	assert.Error(t, err)
}
