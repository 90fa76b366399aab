package tools

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

//go:embed migration/*
var migrationFiles embed.FS

// ErrMigration wraps any failure to apply a schema migration.
var ErrMigration = errors.New("schema migration failed")

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Wait before the first retry, multiplied by the attempt number
var retryDelay = 3 * time.Second

// ConnectSqlite opens the sqlite database at filePath and brings its schema
// up to date.
func ConnectSqlite(filePath string, l logrus.FieldLogger) (*sql.DB, error) {
	db, err := connectWithBackoff("sqlite3", filePath, 3, l)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filePath, err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	version, err := SchemaVersion(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	l.WithFields(logrus.Fields{"path": filePath, "schema_version": version}).Debug("sqlite ready")
	return db, nil
}

// RunMigrations applies the embedded migrations that are newer than the
// recorded schema version.
func RunMigrations(db *sql.DB) error {
	sub, err := fs.Sub(migrationFiles, "migration")
	if err != nil {
		return err
	}
	return applyMigrations(db, sub)
}

// SchemaVersion returns the highest migration version applied to db, or 0
// for a database that has never been migrated.
func SchemaVersion(db *sql.DB) (int, error) {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return 0, fmt.Errorf("%w: create schema_migrations: %w", ErrMigration, err)
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

type migration struct {
	version int
	name    string
}

// applyMigrations runs every NNN_name.sql file in fsys above the current
// version, in version order. Each file runs in its own transaction together
// with its schema_migrations row.
func applyMigrations(db *sql.DB, fsys fs.FS) error {
	current, err := SchemaVersion(db)
	if err != nil {
		return err
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return err
	}
	var pending []migration
	seen := map[int]string{}
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, err := migrationVersion(entry.Name())
		if err != nil {
			return err
		}
		if other, ok := seen[version]; ok {
			return fmt.Errorf("%w: %s and %s share version %d", ErrMigration, other, entry.Name(), version)
		}
		seen[version] = entry.Name()
		if version > current {
			pending = append(pending, migration{version: version, name: entry.Name()})
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		fileData, err := fs.ReadFile(fsys, m.name)
		if err != nil {
			return err
		}
		if err := applyMigration(db, m, string(fileData)); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMigration, m.name, err)
		}
	}
	return nil
}

func applyMigration(db *sql.DB, m migration, stmt string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec(stmt); err != nil {
		tx.Rollback()
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", m.version, m.name); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// migrationVersion parses the numeric prefix of names like 001_readings.sql.
func migrationVersion(name string) (int, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("%w: %s has no version prefix", ErrMigration, name)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, fmt.Errorf("%w: %s has no version prefix", ErrMigration, name)
	}
	return version, nil
}

func connectWithBackoff(driver string, connStr string, maxRetries int, l logrus.FieldLogger) (*sql.DB, error) {
	var db *sql.DB
	var err error
	for i := 0; i < maxRetries; i++ {
		db, err = sql.Open(driver, connStr)
		if err == nil {
			if err = db.Ping(); err == nil {
				return db, nil
			}
			db.Close()
		}
		l.WithError(err).WithField("attempt", i+1).Warnf("Failed attempt to connect to %s", driver)
		if i < maxRetries-1 {
			time.Sleep(time.Duration(i+1) * retryDelay)
		}
	}
	return nil, err
}
