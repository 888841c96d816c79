package cdn

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-shop-tracker/errs"
)

// StoreFile is the cache database name inside the storage directory.
const StoreFile = "cdn-cache.sqlite"

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore persists image key to mirrored URL entries. Commits run with
// synchronous=NORMAL and reach the main database file on Flush.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenStore opens (creating if needed) the cache database at path and
// applies pending migrations.
func OpenStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &errs.PersistenceError{Op: "create cache dir", Path: path, Err: err}
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &errs.PersistenceError{Op: "open cache", Path: path, Err: err}
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errs.PersistenceError{Op: "open cache", Path: path, Err: err}
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, &errs.PersistenceError{Op: "migrate cache", Path: path, Err: err}
	}
	return &SQLiteStore{db: db, path: path}, nil
}

func migrateUp(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("read migration files: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		sourceDriver.Close()
		return fmt.Errorf("create database driver: %w", err)
	}
	// m is not closed: closing it would close db.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		sourceDriver.Close()
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// Get returns the URL stored for key.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	var url string
	err := s.db.QueryRowContext(ctx, "SELECT url FROM uploads WHERE image_key = ?", key).Scan(&url)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &errs.PersistenceError{Op: "read cache entry", Path: s.path, Err: err}
	}
	return url, true, nil
}

// Put records url for key unless an entry exists, and returns the URL that
// is stored afterwards.
func (s *SQLiteStore) Put(ctx context.Context, key, url string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", &errs.PersistenceError{Op: "write cache entry", Path: s.path, Err: err}
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO uploads(image_key, url) VALUES(?, ?) ON CONFLICT(image_key) DO NOTHING",
		key, url,
	); err != nil {
		return "", &errs.PersistenceError{Op: "write cache entry", Path: s.path, Err: err}
	}
	var stored string
	if err := tx.QueryRowContext(ctx, "SELECT url FROM uploads WHERE image_key = ?", key).Scan(&stored); err != nil {
		return "", &errs.PersistenceError{Op: "write cache entry", Path: s.path, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return "", &errs.PersistenceError{Op: "write cache entry", Path: s.path, Err: err}
	}
	return stored, nil
}

// Len returns the number of stored entries.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM uploads").Scan(&n); err != nil {
		return 0, &errs.PersistenceError{Op: "count cache entries", Path: s.path, Err: err}
	}
	return n, nil
}

// Flush checkpoints the write-ahead log into the database file.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return &errs.PersistenceError{Op: "flush cache", Path: s.path, Err: err}
	}
	if busy != 0 {
		return &errs.PersistenceError{Op: "flush cache", Path: s.path, Err: errors.New("checkpoint blocked by a reader")}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
