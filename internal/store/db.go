// Package store is the embedded relational store (C10): a single SQLite
// file opened in WAL mode, per-domain repositories, and soft delete with a
// periodic hard-delete cleanup pass. Grounded on the example pack's
// embedded-SQLite teacher (internal/store/db.go, migrate.go, retry.go),
// since the primary teacher (intelligencedev-manifold) targets Postgres,
// which doesn't satisfy spec.md's "one database file per user" requirement.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// defaultBusyTimeoutMS is SQLite's busy_timeout in milliseconds.
const defaultBusyTimeoutMS = 5000

// Store owns the single connection pool backing every repository. It is
// safe to rebind (see Rebind) while other goroutines hold a reference,
// since every repository reads db through a RWMutex-guarded accessor.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite file at path, applies the
// WAL pragma set, and runs embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// DB returns the current connection pool. Call sites must not cache the
// returned *sql.DB across a Rebind.
func (s *Store) DB() *sql.DB {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db
}

// Path returns the currently open database file path.
func (s *Store) Path() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.path
}

// Rebind closes the current connection pool and opens newPath instead,
// satisfying config.StoreRebinder for settings-driven DB path changes at
// runtime (spec.md §5).
func (s *Store) Rebind(ctx context.Context, newPath string) error {
	newDB, err := openDB(newPath)
	if err != nil {
		return err
	}
	if err := runMigrations(ctx, newDB); err != nil {
		_ = newDB.Close()
		return fmt.Errorf("run migrations on %s: %w", newPath, err)
	}

	s.mu.Lock()
	old := s.db
	s.db = newDB
	s.path = newPath
	s.mu.Unlock()

	if old != nil {
		if err := closeDB(old); err != nil {
			log.Warn().Err(err).Msg("store_rebind_old_close_error")
		}
	}
	log.Info().Str("path", newPath).Msg("store_rebound")
	return nil
}

// Close runs PRAGMA optimize then closes the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return closeDB(s.db)
}

func closeDB(db *sql.DB) error {
	_, _ = db.ExecContext(context.Background(), "PRAGMA optimize")
	return db.Close()
}

func openDB(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", normalizeSQLiteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single-connection pool serializes every read and write from the
	// agent repositories, which avoids SQLITE_BUSY storms between them.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeoutMS),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA mmap_size=67108864",
		"PRAGMA cache_size=-8000",
		"PRAGMA wal_autocheckpoint=1000",
	}
	for _, p := range pragmas {
		if err := RetryWithBackoff(context.Background(), func() error {
			_, err := db.ExecContext(context.Background(), p)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	return db, nil
}

func normalizeSQLiteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?cache=shared"
	}
	if strings.HasPrefix(path, "file:") {
		if strings.Contains(path, ":memory:") || strings.Contains(path, "_txlock=") {
			return path
		}
		if strings.Contains(path, "?") {
			return path + "&_txlock=immediate"
		}
		return path + "?_txlock=immediate"
	}
	return "file:" + path + "?mode=rwc&_txlock=immediate"
}
