package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// currentSchemaVersion tracks incremental migrations applied via
// PRAGMA user_version, the same convention the SQLite object store this
// package's layout is modeled on uses.
const currentSchemaVersion = 1

// Store is the content-addressed, Git-like object store backing every
// branch. One Store may be shared by any number of Branch handles.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	waiters map[string][]chan struct{}
}

// Open creates or opens a SQLite database at path, applying required
// pragmas and schema migrations. Idempotent — safe to call repeatedly
// against the same path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect to database: %w", err)
	}

	// SQLite supports only one writer at a time; a single connection
	// avoids SQLITE_BUSY churn under the engine's termLock-serialized
	// writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	return &Store{db: db, waiters: make(map[string][]chan struct{})}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying *sql.DB for read-only diagnostic queries.
// Prefer Branch/Tree/Transaction methods for anything else.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Branch returns a handle to the named branch. The branch need not exist
// yet; its first transaction will create it.
func (s *Store) Branch(name string) *Branch {
	return &Branch{store: s, name: name}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("exec %q: %w", p, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// notifyBranchLocked wakes every goroutine currently blocked in WaitForHead on
// this branch name. Must be called with s.mu held.
func (s *Store) notifyBranchLocked(name string) {
	for _, ch := range s.waiters[name] {
		close(ch)
	}
	delete(s.waiters, name)
}

// subscribe registers a channel that closes the next time the named
// branch's head changes.
func (s *Store) subscribe(name string) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	s.waiters[name] = append(s.waiters[name], ch)
	return ch
}
