// Package localstore provides the on-device SQLite store consumed by
// the sync engine.
//
// The store runs in embedded mode with WAL enabled so reads stay
// concurrent with writes. Every entity has two write paths:
//
//   - SaveX is the application path. It refreshes UpdatedAt on every
//     call and never touches LastSyncedAt, which keeps dirty detection
//     honest.
//   - ApplyX is the sync path. It writes all fields verbatim, including
//     LastSyncedAt, and is used when the engine lands remote-origin
//     documents locally.
//
// All mutations signal the per-collection change stream returned by
// Watch. The stream coalesces: a burst of writes may surface as a
// single notification, which is exactly what the push engine's
// debounce wants.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/openfield/crmsync/internal/model"
)

// Store wraps the SQLite connection with CRM-specific operations.
type Store struct {
	conn *sql.DB
	path string

	watchMu  sync.Mutex
	watchers map[model.Collection][]chan struct{}
}

// Open creates a store at the given path, creating parent directories
// as needed. The caller must Close() it.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn:     conn,
		path:     path,
		watchers: make(map[model.Collection][]chan struct{}),
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// Close closes the connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates all tables and indexes. Idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS contacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		stage_id INTEGER NOT NULL DEFAULT 0,
		segment_id INTEGER NOT NULL DEFAULT 0,
		source_id INTEGER NOT NULL DEFAULT 0,
		labels TEXT NOT NULL DEFAULT '[]',  -- JSON array
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contact_id INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		due_at TEXT NOT NULL DEFAULT '',
		priority_id INTEGER NOT NULL DEFAULT 0,
		done INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		last_synced_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		contact_id INTEGER NOT NULL DEFAULT 0,
		kind TEXT NOT NULL DEFAULT 'note',
		summary TEXT NOT NULL DEFAULT '',
		meta TEXT NOT NULL DEFAULT '{}',  -- JSON object
		occurred_at TEXT NOT NULL DEFAULT '',
		updated_at TEXT NOT NULL,
		last_synced_at TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS taxonomies (
		type TEXT NOT NULL,
		local_id INTEGER NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (type, local_id)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	-- Engine-owned key-value slot (sync watermark).
	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_contacts_updated ON contacts(updated_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(updated_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_contact ON tasks(contact_id);
	CREATE INDEX IF NOT EXISTS idx_activities_updated ON activities(updated_at);
	CREATE INDEX IF NOT EXISTS idx_activities_contact ON activities(contact_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Watch subscribes to the change stream of one collection. The channel
// carries one signal immediately, standing for the current snapshot,
// then a coalesced signal after every local mutation. Cancel removes
// the subscription.
func (s *Store) Watch(col model.Collection) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	ch <- struct{}{}

	s.watchMu.Lock()
	s.watchers[col] = append(s.watchers[col], ch)
	s.watchMu.Unlock()

	cancel := func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		subs := s.watchers[col]
		for i, sub := range subs {
			if sub == ch {
				s.watchers[col] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, cancel
}

// notify signals every watcher of the collection. Sends never block:
// a full buffer means a notification is already pending.
func (s *Store) notify(col model.Collection) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	for _, ch := range s.watchers[col] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
