// internal/store/sqlite.go
//
// SQLite-backed implementation of the session Store.
// Journals the full session snapshot as JSON so in-flight sessions survive a
// process restart within their natural lifetime.
//
// Notes:
//   - A single authoritative process owns every session, so serialization is
//     an in-process per-session mutex; the database is the journal, not the
//     coordination point.
//   - OpenDB configures busy timeout and WAL journaling, and creates the
//     schema if missing.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wordroom/go-server/internal/game"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    version    INTEGER NOT NULL,
    snapshot   TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

// OpenDB opens (and creates if missing) a SQLite database file.
//
// - Ensures the parent directory exists for relative DSNs (e.g. ./data/app.db).
// - Configures busy timeout and WAL journaling mode.
func OpenDB(dsn string) (*sql.DB, error) {
	dir := filepath.Dir(dsn)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// sqlite is a SQLite-journaled Store implementation.
type sqlite struct {
	db    *sql.DB
	mu    sync.Mutex // guards locks map
	locks map[string]*sync.Mutex
}

// NewSQLiteStore constructs a Store on top of an opened database handle,
// creating the sessions table if it does not exist.
func NewSQLiteStore(db *sql.DB) (Store, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return &sqlite{db: db, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *sqlite) Create(ctx context.Context, sess *game.Session) error {
	lock := s.lock(sess.ID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	var exists int
	_ = s.db.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id=?`, sess.ID).Scan(&exists)
	if exists == 1 {
		return ErrAlreadyExists
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, version, snapshot, updated_at) VALUES (?,?,?,?)`,
		sess.ID, sess.Version, string(raw), time.Now().UTC().Format(time.RFC3339))
	return err
}

func (s *sqlite) Get(ctx context.Context, id string) (*game.Session, error) {
	lock := s.lock(id)
	lock.Lock()
	defer lock.Unlock()
	return s.load(ctx, id)
}

func (s *sqlite) Apply(ctx context.Context, id string, fn Mutation) (*game.Session, error) {
	lock := s.lock(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return sess, err
	}
	sess.Version++
	raw, err := json.Marshal(sess)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET version=?, snapshot=?, updated_at=? WHERE id=?`,
		sess.Version, string(raw), time.Now().UTC().Format(time.RFC3339), id); err != nil {
		return nil, err
	}
	return sess, nil
}

// load reads and decodes the stored snapshot. Caller holds the session lock.
func (s *sqlite) load(ctx context.Context, id string) (*game.Session, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM sessions WHERE id=?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var sess game.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// lock returns the mutex serializing mutations for one session ID.
func (s *sqlite) lock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[id] = l
	return l
}
