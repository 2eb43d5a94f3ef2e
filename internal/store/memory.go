// internal/store/memory.go
//
// In-memory implementation of the session Store.
// This is the default store for ephemeral game sessions: state lives for the
// session's natural lifetime and is lost when the process restarts.
//
// Characteristics:
//   - Stores *game.Session objects keyed by ID in a map.
//   - A per-session mutex serializes Apply calls, so the precondition check
//     and the write inside a mutation are one indivisible step.
//   - Sessions on different IDs never contend with each other.
//   - Get and Apply hand out deep copies; callers never see live state.

package store

import (
	"context"
	"errors"
	"sync"

	"github.com/wordroom/go-server/internal/game"
)

// Sentinel errors shared by all Store implementations.
var (
	// ErrNotFound indicates the referenced session does not exist.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyExists indicates a Create collided with an existing ID.
	ErrAlreadyExists = errors.New("session already exists")
)

// Mutation is applied to the live session under the store's per-session lock.
// Returning nil means the mutation was applied and the version is bumped.
// Returning an error means the mutation declined; it must leave the session
// untouched (validate first, write last).
type Mutation func(*game.Session) error

// Store defines the persistence interface for game sessions.
// Implementations may be backed by memory (this package), SQLite, etc.
type Store interface {
	// Create registers a new session under its ID.
	Create(ctx context.Context, s *game.Session) error

	// Get retrieves a snapshot of a session by ID.
	// Returns ErrNotFound if the session does not exist.
	Get(ctx context.Context, id string) (*game.Session, error)

	// Apply executes fn against the current state as a single indivisible
	// step. On success the session version is bumped and the new snapshot is
	// returned. If fn returns an error the state is left unchanged and the
	// pre-mutation snapshot is returned alongside the error.
	Apply(ctx context.Context, id string, fn Mutation) (*game.Session, error)
}

// entry pairs a session with the mutex that serializes its mutations.
type entry struct {
	mu sync.Mutex
	s  *game.Session
}

// memory is an in-memory map-based Store implementation.
type memory struct {
	mu       sync.RWMutex // guards sessions map
	sessions map[string]*entry
}

// NewMemoryStore constructs a new in-memory Store.
func NewMemoryStore() Store {
	return &memory{sessions: make(map[string]*entry)}
}

// Create registers the session, keeping a private deep copy.
func (m *memory) Create(ctx context.Context, s *game.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrAlreadyExists
	}
	m.sessions[s.ID] = &entry{s: s.Clone()}
	return nil
}

// Get returns a deep copy of the stored session.
func (m *memory) Get(ctx context.Context, id string) (*game.Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.s.Clone(), nil
}

// Apply runs fn under the session's lock. Two Apply calls for the same
// session never interleave their reads and writes.
func (m *memory) Apply(ctx context.Context, id string, fn Mutation) (*game.Session, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := fn(e.s); err != nil {
		return e.s.Clone(), err
	}
	e.s.Version++
	return e.s.Clone(), nil
}

// entry looks up the live entry for a session ID.
func (m *memory) entry(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.sessions[id]; ok {
		return e, nil
	}
	return nil, ErrNotFound
}
