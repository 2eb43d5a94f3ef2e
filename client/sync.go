// client/sync.go
//
// SessionSync: the per-viewer mirror of one session.
//
// Initialization order matters. The sync subscribes to the change feed
// first, then issues the catch-up fetch, and merges both sources by snapshot
// version: whichever carries the higher version wins. A catch-up result that
// resolves after a newer feed delivery is simply discarded, so the mirror
// can never regress to a stale snapshot.
//
// On feed disconnect the mirror is flagged stale and the sync redials with
// backoff. The flag holds until a fresh snapshot actually lands again,
// through the post-resubscribe catch-up fetch or a feed delivery. Actions
// forward to the backend and let the feed deliver the resulting state;
// there is no local optimistic mutation.

package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wordroom/go-server/internal/game"
)

// Action errors.
var (
	ErrNoSnapshot = errors.New("session sync: no snapshot received yet")
	ErrNotJoined  = errors.New("session sync: join the session before guessing")
)

const (
	reconnectBase = 500 * time.Millisecond
	reconnectMax  = 10 * time.Second
)

// OnChange receives accepted snapshots in strictly increasing version
// order; concurrent arrivals may skip an intermediate version, never invert
// two. Calls are serialized and may run on the sync's read goroutine or on
// the goroutine of an action whose response was applied; implementations
// should return quickly.
type OnChange func(*game.Session)

// SessionSync mirrors one session and exposes the action surface consumed by
// the presentation layer.
type SessionSync struct {
	client    *Client
	sessionID string
	onChange  OnChange

	mu       sync.RWMutex
	current  *game.Session
	playerID string
	stale    bool
	conn     *websocket.Conn

	deliverMu sync.Mutex
	delivered uint64 // highest version handed to onChange

	closed    chan struct{}
	closeOnce sync.Once
}

// OpenSession subscribes to a session's feed, performs the catch-up fetch,
// and returns a live sync. onChange may be nil.
func (c *Client) OpenSession(ctx context.Context, sessionID string, onChange OnChange) (*SessionSync, error) {
	ss := &SessionSync{
		client:    c,
		sessionID: sessionID,
		onChange:  onChange,
		closed:    make(chan struct{}),
	}

	// Subscribe first so nothing mutated after this point can be missed.
	conn, err := c.dialWatch(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ss.setConn(conn)
	go ss.run(conn)

	// Catch-up fetch second; apply discards it if the feed already delivered
	// something newer.
	snap, err := c.GetSession(ctx, sessionID)
	if err != nil {
		ss.Close()
		return nil, err
	}
	ss.apply(snap)
	return ss, nil
}

// Current returns the mirror's snapshot, or nil before the first delivery.
func (ss *SessionSync) Current() *game.Session {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.current
}

// Stale reports whether the feed is currently disconnected; while true the
// mirror may be behind the authoritative state.
func (ss *SessionSync) Stale() bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.stale
}

// PlayerID returns the id assigned by Join, or "" before joining.
func (ss *SessionSync) PlayerID() string {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.playerID
}

// Close tears the sync down. Safe to call more than once.
func (ss *SessionSync) Close() {
	ss.closeOnce.Do(func() {
		close(ss.closed)
		ss.mu.Lock()
		if ss.conn != nil {
			_ = ss.conn.Close()
		}
		ss.mu.Unlock()
	})
}

// -------------------------------- actions ----------------------------------

// Join adds this viewer as a player and remembers the assigned id.
func (ss *SessionSync) Join(ctx context.Context, name string) error {
	var env sessionEnvelope
	err := ss.client.postJSON(ctx, "/session/"+ss.sessionID+"/join", joinReq{Name: name}, &env)
	if err != nil {
		return err
	}
	ss.mu.Lock()
	ss.playerID = env.PlayerID
	ss.mu.Unlock()
	ss.apply(env.Session)
	return nil
}

// Start begins play.
func (ss *SessionSync) Start(ctx context.Context) error {
	var env sessionEnvelope
	if err := ss.client.postJSON(ctx, "/session/"+ss.sessionID+"/start", struct{}{}, &env); err != nil {
		return err
	}
	ss.apply(env.Session)
	return nil
}

// SubmitGuess evaluates guessText against the mirrored word with the
// two-pass scoring algorithm and submits guess plus result vector. The
// backend stores the vector; evaluation is this caller's job.
func (ss *SessionSync) SubmitGuess(ctx context.Context, guessText string) error {
	cur := ss.Current()
	if cur == nil {
		return ErrNoSnapshot
	}
	playerID := ss.PlayerID()
	if playerID == "" {
		return ErrNotJoined
	}
	guess, err := game.NormalizeWord(guessText)
	if err != nil {
		return game.ErrInvalidGuess
	}
	results := game.Score(cur.Word, guess)

	var env sessionEnvelope
	err = ss.client.postJSON(ctx, "/session/"+ss.sessionID+"/guess",
		guessReq{PlayerID: playerID, Guess: guess, Results: results}, &env)
	if err != nil {
		return err
	}
	ss.apply(env.Session)
	return nil
}

// Finish ends the session.
func (ss *SessionSync) Finish(ctx context.Context) error {
	var env sessionEnvelope
	if err := ss.client.postJSON(ctx, "/session/"+ss.sessionID+"/finish", struct{}{}, &env); err != nil {
		return err
	}
	ss.apply(env.Session)
	return nil
}

// Share returns the join link for this session, for the presentation layer
// to put wherever it likes.
func (ss *SessionSync) Share() string {
	u := *ss.client.baseURL
	u.Path = "/session/" + ss.sessionID
	return u.String()
}

// ------------------------------ feed mirror --------------------------------

// apply folds an action-response snapshot into the mirror.
func (ss *SessionSync) apply(snap *game.Session) {
	ss.merge(snap, false)
}

// merge folds a snapshot into the mirror; older or equal versions lose.
// fresh marks snapshots that prove the backend is reachable again (feed
// deliveries and successful catch-up fetches) and clears the stale flag,
// even when the snapshot itself is discarded as old.
func (ss *SessionSync) merge(snap *game.Session, fresh bool) {
	if snap == nil {
		return
	}
	ss.mu.Lock()
	if fresh {
		ss.stale = false
	}
	if ss.current != nil && snap.Version <= ss.current.Version {
		ss.mu.Unlock()
		return
	}
	ss.current = snap
	onChange := ss.onChange
	ss.mu.Unlock()

	if onChange == nil {
		return
	}
	// Deliveries are serialized; the version check keeps a pair of
	// concurrently accepted snapshots from reaching onChange inverted.
	ss.deliverMu.Lock()
	defer ss.deliverMu.Unlock()
	if snap.Version <= ss.delivered {
		return
	}
	ss.delivered = snap.Version
	onChange(snap)
}

func (ss *SessionSync) setConn(conn *websocket.Conn) {
	ss.mu.Lock()
	ss.conn = conn
	ss.mu.Unlock()
}

func (ss *SessionSync) setStale(v bool) {
	ss.mu.Lock()
	ss.stale = v
	ss.mu.Unlock()
}

// run reads feed deliveries and handles reconnection until Close.
func (ss *SessionSync) run(conn *websocket.Conn) {
	for {
		ss.readAll(conn)
		_ = conn.Close()

		select {
		case <-ss.closed:
			return
		default:
		}

		// Until the subscription is back, the mirror is suspect.
		ss.setStale(true)

		next, ok := ss.reconnect()
		if !ok {
			return
		}
		conn = next
		ss.setConn(conn)

		// Fresh catch-up after resubscribing covers anything mutated while
		// the feed was down. If the fetch fails the mirror stays flagged
		// stale until the new subscription delivers.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if snap, err := ss.client.GetSession(ctx, ss.sessionID); err == nil {
			ss.merge(snap, true)
		}
		cancel()
	}
}

// readAll consumes snapshots until the connection errors.
func (ss *SessionSync) readAll(conn *websocket.Conn) {
	for {
		var snap game.Session
		if err := conn.ReadJSON(&snap); err != nil {
			return
		}
		ss.merge(&snap, true)
	}
}

// reconnect redials the watch endpoint with exponential backoff. Returns
// false when the sync was closed while waiting.
func (ss *SessionSync) reconnect() (*websocket.Conn, bool) {
	backoff := reconnectBase
	for {
		select {
		case <-ss.closed:
			return nil, false
		case <-time.After(backoff):
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := ss.client.dialWatch(ctx, ss.sessionID)
		cancel()
		if err == nil {
			return conn, true
		}
		backoff *= 2
		if backoff > reconnectMax {
			backoff = reconnectMax
		}
	}
}
