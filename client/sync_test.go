package client

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordroom/go-server/internal/feed"
	"github.com/wordroom/go-server/internal/game"
	"github.com/wordroom/go-server/internal/httpserver"
	"github.com/wordroom/go-server/internal/session"
	"github.com/wordroom/go-server/internal/store"
)

const testSecret = "test-secret"

// newBackend spins up a real server on a test listener and returns a client
// pointed at it plus the service for direct out-of-band mutations.
func newBackend(t *testing.T) (*Client, *session.Service) {
	t.Helper()
	f := feed.New()
	svc := session.NewService(store.NewMemoryStore(), f)
	srv := httpserver.New(svc, f, []byte(testSecret))
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	ss, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)

	c, err := New(Config{BaseURL: ts.URL, Token: ss})
	require.NoError(t, err)
	return c, svc
}

// changes returns an OnChange handler feeding a channel, plus the channel.
func changes() (OnChange, chan *game.Session) {
	ch := make(chan *game.Session, 32)
	return func(s *game.Session) { ch <- s }, ch
}

func waitVersion(t *testing.T, ch chan *game.Session, min uint64) *game.Session {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s := <-ch:
			if s.Version >= min {
				return s
			}
		case <-deadline:
			t.Fatalf("never observed version >= %d", min)
			return nil
		}
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Token: "tok"})
	assert.ErrorIs(t, err, ErrMissingBaseURL)
	_, err = New(Config{BaseURL: "http://localhost:5175"})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestCreateSession(t *testing.T) {
	t.Parallel()
	c, _ := newBackend(t)
	snap, err := c.CreateSession(context.Background(), "host-1", "crane")
	require.NoError(t, err)
	assert.Equal(t, "CRANE", snap.Word)
	assert.Equal(t, game.StatusWaiting, snap.Status)
}

func TestOpenSession_MirrorsFeedAndCatchup(t *testing.T) {
	t.Parallel()
	c, svc := newBackend(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "host-1", "crane")
	require.NoError(t, err)

	onChange, ch := changes()
	ss, err := c.OpenSession(ctx, created.ID, onChange)
	require.NoError(t, err)
	defer ss.Close()

	waitVersion(t, ch, created.Version)
	require.NotNil(t, ss.Current())
	assert.Equal(t, created.ID, ss.Current().ID)

	// A mutation performed elsewhere arrives through the feed.
	joined, _, err := svc.Join(ctx, created.ID, "Remote")
	require.NoError(t, err)
	snap := waitVersion(t, ch, joined.Version)
	require.Len(t, snap.Players, 1)
	assert.Equal(t, "Remote", snap.Players[0].Name)
}

func TestOpenSession_UnknownSession(t *testing.T) {
	t.Parallel()
	c, _ := newBackend(t)
	_, err := c.OpenSession(context.Background(), "nope", nil)
	require.Error(t, err)
}

func TestJoinStartGuessFinishFlow(t *testing.T) {
	t.Parallel()
	c, _ := newBackend(t)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, "host-1", "crane")
	require.NoError(t, err)

	onChange, ch := changes()
	ss, err := c.OpenSession(ctx, created.ID, onChange)
	require.NoError(t, err)
	defer ss.Close()

	require.NoError(t, ss.Join(ctx, "P1"))
	require.NotEmpty(t, ss.PlayerID())

	require.NoError(t, ss.Start(ctx))

	// The sync evaluates the guess against the mirrored word itself.
	require.NoError(t, ss.SubmitGuess(ctx, "crane"))

	snap := waitVersion(t, ch, created.Version+3)
	require.NotNil(t, snap.Winner)
	assert.Equal(t, ss.PlayerID(), snap.Winner.ID)
	assert.True(t, snap.Players[0].Solved)

	require.NoError(t, ss.Finish(ctx))
	final := waitVersion(t, ch, snap.Version+1)
	assert.Equal(t, game.StatusFinished, final.Status)
}

func TestSubmitGuess_RequiresJoin(t *testing.T) {
	t.Parallel()
	c, svc := newBackend(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "host-1", "crane")
	require.NoError(t, err)
	ss, err := c.OpenSession(ctx, created.ID, nil)
	require.NoError(t, err)
	defer ss.Close()

	assert.ErrorIs(t, ss.SubmitGuess(ctx, "crane"), ErrNotJoined)
}

func TestSubmitGuess_BeforeStartIsPreconditionFailure(t *testing.T) {
	t.Parallel()
	c, _ := newBackend(t)
	ctx := context.Background()

	created, err := c.CreateSession(ctx, "host-1", "crane")
	require.NoError(t, err)
	ss, err := c.OpenSession(ctx, created.ID, nil)
	require.NoError(t, err)
	defer ss.Close()

	require.NoError(t, ss.Join(ctx, "P1"))

	err = ss.SubmitGuess(ctx, "crane")
	require.Error(t, err)
	assert.True(t, IsPreconditionFailed(err), "expected a precondition failure, got %v", err)

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, game.ReasonNotPlaying, ae.Reason)
}

func TestJoin_FullRoomSurfacesReason(t *testing.T) {
	t.Parallel()
	c, svc := newBackend(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "host-1", "crane")
	require.NoError(t, err)
	for i := 0; i < game.MaxPlayers; i++ {
		_, _, err := svc.Join(ctx, created.ID, "player")
		require.NoError(t, err)
	}

	ss, err := c.OpenSession(ctx, created.ID, nil)
	require.NoError(t, err)
	defer ss.Close()

	err = ss.Join(ctx, "late")
	require.Error(t, err)
	assert.True(t, IsPreconditionFailed(err))
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, game.ReasonGameFull, ae.Reason)
}

// The catch-up fetch must never regress the mirror: an older snapshot
// arriving after a newer feed delivery is discarded.
func TestApply_DiscardsStaleSnapshots(t *testing.T) {
	t.Parallel()
	var delivered []*game.Session
	ss := &SessionSync{
		sessionID: "s1",
		closed:    make(chan struct{}),
		onChange:  func(s *game.Session) { delivered = append(delivered, s) },
	}

	ss.apply(&game.Session{ID: "s1", Version: 3})
	ss.apply(&game.Session{ID: "s1", Version: 2}) // stale catch-up result
	ss.apply(&game.Session{ID: "s1", Version: 3}) // duplicate delivery

	require.NotNil(t, ss.Current())
	assert.EqualValues(t, 3, ss.Current().Version)
	assert.Len(t, delivered, 1, "stale and duplicate snapshots must not trigger onChange")
}

func waitMirror(t *testing.T, ss *SessionSync, min uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cur := ss.Current(); cur != nil && cur.Version >= min {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("mirror never reached version %d", min)
}

func waitStale(t *testing.T, ss *SessionSync, want bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if ss.Stale() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stale flag never became %v", want)
}

// Dropping the feed connection flags the mirror stale; the sync redials with
// backoff and the post-resubscribe catch-up converges it on state mutated
// while it was disconnected.
func TestSync_ReconnectsAfterFeedDrop(t *testing.T) {
	t.Parallel()
	c, svc := newBackend(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "host-1", "crane")
	require.NoError(t, err)

	ss, err := c.OpenSession(ctx, created.ID, nil)
	require.NoError(t, err)
	defer ss.Close()
	waitMirror(t, ss, created.Version)

	// Sever the watch connection out from under the sync.
	ss.mu.Lock()
	conn := ss.conn
	ss.mu.Unlock()
	require.NoError(t, conn.Close())
	waitStale(t, ss, true)

	// Mutate while the subscription is down.
	joined, _, err := svc.Join(ctx, created.ID, "Remote")
	require.NoError(t, err)

	waitMirror(t, ss, joined.Version)
	waitStale(t, ss, false)
	require.Len(t, ss.Current().Players, 1)
	assert.Equal(t, "Remote", ss.Current().Players[0].Name)
}

// The stale flag clears only when a snapshot actually lands again, via a
// feed delivery or a catch-up fetch. An action response merged while the
// feed is down does not count.
func TestMerge_StaleClearsOnlyOnFreshSnapshot(t *testing.T) {
	t.Parallel()
	ss := &SessionSync{sessionID: "s1", closed: make(chan struct{})}
	ss.setStale(true)

	ss.merge(&game.Session{ID: "s1", Version: 2}, false)
	assert.True(t, ss.Stale(), "action response must not clear the stale flag")

	ss.merge(&game.Session{ID: "s1", Version: 3}, true)
	assert.False(t, ss.Stale())

	// Even a discarded old delivery proves the subscription is live again.
	ss.setStale(true)
	ss.merge(&game.Session{ID: "s1", Version: 1}, true)
	assert.False(t, ss.Stale())
	assert.EqualValues(t, 3, ss.Current().Version, "old snapshot must still be discarded")
}

// Concurrent merges (the read loop racing action responses) must reach
// onChange in strictly increasing version order, skipping versions at most.
func TestMerge_DeliveryOrderUnderConcurrency(t *testing.T) {
	t.Parallel()
	for i := 0; i < 100; i++ {
		var seen []uint64
		ss := &SessionSync{
			sessionID: "s1",
			closed:    make(chan struct{}),
			onChange:  func(s *game.Session) { seen = append(seen, s.Version) },
		}

		var wg sync.WaitGroup
		for v := uint64(1); v <= 4; v++ {
			wg.Add(1)
			go func(v uint64) {
				defer wg.Done()
				ss.merge(&game.Session{ID: "s1", Version: v}, v%2 == 0)
			}(v)
		}
		wg.Wait()

		require.NotEmpty(t, seen)
		for j := 1; j < len(seen); j++ {
			require.Greater(t, seen[j], seen[j-1], "deliveries must not invert")
		}
		require.EqualValues(t, 4, seen[len(seen)-1], "newest snapshot must always be delivered")
	}
}

func TestShare(t *testing.T) {
	t.Parallel()
	c, svc := newBackend(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "host-1", "crane")
	require.NoError(t, err)
	ss, err := c.OpenSession(ctx, created.ID, nil)
	require.NoError(t, err)
	defer ss.Close()

	assert.Contains(t, ss.Share(), "/session/"+created.ID)
}

func TestClose_Twice(t *testing.T) {
	t.Parallel()
	c, svc := newBackend(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, "host-1", "crane")
	require.NoError(t, err)
	ss, err := c.OpenSession(ctx, created.ID, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		ss.Close()
		ss.Close()
	})
}
