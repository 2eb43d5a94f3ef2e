// internal/feed/feed.go
//
// Per-session broadcast of current-state snapshots.
// Responsibilities:
//   - Fan a session's latest snapshot out to every subscriber whenever a
//     mutation is applied.
//   - Latest-value semantics: a slow subscriber is only guaranteed to
//     eventually observe the most recent snapshot; intermediate states are
//     coalesced under load.
//   - Stale publishes (lower version than already seen) are dropped, so
//     publish order does not have to match the store's serialization order.
//
// Each subscription runs its handler on a dedicated goroutine, one snapshot
// at a time; a blocked handler only delays its own subscription.

package feed

import (
	"sync"

	"github.com/wordroom/go-server/internal/game"
)

// Handler receives a full session snapshot, never a diff. Snapshots are
// deep copies; handlers may retain them.
type Handler func(*game.Session)

// Feed is the broadcast hub. The zero value is not usable; use New.
type Feed struct {
	mu sync.Mutex
	// latest holds the highest version published per session. It outlives
	// the session's subscribers, so a late out-of-order publish after the
	// last unsubscribe still gets dropped.
	latest map[string]uint64
	topics map[string]*topic
}

// topic is the subscriber set for one session.
type topic struct {
	subs map[*Subscription]struct{}
}

// Subscription is the handle returned by Subscribe. Unsubscribe is safe to
// call more than once.
type Subscription struct {
	feed      *Feed
	sessionID string
	ch        chan *game.Session // cap 1; newest snapshot replaces a pending one
	done      chan struct{}
	once      sync.Once
}

// New constructs an empty Feed.
func New() *Feed {
	return &Feed{latest: make(map[string]uint64), topics: make(map[string]*topic)}
}

// Subscribe registers a handler for a session's snapshots and starts its
// delivery goroutine. The caller owns the returned handle.
func (f *Feed) Subscribe(sessionID string, h Handler) *Subscription {
	sub := &Subscription{
		feed:      f,
		sessionID: sessionID,
		ch:        make(chan *game.Session, 1),
		done:      make(chan struct{}),
	}

	f.mu.Lock()
	t, ok := f.topics[sessionID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		f.topics[sessionID] = t
	}
	t.subs[sub] = struct{}{}
	f.mu.Unlock()

	go func() {
		for {
			select {
			case snap := <-sub.ch:
				h(snap)
			case <-sub.done:
				return
			}
		}
	}()
	return sub
}

// Publish delivers a snapshot to every subscriber of its session. Snapshots
// at or below the highest version already published are dropped.
func (f *Feed) Publish(snap *game.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if snap.Version <= f.latest[snap.ID] {
		return
	}
	f.latest[snap.ID] = snap.Version

	t, ok := f.topics[snap.ID]
	if !ok {
		return
	}
	for sub := range t.subs {
		select {
		case sub.ch <- snap:
		default:
			// Coalesce: replace the pending snapshot with the newer one.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- snap:
			default:
			}
		}
	}
}

// Unsubscribe removes the subscription and stops its delivery goroutine.
// Effective no later than the next delivery attempt; calling it twice is a
// no-op.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		close(s.done)
		s.feed.mu.Lock()
		if t, ok := s.feed.topics[s.sessionID]; ok {
			delete(t.subs, s)
			if len(t.subs) == 0 {
				delete(s.feed.topics, s.sessionID)
			}
		}
		s.feed.mu.Unlock()
	})
}
