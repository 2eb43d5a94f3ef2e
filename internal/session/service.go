// internal/session/service.go
//
// The mutation service: the only way session state changes.
// Each operation is one call to Store.Apply, so its precondition check and
// its write are a single atomic step; on success the new snapshot is pushed
// to the change feed. Rejected mutations publish nothing.

package session

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wordroom/go-server/internal/feed"
	"github.com/wordroom/go-server/internal/game"
	"github.com/wordroom/go-server/internal/store"
	"github.com/wordroom/go-server/internal/words"
)

// Service coordinates session mutations between the store and the feed.
type Service struct {
	store store.Store
	feed  *feed.Feed
}

// NewService wires a Service to its store and change feed.
func NewService(st store.Store, f *feed.Feed) *Service {
	return &Service{store: st, feed: f}
}

// Create registers a new waiting session for the host. An empty word picks a
// random answer from the word list.
func (s *Service) Create(ctx context.Context, hostID, word string) (*game.Session, error) {
	if word == "" {
		word = words.RandomAnswer()
	}
	sess, err := game.New(hostID, word)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, sess); err != nil {
		return nil, err
	}
	log.Info().Str("sessionId", sess.ID).Str("hostId", hostID).Msg("session created")
	s.feed.Publish(sess.Clone())
	return sess, nil
}

// Get returns the current snapshot of a session.
func (s *Service) Get(ctx context.Context, id string) (*game.Session, error) {
	return s.store.Get(ctx, id)
}

// Join adds a named player to a waiting session and returns the new snapshot
// together with the assigned player ID.
func (s *Service) Join(ctx context.Context, id, name string) (*game.Session, string, error) {
	p := game.Player{ID: game.NewPlayerID(), Name: name}
	snap, err := s.apply(ctx, id, func(sess *game.Session) error {
		return sess.Join(p)
	})
	if err != nil {
		return snap, "", err
	}
	return snap, p.ID, nil
}

// Start moves a waiting session into play.
func (s *Service) Start(ctx context.Context, id string, startedAt time.Time) (*game.Session, error) {
	return s.apply(ctx, id, func(sess *game.Session) error {
		return sess.Start(startedAt)
	})
}

// Finish ends a playing session.
func (s *Service) Finish(ctx context.Context, id string, endedAt time.Time) (*game.Session, error) {
	return s.apply(ctx, id, func(sess *game.Session) error {
		return sess.Finish(endedAt)
	})
}

// Guess records a guess and its result vector for a player. The result
// vector is computed by the caller; the service stores and interprets it.
func (s *Service) Guess(ctx context.Context, id, playerID, guess string, result []game.LetterResult) (*game.Session, error) {
	return s.apply(ctx, id, func(sess *game.Session) error {
		return sess.RecordGuess(playerID, guess, result)
	})
}

// apply runs one mutation and publishes the snapshot if it was applied.
// Publish order may trail the store's serialization order under concurrency;
// the feed drops anything older than what it has already seen.
func (s *Service) apply(ctx context.Context, id string, fn store.Mutation) (*game.Session, error) {
	snap, err := s.store.Apply(ctx, id, fn)
	if err != nil {
		return snap, err
	}
	s.feed.Publish(snap)
	return snap, nil
}
