// internal/game/engine.go
//
// State machine for a multiplayer session.
// Responsibilities:
//   - Create new sessions with a validated, uppercased secret word.
//   - Apply the five mutations (join, start, record-guess, finish) with their
//     preconditions checked in the same step as the write.
//   - Score guesses using the classic two-pass Wordle algorithm.
//
// Notes:
//   - Mutation methods validate everything before touching state, so a
//     returned error always means the session is unchanged.
//   - Precondition failures are typed (*PreconditionError) so callers can
//     tell "game full" from "already started" from "not found".
//   - The store serializes calls to these methods per session; nothing here
//     is safe for unsynchronized concurrent use on the same Session.
package game

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Argument errors. These map to bad-request responses.
var (
	ErrInvalidWord   = errors.New("word must be exactly 5 letters")
	ErrInvalidGuess  = errors.New("guess must be exactly 5 letters")
	ErrInvalidResult = errors.New("result must have one entry per letter")
	ErrInvalidName   = errors.New("player name must not be empty")
	ErrUnknownPlayer = errors.New("player not found in session")
)

// Rejection reasons carried by PreconditionError.
const (
	ReasonNotWaiting = "not_waiting" // join on a started or finished session
	ReasonGameFull   = "game_full"   // join would exceed MaxPlayers
	ReasonNotPlaying = "not_playing" // guess or finish outside the playing state
)

// PreconditionError reports a mutation whose guard condition was false.
// The session is left unchanged.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Reason)
}

// New constructs a waiting session with a validated word and no players.
// The word is normalized to uppercase.
func New(hostID, word string) (*Session, error) {
	w, err := NormalizeWord(word)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:      randomID(),
		HostID:  hostID,
		Word:    w,
		Status:  StatusWaiting,
		Players: []Player{},
		Version: 1,
	}, nil
}

// Join appends a player to the room.
// Preconditions: status is waiting and the room has a free slot.
func (s *Session) Join(p Player) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidName
	}
	if s.Status != StatusWaiting {
		return &PreconditionError{Reason: ReasonNotWaiting}
	}
	if len(s.Players) >= MaxPlayers {
		return &PreconditionError{Reason: ReasonGameFull}
	}
	p.Guesses = []string{}
	p.Results = [][]LetterResult{}
	p.Solved = false
	s.Players = append(s.Players, p)
	return nil
}

// Start moves the session from waiting to playing and records the start time.
// Starting twice, or starting a finished session, is rejected.
func (s *Session) Start(at time.Time) error {
	if s.Status != StatusWaiting {
		return &PreconditionError{Reason: ReasonNotWaiting}
	}
	s.Status = StatusPlaying
	t := at.UTC()
	s.StartedAt = &t
	return nil
}

// Finish moves the session from playing to finished and records the end time.
func (s *Session) Finish(at time.Time) error {
	if s.Status != StatusPlaying {
		return &PreconditionError{Reason: ReasonNotPlaying}
	}
	s.Status = StatusFinished
	t := at.UTC()
	s.EndedAt = &t
	return nil
}

// RecordGuess appends a guess and its result vector to the identified player,
// keeping the two histories index-aligned, and marks the player solved when
// every letter is correct. The first solver becomes the winner; because the
// store serializes mutations, two simultaneous correct guesses are totally
// ordered and exactly one of them takes the winner slot.
func (s *Session) RecordGuess(playerID, guess string, result []LetterResult) error {
	g, err := NormalizeWord(guess)
	if err != nil {
		return ErrInvalidGuess
	}
	if len(result) != WordLength {
		return ErrInvalidResult
	}
	if s.Status != StatusPlaying {
		return &PreconditionError{Reason: ReasonNotPlaying}
	}
	p := s.player(playerID)
	if p == nil {
		return ErrUnknownPlayer
	}

	p.Guesses = append(p.Guesses, g)
	p.Results = append(p.Results, append([]LetterResult{}, result...))

	if AllCorrect(result) {
		p.Solved = true
		if s.Winner == nil {
			w := p.clone()
			s.Winner = &w
		}
	}
	return nil
}

// NormalizeWord uppercases a word/guess and validates that it is exactly
// WordLength ASCII letters.
func NormalizeWord(w string) (string, error) {
	w = strings.ToUpper(strings.TrimSpace(w))
	if len(w) != WordLength || !isAlpha(w) {
		return "", ErrInvalidWord
	}
	return w, nil
}

// Score implements the standard Wordle two-pass scoring algorithm.
//
// Pass 1:
//   - Mark exact matches as correct.
//   - Count remaining (non-correct) answer letters.
//
// Pass 2:
//   - For each non-correct guess letter: if there is remaining count for that
//     letter, mark present and decrement; otherwise mark absent.
//
// This keeps repeated letters honest in both answer and guess. Both inputs
// are expected to be normalized uppercase words of equal length.
func Score(answer, guess string) []LetterResult {
	n := len(guess)
	res := make([]LetterResult, n)

	// Letter frequency for the non-correct positions (A–Z).
	var counts [26]int

	for i := 0; i < n; i++ {
		if guess[i] == answer[i] {
			res[i] = LetterCorrect
		} else {
			counts[idx(answer[i])]++
		}
	}

	for i := 0; i < n; i++ {
		if res[i] == LetterCorrect {
			continue
		}
		j := idx(guess[i])
		if j >= 0 && j < 26 && counts[j] > 0 {
			res[i] = LetterPresent
			counts[j]--
		} else {
			res[i] = LetterAbsent
		}
	}
	return res
}

// AllCorrect reports whether every position in the result vector is correct.
func AllCorrect(result []LetterResult) bool {
	if len(result) == 0 {
		return false
	}
	for _, r := range result {
		if r != LetterCorrect {
			return false
		}
	}
	return true
}

// idx maps an uppercase ASCII letter byte to 0..25.
func idx(b byte) int { return int(b - 'A') }

// isAlpha checks that a string consists only of uppercase A–Z.
func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// randomID returns a compact 16-hex-char identifier.
// Collisions are extremely unlikely given crypto/rand entropy.
func randomID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// NewPlayerID returns a fresh identifier for a joining player.
func NewPlayerID() string { return randomID() }
