// internal/game/types.go
//
// Core type definitions for a multiplayer Wordroom session.
// Defines:
//   - LetterResult: per-letter feedback for a guess (correct/present/absent).
//   - Status: session lifecycle state (waiting/playing/finished).
//   - Player: one participant and their guess history.
//   - Session: the full shared state of one game session.

package game

import "time"

// LetterResult is the evaluation of a single letter position in a guess.
// Possible values:
//   - "correct": letter is right and in the right position.
//   - "present": letter exists in the word but in a different position.
//   - "absent":  letter does not exist in the word at all.
type LetterResult string

const (
	LetterCorrect LetterResult = "correct"
	LetterPresent LetterResult = "present"
	LetterAbsent  LetterResult = "absent"
)

// Status is the lifecycle state of a session. Transitions are strictly
// waiting → playing → finished; no other edges are accepted.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

const (
	// WordLength is the fixed length of words and guesses.
	WordLength = 5
	// MaxPlayers is the room capacity; the join that would exceed it is rejected.
	MaxPlayers = 8
)

// Player is one participant embedded in a Session. Guesses and Results are
// append-only and index-aligned: Results[i] is the feedback for Guesses[i].
type Player struct {
	ID      string           `json:"id"`
	Name    string           `json:"name"`
	Guesses []string         `json:"guesses"`
	Results [][]LetterResult `json:"results"`
	Solved  bool             `json:"solved"`
}

// Session holds the state of one multiplayer game session. It is the only
// shared mutable resource in the system; the store owns it exclusively and
// hands out deep copies, so everything outside the store treats a *Session
// as immutable.
type Session struct {
	ID      string   `json:"id"`
	HostID  string   `json:"hostId"`
	Word    string   `json:"word"` // always WordLength uppercase letters
	Status  Status   `json:"status"`
	Players []Player `json:"players"` // join order, length ≤ MaxPlayers

	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	// Winner is a snapshot of the first player to solve the word, taken at the
	// moment their winning guess was recorded. Once set it is never replaced.
	Winner *Player `json:"winner,omitempty"`

	// Version increases by one on every applied mutation. It defines "newer"
	// for change-feed coalescing and client-side snapshot merging.
	Version uint64 `json:"version"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	out := *s
	out.Players = make([]Player, len(s.Players))
	for i := range s.Players {
		out.Players[i] = s.Players[i].clone()
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Winner != nil {
		w := s.Winner.clone()
		out.Winner = &w
	}
	return &out
}

// clone deep-copies a player, including guess and result history.
func (p Player) clone() Player {
	out := p
	out.Guesses = append([]string{}, p.Guesses...)
	out.Results = make([][]LetterResult, len(p.Results))
	for i, r := range p.Results {
		out.Results[i] = append([]LetterResult{}, r...)
	}
	return out
}

// player returns a pointer to the player with the given id, or nil.
func (s *Session) player(id string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}
