// internal/httpserver/watch.go
//
// Websocket endpoint delivering session snapshots to viewers.
// One feed subscription per socket: the server subscribes first, then sends
// a catch-up snapshot, so a mutation landing between the two cannot be lost
// (the client merges by version and drops anything stale).

package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/wordroom/go-server/internal/game"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Cross-origin is already constrained by the access token requirement.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWatch upgrades to a websocket and pushes JSON snapshots until the
// client goes away. Delivery is latest-value: slow sockets receive coalesced
// state, never a backlog.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Reject unknown sessions before upgrading.
	if _, err := s.svc.Get(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Snapshot writes and pings share the socket; serialize them.
	var wmu sync.Mutex
	writeSnap := func(sn *game.Session) error {
		wmu.Lock()
		defer wmu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(sn)
	}

	sub := s.feed.Subscribe(id, func(sn *game.Session) {
		if err := writeSnap(sn); err != nil {
			conn.Close()
		}
	})
	defer sub.Unsubscribe()

	// Catch-up is fetched after subscribing, so a mutation landing between
	// the two cannot slip past this viewer; the client discards the catch-up
	// if a feed delivery already carried a newer version.
	snap, err := s.svc.Get(context.Background(), id)
	if err != nil {
		return
	}
	if err := writeSnap(snap); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				wmu.Lock()
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				err := conn.WriteMessage(websocket.PingMessage, nil)
				wmu.Unlock()
				if err != nil {
					conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	// Read loop exists only to notice the peer closing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
