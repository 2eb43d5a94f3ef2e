// internal/httpserver/server.go
//
// HTTP wiring for the Wordroom backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health".
//   - Session endpoints (require access token):
//       POST /session/new, GET /session/{id}, POST /session/{id}/join,
//       POST /session/{id}/start, POST /session/{id}/guess,
//       POST /session/{id}/finish, GET /session/{id}/watch (websocket).
//   - Error taxonomy mapping: not found → 404, invalid argument → 400,
//     precondition failed → 409 with a machine-readable reason.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled.
//   - The access token is a connection credential (HS256 JWT signed with the
//     shared secret), not a player identity; there are no accounts.
//   - Mutation routes are rate limited per remote address.

package httpserver

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/wordroom/go-server/internal/feed"
	"github.com/wordroom/go-server/internal/game"
	"github.com/wordroom/go-server/internal/session"
	"github.com/wordroom/go-server/internal/store"
	"github.com/wordroom/go-server/internal/words"
)

// Server bundles the router, the mutation service, and the change feed.
type Server struct {
	r      *chi.Mux
	svc    *session.Service
	feed   *feed.Feed
	secret []byte
	limits *visitorLimits
}

// New constructs a Server, installs middleware, and registers routes.
// The token secret is passed in explicitly; there is no ambient state.
func New(svc *session.Service, f *feed.Feed, secret []byte) *Server {
	s := &Server{r: chi.NewRouter(), svc: svc, feed: f, secret: secret, limits: newVisitorLimits()}

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(corsFromEnv)     // credentials-friendly CORS

	// --- diagnostics ---
	s.r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"service":"wordroom-go","endpoints":["/health","POST /session/new","GET /session/{id}","GET /session/{id}/watch"]}`))
	})
	s.r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	s.r.Get("/debug/words", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"answers": words.Stats()})
	})

	// Session API. The watch route upgrades to a websocket and lives outside
	// the timeout middleware so long-lived connections are not cut off.
	s.r.Route("/session", func(r chi.Router) {
		r.Use(s.requireToken())
		r.Get("/{id}/watch", s.handleWatch)

		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(10 * time.Second)) // bound handler time
			r.Use(jsonContentType)                 // default JSON responses
			r.Get("/{id}", s.handleGet)

			r.Group(func(r chi.Router) {
				r.Use(s.rateLimit())
				r.Post("/new", s.handleCreate)
				r.Post("/{id}/join", s.handleJoin)
				r.Post("/{id}/start", s.handleStart)
				r.Post("/{id}/guess", s.handleGuess)
				r.Post("/{id}/finish", s.handleFinish)
			})
		})
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not_found","path":"`+r.URL.Path+`"}`, http.StatusNotFound)
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// corsFromEnv enables credentialed CORS for a single origin.
// Uses CLIENT_ORIGIN env var; defaults to http://localhost:5173.
func corsFromEnv(next http.Handler) http.Handler {
	origin := os.Getenv("CLIENT_ORIGIN")
	if origin == "" {
		origin = "http://localhost:5173"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken enforces a valid signed access token on every session route.
// The token carries no player identity; it only proves the caller was handed
// the connection credential.
func (s *Server) requireToken() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r)
			if tokenStr == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return s.secret, nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid_token"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts a bearer token from the Authorization header or the
// access_token query parameter (websocket clients cannot always set headers).
func bearerToken(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	return r.URL.Query().Get("access_token")
}

// ----------------------------- session API ---------------------------------

// Request/response payloads.
type createReq struct {
	HostID string `json:"hostId"`
	Word   string `json:"word"` // optional; empty picks a random answer
}
type createRes struct {
	SessionID string        `json:"sessionId"`
	Session   *game.Session `json:"session"`
}
type joinReq struct {
	Name string `json:"name"`
}
type joinRes struct {
	PlayerID string        `json:"playerId"`
	Session  *game.Session `json:"session"`
}
type guessReq struct {
	PlayerID string              `json:"playerId"`
	Guess    string              `json:"guess"`
	Results  []game.LetterResult `json:"results"`
}
type sessionRes struct {
	Session *game.Session `json:"session"`
}

// handleCreate registers a new waiting session.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.HostID) == "" {
		http.Error(w, `{"error":"invalid_argument","message":"hostId is required"}`, http.StatusBadRequest)
		return
	}
	snap, err := s.svc.Create(r.Context(), req.HostID, req.Word)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(createRes{SessionID: snap.ID, Session: snap})
}

// handleGet returns the current snapshot (the client's catch-up fetch).
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sessionRes{Session: snap})
}

// handleJoin adds a player to the waiting room.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	snap, playerID, err := s.svc.Join(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(joinRes{PlayerID: playerID, Session: snap})
}

// handleStart moves the session into play.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Start(r.Context(), chi.URLParam(r, "id"), time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sessionRes{Session: snap})
}

// handleGuess records one guess with its result vector.
func (s *Server) handleGuess(w http.ResponseWriter, r *http.Request) {
	var req guessReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"bad_json"}`, http.StatusBadRequest)
		return
	}
	snap, err := s.svc.Guess(r.Context(), chi.URLParam(r, "id"), req.PlayerID, req.Guess, req.Results)
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sessionRes{Session: snap})
}

// handleFinish ends the session.
func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.Finish(r.Context(), chi.URLParam(r, "id"), time.Now())
	if err != nil {
		writeErr(w, err)
		return
	}
	_ = json.NewEncoder(w).Encode(sessionRes{Session: snap})
}

// ---------------------------- error mapping --------------------------------

// errRes is the JSON error body. Reason is set for precondition failures so
// the presentation layer can give an accurate message instead of inferring
// failure from an unchanged snapshot.
type errRes struct {
	Error   string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeErr maps service errors onto the HTTP error taxonomy.
func writeErr(w http.ResponseWriter, err error) {
	var pre *game.PreconditionError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, game.ErrUnknownPlayer):
		writeJSONErr(w, http.StatusNotFound, errRes{Error: "not_found", Message: err.Error()})
	case errors.As(err, &pre):
		writeJSONErr(w, http.StatusConflict, errRes{Error: "precondition_failed", Reason: pre.Reason})
	case errors.Is(err, game.ErrInvalidWord),
		errors.Is(err, game.ErrInvalidGuess),
		errors.Is(err, game.ErrInvalidResult),
		errors.Is(err, game.ErrInvalidName):
		writeJSONErr(w, http.StatusBadRequest, errRes{Error: "invalid_argument", Message: err.Error()})
	default:
		log.Error().Err(err).Msg("session mutation failed")
		writeJSONErr(w, http.StatusInternalServerError, errRes{Error: "internal"})
	}
}

func writeJSONErr(w http.ResponseWriter, code int, body errRes) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
