// client/client.go
//
// HTTP/websocket client for the Wordroom backend.
// The Client is an explicit connection object: endpoint URL and access token
// are passed in at construction and their absence is an error, so a process
// can fail at startup instead of at first use. No package-level state.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wordroom/go-server/internal/game"
)

// Configuration errors, surfaced at construction time.
var (
	ErrMissingBaseURL = errors.New("client: base URL is required")
	ErrMissingToken   = errors.New("client: access token is required")
)

// Config carries the connection parameters supplied by the configuration
// collaborator at process start.
type Config struct {
	BaseURL string // e.g. http://localhost:5175
	Token   string // shared access token

	// Optional overrides, mainly for tests.
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Client talks to one Wordroom backend.
type Client struct {
	baseURL *url.URL
	token   string
	hc      *http.Client
	dialer  *websocket.Dialer
}

// New validates the config and builds a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, ErrMissingBaseURL
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, ErrMissingToken
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse base URL: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	d := cfg.Dialer
	if d == nil {
		d = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	return &Client{baseURL: u, token: cfg.Token, hc: hc, dialer: d}, nil
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s)", e.Code, e.Reason)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// IsNotFound reports whether err is a not-found response.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusNotFound
}

// IsPreconditionFailed reports whether err is a rejected mutation. The
// rejection reason is available on the APIError.
func IsPreconditionFailed(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusConflict
}

// --------------------------- session operations ----------------------------

type createReq struct {
	HostID string `json:"hostId"`
	Word   string `json:"word,omitempty"`
}
type joinReq struct {
	Name string `json:"name"`
}
type guessReq struct {
	PlayerID string              `json:"playerId"`
	Guess    string              `json:"guess"`
	Results  []game.LetterResult `json:"results"`
}
type sessionEnvelope struct {
	SessionID string        `json:"sessionId,omitempty"`
	PlayerID  string        `json:"playerId,omitempty"`
	Session   *game.Session `json:"session"`
}

// CreateSession asks the backend for a fresh waiting session. An empty word
// lets the server pick a random answer.
func (c *Client) CreateSession(ctx context.Context, hostID, word string) (*game.Session, error) {
	var env sessionEnvelope
	if err := c.postJSON(ctx, "/session/new", createReq{HostID: hostID, Word: word}, &env); err != nil {
		return nil, err
	}
	return env.Session, nil
}

// GetSession fetches the current snapshot (the catch-up read).
func (c *Client) GetSession(ctx context.Context, id string) (*game.Session, error) {
	var env sessionEnvelope
	if err := c.getJSON(ctx, "/session/"+id, &env); err != nil {
		return nil, err
	}
	return env.Session, nil
}

// ------------------------------- plumbing ----------------------------------

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	res, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		ae := &APIError{Status: res.StatusCode, Code: "unknown"}
		raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		_ = json.Unmarshal(raw, ae)
		return ae
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// endpoint joins the base URL with a path.
func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

// dialWatch opens the change-feed websocket for one session. The token rides
// in the query string because browsers cannot set headers on websockets.
func (c *Client) dialWatch(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/session/" + sessionID + "/watch"
	u.RawQuery = url.Values{"access_token": {c.token}}.Encode()
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	return conn, err
}
