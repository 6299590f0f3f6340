// Package diagserver broadcasts compile progress and diagnostics to
// connected clients (an editor extension, a watch-mode terminal, a web
// dashboard) over WebSocket, so a long-running `fasterbasic build
// -watch` can be observed live instead of only via stdout. The
// connection bookkeeping - one map of live clients guarded by a mutex,
// a per-connection read pump, best-effort broadcast that drops a client
// on write error - is the same shape the product's own WebSocket
// transport used, retargeted from arbitrary program-level messaging to
// one fixed event schema.
package diagserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/albanread/fasterbasic/internal/diag"
)

// EventKind distinguishes the lifecycle events a build emits.
type EventKind string

const (
	EventStageStarted  EventKind = "stage_started"
	EventStageFinished EventKind = "stage_finished"
	EventDiagnostic    EventKind = "diagnostic"
	EventDone          EventKind = "done"
)

// Event is one message broadcast to every connected client, serialized as
// JSON text frames.
type Event struct {
	RunID      string          `json:"run_id,omitempty"`
	Kind       EventKind       `json:"kind"`
	Stage      string          `json:"stage,omitempty"`
	Diagnostic *diag.Diagnostic `json:"diagnostic,omitempty"`
	Message    string          `json:"message,omitempty"`
	ElapsedMS  int64           `json:"elapsed_ms,omitempty"`
}

// client is one connected observer.
type client struct {
	id     string
	conn   *websocket.Conn
	mu     sync.Mutex
	closed bool
}

// Server accepts WebSocket connections on a single endpoint and
// broadcasts every Event published via Publish to all of them. The zero
// value is not usable; construct with New.
type Server struct {
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu      sync.RWMutex
	clients map[string]*client

	// RunID identifies this server's compilation run to observers that
	// reconnect across a `build -watch` session - a random v4 UUID
	// rather than a counter, since a watch session may restart the
	// server between builds and a repeating small-integer id would
	// alias a stale run's id in the client's own event log.
	RunID string
}

// New builds a diagnostics server that will listen on addr once Start is
// called. CheckOrigin is permissive: this endpoint carries build
// telemetry, not credentials, and is meant for localhost tooling.
func New(addr string) *Server {
	s := &Server{
		clients: make(map[string]*client),
		RunID:   uuid.NewString(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/diagnostics", s.handleUpgrade)
	s.httpSrv = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Start runs the HTTP server in the background; Stop tears it down. Start
// returns the error if the server fails within its first 50ms (a failed
// bind), and nil otherwise; it does not confirm that the listener is
// accepting connections.
func (s *Server) Start() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return fmt.Errorf("diagserver: listen failed: %w", err)
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// Stop closes every client connection and shuts the HTTP server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	for _, c := range s.clients {
		c.mu.Lock()
		c.closed = true
		c.conn.Close()
		c.mu.Unlock()
	}
	s.clients = make(map[string]*client)
	s.mu.Unlock()
	return s.httpSrv.Close()
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	go s.drain(c)
}

// drain discards whatever an observer sends (pings, acks) and evicts it
// once the connection breaks; observers are read-only subscribers.
func (s *Server) drain(c *client) {
	defer func() {
		s.mu.Lock()
		delete(s.clients, c.id)
		s.mu.Unlock()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			return
		}
	}
}

// Publish broadcasts ev to every connected observer, dropping (and later
// evicting) any client whose write fails.
func (s *Server) Publish(ev Event) {
	ev.RunID = s.RunID
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()

	for _, c := range clients {
		c.mu.Lock()
		if !c.closed {
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.closed = true
			}
		}
		c.mu.Unlock()
	}
}

// PublishDiagnostic is a convenience wrapper around Publish for the
// common case of forwarding one diag.Diagnostic as it is raised.
func (s *Server) PublishDiagnostic(d diag.Diagnostic) {
	s.Publish(Event{Kind: EventDiagnostic, Diagnostic: &d})
}
