package dispatch

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/sewaghar/internal/models"
)

var ErrNoSession = errors.New("no websocket session")

// Session is one connected client. Writes are serialized; gorilla/websocket
// does not allow concurrent writers on a connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry tracks connected user sessions and pushes request lifecycle
// events to the parties of a request. A reconnect replaces the old session.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{sessions: make(map[string]*Session), logger: logger}
}

func (r *Registry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &Session{conn: conn}
}

// Remove drops the user's session only if it still belongs to conn. The old
// connection's read loop races the reconnect: by the time it observes the
// close and cleans up, Add may already have stored the replacement, which
// must survive.
func (r *Registry) Remove(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok && s.conn == conn {
		delete(r.sessions, userID)
	}
}

// Push sends v to the user's session if one is connected.
func (r *Registry) Push(userID string, v any) error {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(v); err != nil {
		if r.logger != nil {
			r.logger.Warn("websocket send failed", "user_id", userID, "error", err)
		}
		return err
	}
	return nil
}

type requestEvent struct {
	Type    string                `json:"type"`
	Request models.ServiceRequest `json:"request"`
}

// RequestChanged implements lifecycle.Notifier: both parties of the request
// get the updated record, best-effort.
func (r *Registry) RequestChanged(req models.ServiceRequest) {
	ev := requestEvent{Type: "request_changed", Request: req}
	_ = r.Push(req.CustomerID, ev)
	if req.ProviderID != nil {
		_ = r.Push(*req.ProviderID, ev)
	}
}
