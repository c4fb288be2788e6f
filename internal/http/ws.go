package httpapi

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/example/sewaghar/internal/models"
)

var upgrader = websocket.Upgrader{}

// handleEventsWS attaches the caller to the dispatch registry so lifecycle
// changes to their requests get pushed live.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	if s.deps.Registry == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event push not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.deps.Registry.Add(id.ID, conn)
	// Reads drain control frames; the first error means the peer is gone.
	go func() {
		defer s.deps.Registry.Remove(id.ID, conn)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

type locationEvent struct {
	Type     string                   `json:"type"`
	Location *models.ProviderLocation `json:"location"`
}

// handleLocationWS streams one provider's location to the caller: the
// current record immediately (null if none), then every change, until the
// client disconnects. The store subscription is cancelled before the
// connection is torn down, so no write can race the close.
func (s *Server) handleLocationWS(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	providerID := mux.Vars(r)["id"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var writeMu sync.Mutex
	sub := s.deps.Telemetry.Subscribe(providerID, func(loc *models.ProviderLocation) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(locationEvent{Type: "location", Location: loc}); err != nil {
			s.logger.Debug("location push failed", "provider_id", providerID, "error", err)
		}
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	sub.Cancel()
	_ = conn.Close()
}
