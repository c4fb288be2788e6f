package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/sewaghar/internal/auth"
	"github.com/example/sewaghar/internal/lifecycle"
	"github.com/example/sewaghar/internal/models"
	"github.com/example/sewaghar/internal/observability"
	"github.com/example/sewaghar/internal/routing"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleCustomer)
	if !ok {
		return
	}
	var in lifecycle.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := s.deps.Lifecycle.Submit(r.Context(), id.ID, in)
	if err != nil {
		s.writeLifecycleError(w, "submit", err)
		return
	}
	observability.RequestsSubmitted.Inc()
	observability.LifecycleTransitions.WithLabelValues("submit", "ok").Inc()
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}
	reqs, err := s.deps.Lifecycle.Available(r.Context(), id.ID)
	if err != nil {
		s.writeLifecycleError(w, "available", err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	status := models.RequestStatus(r.URL.Query().Get("status"))
	var (
		reqs []models.ServiceRequest
		err  error
	)
	if id.Role == auth.RoleProvider {
		reqs, err = s.deps.Lifecycle.ForProvider(r.Context(), id.ID, status)
	} else {
		reqs, err = s.deps.Lifecycle.ForCustomer(r.Context(), id.ID, status)
	}
	if err != nil {
		s.writeLifecycleError(w, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}
	req, err := s.deps.Lifecycle.Accept(r.Context(), mux.Vars(r)["id"], id.ID)
	if err != nil {
		s.writeLifecycleError(w, "accept", err)
		return
	}
	observability.LifecycleTransitions.WithLabelValues("accept", "ok").Inc()
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDecline(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}
	if err := s.deps.Lifecycle.DeclineAvailable(r.Context(), mux.Vars(r)["id"], id.ID); err != nil {
		s.writeLifecycleError(w, "decline", err)
		return
	}
	observability.LifecycleTransitions.WithLabelValues("decline", "ok").Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}
	if err := s.deps.Lifecycle.Block(r.Context(), mux.Vars(r)["id"], id.ID); err != nil {
		s.writeLifecycleError(w, "block", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}
	req, err := s.deps.Lifecycle.ReleaseAccepted(r.Context(), mux.Vars(r)["id"], id.ID)
	if err != nil {
		s.writeLifecycleError(w, "release", err)
		return
	}
	observability.LifecycleTransitions.WithLabelValues("release", "ok").Inc()
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleCustomer)
	if !ok {
		return
	}
	req, err := s.deps.Lifecycle.Complete(r.Context(), mux.Vars(r)["id"], id.ID)
	if err != nil {
		s.writeLifecycleError(w, "complete", err)
		return
	}
	observability.LifecycleTransitions.WithLabelValues("complete", "ok").Inc()
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireIdentity(w, r)
	if !ok {
		return
	}
	var in struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.deps.Lifecycle.Rate(r.Context(), mux.Vars(r)["id"], id.ID, in.Score, in.Comment)
	if err != nil {
		s.writeLifecycleError(w, "rate", err)
		return
	}
	observability.LifecycleTransitions.WithLabelValues("rate", "ok").Inc()
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUserRatings(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	ratings, summary, err := s.deps.Lifecycle.Ratings(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeLifecycleError(w, "ratings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ratings": ratings, "summary": summary})
}

// handlePublishLocation is the telemetry ingest path: the provider's client
// posts its current sample, which goes onto the Kafka topic when one is
// configured and into the location store. Store failures are logged and
// tolerated; telemetry is best-effort.
func (s *Server) handlePublishLocation(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireRole(w, r, auth.RoleProvider)
	if !ok {
		return
	}
	var in struct {
		Latitude  float64               `json:"latitude"`
		Longitude float64               `json:"longitude"`
		Status    models.ProviderStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Status == "" {
		in.Status = models.ProviderAvailable
	}
	loc := models.ProviderLocation{
		ProviderID: id.ID,
		Latitude:   in.Latitude,
		Longitude:  in.Longitude,
		Status:     in.Status,
		Timestamp:  nowUTC(),
	}
	if s.deps.Kafka != nil {
		if err := s.deps.Kafka.PublishLocation(loc); err != nil {
			s.logger.Warn("kafka publish failed", "provider_id", id.ID, "error", err)
		}
	}
	if err := s.deps.Telemetry.Publish(r.Context(), loc); err != nil {
		s.logger.Warn("telemetry publish failed", "provider_id", id.ID, "error", err)
	}
	observability.TelemetryPublishes.Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err1 != nil || err2 != nil {
		writeJSONError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	radius := s.deps.NearbyRadiusKm
	if v := r.URL.Query().Get("radius_km"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid radius_km")
			return
		}
		radius = f
	}
	locs, err := s.deps.Telemetry.Nearby(r.Context(), lat, lon, radius)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "nearby scan failed")
		return
	}
	observability.NearbyQueries.Inc()
	writeJSON(w, http.StatusOK, locs)
}

func (s *Server) handleProviderLocation(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	loc, err := s.deps.Telemetry.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "location read failed")
		return
	}
	if loc == nil {
		writeJSONError(w, http.StatusNotFound, "no location published")
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// handleRoute estimates provider-to-customer routes. Failures from the
// routing service are surfaced (502) rather than silently degraded; clients
// that want the straight line can omit the API key server-side.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireIdentity(w, r); !ok {
		return
	}
	from, ok1 := coordFromQuery(r, "from_lat", "from_lon")
	to, ok2 := coordFromQuery(r, "to_lat", "to_lon")
	if !ok1 || !ok2 {
		writeJSONError(w, http.StatusBadRequest, "from and to coordinates are required")
		return
	}
	route, err := s.deps.Routing.EstimateRoute(r.Context(), from, to)
	if err != nil {
		if errors.Is(err, routing.ErrRouteUnavailable) {
			observability.RouteEstimates.WithLabelValues("error").Inc()
			writeJSONError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "route estimation failed")
		return
	}
	source := "service"
	if s.deps.Routing.APIKey == "" {
		source = "fallback"
	}
	observability.RouteEstimates.WithLabelValues(source).Inc()
	writeJSON(w, http.StatusOK, route)
}

func coordFromQuery(r *http.Request, latKey, lonKey string) (models.Coord, bool) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get(latKey), 64)
	lon, err2 := strconv.ParseFloat(r.URL.Query().Get(lonKey), 64)
	if err1 != nil || err2 != nil {
		return models.Coord{}, false
	}
	return models.Coord{Lat: lat, Lon: lon}, true
}

func (s *Server) requireIdentity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return auth.Identity{}, false
	}
	return id, true
}

func (s *Server) requireRole(w http.ResponseWriter, r *http.Request, role auth.Role) (auth.Identity, bool) {
	id, ok := s.requireIdentity(w, r)
	if !ok {
		return auth.Identity{}, false
	}
	if id.Role != role {
		writeJSONError(w, http.StatusForbidden, "wrong role for this operation")
		return auth.Identity{}, false
	}
	return id, true
}

func (s *Server) writeLifecycleError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, lifecycle.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, lifecycle.ErrInvalidState):
		status = http.StatusUnprocessableEntity
	}
	observability.LifecycleTransitions.WithLabelValues(op, "error").Inc()
	if status == http.StatusInternalServerError {
		s.logger.Error("lifecycle operation failed", "operation", op, "error", err)
		writeJSONError(w, status, "internal error")
		return
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func nowUTC() time.Time { return time.Now().UTC() }
