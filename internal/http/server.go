package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/sewaghar/internal/auth"
	"github.com/example/sewaghar/internal/dispatch"
	"github.com/example/sewaghar/internal/ingest"
	"github.com/example/sewaghar/internal/lifecycle"
	"github.com/example/sewaghar/internal/routing"
	"github.com/example/sewaghar/internal/telemetry"
)

// Deps is everything the API server needs wired in. Kafka is optional
// (telemetry then only reaches the store directly); Registry is optional
// (no websocket pushes).
type Deps struct {
	Lifecycle      *lifecycle.Service
	Telemetry      telemetry.Store
	Routing        *routing.Client
	Kafka          *ingest.KafkaProducer
	Registry       *dispatch.Registry
	Auth           *auth.Manager
	NearbyRadiusKm float64
	Logger         *slog.Logger
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(deps Deps) *Server {
	if deps.NearbyRadiusKm <= 0 {
		deps.NearbyRadiusKm = 10
	}
	s := &Server{deps: deps, logger: deps.Logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/requests", s.handleSubmit).Methods("POST")
	api.HandleFunc("/requests/available", s.handleAvailable).Methods("GET")
	api.HandleFunc("/requests/mine", s.handleMine).Methods("GET")
	api.HandleFunc("/requests/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/requests/{id}/decline", s.handleDecline).Methods("POST")
	api.HandleFunc("/requests/{id}/block", s.handleBlock).Methods("POST")
	api.HandleFunc("/requests/{id}/release", s.handleRelease).Methods("POST")
	api.HandleFunc("/requests/{id}/complete", s.handleComplete).Methods("POST")
	api.HandleFunc("/requests/{id}/rating", s.handleRate).Methods("POST")
	api.HandleFunc("/users/{id}/ratings", s.handleUserRatings).Methods("GET")

	api.HandleFunc("/providers/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/providers/{id}/location", s.handleProviderLocation).Methods("GET")
	api.HandleFunc("/route", s.handleRoute).Methods("GET")

	s.mux.HandleFunc("/internal/provider/locations", s.handlePublishLocation).Methods("POST")

	s.mux.HandleFunc("/ws", s.handleEventsWS)
	s.mux.HandleFunc("/ws/providers/{id}/location", s.handleLocationWS)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
