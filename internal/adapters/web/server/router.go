package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcalzada-xor/cvemap/internal/adapters/web/middleware"
)

func SetupRoutes(s *Server) http.Handler {
	r := mux.NewRouter()

	// Discovery runs hit every upstream source, so they get the tightest
	// inbound limit.
	discoverLimiter := middleware.NewRateLimiter(5, 1*time.Minute)
	apiLimiter := middleware.NewRateLimiter(120, 1*time.Minute)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(middleware.RateLimitMiddleware(apiLimiter))

	api.Handle("/discover",
		middleware.RateLimitMiddleware(discoverLimiter)(http.HandlerFunc(s.DiscoveryHandler.HandleDiscover))).
		Methods(http.MethodPost)

	api.HandleFunc("/records", s.RecordsHandler.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/records/stats", s.RecordsHandler.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/records/{fingerprint}", s.RecordsHandler.HandleGet).Methods(http.MethodGet)

	api.HandleFunc("/sources", s.SourcesHandler.HandleList).Methods(http.MethodGet)
	api.HandleFunc("/sources/health", s.SourcesHandler.HandleHealth).Methods(http.MethodGet)
	api.HandleFunc("/reliability", s.SourcesHandler.HandleReliability).Methods(http.MethodGet)

	// WebSocket endpoint for discovery progress
	r.HandleFunc("/ws", s.WSManager.HandleWebSocket)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return r
}
