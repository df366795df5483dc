package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lcalzada-xor/cvemap/internal/adapters/web/handlers"
	"github.com/lcalzada-xor/cvemap/internal/adapters/web/websocket"
	"github.com/lcalzada-xor/cvemap/internal/core/ports"
	"github.com/lcalzada-xor/cvemap/internal/core/services/labscore"
	"github.com/lcalzada-xor/cvemap/internal/core/services/reliability"
)

// Server handles HTTP and WebSocket connections.
type Server struct {
	Addr      string
	WSManager *websocket.WSManager

	DiscoveryHandler *handlers.DiscoveryHandler
	RecordsHandler   *handlers.RecordsHandler
	SourcesHandler   *handlers.SourcesHandler

	srv *http.Server
}

// NewServer creates a new web server. The WSManager should also be attached
// to the orchestrator as its progress notifier.
func NewServer(addr string, service ports.DiscoveryService, store ports.RecordStore, rel *reliability.Service, lab *labscore.Calculator, ws *websocket.WSManager) *Server {
	if ws == nil {
		ws = websocket.NewWSManager()
	}
	return &Server{
		Addr:             addr,
		WSManager:        ws,
		DiscoveryHandler: handlers.NewDiscoveryHandler(service, store, lab),
		RecordsHandler:   handlers.NewRecordsHandler(store),
		SourcesHandler:   handlers.NewSourcesHandler(service, rel),
	}
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	handler := SetupRoutes(s)

	// Instrument with OpenTelemetry
	instrumentedHandler := otelhttp.NewHandler(handler, "cvemap-server")

	s.srv = &http.Server{
		Addr:              s.Addr,
		Handler:           instrumentedHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Println("Web server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Web server shutdown error: %v", err)
		}
	}()

	log.Printf("Web server listening on %s", s.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
