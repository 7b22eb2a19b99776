package ipc

import (
	"context"
	"net/http"
	"time"
)

// Server wraps an HTTP server with newsletter API routing.
type Server struct {
	httpServer *http.Server
	handler    *Handler
}

// NewServer creates a Server that binds to the given address.
func NewServer(h *Handler, listenAddr string) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Run endpoints.
	mux.HandleFunc("POST /api/v1/runs", h.StartRun)
	mux.HandleFunc("GET /api/v1/runs/{runID}", h.GetRun)
	mux.HandleFunc("GET /api/v1/runs/{runID}/events", h.ListEvents)
	mux.HandleFunc("GET /api/v1/runs/{runID}/events/stream", h.StreamEvents)
	mux.HandleFunc("GET /api/v1/runs/{runID}/notifications", h.ListNotifications)
	mux.HandleFunc("GET /api/v1/runs/{runID}/report", h.GetReport)
	mux.HandleFunc("GET /api/v1/runs/{runID}/artifacts/{name}", h.GetArtifact)

	// Stateless document tools.
	mux.HandleFunc("POST /api/v1/sanitize", h.Sanitize)
	mux.HandleFunc("POST /api/v1/score", h.Score)

	// Diagnostics.
	mux.HandleFunc("GET /api/v1/metrics", h.Metrics)
	mux.HandleFunc("GET /api/v1/errors/stats", h.ErrorStats)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
	}
}

// Start begins listening for HTTP connections. Blocks until the server stops.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server, then cancels runs still executing
// in the background. Cancelled runs resume on a later start with the same id.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.handler.Close()
	return err
}

// corsMiddleware adds CORS headers for the classroom web client.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
