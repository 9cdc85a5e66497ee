package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tasooshi/pukpuk/internal/storage"
)

// Server wraps the http.Server to provide graceful shutdown.
type Server struct {
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer creates and configures a new API server.
func NewServer(port string, store storage.Storer, log zerolog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           NewRouter(store, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start runs the HTTP server in a new goroutine. Listener failures are
// delivered on the returned channel.
func (s *Server) Start() <-chan error {
	errc := make(chan error, 1)
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting HTTP server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
