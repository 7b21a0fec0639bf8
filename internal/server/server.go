package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/ternarybob/arbor"
	"github.com/user/markhub/internal/config"
	"github.com/user/markhub/internal/db"
	"github.com/user/markhub/internal/indexer"
	"github.com/user/markhub/internal/integrations"
)

// Deps are the collaborators the HTTP façade drives.
type Deps struct {
	Manager *integrations.Manager
	Indexer *indexer.Indexer
	Store   *db.Store
	Bridge  http.Handler // optional browser extension websocket
	Logger  arbor.ILogger
}

// Server exposes the integration actions over HTTP.
type Server struct {
	deps    Deps
	cfg     config.ServerConfig
	logger  arbor.ILogger
	handler http.Handler
}

func New(deps Deps, cfg config.ServerConfig) *Server {
	if deps.Logger == nil {
		deps.Logger = arbor.NewNoOpLogger()
	}
	s := &Server{deps: deps, cfg: cfg, logger: deps.Logger}

	router := mux.NewRouter()
	router.HandleFunc("/api/integrations", s.handleGet).Methods(http.MethodGet)
	router.HandleFunc("/api/integrations", s.handlePost).Methods(http.MethodPost)
	router.HandleFunc("/api/integrations", s.handleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	if deps.Bridge != nil {
		router.Handle("/ws/extension", deps.Bridge)
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
	})
	s.handler = c.Handler(router)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info().Msg("Shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
