package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jinford/blogforge/internal/module/pipeline/application"
)

// shutdownGrace はHTTPサーバのGraceful Shutdownの猶予時間
const shutdownGrace = 10 * time.Second

// Server はジョブAPIのHTTPサーバ
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer はルーティングを構成したHTTPサーバを作成する
func NewServer(supervisor *application.Supervisor, logger *slog.Logger, port int) *Server {
	router := NewRouter(supervisor, logger)

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		},
		logger: logger,
	}
}

// NewRouter はAPIルーティングを構成する
func NewRouter(supervisor *application.Supervisor, logger *slog.Logger) *mux.Router {
	handler := NewJobHandler(supervisor, logger)

	router := mux.NewRouter()
	router.HandleFunc("/healthz", handler.Healthz).Methods("GET")

	api := router.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/jobs", handler.CreateJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", handler.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/pause", handler.PauseJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/resume", handler.ResumeJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/cancel", handler.CancelJob).Methods("POST")
	api.HandleFunc("/jobs/{id}/trace", handler.GetTrace).Methods("GET")

	return router
}

// Start はサーバを起動し、ctxのキャンセルでGraceful Shutdownする
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	return nil
}
