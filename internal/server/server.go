package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"assetbank/internal/constants"
	"assetbank/internal/logger"
)

// Server wraps the HTTP server with graceful shutdown
type Server struct {
	httpServer *http.Server
	app        *App
	logger     *logger.Logger
}

// NewServer creates a new HTTP server
func NewServer(app *App, addr string) *Server {
	mux := http.NewServeMux()

	s := &Server{
		app:    app,
		logger: app.Logger,
	}

	s.registerRoutes(mux)

	handler := Chain(mux, RequestID, SecurityHeaders, Recover(app.Logger), RequestLog(app.Logger))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  0, // No timeout for streaming uploads
		WriteTimeout: 0, // No timeout for streaming downloads
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/assets", s.handleAssets)
	mux.HandleFunc("/api/assets/", s.handleAssetRoutes)
	mux.HandleFunc("/api/tags", s.handleTags)
	mux.HandleFunc("/api/audit", s.handleAuditQuery)
}

// Start runs the server and blocks until shutdown signal
func (s *Server) Start() error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, shutdownSignals...)

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Server listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case sig := <-stop:
		s.logger.Info("Received signal %v, shutting down...", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.ShutdownTimeoutSecs)*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Shutdown error: %v", err)
	}

	if s.app.AuditLogger != nil {
		s.app.AuditLogger.Stop()
	}
	if s.app.DB != nil {
		s.app.DB.Close()
	}

	s.logger.Info("Server stopped")
	return nil
}

// Handler returns the HTTP handler for testing purposes
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
