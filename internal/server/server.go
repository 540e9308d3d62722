// Package server exposes the speech pipeline over an OpenAI-compatible HTTP
// API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-stream-service/internal/backend"
	"github.com/book-expert/tts-stream-service/internal/metrics"
	"github.com/book-expert/tts-stream-service/internal/pipeline"
	"github.com/book-expert/tts-stream-service/internal/voice"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

const (
	logFmtListening     = "HTTP server listening on %s"
	logFmtShuttingDown  = "Shutting down HTTP server"
	logFmtShutdownError = "HTTP server shutdown error: %v"
)

// StatusReporter reports backend readiness for the health endpoint.
type StatusReporter interface {
	Status(ctx context.Context) backend.Status
}

// Dependencies are the collaborators the handlers use. Gatherer and Metrics may
// be nil; the metrics route is then not registered. The web player is only
// served when WebPlayerDir is set.
type Dependencies struct {
	Pipeline     *pipeline.Pipeline
	Aliases      *voice.AliasTable
	Voices       voice.Lister
	Health       StatusReporter
	TempDir      string
	WebPlayerDir string
	DefaultVoice string
	Gatherer     prometheus.Gatherer
	Metrics      *metrics.Metrics
	Log          *logger.Logger
}

// Server owns the gin engine.
type Server struct {
	deps   Dependencies
	engine *gin.Engine
}

// New builds the router.
func New(deps Dependencies) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(deps.Log), requestMetrics(deps.Metrics))

	srv := &Server{deps: deps, engine: engine}
	srv.registerRoutes()

	return srv
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", s.handleHealth)

	if s.deps.Gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	if s.deps.WebPlayerDir != "" {
		s.engine.GET("/web/*filepath", s.handleWebPlayer)
	}

	v1 := s.engine.Group("/v1")
	v1.POST("/audio/speech", s.handleSpeech)
	v1.GET("/audio/voices", s.handleVoices)
	v1.GET("/download/:filename", s.handleDownload)
	v1.GET("/models", s.handleModels)
	v1.GET("/models/:model", s.handleModel)
}

// Handler returns the router for use with httptest or a custom http.Server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is canceled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		s.deps.Log.Info(logFmtListening, addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.deps.Log.Info(logFmtShuttingDown)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	shutdownErr := httpServer.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		s.deps.Log.Error(logFmtShutdownError, shutdownErr)

		return fmt.Errorf("http server shutdown: %w", shutdownErr)
	}

	return nil
}
