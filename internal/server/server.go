// internal/server/server.go

package server

import (
	"context"
	"fmt"
	"net/http"

	"netwatch/internal/config"
	"netwatch/internal/handler"
	"netwatch/internal/logger"
	"netwatch/internal/middleware"

	"github.com/gorilla/mux"
)

type Server struct {
	httpServer *http.Server
	router     *mux.Router
	cfg        *config.Config
	log        *logger.Logger
}

func New(cfg *config.Config, log *logger.Logger) *Server {
	router := mux.NewRouter()

	server := &Server{
		router: router,
		cfg:    cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:        router,
			ReadTimeout:    cfg.Server.ReadTimeout,
			WriteTimeout:   cfg.Server.WriteTimeout,
			MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		},
	}

	return server
}

// Handlers bundles every route group the API edge serves.
type Handlers struct {
	Status  *handler.StatusHandler
	History *handler.HistoryHandler
	Config  *handler.ConfigHandler
	SNMP    *handler.SNMPHandler
	System  *handler.SystemHandler
	Export  *handler.ExportHandler
	Health  *handler.HealthHandler
	Ingest  ingestRouteRegisterer
	WS      *handler.WSHandler
}

// ingestRouteRegisterer matches ingest.Handler.RegisterRoutes without the
// server package depending directly on the ingest package's other exports.
type ingestRouteRegisterer interface {
	RegisterRoutes(r *mux.Router)
}

func (s *Server) RegisterHandlers(h Handlers) {
	api := s.router.PathPrefix("/api").Subrouter()

	api.Use(middleware.RequestLogger(s.log))
	api.Use(middleware.CORS(s.cfg.Server.CORSOrigins, s.cfg.Server.CORSMethods))
	api.Use(middleware.Recovery(s.log))

	if s.cfg.Server.EnableRateLimit {
		api.Use(middleware.RateLimit(s.cfg.Server.RateLimitPerMin))
	}

	h.Status.RegisterRoutes(api)
	h.History.RegisterRoutes(api)
	h.Config.RegisterRoutes(api)
	h.SNMP.RegisterRoutes(api)
	h.System.RegisterRoutes(api)
	h.Export.RegisterRoutes(api)
	h.Health.RegisterRoutes(api)
	h.Ingest.RegisterRoutes(api)

	h.WS.RegisterRoutes(s.router)

	s.log.Info("all handlers registered")
}

func (s *Server) Start() error {
	s.log.Info("starting HTTP server on %s", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server...")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.log.Info("HTTP server stopped")
	return nil
}
