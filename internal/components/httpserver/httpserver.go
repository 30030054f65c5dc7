// Package httpserver implements a chi-based HTTP server component,
// adapted to
// this module's runtime-discovered dependency model: it calls
// bc.FindComponent(logging) itself instead of declaring it via a static
// Dependencies() list.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
)

// Config mirrors HTTPServerConfig.
type Config struct {
	Enabled         bool          `yaml:"enabled" json:"enabled"`
	Address         string        `yaml:"address" json:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	GracefulTimeout time.Duration `yaml:"graceful_timeout" json:"graceful_timeout"`
	EnableHealth    bool          `yaml:"enable_health" json:"enable_health"`
}

// RouteRegisterFunc lets other components (discovered the same way, by
// FindComponent-ing this one) add routes before the server starts.
type RouteRegisterFunc func(r chi.Router)

// Server is the component other code FindComponent's this package's name
// to get a hold of.
type Server struct {
	cfg    Config
	logger logging.Logger
	router chi.Router
	srv    *http.Server
}

// Factory reads section into Config, resolves the logging dependency via
// bc.FindComponent, and starts listening in the background — matching a
// Start() pattern of a detached ListenAndServe goroutine.
func Factory(section *config.ComponentSection) component.Factory {
	return func(bc *component.BuildContext) (component.Component, error) {
		var cfg Config
		if err := section.Decode(&cfg); err != nil {
			return nil, err
		}
		if !cfg.Enabled {
			return nil, fmt.Errorf("httpserver: component disabled")
		}
		applyDefaults(&cfg)

		loggerComp, err := bc.FindComponent(consts.ComponentLogging)
		if err != nil {
			return nil, fmt.Errorf("httpserver: %w", err)
		}
		logger, ok := loggerComp.(logging.Logger)
		if !ok {
			return nil, fmt.Errorf("httpserver: logging component has unexpected type %T", loggerComp)
		}

		s := &Server{cfg: cfg, logger: logger}
		s.router = chi.NewRouter()
		s.setupMiddlewares()
		if cfg.EnableHealth {
			s.router.Get("/healthz", s.healthHandler)
		}

		s.srv = &http.Server{
			Addr:         cfg.Address,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
			Handler:      s.router,
		}

		go func() {
			logger.Info(context.Background(), "httpserver listening", zap.String("address", cfg.Address))
			if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error(context.Background(), "httpserver serve error", zap.Error(err))
			}
		}()

		return s, nil
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}
}

func (s *Server) setupMiddlewares() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Router exposes the chi router so other components can add routes during
// construction, discovering this one the same way every other dependency
// is discovered: FindComponent(consts.ComponentHTTPServer).
func (s *Server) Router() chi.Router { return s.router }

// ClearComponent gracefully shuts the HTTP server down, implementing
// component.ClearComponent (the teardown hook).
func (s *Server) ClearComponent() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.GracefulTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error(ctx, "httpserver graceful shutdown failed", zap.Error(err))
	}
}
