// Package server wires configuration, engines, sessions and the HTTP API
// into one runnable process.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"playground-engine/internal/api"
	"playground-engine/internal/api/middleware"
	"playground-engine/internal/config"
	"playground-engine/internal/engine"
	"playground-engine/internal/errors"
	"playground-engine/internal/history"
	"playground-engine/internal/logging"
	"playground-engine/internal/monitoring"
	"playground-engine/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and its dependencies.
type Server struct {
	router   *gin.Engine
	engines  *Engines
	sessions *session.Manager
	history  history.Store
	metrics  *monitoring.Metrics
	logger   *logging.Logger
	config   *config.Config
}

// New creates a server from configuration.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("initializing playground server",
		zap.String("addr", cfg.Server.Addr()),
		zap.Bool("docker", cfg.Docker.Enabled),
		zap.Bool("history", cfg.History.Enabled),
	)

	metrics := monitoring.NewMetrics()

	store, err := openHistory(cfg.History)
	if err != nil {
		return nil, err
	}

	engines, err := NewEngines(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	engines.WithObserver(engine.Observers{
		metrics,
		history.NewRecorder(store, logger),
	})

	sessions := session.NewManager(session.Options{
		NewEngine: engines.New,
		IdleTTL:   cfg.Sessions.IdleTTL,
		Max:       cfg.Sessions.Max,
		Logger:    logger,
		OnChange: func(live int) {
			metrics.SessionsActive.Set(float64(live))
		},
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	api.NewHandler(api.Deps{
		Sessions:     sessions,
		NewEngine:    engines.New,
		History:      store,
		HistoryLimit: cfg.History.Limit,
		Metrics:      metrics,
		Logger:       logger,
	}).Register(router)

	return &Server{
		router:   router,
		engines:  engines,
		sessions: sessions,
		history:  store,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}, nil
}

func openHistory(cfg config.HistoryConfig) (history.Store, error) {
	if !cfg.Enabled {
		return history.NewMemoryStore(cfg.Limit), nil
	}
	store, err := history.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open history database")
	}
	return store, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	reapCtx, stopReaper := context.WithCancel(context.Background())
	reaped := make(chan struct{})
	go func() {
		defer close(reaped)
		s.sessions.Run(reapCtx)
	}()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = errors.Wrap(err, "http server failed")
		}
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("http shutdown failed", zap.Error(err))
	}

	stopReaper()
	<-reaped
	return runErr
}

// Close releases the engines and the history store. The first failure is
// returned; later ones are logged.
func (s *Server) Close() error {
	var first error
	if err := s.engines.Close(); err != nil {
		first = errors.Wrap(err, "failed to close docker client")
	}
	if err := s.history.Close(); err != nil {
		err = errors.Wrap(err, "failed to close history store")
		if first == nil {
			first = err
		} else {
			s.logger.Error("close failed", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
	return first
}
