// Package server exposes a bonds.Processor over HTTP for local simulation
// and integration testing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/bonds/api/pkg/metrics"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	limiter *RateLimiter
	handler http.Handler
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate server config: %w", err)
	}
	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	s.handler = s.routes()
	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}
	metrics.BuildInfo.WithLabelValues(cfg.VersionInfo.Version, cfg.VersionInfo.Commit, cfg.VersionInfo.Date).Set(1)
	return s, nil
}

// Handler returns the router, for serving without Run.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(middleware.Recoverer)
	if s.cfg.Sentry {
		r.Use(sentryhttp.New(sentryhttp.Options{Repanic: true}).Handle)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.healthzHandler)
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.limiter.Middleware)

		r.Post("/transactions", s.postTransaction)
		r.Get("/admin", s.getAdmin)
		r.Get("/users/{wallet}", s.getUser)
		r.Get("/users/{wallet}/bonds", s.listBonds)
		r.Get("/users/{wallet}/bonds/{index}", s.getBond)
		if s.cfg.Activity != nil {
			r.Get("/users/{wallet}/activity", s.getActivity)
		}
		r.Get("/accounts/{address}", s.getAccount)
		r.Get("/token-accounts/{address}", s.getTokenAccount)
		if s.cfg.Faucet {
			r.Post("/faucet", s.postFaucet)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "NotFound", Message: "no route for " + r.URL.Path})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "MethodNotAllowed", Message: r.Method + " not allowed"})
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	go s.limiter.Run(ctx)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write healthz response", "error", err)
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Ready != nil {
		if err := s.cfg.Ready(r.Context()); err != nil {
			s.log.Debug("readyz: not ready", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := w.Write([]byte("not ready\n")); err != nil {
				s.log.Error("failed to write readyz response", "error", err)
			}
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cfg.VersionInfo)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("server: failed to write response", "status", status, "error", err)
	}
}
