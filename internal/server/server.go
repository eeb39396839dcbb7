// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sorcerer Contributors

// Package server exposes the planner, the agent scheduler and the index
// backends over HTTP, plus a gRPC health service.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	sorcerr "github.com/sorcerer-dev/sorcerer/pkg/errors"
)

// HealthServiceName is the gRPC health service name reported alongside
// the overall ("") status.
const HealthServiceName = "sorcerer.v1.Retrieval"

const shutdownTimeout = 10 * time.Second

// Config holds HTTP and gRPC listener configuration.
type Config struct {
	ListenAddr string
	// GRPCAddr is the gRPC health listener. Empty disables it.
	GRPCAddr     string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimit    RateLimitConfig
	Version      string
	Logger       *slog.Logger
}

// Server wraps a chi router with the huma API, an HTTP server and an
// optional gRPC health server.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
	logger   *slog.Logger
	health   *grpchealth.Server

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Server with every route registered.
func New(cfg Config, svc *Services) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, sorcerr.New(sorcerr.CodeServerConfigInvalid, "listen address is required")
	}
	if svc == nil {
		return nil, sorcerr.New(sorcerr.CodeServerConfigInvalid, "services are required")
	}
	if err := cfg.RateLimit.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Tasks with post-actions can run for minutes.
		cfg.WriteTimeout = 10 * time.Minute
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		services: svc,
		logger:   logger,
		health:   grpchealth.NewServer(),
		done:     make(chan struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))
	r.Use(requestLogger(logger))
	r.Use(rateLimitMiddleware(cfg.RateLimit, logger, s.done))

	humaConfig := huma.DefaultConfig("Sorcerer", cfg.Version)
	humaConfig.Info.Description = "Agent-orchestrated multi-modal retrieval API"
	s.router = r
	s.api = humachi.New(r, humaConfig)
	s.registerRoutes()

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_SERVING)
	return s, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API.
func (s *Server) API() huma.API {
	return s.api
}

// HealthServer returns the gRPC health service so callers can flip the
// serving status.
func (s *Server) HealthServer() *grpchealth.Server {
	return s.health
}

// Start serves HTTP (and gRPC health when configured) until ctx is
// cancelled, then shuts both down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return sorcerr.Errorf(sorcerr.CodeServerStartFailure, "listening on %s: %w", s.cfg.ListenAddr, err)
	}
	var gln net.Listener
	if s.cfg.GRPCAddr != "" {
		gln, err = net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			_ = ln.Close()
			return sorcerr.Errorf(sorcerr.CodeServerStartFailure, "listening on %s: %w", s.cfg.GRPCAddr, err)
		}
	}
	return s.Serve(ctx, ln, gln)
}

// Serve is Start over caller-provided listeners. A nil grpcLn disables the
// gRPC health service.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	var gs *grpc.Server
	if grpcLn != nil {
		gs = grpc.NewServer()
		healthpb.RegisterHealthServer(gs, s.health)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http listening", "addr", httpLn.Addr().String())
		if err := srv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return sorcerr.Errorf(sorcerr.CodeServerStartFailure, "serving http: %w", err)
		}
		return nil
	})
	if gs != nil {
		g.Go(func() error {
			s.logger.Info("grpc health listening", "addr", grpcLn.Addr().String())
			if err := gs.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return sorcerr.Errorf(sorcerr.CodeServerStartFailure, "serving grpc: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		s.health.Shutdown()
		if gs != nil {
			gs.GracefulStop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return sorcerr.Errorf(sorcerr.CodeServerShutdownFailure, "shutting down: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close stops background goroutines owned by the server's middleware.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
