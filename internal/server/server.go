// Package server is the composition root of the HTTP API: it builds the
// services and handlers on top of a store and an event bus, mounts them on a
// chi router and runs the http.Server with graceful shutdown.
//
// The store and the bus are opened by the caller and handed in; the caller
// also closes them after Run returns.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/questlog/internal/auth"
	"github.com/sakif/questlog/internal/config"
	"github.com/sakif/questlog/internal/events"
	"github.com/sakif/questlog/internal/handler"
	"github.com/sakif/questlog/internal/middleware"
	"github.com/sakif/questlog/internal/repository"
	"github.com/sakif/questlog/internal/service"
)

// Server owns the router and the services behind it.
type Server struct {
	router chi.Router
	cfg    config.ServerConfig
	logger *slog.Logger

	users *service.UserService
	tasks *service.TaskService
}

// New wires the dependency graph:
//
//	store → UserService / TaskService (+ bus) → handlers → routes
//
// cfg must already be validated; New returns an error for settings it
// cannot build from (short JWT secret, bad progression policy).
func New(cfg *config.Config, logger *slog.Logger, store repository.Store, bus events.Publisher) (*Server, error) {
	if err := cfg.ValidateAuth(); err != nil {
		return nil, err
	}
	policy, err := cfg.Progression.Policy()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	passwords := auth.NewPasswordService(cfg.Auth.BcryptCost)

	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg.Server,
		logger: logger,
		users:  service.NewUserService(store, tokens, passwords, policy.Curve, logger),
		tasks:  service.NewTaskService(store, store, policy, bus, logger),
	}
	s.routes(store)
	return s, nil
}

// routes mounts everything.
//
//	GET    /healthz
//	POST   /api/users/register
//	POST   /api/users/login
//	GET    /api/users/leaderboard
//	GET    /api/users/profile        (bearer)
//	PUT    /api/users/profile        (bearer)
//	POST   /api/tasks                (bearer)
//	GET    /api/tasks                (bearer)
//	GET    /api/tasks/stats          (bearer)
//	POST   /api/tasks/reset          (bearer)
//	GET    /api/tasks/{id}           (bearer, owner)
//	PUT    /api/tasks/{id}           (bearer, owner)
//	DELETE /api/tasks/{id}           (bearer, owner)
//
// Middleware runs in the order added: request id, real ip, logging, panic
// recovery, then the per-request timeout.
func (s *Server) routes(store repository.Store) {
	r := s.router
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(chimiddleware.Timeout(s.cfg.RequestTimeout))
	}

	health := handler.NewHealthHandler(store, s.logger)
	users := handler.NewUserHandler(s.users, s.logger)
	tasks := handler.NewTaskHandler(s.tasks, s.logger)
	requireAuth := auth.RequireAuth(s.users)

	r.Get("/healthz", health.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/users", func(r chi.Router) {
			r.Post("/register", users.HandleRegister)
			r.Post("/login", users.HandleLogin)
			r.Get("/leaderboard", users.HandleLeaderboard)

			r.With(requireAuth).Get("/profile", users.HandleProfile)
			r.With(requireAuth).Put("/profile", users.HandleUpdateProfile)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/", tasks.HandleCreate)
			r.Get("/", tasks.HandleList)
			r.Get("/stats", tasks.HandleStats)
			r.Post("/reset", tasks.HandleReset)
			r.Get("/{id}", tasks.HandleGet)
			r.Put("/{id}", tasks.HandleUpdate)
			r.Delete("/{id}", tasks.HandleDelete)
		})
	})
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens on the configured port until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("server: listening on port %d: %w", s.cfg.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then stops
// accepting and gives in-flight requests up to ShutdownTimeout to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", slog.String("addr", ln.Addr().String()))
		serverErrors <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutting down", slog.Duration("timeout", s.shutdownTimeout()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		<-serverErrors
		s.logger.Info("server stopped gracefully")
		return nil
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return 30 * time.Second
}
