// Package api provides the ShopPipe admin HTTP server.
//
// It exposes read access to customer sessions and a few operator actions: deleting
// a session, handing a session back to the bot, and running the inactivity sweep
// on demand. The server sits on the session store and sweeper used by the
// message router.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ShopPipe/internal/models"
	"github.com/BTreeMap/ShopPipe/internal/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// Server defaults.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
)

// Opts holds configuration options for the admin server.
type Opts struct {
	Addr          string
	ContextBudget int
}

// Option defines a configuration option for the admin server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithContextBudget sets the default token budget of the context endpoint.
func WithContextBudget(tokens int) Option {
	return func(o *Opts) {
		o.ContextBudget = tokens
	}
}

// Server serves the admin API.
type Server struct {
	store   *session.Store
	sweeper *session.Sweeper
	addr    string
	budget  int
	started time.Time
}

// NewServer creates a Server over st and sweeper.
func NewServer(st *session.Store, sweeper *session.Sweeper, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr, ContextBudget: models.DefaultContextTokenBudget}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ContextBudget <= 0 {
		cfg.ContextBudget = models.DefaultContextTokenBudget
	}
	return &Server{
		store:   st,
		sweeper: sweeper,
		addr:    cfg.Addr,
		budget:  cfg.ContextBudget,
		started: st.Now(),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(DefaultRequestTimeout))

	r.Get("/health", s.healthHandler)
	r.Post("/sweep", s.sweepHandler)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessionsHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Delete("/", s.deleteSessionHandler)
			r.Get("/context", s.sessionContextHandler)
			r.Post("/release", s.releaseSessionHandler)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Admin API listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			slog.Error("Admin API server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Admin API shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Admin API shutdown failed", "error", err)
		return err
	}
	return nil
}
