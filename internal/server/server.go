package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/arborhq/arbor/internal/auth"
	"github.com/arborhq/arbor/internal/gendb"
	"github.com/arborhq/arbor/internal/handler"
	"github.com/arborhq/arbor/internal/media"
	"github.com/arborhq/arbor/internal/search"
	"github.com/arborhq/arbor/internal/server/middleware"
	"github.com/arborhq/arbor/internal/tasks"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	DefaultTree     string
	DownloadDir     string
	ImportDir       string

	// DisableRateLimits turns off the per-IP ceilings on sensitive
	// endpoints. Only tests set this.
	DisableRateLimits bool
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            5555,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     64 * 1024 * 1024, // media uploads
		DefaultTree:     "default",
	}
}

// Deps bundles the services the router is built from.
type Deps struct {
	AuthSvc *auth.Service
	Trees   *gendb.Registry
	Storage media.Storage
	Faces   *media.FaceService
	Indexer *search.Indexer
	Runner  tasks.Runner
	Status  tasks.StatusReader // nil without a queue backend
	Logger  *slog.Logger
}

// Server is the top-level HTTP server. It owns the chi router and the
// tree registry's lifecycle on shutdown.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New wires up all routes and middleware and returns a server ready to
// listen.
func New(cfg Config, deps Deps) *Server {
	s := &Server{cfg: cfg, deps: deps, logger: deps.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "If-Match", "X-Requested-With"},
		ExposedHeaders:   []string{"ETag", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))
	if s.cfg.MaxBodySize > 0 {
		r.Use(bodyLimit(s.cfg.MaxBodySize))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	authSvc := s.deps.AuthSvc
	authenticate := middleware.Authenticate(authSvc)
	session := func(r chi.Router) {
		r.Use(authenticate)
		r.Use(middleware.RequireSession)
	}
	strict := middleware.StrictRateLimit()
	if s.cfg.DisableRateLimits {
		strict = func(next http.Handler) http.Handler { return next }
	}

	tokenH := handler.NewTokenHandler(authSvc)
	usersH := handler.NewUsersHandler(authSvc, s.deps.Runner)
	configH := handler.NewConfigHandler(authSvc.Store())
	mediaH := handler.NewMediaHandler(s.deps.Trees, s.deps.Storage, s.deps.Faces, s.deps.Indexer, s.cfg.DefaultTree)
	tasksH := handler.NewTasksHandler(s.deps.Status)
	searchH := handler.NewSearchHandler(s.deps.Runner, s.cfg.DefaultTree)
	dispatchH := handler.NewDispatchHandler(s.deps.Runner, s.cfg.DownloadDir, s.cfg.ImportDir, s.cfg.DefaultTree)

	r.Route("/api", func(r chi.Router) {
		r.With(strict).Post("/token/", tokenH.Create)

		r.Route("/users", func(r chi.Router) {
			// Self-service flows: no session, rate-limited where sensitive.
			r.With(strict).Post("/{username}/register/", usersH.Register)
			r.With(strict).Post("/{username}/password/reset/trigger/", usersH.ResetTrigger)
			r.With(strict, authenticate, middleware.RequireScope(auth.ScopeCreateAdmin)).
				Post("/{username}/create_owner/", usersH.CreateOwner)
			r.Get("/-/confirmation/", usersH.Confirm)
			r.Get("/-/password/reset/", usersH.ResetForm)
			r.With(authenticate, middleware.RequireScope(auth.ScopeResetPassword)).
				Post("/-/password/reset/", usersH.ResetApply)

			// Session-authenticated management.
			r.Group(func(r chi.Router) {
				session(r)
				r.Get("/", usersH.List)
				r.Get("/{username}/", usersH.Get)
				r.Post("/{username}/", usersH.Create)
				r.Put("/{username}/", usersH.Update)
				r.Delete("/{username}/", usersH.Delete)
				r.Post("/{username}/password/change/", usersH.PasswordChange)
			})
		})

		r.Route("/config", func(r chi.Router) {
			session(r)
			r.With(middleware.RequirePermissions(authSvc, auth.PermViewSettings)).Get("/", configH.List)
			r.With(middleware.RequirePermissions(authSvc, auth.PermViewSettings)).Get("/{key}/", configH.Get)
			r.With(middleware.RequirePermissions(authSvc, auth.PermEditSettings)).Put("/{key}/", configH.Set)
			r.With(middleware.RequirePermissions(authSvc, auth.PermEditSettings)).Delete("/{key}/", configH.Delete)
		})

		r.Route("/media", func(r chi.Router) {
			session(r)
			r.Get("/{handle}/file", mediaH.GetFile)
			r.With(middleware.RequirePermissions(authSvc, auth.PermEditObject)).Put("/{handle}/file", mediaH.PutFile)
			r.Get("/{handle}/facedetection", mediaH.FaceDetection)
		})

		r.Group(func(r chi.Router) {
			session(r)
			r.Get("/tasks/{id}", tasksH.Get)
			r.With(middleware.RequirePermissions(authSvc, auth.PermTriggerReindex)).
				Post("/search/reindex/", searchH.Reindex)
			r.Post("/exporters/{format}/file", dispatchH.Export)
			r.Post("/reports/{reportId}/file", dispatchH.Report)
			r.With(middleware.RequirePermissions(authSvc, auth.PermImportFile)).
				Post("/importers/{format}/file", dispatchH.Import)
			r.Get("/downloads/{name}", dispatchH.Download)
		})
	})

	s.router = r
}

// bodyLimit caps request body sizes before they reach the handlers.
func bodyLimit(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, n)
			next.ServeHTTP(w, r)
		})
	}
}

// handleHealthz is a liveness probe.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz reports 200 when the auth database and every open tree
// database are reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string)

	if err := s.deps.AuthSvc.Store().Ping(r.Context()); err != nil {
		checks["auth_db"] = "error: " + err.Error()
		status = "degraded"
	} else {
		checks["auth_db"] = "ok"
	}
	for id, err := range s.deps.Trees.Ping(r.Context()) {
		key := "tree:" + id
		if err != nil {
			checks[key] = "error: " + err.Error()
			status = "degraded"
		} else {
			checks[key] = "ok"
		}
	}

	httpStatus := http.StatusOK
	if status != "ok" {
		httpStatus = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the server and blocks until SIGINT or SIGTERM,
// then drains in-flight requests and closes the tree databases.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.deps.Trees.CloseAll()
	s.logger.Info("server stopped")
	return nil
}

// Router returns the underlying chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
