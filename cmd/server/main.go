package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/execbox/api/internal/config"
	"github.com/execbox/api/internal/handler"
	"github.com/execbox/api/internal/lint"
	"github.com/execbox/api/internal/middleware"
	"github.com/execbox/api/internal/runtime"
	"github.com/execbox/api/internal/sandbox"
	"github.com/execbox/api/internal/session"
	"github.com/execbox/api/internal/web"
	"github.com/execbox/api/internal/workspace"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	// Set up logging
	logger := logrus.New()
	logger.SetLevel(cfg.GetLogLevel())
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logger.Info("Starting ExecBox API Server")

	// Ensure data directories exist
	if err := ensureDataDirectories(cfg); err != nil {
		logger.WithError(err).Fatal("Failed to create data directories")
	}

	// Discover tool runtimes
	runtimeManager := runtime.NewManager(cfg)
	runtimeManager.DiscoverRuntimes(context.Background())

	// Initialize the execution manager
	backend, err := sandbox.NewBackend(cfg.IsolationBackend, cfg.WorkerPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize isolation backend")
	}
	logger.Infof("Using %s isolation backend", backend.Name())

	executor := sandbox.NewManager(cfg, backend, lint.NewRunner(cfg.RuffPath))

	// Initialize the web and workspace services
	webService := web.NewService(cfg)
	workspaceService := workspace.NewService(cfg)

	// Start the raw session listener
	var sessions *session.Listener
	if cfg.SessionEnabled {
		sessions = session.NewListener(cfg)
		if err := sessions.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start session listener")
		}
	}

	// Initialize handlers
	h := handler.NewHandler(cfg, executor, webService, workspaceService, sessions, logger)

	// Set up router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS())
	// Limit POST body size
	r.Use(middleware.BodyLimit(cfg.RequestBodyLimit))

	// Execute requests may legitimately run for the full permitted timeout
	executeTimeout := time.Duration(cfg.MaxTimeout+30) * time.Second

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// JSON middleware for JSON POST routes with different timeouts per group
		r.Group(func(r chi.Router) {
			r.Use(middleware.JSON)
			// Long timeout group (execute)
			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(executeTimeout))
				r.Post("/execute", h.ExecuteCode)
			})
			// Short timeout group (web and workspace)
			r.Group(func(r chi.Router) {
				r.Use(chiMiddleware.Timeout(60 * time.Second))
				r.Post("/fetch", h.Fetch)
				r.Post("/links", h.Links)
				r.Route("/workspace", func(r chi.Router) {
					r.Post("/tree", h.WorkspaceTree)
					r.Post("/read", h.WorkspaceRead)
					r.Post("/write", h.WorkspaceWrite)
					r.Post("/git", h.WorkspaceGit)
				})
			})
		})

		// GET routes
		r.Get("/runtimes", h.GetRuntimes)
	})

	// WebSocket terminal bridge (no JSON middleware)
	r.HandleFunc("/connect", h.HandleWebSocket)

	// Root route
	r.Get("/", h.GetVersion)

	// Health check
	r.Get("/health", h.Health)

	// Create HTTP server
	server := &http.Server{
		Addr:    cfg.GetBindAddress(),
		Handler: r,
		// Security settings
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      executeTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("API server starting on %s", cfg.GetBindAddress())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown server
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Kill every live shell session before exiting
	if sessions != nil {
		if err := sessions.Shutdown(ctx); err != nil {
			logger.WithError(err).Error("Session listener forced to shutdown")
		}
	}

	logger.Info("Server exited")
}

// ensureDataDirectories ensures that all required data directories exist
func ensureDataDirectories(cfg *config.Config) error {
	directories := []string{
		cfg.DataDirectory,
		cfg.WorkspaceDirectory,
	}

	for _, dir := range directories {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
