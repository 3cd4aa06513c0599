/*
main.go - Leave server entry point

PURPOSE:
  Serves the leave workflow over HTTP for remote handshake engines.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env and LEAVE_* variables, then parse flags
  2. Initialize logger and SQLite store (migrations run on open)
  3. Create service, token issuer, and API handler
  4. Optionally load a demo scenario (-seed)
  5. Start the expiry scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: LEAVE_PORT or 8080)
  -db      SQLite database path (default: LEAVE_DB_PATH or leave.db)
           Use ":memory:" for in-memory database
  -seed    Demo scenario to load on start (e.g. "school")

  The /api/scenarios routes are mounted only when LEAVE_ENV is not
  "production". Loading or resetting needs a Principal token.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the expiry scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Run with file database
  LEAVE_JWT_SECRET=dev ./server -db="./data/leave.db"

  # Run in memory with the demo school and print tokens
  LEAVE_JWT_SECRET=dev ./server -db=":memory:" -seed=school

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/auth"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/logging"
	"github.com/warp/leave-engine/store/sqlite"
	"github.com/warp/leave-engine/workflow"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seed := flag.String("seed", "", "Demo scenario to load on start")
	flag.Parse()

	logger := logging.Must(cfg.Env)
	defer logger.Sync()

	if err := cfg.RequireSecret(); err != nil {
		logger.Fatal("Refusing to start", zap.Error(err))
	}

	// Initialize store
	store, err := sqlite.New(*dbPath, sqlite.WithLogger(logger))
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	svc := workflow.NewService(store, logger)
	handler := api.NewHandler(svc, auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL), logger)

	if *seed != "" {
		resp, err := handler.Load(context.Background(), *seed)
		if err != nil {
			logger.Fatal("Failed to load scenario", zap.String("scenario", *seed), zap.Error(err))
		}
		for _, u := range resp.Users {
			logger.Info("Demo token",
				zap.String("user", u.ID),
				zap.String("role", string(u.Role)),
				zap.String("token", resp.Tokens[u.ID]))
		}
	}

	scheduler := api.NewExpiryScheduler(svc, logger)
	scheduler.CheckInterval = cfg.ExpiryCheck
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      api.NewRouter(handler, api.WithScenarios(!cfg.IsProduction())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server starting",
			zap.String("url", fmt.Sprintf("http://localhost:%d", *port)),
			zap.String("env", cfg.Env),
			zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
