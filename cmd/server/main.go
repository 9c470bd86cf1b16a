/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the storefront server. Handles configuration,
  dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Build the zap logger
  3. Open the SQLite store
  4. Wire webhook, bank-watcher, emitter, engines
  5. Configure HTTP router and start the charge sweeper
  6. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the charge sweeper
  4. Close the database connection
  5. Exit

EXAMPLES:
  # Run with file database
  DB_PATH=./data/store.db ./server

  # Run with in-memory database on another port
  DB_PATH=":memory:" PORT=3000 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/keyspot/storefront/api"
	"github.com/keyspot/storefront/config"
	"github.com/keyspot/storefront/engine"
	"github.com/keyspot/storefront/notify"
	"github.com/keyspot/storefront/store/sqlite"
)

func main() {
	cfg := config.Load()

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// Store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		sugar.Fatalw("failed to initialize database", "path", cfg.DBPath, "error", err)
	}
	defer store.Close()

	// Side channels
	webhook := notify.NewWebhook(cfg.DiscordWebhook, "storefront", logger)
	watcher := notify.NewBankWatcherClient(cfg.AOSServerURL, cfg.PushbulletToken, logger)
	emitter := notify.NewEmitter(store, webhook, cfg.BaseURL, logger)

	// Engines
	purchases := engine.NewPurchaseEngine(store, emitter, sugar)
	charges := engine.NewChargeEngine(store, emitter, watcher, cfg.MinChargeAmount, sugar)

	// HTTP
	auth := api.NewAuth(cfg.JWTSecret)
	handler := api.NewHandler(store, purchases, charges, auth, cfg.AdminPassword, sugar)
	router := api.NewRouter(handler)

	sweeper := api.NewChargeSweeper(charges, cfg.ChargeTTL, cfg.SweepInterval, sugar)
	sweeper.Start()
	defer sweeper.Stop()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sugar.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		sugar.Fatalw("server forced to shutdown", "error", err)
	}

	sugar.Info("server stopped")
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
