/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the tuition pricing and reconciliation server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire the pricing engine and reconciliation service
  4. Optionally seed the standard rate table
  5. Start the sweep scheduler and HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port        HTTP server port (default: 8080, env PORT)
  -db          SQLite database path (default: tuition.db, env DATABASE_PATH)
               Use ":memory:" for an in-memory database
  -seed        Seed the standard rate table effective today
  -sweep       Cron spec for the reconciliation sweep (default: nightly)
  -workers     Batch reconciliation concurrency (default: 8)
  -log-level   logrus level: debug, info, warn, error (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database, seeded rates
  ./server -db="./data/tuition.db" -seed

  # Run with in-memory database
  ./server -db=":memory:" -seed

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Scheduled sweeps
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

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/warp/tuition-engine/api"
	"github.com/warp/tuition-engine/factory"
	"github.com/warp/tuition-engine/pricing"
	"github.com/warp/tuition-engine/reconcile"
	"github.com/warp/tuition-engine/store/sqlite"
)

func main() {
	// .env is optional; flags beat env, env beats defaults.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "tuition.db"), "SQLite database path")
	seed := flag.Bool("seed", false, "seed the standard rate table effective today")
	sweepSpec := flag.String("sweep", envStr("SWEEP_SPEC", ""), "cron spec for the reconciliation sweep")
	workers := flag.Int("workers", envInt("RECONCILE_WORKERS", 8), "batch reconciliation concurrency")
	logLevel := flag.String("log-level", envStr("LOG_LEVEL", "info"), "log level")
	flag.Parse()

	log := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(level)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Pricing engine: cached policy store, tier resolvers backed by the
	// live registrar counts and the tier-lock table.
	policies := pricing.NewPolicyCache(store.Policies(), 512, 5*time.Minute)
	senior := pricing.NewSeniorProjectTierResolver(store)
	reading := pricing.NewReadingClassTierResolver(store, store.TierLocks())
	engine := pricing.NewEngine(policies, senior, reading)

	thresholds := pricing.DefaultThresholds()
	service := reconcile.NewService(engine, store, store.Results(), store.Adjustments(), thresholds, log)
	runner := reconcile.NewBatchRunner(service, *workers, log)

	if *seed {
		f := factory.NewPolicyFactory()
		if err := f.Seed(context.Background(), policies, f.StandardRates(pricing.Today())); err != nil {
			log.Fatalf("Failed to seed rate table: %v", err)
		}
		log.Info("standard rate table seeded")
	}

	handler := api.NewHandler(log)
	handler.Engine = engine
	handler.Service = service
	handler.Runner = runner
	handler.Policies = policies
	handler.Directory = store
	handler.Payments = store
	handler.Results = store.Results()
	handler.Adjustments = store.Adjustments()
	handler.Runs = store

	scheduler := api.NewSweepScheduler(handler, *sweepSpec, log)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start sweep scheduler: %v", err)
	}

	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Info("server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}
