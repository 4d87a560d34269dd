/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Makos credit engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire reconciler, refresher, and API handler
  4. Configure HTTP router and start the refresh scheduler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: credits.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  JWT_SECRET              HS256 secret shared with the auth service (required)
  BILLING_WEBHOOK_SECRET  HMAC secret for webhook signatures (required)
  REFRESH_TOKEN           Bearer secret for the admin endpoints (required)
  BILLING_API_URL         Payment provider base URL (default: https://api.billing.example.com)
  BILLING_API_KEY         Payment provider API key
  CORS_ORIGINS            Comma-separated allowed origins (default: http://localhost:3000)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the refresh scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/credits.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/makos-ai/credit-engine/api"
	"github.com/makos-ai/credit-engine/billing"
	"github.com/makos-ai/credit-engine/ledger"
	"github.com/makos-ai/credit-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments inject environment directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}

	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "credits.db", "SQLite database path")
	flag.Parse()

	jwtSecret := mustEnv("JWT_SECRET")
	webhookSecret := mustEnv("BILLING_WEBHOOK_SECRET")
	refreshToken := mustEnv("REFRESH_TOKEN")

	billingURL := envOr("BILLING_API_URL", "https://api.billing.example.com")
	billingKey := os.Getenv("BILLING_API_KEY")
	origins := strings.Split(envOr("CORS_ORIGINS", "http://localhost:3000"), ",")

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire dependencies
	provider := billing.NewHTTPProvider(billingURL, billingKey)
	reconciler := billing.NewReconciler(store, store, provider)
	handler := api.NewHandler(store, ledger.NewLedger(store), reconciler, api.Config{
		WebhookSecret: webhookSecret,
		RefreshToken:  refreshToken,
	})
	verifier := api.NewVerifier(jwtSecret)

	// Create router
	router := api.NewRouter(handler, verifier, origins)

	// Background monthly refresh
	scheduler := api.NewRefreshScheduler(handler)
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("%s must be set", key)
	}
	return v
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
