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

	"github.com/joho/godotenv"

	"github.com/pulsekit/fitvault/internal/api"
	"github.com/pulsekit/fitvault/internal/config"
	"github.com/pulsekit/fitvault/internal/crypto"
	"github.com/pulsekit/fitvault/internal/database"
	"github.com/pulsekit/fitvault/internal/jobs"
	"github.com/pulsekit/fitvault/internal/providers"
	"github.com/pulsekit/fitvault/internal/store"
	"github.com/pulsekit/fitvault/internal/vault"
)

func main() {
	// Load .env for development; in production the environment is real.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Token encryption engine; the master key is read once and never
	// mutated at runtime.
	engine, err := crypto.NewEngine(cfg.Encryption.ActiveKeyID, cfg.Encryption.ActiveKey, cfg.Encryption.RetiredKeys)
	if err != nil {
		log.Fatalf("Failed to initialize encryption engine: %v", err)
	}

	// Provider adapters
	creds := make(map[string]providers.Credentials, len(cfg.Providers))
	for name, c := range cfg.Providers {
		creds[name] = providers.Credentials{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURI:  c.RedirectURI,
		}
	}
	registry := providers.NewRegistry(creds)
	log.Printf("Configured providers: %v", registry.Names())

	// Refresh lock backend: in-process for single node, postgres advisory
	// locks when replicas share the database.
	var locker vault.ConnectionLocker
	switch cfg.LockBackend {
	case "postgres":
		locker = vault.NewAdvisoryLocker(sqlDB)
	default:
		locker = vault.NewMemoryLocker()
	}

	gormStore := store.NewGormStore(db)
	flow := vault.NewFlow(registry, gormStore, gormStore, engine, []byte(cfg.ServiceJWTSecret))
	coordinator := vault.NewCoordinator(gormStore, registry, engine, locker)

	// Initialize job scheduler
	scheduler := jobs.NewScheduler(gormStore, gormStore)
	scheduler.Start()
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, flow, coordinator)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
