// sovdserver is the SOVD command execution backend: it binds the REST/
// WebSocket API, the persistence gateway, the PostgreSQL-backed event bus,
// and the per-command orchestrator into one running process.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sovd/cmdexec/pkg/api"
	"github.com/sovd/cmdexec/pkg/authn"
	"github.com/sovd/cmdexec/pkg/config"
	"github.com/sovd/cmdexec/pkg/connector"
	"github.com/sovd/cmdexec/pkg/database"
	"github.com/sovd/cmdexec/pkg/events"
	"github.com/sovd/cmdexec/pkg/queue"
	"github.com/sovd/cmdexec/pkg/ratelimit"
	"github.com/sovd/cmdexec/pkg/services"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("warning: could not load %s: %v (continuing with existing environment)", *envFile, err)
	}

	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to database", "host", cfg.Database.Host, "database", cfg.Database.Database)

	vehicles := services.NewVehicleService(dbClient.Client)
	commands := services.NewCommandService(dbClient.Client)
	responses := services.NewResponseService(dbClient.Client)
	audit := services.NewAuditService(dbClient.Client)
	eventService := services.NewEventService(dbClient.Client)

	publisher := events.NewEventPublisher(dbClient.DB())
	connections := events.NewConnectionManager(events.NewEventServiceAdapter(eventService), 10*time.Second)

	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port,
		cfg.Database.Database, cfg.Database.SSLMode)
	listener := events.NewNotifyListener(connString, connections)
	if err := listener.Start(ctx); err != nil {
		log.Fatalf("failed to start notify listener: %v", err)
	}
	defer listener.Stop(context.Background())
	connections.SetListener(listener)

	connectors := connector.NewDefaultRegistry()
	dispatcher := queue.NewDispatcher(commands, responses, audit, publisher, connectors, cfg.CommandTimeout)

	verifier := authn.NewVerifier(cfg.JWTSecret)
	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	defer limiter.Stop()

	server := api.NewServer(vehicles, commands, responses, dispatcher, connections, verifier, limiter)
	router := server.Router()

	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("listening", "addr", cfg.ServerAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
	}
}

// setupLogging picks JSON logs for production (structured, grep/ingest
// friendly) and human-readable text for local development, with debug-level
// verbosity whenever APP_ENV isn't "production".
func setupLogging() {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	var handler slog.Handler
	if getEnv("APP_ENV", "development") == "production" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
