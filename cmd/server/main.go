// Command server runs the command console websocket and REST API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/ashureev/commanddeck/internal/api"
	"github.com/ashureev/commanddeck/internal/command"
	"github.com/ashureev/commanddeck/internal/config"
	"github.com/ashureev/commanddeck/internal/gateway"
	"github.com/ashureev/commanddeck/internal/identity"
	"github.com/ashureev/commanddeck/internal/middleware"
	"github.com/ashureev/commanddeck/internal/retention"
	"github.com/ashureev/commanddeck/internal/session"
	"github.com/ashureev/commanddeck/internal/shared"
	"github.com/ashureev/commanddeck/internal/store"
)

const limiterEvictionInterval = time.Minute

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.IsDevelopment() {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	verifier, err := identity.NewJWTVerifier(identity.JWTConfig{
		Secret:        cfg.Auth.JWTSecret,
		PublicKeyFile: cfg.Auth.JWTPublicKeyFile,
		Issuer:        cfg.Auth.Issuer,
		Audience:      cfg.Auth.Audience,
		TokenUse:      cfg.Auth.TokenUse,
	})
	if err != nil {
		slog.Error("Failed to initialize token verifier", "error", err)
		os.Exit(1)
	}

	gw := gateway.NewHTTP(gateway.Endpoints{
		CatFact:     cfg.Gateway.CatFactURL,
		ChuckNorris: cfg.Gateway.ChuckNorrisURL,
		Bored:       cfg.Gateway.BoredURL,
		GitHub:      cfg.Gateway.GitHubURL,
		Dictionary:  cfg.Gateway.DictionaryURL,
		OpenMeteo:   cfg.Gateway.OpenMeteoURL,
	}, cfg.Gateway.Timeout, cfg.Gateway.UserAgent)

	dispatcher := command.NewDispatcher(repo, gw, command.Config{
		Timeout:            cfg.Session.CommandTimeout,
		DefaultWeatherCity: cfg.Session.DefaultWeatherCity,
	})
	pipeline := session.NewPipeline(dispatcher, repo, session.PipelineConfig{
		StepDelay: cfg.Session.ProcessingStepDelay,
	})
	hub := session.NewHub(0, cfg.Session.WriteTimeout)

	commandLimiter := shared.NewKeyedLimiter(cfg.RateLimit.CommandsPerSecond, cfg.RateLimit.CommandBurst)
	httpLimiter := shared.NewKeyedLimiter(cfg.RateLimit.HTTPPerSecond, cfg.RateLimit.HTTPBurst)

	origins := cfg.AllowedOrigins
	if cfg.FrontendURL != "" {
		origins = append([]string{cfg.FrontendURL}, origins...)
	}

	wsHandler := session.NewHandler(verifier, repo, pipeline, hub, commandLimiter, session.HandlerConfig{
		AllowedOrigins: origins,
		Dev:            cfg.IsDevelopment(),
		MailboxSize:    cfg.Session.MailboxSize,
		WriteTimeout:   cfg.Session.WriteTimeout,
	})
	restHandler := api.NewHandler(repo, hub)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))

	restHandler.RegisterRoutes(r,
		identity.Middleware(verifier, repo),
		middleware.RateLimit(httpLimiter),
	)
	r.Get("/ws", wsHandler.ServeHTTP)

	// No WriteTimeout: websocket connections are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go hub.Run(ctx)
	commandLimiter.StartEviction(ctx, limiterEvictionInterval)
	httpLimiter.StartEviction(ctx, limiterEvictionInterval)
	retention.StartWorker(ctx, repo, cfg.Retention.ChatRetention, cfg.Retention.Interval)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...", "sessions", hub.Count())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Notify(shutdownCtx, "Server is shutting down", "warning")
	hub.CloseAll("server shutdown")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
