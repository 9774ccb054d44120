// Package main provides the entrypoint for the transitopt API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/api"
	"github.com/transitopt/transitopt/internal/api/handler"
	"github.com/transitopt/transitopt/internal/api/middleware"
	"github.com/transitopt/transitopt/internal/app"
	"github.com/transitopt/transitopt/internal/auth"
	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/database"
	"github.com/transitopt/transitopt/internal/provider/resilience"
	"github.com/transitopt/transitopt/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "transitopt-api"

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	log := app.NewLogger(os.Stdout, serviceName, Version)

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting transitopt API")

	if err := run(log, serviceName); err != nil {
		log.Fatal().Err(err).Msg("api server failed")
	}
	log.Info().Msg("server stopped")
}

func run(log zerolog.Logger, serviceName string) error {
	ctx := context.Background()

	settings, err := config.FromEnv()
	if err != nil {
		return err
	}

	telCfg := telemetry.ConfigFromEnv(serviceName, Version)
	tp, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if telCfg.Enabled {
		log.Info().Str("otlp_endpoint", telCfg.OTLPEndpoint).Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return err
	}

	var (
		pool   *pgxpool.Pool
		checks []handler.Check
	)
	if database.Configured() {
		dbConfig := database.ConfigFromEnv()
		pool, err = database.Connect(ctx, dbConfig)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
		checks = append(checks, handler.Check{Name: "database", Probe: pool.Ping})
	}

	a, err := app.New(ctx, app.Options{
		Settings: settings,
		Pool:     pool,
		Meter:    tp.Meter,
		Logger:   log,
	})
	if err != nil {
		return err
	}
	checks = append(checks, handler.Check{Name: "feed_source", Probe: sourcesProbe(a.Sources)})

	signingKey := os.Getenv("JWT_SIGNING_KEY")
	if signingKey == "" {
		signingKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	tokens := auth.NewJWTService(auth.JWTConfig{
		SigningKey: signingKey,
		Issuer:     "transitopt",
		Audience:   serviceName,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Planner:     a.Planner,
		Tokens:      tokens,
		RequireTLS:  os.Getenv("REQUIRE_TLS") == "true",
		Checks:      checks,
	})

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	// Optimizations may use the whole solver budget before answering.
	writeTimeout := settings.Timeout() + 15*time.Second
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return err
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sourcesProbe fails while the breaker of a remote feed source is open.
func sourcesProbe(registry *resilience.Registry) func(context.Context) error {
	return func(context.Context) error {
		for _, h := range registry.Health() {
			if !h.Healthy() {
				return errors.New(h.Name + " circuit " + h.State)
			}
		}
		return nil
	}
}
