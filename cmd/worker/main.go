// Package main provides the entrypoint for the transitopt worker: Pub/Sub
// driven optimizations and scenario sweeps plus scheduled model retraining.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/app"
	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/database"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/telemetry"
	"github.com/transitopt/transitopt/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "transitopt-worker"

	_ = godotenv.Load()

	log := app.NewLogger(os.Stdout, serviceName, Version)

	log.Info().Str("build_time", BuildTime).Msg("starting transitopt worker")

	if err := run(log, serviceName); err != nil {
		log.Fatal().Err(err).Msg("worker failed")
	}
	log.Info().Msg("worker stopped")
}

func run(log zerolog.Logger, serviceName string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings, err := config.FromEnv()
	if err != nil {
		return err
	}

	tp, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, Version))
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

	var pool *pgxpool.Pool
	if database.Configured() {
		pool, err = database.Connect(ctx, database.ConfigFromEnv())
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	meter := tp.Meter
	a, err := app.New(ctx, app.Options{Settings: settings, Pool: pool, Meter: meter, Logger: log})
	if err != nil {
		return err
	}

	runs, err := telemetry.NewRunMetrics(meter)
	if err != nil {
		return err
	}
	sweep := worker.NewSweepJob(worker.SweepJobConfig{
		Config:  worker.SweepConfigFrom(settings.Sweep),
		Planner: a.Planner,
		Metrics: runs,
		Logger:  log,
	})
	jobs := worker.NewJobs(worker.JobsConfig{Planner: a.Planner, Sweep: sweep, Logger: log})

	scheduler, err := worker.NewScheduler(worker.SchedulerConfig{
		Spec:    settings.Demand.RetrainCron,
		Trainer: trainer(a.Planner),
		Logger:  log,
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() { <-scheduler.Stop().Done() }()

	if !a.ModelLoaded && os.Getenv("TRAIN_ON_START") == "true" {
		go func() { _ = scheduler.Run(ctx) }()
	}

	errs := make(chan error, 2)

	project, subscription := os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("PUBSUB_SUBSCRIPTION")
	if project != "" && subscription != "" {
		handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        project,
			SubscriptionName: subscription,
			Jobs:             jobs,
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer func() { _ = handler.Close() }()
		go func() {
			if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- err
			}
		}()
	} else {
		log.Warn().Msg("PUBSUB_SUBSCRIPTION not set, only scheduled retraining runs")
	}

	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8080"
	}
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      healthMux(a.Planner, sweep),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errs:
		return err
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func trainer(p *planner.Service) worker.Trainer {
	return worker.TrainerFunc(func(ctx context.Context) error {
		_, err := p.TrainModel(ctx)
		return err
	})
}

// healthMux serves the liveness endpoint polled by the platform.
func healthMux(p *planner.Service, sweep *worker.SweepJob) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := p.Ready(); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"version": Version,
			"model":   p.ModelStatus(),
			"sweeps":  sweep.MetricsSnapshot(),
		})
	})
	return mux
}
