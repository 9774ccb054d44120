// Package app assembles the planner and its collaborators from configuration.
// Both the API server and the worker start from New.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/modelstore"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/provider/resilience"
	"github.com/transitopt/transitopt/internal/results"
	"github.com/transitopt/transitopt/internal/telemetry"
)

// Options holds what New needs beyond the settings.
type Options struct {
	Settings config.Config

	// Pool backs the result and model stores. Nil keeps both in memory.
	Pool *pgxpool.Pool

	// Meter records run metrics. Optional.
	Meter metric.Meter

	// FeedTimeout bounds loading the transit feed. Default: 2 minutes
	FeedTimeout time.Duration

	Logger zerolog.Logger
}

// App is the assembled pipeline.
type App struct {
	Planner *planner.Service

	// Sources tracks the health of remote feed downloads.
	Sources *resilience.Registry

	// ModelLoaded reports whether a stored demand model was published at
	// startup.
	ModelLoaded bool
}

// New loads the feed, wires the stores and the demand predictor and
// publishes the latest stored model.
func New(ctx context.Context, opts Options) (*App, error) {
	s := opts.Settings
	log := opts.Logger

	timeout := opts.FeedTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	registry := resilience.NewRegistry()
	src := feed.Source{
		Location: s.Feed.Location,
		Downloader: resilience.NewClient(resilience.ClientConfig{
			Name:     "gtfs",
			Registry: registry,
			Logger:   log,
		}),
		Logger: log,
	}
	feedCtx, cancel := context.WithTimeout(ctx, timeout)
	f, err := src.Fetch(feedCtx)
	cancel()
	if err != nil {
		return nil, err
	}

	var (
		resultRepo results.Repository
		modelRepo  modelstore.Repository
	)
	if opts.Pool != nil {
		resultRepo = results.NewPostgresRepository(opts.Pool)
		modelRepo = modelstore.NewPostgresRepository(opts.Pool)
	} else {
		log.Warn().Msg("no database configured, results and models are kept in memory")
		resultRepo = results.NewInMemoryRepository()
		modelRepo = modelstore.NewInMemoryRepository()
	}

	var runs *telemetry.RunMetrics
	if opts.Meter != nil {
		if runs, err = telemetry.NewRunMetrics(opts.Meter); err != nil {
			return nil, err
		}
	}

	predictor := demand.NewPredictor(demand.PredictorConfig{
		Features: FeatureConfig(s.Demand, f),
		Catalog:  demand.FeedCatalog{Feed: f},
		Manager: demand.NewModelManager(demand.ManagerConfig{
			Name:   s.Demand.ModelName,
			Store:  modelRepo,
			Logger: log,
		}),
		Workers:  s.Demand.Workers,
		MaxUnits: s.Demand.MaxNetworkUnits,
		Logger:   log,
	})

	svc := planner.NewService(planner.ServiceConfig{
		Settings:  s,
		Feed:      f,
		Predictor: predictor,
		Results:   resultRepo,
		Metrics:   runs,
		Logger:    log,
	})

	loaded, err := svc.LoadModel(ctx)
	if err != nil {
		return nil, err
	}
	if !loaded {
		log.Info().Msg("no stored demand model, predictions need training first")
	}

	return &App{Planner: svc, Sources: registry, ModelLoaded: loaded}, nil
}

// FeatureConfig maps the demand settings onto the training configuration.
// When the feed has a service calendar, training samples must fall within
// it; the last calendar date is included up to midnight.
func FeatureConfig(c config.DemandConfig, f *feed.Feed) demand.FeatureConfig {
	fc := demand.FeatureConfig{
		MinSamples:      c.MinSamples,
		Folds:           c.Folds,
		HoldoutFraction: c.HoldoutFraction,
		Seed:            c.Seed,
	}
	if f == nil {
		return fc
	}
	if from, to, ok := f.ServiceRange(); ok {
		fc.ValidFrom = from
		fc.ValidTo = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return fc
}
