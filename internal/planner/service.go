package planner

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/geo"
	"github.com/transitopt/transitopt/internal/results"
	"github.com/transitopt/transitopt/internal/routeopt"
	"github.com/transitopt/transitopt/internal/scheduleopt"
	"github.com/transitopt/transitopt/internal/telemetry"
)

const tracerName = "github.com/transitopt/transitopt/internal/planner"

// ErrNoFeed is returned when the service runs without a transit feed.
var ErrNoFeed = errors.New("no transit feed loaded")

// ServiceConfig holds the collaborators of the planner service.
type ServiceConfig struct {
	Settings config.Config
	Feed     *feed.Feed

	// Geo builds distance matrices (default: a service from Settings).
	Geo *geo.Service

	// Predictor serves demand estimates. Required.
	Predictor *demand.Predictor

	// Results stores run outcomes (default: in-memory).
	Results results.Repository

	// Metrics records runs. Optional.
	Metrics *telemetry.RunMetrics

	// Now is the clock (default: time.Now).
	Now func() time.Time

	Logger zerolog.Logger
}

// Service is the optimization pipeline.
type Service struct {
	settings  config.Config
	feed      *feed.Feed
	geo       *geo.Service
	predictor *demand.Predictor
	routes    *routeopt.NetworkOptimizer
	schedules *scheduleopt.Optimizer
	results   results.Repository
	metrics   *telemetry.RunMetrics
	tracer    trace.Tracer
	now       func() time.Time
	logger    zerolog.Logger
}

// NewService creates the planner service.
func NewService(cfg ServiceConfig) *Service {
	s := cfg.Settings
	g := cfg.Geo
	if g == nil {
		g = geo.NewService(geo.ServiceConfig{
			AverageSpeedKmh: s.Routes.AverageSpeedKmh,
			CacheSize:       s.Cache.MatrixSize,
			CacheTTL:        s.Cache.MatrixTTL(),
			Logger:          cfg.Logger,
		})
	}
	repo := cfg.Results
	if repo == nil {
		repo = results.NewInMemoryRepository()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	routeOpt := routeopt.NewOptimizer(routeopt.OptimizerConfig{
		DefaultTimeout: s.Timeout(),
		Logger:         cfg.Logger,
	})

	return &Service{
		settings:  s,
		feed:      cfg.Feed,
		geo:       g,
		predictor: cfg.Predictor,
		routes: routeopt.NewNetworkOptimizer(routeOpt, routeopt.NetworkConfig{
			Workers: s.Routes.Workers,
			Logger:  cfg.Logger,
		}),
		schedules: scheduleopt.NewOptimizer(scheduleopt.OptimizerConfig{
			DefaultTimeout: s.Timeout(),
			Logger:         cfg.Logger,
		}),
		results: repo,
		metrics: cfg.Metrics,
		tracer:  otel.Tracer(tracerName),
		now:     now,
		logger:  cfg.Logger,
	}
}

// Settings returns the pipeline configuration.
func (s *Service) Settings() config.Config {
	return s.settings
}

// Feed returns the loaded feed.
func (s *Service) Feed() *feed.Feed {
	return s.feed
}

// Predictor returns the demand predictor.
func (s *Service) Predictor() *demand.Predictor {
	return s.predictor
}

// Results returns the result store.
func (s *Service) Results() results.Repository {
	return s.results
}

// Ready reports whether the service can run optimizations.
func (s *Service) Ready() error {
	if s.feed == nil {
		return apperror.Data("planner not ready", ErrNoFeed)
	}
	return nil
}

func (s *Service) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("error.kind", string(apperror.KindOf(err))))
	}
	span.End()
}

// store saves a run and returns its id.
func (s *Service) store(ctx context.Context, kind results.Kind, status results.Status, v any, runErr error) (string, error) {
	res, err := results.New(kind, status, v)
	if err != nil {
		return "", err
	}
	if runErr != nil {
		res.Error = runErr.Error()
	}
	if err := s.results.Save(ctx, res); err != nil {
		return "", err
	}
	return res.ID, nil
}

func batchStatus(succeeded, failed int) results.Status {
	switch {
	case failed == 0:
		return results.StatusSucceeded
	case succeeded == 0:
		return results.StatusFailed
	default:
		return results.StatusPartial
	}
}

func (s *Service) estimate(override *bool) bool {
	if override != nil {
		return *override
	}
	return s.settings.Routes.EstimateDemand
}

// modelServing reports whether predictions can be served.
func (s *Service) modelServing() bool {
	return s.predictor != nil && s.predictor.Manager().Current() != nil
}

// routeIDs returns ids, or every feed route when ids is empty. Unknown ids
// are a data error.
func (s *Service) routeIDs(ids []string) ([]string, error) {
	if len(ids) == 0 {
		out := make([]string, 0, len(s.feed.Routes))
		for _, r := range s.feed.Routes {
			out = append(out, r.ID)
		}
		return out, nil
	}
	for _, id := range ids {
		if _, ok := s.feed.Route(id); !ok {
			return nil, apperror.Data("unknown route "+id, feed.ErrUnknownRoute)
		}
	}
	return ids, nil
}
