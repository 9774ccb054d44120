package demand

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/transitopt/transitopt/internal/apperror"
)

// PredictorConfig holds configuration for the demand predictor.
type PredictorConfig struct {
	// Features controls training.
	Features FeatureConfig

	// Catalog resolves static stop/route attributes. Optional.
	Catalog Catalog

	// Manager owns the served artifact (default: a fresh manager).
	Manager *ModelManager

	// Workers for network predictions (default: 8).
	Workers int

	// MaxUnits caps the size of one network prediction (default: 100000).
	MaxUnits int

	// Logger for predictor operations.
	Logger zerolog.Logger
}

// Predictor trains demand models and serves predictions from the artifact
// published in its ModelManager.
type Predictor struct {
	features FeatureConfig
	catalog  Catalog
	manager  *ModelManager
	workers  int
	maxUnits int
	logger   zerolog.Logger

	trainMu sync.Mutex
}

// NewPredictor creates a new demand predictor.
func NewPredictor(cfg PredictorConfig) *Predictor {
	manager := cfg.Manager
	if manager == nil {
		manager = NewModelManager(ManagerConfig{Logger: cfg.Logger})
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	maxUnits := cfg.MaxUnits
	if maxUnits <= 0 {
		maxUnits = 100000
	}

	return &Predictor{
		features: cfg.Features.withDefaults(),
		catalog:  cfg.Catalog,
		manager:  manager,
		workers:  workers,
		maxUnits: maxUnits,
		logger:   cfg.Logger,
	}
}

// Manager returns the model manager.
func (p *Predictor) Manager() *ModelManager {
	return p.manager
}

// Train fits a new ensemble and publishes it. On any failure the previously
// published artifact keeps serving.
func (p *Predictor) Train(ctx context.Context, samples []Sample) (*Artifact, error) {
	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	start := time.Now()
	cfg := p.features

	if len(samples) < cfg.MinSamples {
		return nil, apperror.Data("training rejected",
			fmt.Errorf("%w: got %d, need %d", ErrInsufficientData, len(samples), cfg.MinSamples))
	}
	if err := validateSamples(samples, cfg); err != nil {
		return nil, apperror.Data("training rejected", err)
	}

	attrs := make([]Attributes, len(samples))
	for i, s := range samples {
		if s.Attributes != nil {
			attrs[i] = *s.Attributes
			continue
		}
		a, err := p.attributes(s.StopID, s.RouteID)
		if err != nil {
			return nil, apperror.Data("training rejected",
				fmt.Errorf("%w: sample %d: %v", ErrFeatureValidation, i, err))
		}
		attrs[i] = a
	}

	a, err := fitEnsemble(ctx, samples, attrs, cfg)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return nil, apperror.Timeout("training cancelled", ctx.Err())
		case errors.Is(err, ErrInsufficientData):
			return nil, apperror.Data("training rejected", err)
		default:
			return nil, fmt.Errorf("train demand model: %w", err)
		}
	}
	a.Name = p.manager.Name()
	p.manager.Publish(a)

	p.logger.Info().
		Str("version", a.Version).
		Int("samples", len(samples)).
		Float64("holdout_mae", a.Evaluation.Ensemble.MAE).
		Float64("holdout_r2", a.Evaluation.Ensemble.R2).
		Dur("duration", time.Since(start)).
		Msg("demand model trained")

	return a, nil
}

func (p *Predictor) attributes(stopID, routeID string) (Attributes, error) {
	if p.catalog == nil {
		return Attributes{}, nil
	}
	return p.catalog.Attributes(stopID, routeID)
}

// Predict estimates demand for one stop, route and time.
func (p *Predictor) Predict(ctx context.Context, q Query) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}
	a, err := p.manager.acquire()
	if err != nil {
		return Estimate{}, err
	}
	return p.predictWith(a, q)
}

func (p *Predictor) predictWith(a *Artifact, q Query) (Estimate, error) {
	if q.StopID == "" || q.RouteID == "" || q.Time.IsZero() {
		return Estimate{}, apperror.Data("invalid demand query", errors.New("stop_id, route_id and time are required"))
	}
	attrs, err := p.attributes(q.StopID, q.RouteID)
	if err != nil {
		return Estimate{}, apperror.Data("invalid demand query", err)
	}

	x := a.Transform.Vector(q.StopID, q.RouteID, q.Time, attrs, q.Context)
	value, conf, err := a.predict(x)
	if err != nil {
		return Estimate{}, apperror.Model("demand prediction failed", err)
	}

	bucket, _ := PeriodOf(q.Time.Hour())
	holiday := q.Context != nil && q.Context.Holiday
	return Estimate{
		StopID:         q.StopID,
		RouteID:        q.RouteID,
		Time:           q.Time,
		TimeBucket:     bucket,
		DayType:        a.Transform.DayType(q.Time, holiday),
		PredictedCount: value,
		Confidence:     conf,
		ModelVersion:   a.Version,
	}, nil
}

// At returns the time on the given weekday of the week containing weekOf,
// offset by clock from midnight.
func At(weekOf time.Time, day time.Weekday, clock time.Duration) time.Time {
	y, m, d := weekOf.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, weekOf.Location())
	// Weeks start on Monday.
	shift := (int(day)+6)%7 - (int(midnight.Weekday())+6)%7
	return midnight.AddDate(0, 0, shift).Add(clock)
}

type unit struct {
	stopID  string
	routeID string
	at      time.Time
}

// expansion is a validated NetworkQuery with its defaults applied.
type expansion struct {
	NetworkQuery
	step    time.Duration
	weekOf  time.Time
	days    []time.Weekday
	buckets int
}

func (q NetworkQuery) expand() (expansion, error) {
	if len(q.StopIDs) == 0 || len(q.RouteIDs) == 0 {
		return expansion{}, errors.New("at least one stop and one route are required")
	}
	if q.End <= q.Start {
		return expansion{}, fmt.Errorf("time range end %s must be after start %s", q.End, q.Start)
	}
	e := expansion{NetworkQuery: q, step: q.Step, weekOf: q.WeekOf, days: q.Days}
	if e.step <= 0 {
		e.step = 15 * time.Minute
	}
	if e.weekOf.IsZero() {
		e.weekOf = time.Now().UTC()
	}
	if len(e.days) == 0 {
		e.days = []time.Weekday{e.weekOf.Weekday()}
	}
	e.buckets = int((q.End-q.Start-1)/e.step) + 1
	return e, nil
}

// size returns the number of units the query expands to, or limit+1 once
// that exceeds limit.
func (e expansion) size(limit int) int {
	n := 1
	for _, f := range []int{len(e.days), e.buckets, len(e.StopIDs), len(e.RouteIDs)} {
		if n > limit/f {
			return limit + 1
		}
		n *= f
	}
	return n
}

func (e expansion) units() []unit {
	out := make([]unit, 0, e.size(math.MaxInt))
	for _, d := range e.days {
		for clock := e.Start; clock < e.End; clock += e.step {
			at := At(e.weekOf, d, clock)
			for _, s := range e.StopIDs {
				for _, r := range e.RouteIDs {
					out = append(out, unit{stopID: s, routeID: r, at: at})
				}
			}
		}
	}
	return out
}

// PredictNetwork predicts every (day, time bucket, stop, route) combination in
// parallel against one artifact snapshot. Per-unit failures are reported
// alongside the successful estimates, in input order. Queries larger than
// MaxUnits are rejected before anything is expanded.
func (p *Predictor) PredictNetwork(ctx context.Context, q NetworkQuery) (*NetworkPrediction, error) {
	a, err := p.manager.acquire()
	if err != nil {
		return nil, err
	}

	e, err := q.expand()
	if err != nil {
		return nil, apperror.Configuration("invalid network query", err)
	}
	if n := e.size(p.maxUnits); n > p.maxUnits {
		return nil, apperror.Configuration("network prediction rejected",
			fmt.Errorf("%w: more than %d units (%d days x %d buckets x %d stops x %d routes)",
				ErrTooManyUnits, p.maxUnits, len(e.days), e.buckets, len(e.StopIDs), len(e.RouteIDs)))
	}
	units := e.units()

	start := time.Now()
	estimates := make([]Estimate, len(units))
	errs := make([]error, len(units))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, u := range units {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			estimates[i], errs[i] = p.predictWith(a, Query{StopID: u.stopID, RouteID: u.routeID, Time: u.at})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, apperror.Timeout("network prediction cancelled", err)
	}

	out := &NetworkPrediction{Estimates: make([]Estimate, 0, len(units))}
	for i, u := range units {
		if errs[i] != nil {
			out.Failures = append(out.Failures, UnitFailure{
				StopID:  u.stopID,
				RouteID: u.routeID,
				Time:    u.at,
				Error:   errs[i].Error(),
			})
			continue
		}
		out.Estimates = append(out.Estimates, estimates[i])
	}

	p.logger.Debug().
		Int("units", len(units)).
		Int("failures", len(out.Failures)).
		Dur("duration", time.Since(start)).
		Msg("network demand predicted")

	return out, nil
}
