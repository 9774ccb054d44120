package planner

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/results"
)

// PredictDemand returns the demand estimate for one stop on one route.
func (s *Service) PredictDemand(ctx context.Context, r DemandRequest) (demand.Estimate, error) {
	at := r.Time
	if r.DayOfWeek != nil {
		clock := at.Sub(demand.At(at, at.Weekday(), 0))
		at = demand.At(at, *r.DayOfWeek, clock)
	}
	return s.predictor.Predict(ctx, demand.Query{
		StopID:  r.StopID,
		RouteID: r.RouteID,
		Time:    at,
		Context: r.Context,
	})
}

// PredictNetworkDemand predicts every stop, route and time bucket of q.
func (s *Service) PredictNetworkDemand(ctx context.Context, q demand.NetworkQuery) (pred *demand.NetworkPrediction, err error) {
	ctx, span := s.start(ctx, "planner.predict_network_demand",
		attribute.Int("stops", len(q.StopIDs)),
		attribute.Int("routes", len(q.RouteIDs)),
	)
	defer func() { finish(span, err) }()
	start := s.now()

	if q.WeekOf.IsZero() {
		q.WeekOf = s.now()
	}
	pred, err = s.predictor.PredictNetwork(ctx, q)
	if err != nil {
		return nil, err
	}

	status := batchStatus(len(pred.Estimates), len(pred.Failures))
	s.metrics.RecordRun(ctx, string(results.KindNetworkDemand), string(status), s.now().Sub(start))
	s.metrics.RecordUnits(ctx, string(results.KindNetworkDemand), len(pred.Estimates), len(pred.Failures))
	return pred, nil
}

// Samples returns the training samples: the feed's ridership history, or
// synthesized samples when the feed has none.
func (s *Service) Samples() ([]demand.Sample, string, error) {
	if err := s.Ready(); err != nil {
		return nil, "", err
	}
	if len(s.feed.Ridership) > 0 {
		out := make([]demand.Sample, len(s.feed.Ridership))
		for i, r := range s.feed.Ridership {
			out[i] = demand.Sample{StopID: r.StopID, RouteID: r.RouteID, Timestamp: r.Timestamp, Count: r.Count}
		}
		return out, SamplesRidership, nil
	}
	days := s.settings.Demand.SynthesizeDays
	if days <= 0 {
		return nil, "", apperror.Data("feed has no ridership history", demand.ErrInsufficientData)
	}
	cfg := demand.SynthConfig{Days: days, Seed: s.settings.Demand.Seed}
	// Synthetic history starts on the first calendar date and stays within
	// the calendar so it passes the training validity check.
	if from, to, ok := s.feed.ServiceRange(); ok {
		cfg.Start = from
		if span := int(to.Sub(from).Hours()/24) + 1; span > 0 && span < cfg.Days {
			cfg.Days = span
		}
	}
	return demand.SynthesizeSamples(s.feed, cfg), SamplesSynthetic, nil
}

// TrainModel trains and publishes a new demand model, persists it when a
// model store is configured and records the run.
func (s *Service) TrainModel(ctx context.Context) (report *TrainingReport, err error) {
	ctx, span := s.start(ctx, "planner.train_model")
	defer func() { finish(span, err) }()
	start := s.now()

	samples, source, err := s.Samples()
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("samples", len(samples)), attribute.String("sample_source", source))

	a, err := s.predictor.Train(ctx, samples)
	if err != nil {
		s.metrics.RecordRun(ctx, string(results.KindTraining), string(results.StatusFailed), s.now().Sub(start))
		return nil, err
	}

	report = &TrainingReport{Source: source, Model: a.Info()}
	switch err := s.predictor.Manager().Save(ctx, a, map[string]string{"sample_source": source}); {
	case err == nil:
		report.Stored = true
	case apperror.KindOf(err) == apperror.KindConfiguration:
		s.logger.Warn().Str("version", a.Version).Msg("model store not configured, model kept in memory only")
	default:
		return nil, fmt.Errorf("persisting model %s: %w", a.Version, err)
	}

	report.ResultID, err = s.store(ctx, results.KindTraining, results.StatusSucceeded, report, nil)
	if err != nil {
		return nil, fmt.Errorf("storing training result: %w", err)
	}
	s.metrics.RecordRun(ctx, string(results.KindTraining), string(results.StatusSucceeded), s.now().Sub(start))
	return report, nil
}

// LoadModel publishes the latest stored model. It returns false when no
// model has been stored yet or no store is configured.
func (s *Service) LoadModel(ctx context.Context) (bool, error) {
	a, err := s.predictor.Manager().Load(ctx, "")
	switch {
	case err == nil:
		s.logger.Info().Str("version", a.Version).Msg("stored demand model loaded")
		return true, nil
	case errors.Is(err, demand.ErrModelNotTrained), apperror.KindOf(err) == apperror.KindConfiguration:
		return false, nil
	}
	return false, err
}

// RollbackModel restores the previously served model.
func (s *Service) RollbackModel() (*demand.Info, error) {
	a, err := s.predictor.Manager().Rollback()
	if err != nil {
		return nil, err
	}
	info := a.Info()
	return &info, nil
}

// ModelStatus describes the serving model.
func (s *Service) ModelStatus() ModelStatus {
	m := s.predictor.Manager()
	st := ModelStatus{State: m.State().String()}
	if a := m.Current(); a != nil {
		info := a.Info()
		st.Model = &info
	}
	return st
}
