package planner

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/results"
	"github.com/transitopt/transitopt/internal/routeopt"
)

// weightClock is the time of day used to weight stops by predicted demand.
const weightClock = 8 * time.Hour

// OptimizeRoutes optimizes the stop order of every requested route and stores
// the network result. Routes that cannot be optimized are reported in the
// result rather than failing the run.
func (s *Service) OptimizeRoutes(ctx context.Context, p RouteParams) (report *RoutesReport, err error) {
	ctx, span := s.start(ctx, "planner.optimize_routes")
	defer func() { finish(span, err) }()

	if err := s.Ready(); err != nil {
		return nil, err
	}
	start := s.now()

	ids, err := s.routeIDs(p.RouteIDs)
	if err != nil {
		return nil, err
	}
	constraints := routeopt.VehicleConstraints{
		Capacity:         p.VehicleCapacity,
		MaxRouteDuration: p.MaxRouteTime,
		MaxVehicles:      p.MaxVehicles,
		DwellTime:        s.settings.Routes.Dwell(),
		ReturnToDepot:    s.settings.Routes.ReturnToDepot,
	}
	if constraints.Capacity == 0 {
		constraints.Capacity = s.settings.Routes.VehicleCapacity
	}
	if constraints.MaxRouteDuration == 0 {
		constraints.MaxRouteDuration = s.settings.Routes.MaxRouteDuration()
	}
	if constraints.MaxVehicles == 0 {
		constraints.MaxVehicles = s.settings.Routes.MaxVehicles
	}
	if err := constraints.Validate(); err != nil {
		return nil, apperror.Configuration("invalid route constraints", err)
	}

	useModel := s.estimate(p.IncludeDemandEstimation) && s.modelServing()
	span.SetAttributes(
		attribute.Int("routes", len(ids)),
		attribute.Bool("demand_estimation", useModel),
	)

	var (
		reqs     []routeopt.Request
		rejected []routeopt.RouteResult
		sources  = map[string]int{}
	)
	for _, id := range ids {
		req, source, err := s.routeRequest(ctx, id, constraints, useModel, p.Timeout)
		if err != nil {
			rejected = append(rejected, routeopt.Rejected(id, err))
			continue
		}
		sources[source]++
		reqs = append(reqs, req)
	}

	network := s.routes.Optimize(ctx, reqs)
	network.Routes = append(network.Routes, rejected...)
	network.Failures += len(rejected)

	report = &RoutesReport{DemandSource: mergeSources(sources), Network: network}
	status := batchStatus(network.Successes, network.Failures)
	report.ResultID, err = s.store(ctx, results.KindRoutes, status, report, nil)
	if err != nil {
		return nil, fmt.Errorf("storing route result: %w", err)
	}

	elapsed := s.now().Sub(start)
	s.metrics.RecordRun(ctx, string(results.KindRoutes), string(status), elapsed)
	s.metrics.RecordUnits(ctx, string(results.KindRoutes), network.Successes, network.Failures)
	s.logger.Info().
		Str("result_id", report.ResultID).
		Int("routes", len(ids)).
		Int("successes", network.Successes).
		Int("failures", network.Failures).
		Float64("efficiency_improvement", network.EfficiencyImprovement).
		Str("demand_source", report.DemandSource).
		Dur("duration", elapsed).
		Msg("routes optimized")

	return report, nil
}

func (s *Service) routeRequest(ctx context.Context, routeID string, c routeopt.VehicleConstraints, useModel bool, timeout time.Duration) (routeopt.Request, string, error) {
	stopIDs, err := s.feed.RouteStops(routeID)
	if err != nil {
		return routeopt.Request{}, "", apperror.Data("route "+routeID, err)
	}
	stops, err := s.feed.GeoStops(stopIDs)
	if err != nil {
		return routeopt.Request{}, "", apperror.Data("route "+routeID, err)
	}
	matrix, err := s.geo.Matrix(ctx, stops)
	if err != nil {
		return routeopt.Request{}, "", apperror.Data("route "+routeID, err)
	}

	weights, source := s.stopWeights(ctx, routeID, stopIDs, useModel)
	return routeopt.Request{
		RouteID:     routeID,
		Stops:       stops,
		Demand:      weights,
		Matrix:      matrix,
		Constraints: c,
		Timeout:     timeout,
	}, source, nil
}

// stopWeights returns the demand weight of every stop. Predicted morning
// demand is used when a model is serving; stops it cannot predict, or every
// stop when no model is serving, get the default terminal and intermediate
// weights.
func (s *Service) stopWeights(ctx context.Context, routeID string, stopIDs []string, useModel bool) (map[string]float64, string) {
	weights := DefaultWeights(stopIDs, s.settings.Routes.TerminalWeight, s.settings.Routes.IntermediateWeight)
	if !useModel {
		return weights, SourceHeuristic
	}

	at := demand.At(s.now(), time.Monday, weightClock)
	predicted := 0
	for _, id := range stopIDs {
		est, err := s.predictor.Predict(ctx, demand.Query{StopID: id, RouteID: routeID, Time: at})
		if err != nil {
			s.logger.Debug().Err(err).Str("route_id", routeID).Str("stop_id", id).Msg("stop weight falls back to default")
			continue
		}
		weights[id] = est.PredictedCount
		predicted++
	}
	switch predicted {
	case len(stopIDs):
		return weights, SourceModel
	case 0:
		return weights, SourceHeuristic
	}
	return weights, SourceMixed
}

// DefaultWeights gives the first, last and middle stops of a route the
// terminal weight and every other stop the intermediate weight.
func DefaultWeights(stopIDs []string, terminal, intermediate float64) map[string]float64 {
	out := make(map[string]float64, len(stopIDs))
	last := len(stopIDs) - 1
	for i, id := range stopIDs {
		if i == 0 || i == last || i == len(stopIDs)/2 {
			out[id] = terminal
		} else {
			out[id] = intermediate
		}
	}
	return out
}

func mergeSources(counts map[string]int) string {
	switch {
	case len(counts) == 0:
		return SourceHeuristic
	case len(counts) == 1:
		for k := range counts {
			return k
		}
	}
	return SourceMixed
}
