package planner

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/results"
	"github.com/transitopt/transitopt/internal/scheduleopt"
)

// ScheduleRequest derives the optimizer input for p from the feed and the
// demand model. It is exposed so that scenario sweeps can vary constraints
// over one shared input.
func (s *Service) ScheduleRequest(ctx context.Context, p ScheduleParams) (scheduleopt.Request, string, error) {
	if err := s.Ready(); err != nil {
		return scheduleopt.Request{}, "", err
	}
	ids, err := s.routeIDs(p.RouteIDs)
	if err != nil {
		return scheduleopt.Request{}, "", err
	}

	cfg := s.settings.Schedule
	minH, maxH := cfg.Headways()
	cons := scheduleopt.Constraints{
		VehicleCapacity: p.VehicleCapacity,
		MinHeadway:      p.MinHeadway,
		MaxHeadway:      p.MaxHeadway,
		MaxFleetSize:    p.MaxFleetSize,
		VehicleCost:     cfg.VehicleCost,
		WaitCost:        cfg.WaitCost,
	}
	if cons.VehicleCapacity == 0 {
		cons.VehicleCapacity = cfg.VehicleCapacity
	}
	if cons.MinHeadway == 0 {
		cons.MinHeadway = minH
	}
	if cons.MaxHeadway == 0 {
		cons.MaxHeadway = maxH
	}
	if cons.MaxFleetSize == 0 {
		cons.MaxFleetSize = cfg.MaxFleetSize
	}

	startH, endH := cfg.ServiceHours()
	periods := scheduleopt.DefaultPeriods(startH, endH)

	routes := make([]scheduleopt.RouteInput, 0, len(ids))
	stops := make(map[string][]string, len(ids))
	fallback := time.Duration(cfg.FallbackTripMinutes) * time.Minute
	for _, id := range ids {
		oneWay := s.feed.TripDuration(id)
		if oneWay <= 0 {
			oneWay = fallback
		}
		routes = append(routes, scheduleopt.RouteInput{RouteID: id, RoundTripTime: 2 * oneWay})
		if st, err := s.feed.RouteStops(id); err == nil {
			stops[id] = st
		}
	}

	demandByPeriod := scheduleopt.HeuristicDemand(stops, periods)
	source := SourceHeuristic
	if s.estimate(p.IncludeDemandEstimation) && s.modelServing() {
		source = s.predictPeriodDemand(ctx, stops, periods, demandByPeriod)
	}

	return scheduleopt.Request{
		Routes:      routes,
		Demand:      demandByPeriod,
		Periods:     periods,
		Constraints: cons,
		Timeout:     p.Timeout,
	}, source, nil
}

// predictPeriodDemand overwrites the heuristic demand of every route whose
// stops can all be predicted at the midpoint of each period. It returns the
// resulting demand source.
func (s *Service) predictPeriodDemand(ctx context.Context, stops map[string][]string, periods []scheduleopt.Period, dst scheduleopt.DemandByPeriod) string {
	weekOf := s.now()

	var (
		mu        sync.Mutex
		predicted int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.settings.Demand.Workers))
	for routeID, ids := range stops {
		g.Go(func() error {
			byPeriod := scheduleopt.DemandByPeriod{}
			for _, p := range periods {
				at := demand.At(weekOf, time.Monday, p.Start+(p.End-p.Start)/2)
				for _, stopID := range ids {
					est, err := s.predictor.Predict(gctx, demand.Query{StopID: stopID, RouteID: routeID, Time: at})
					if err != nil {
						s.logger.Debug().Err(err).Str("route_id", routeID).Msg("route keeps heuristic demand")
						return nil
					}
					scheduleopt.MergeDemand(byPeriod, routeID, p.Name, est.PredictedCount)
				}
			}
			mu.Lock()
			dst[routeID] = byPeriod[routeID]
			predicted++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	switch predicted {
	case len(stops):
		return SourceModel
	case 0:
		return SourceHeuristic
	}
	return SourceMixed
}

// OptimizeSchedules allocates the fleet over routes and periods and stores
// the outcome. An infeasible outcome is stored and returned without error.
func (s *Service) OptimizeSchedules(ctx context.Context, p ScheduleParams) (report *ScheduleReport, err error) {
	ctx, span := s.start(ctx, "planner.optimize_schedules")
	defer func() { finish(span, err) }()
	start := s.now()

	req, source, err := s.ScheduleRequest(ctx, p)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("routes", len(req.Routes)),
		attribute.Int("max_fleet_size", req.Constraints.MaxFleetSize),
		attribute.String("demand_source", source),
	)

	outcome, err := s.schedules.Optimize(ctx, req)
	if err != nil {
		return nil, err
	}

	report = &ScheduleReport{DemandSource: source, Outcome: outcome}
	status := results.StatusSucceeded
	if outcome.Status != scheduleopt.StatusFeasible {
		status = results.StatusFailed
	}
	report.ResultID, err = s.store(ctx, results.KindSchedules, status, report, outcome.Err())
	if err != nil {
		return nil, fmt.Errorf("storing schedule result: %w", err)
	}

	elapsed := s.now().Sub(start)
	s.metrics.RecordRun(ctx, string(results.KindSchedules), string(status), elapsed)
	ev := s.logger.Info().
		Str("result_id", report.ResultID).
		Str("status", string(outcome.Status)).
		Str("demand_source", source).
		Dur("duration", elapsed)
	if outcome.Schedule != nil {
		ev = ev.Int("total_vehicles", outcome.Schedule.TotalVehicles).
			Float64("fleet_utilization", outcome.Schedule.FleetUtilization)
	} else {
		ev = ev.Str("reason", outcome.Reason)
	}
	ev.Msg("schedules optimized")

	return report, nil
}

// Schedules returns the schedule optimizer.
func (s *Service) Schedules() *scheduleopt.Optimizer {
	return s.schedules
}

// Schedule loads a stored feasible schedule.
func (s *Service) Schedule(ctx context.Context, resultID string) (*scheduleopt.Schedule, error) {
	res, err := s.results.Get(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if res.Kind != results.KindSchedules {
		return nil, apperror.Data(fmt.Sprintf("result %s is a %s result", resultID, res.Kind), results.ErrNotFound)
	}
	var report ScheduleReport
	if err := res.Decode(&report); err != nil {
		return nil, fmt.Errorf("decoding schedule result %s: %w", resultID, err)
	}
	if report.Outcome.Schedule == nil {
		return nil, report.Outcome.Err()
	}
	return report.Outcome.Schedule, nil
}

// ExportGTFS writes the stored schedule as a GTFS zip.
func (s *Service) ExportGTFS(ctx context.Context, resultID string, w io.Writer) error {
	if err := s.Ready(); err != nil {
		return err
	}
	sched, err := s.Schedule(ctx, resultID)
	if err != nil {
		return err
	}
	out, err := scheduleopt.Export(s.feed, sched, scheduleopt.ExportConfig{})
	if err != nil {
		return err
	}
	return feed.WriteZip(w, out)
}

// WriteScheduleReport writes the stored schedule as an XLSX workbook.
func (s *Service) WriteScheduleReport(ctx context.Context, resultID string, w io.Writer) error {
	sched, err := s.Schedule(ctx, resultID)
	if err != nil {
		return err
	}
	return scheduleopt.WriteReport(w, sched)
}
