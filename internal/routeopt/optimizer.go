package routeopt

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/apperror"
)

// OptimizerConfig holds configuration for the route optimizer.
type OptimizerConfig struct {
	// DefaultTimeout is the search budget when a request sets none
	// (default: 30 seconds).
	DefaultTimeout time.Duration

	// Logger for optimizer operations.
	Logger zerolog.Logger
}

// Optimizer solves route optimization requests. It holds no per-request
// state, so one instance may serve concurrent calls.
type Optimizer struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOptimizer creates a new route optimizer.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Optimizer{timeout: timeout, logger: cfg.Logger}
}

// Optimize finds a low-distance set of tours for the request. Invalid input is
// returned as an error. StatusInfeasible outcomes are proofs that no plan
// exists; StatusTimeout means the search found none within its budget and a
// retry with more time may succeed. On timeout during improvement the best
// feasible plan found so far is returned.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (Outcome, error) {
	s, pre, err := o.prepare(req)
	if err != nil {
		return Outcome{}, err
	}
	if pre != nil {
		o.logger.Debug().
			Str("route_id", req.RouteID).
			Str("reason", pre.Reason).
			Msg("route infeasible")
		return *pre, nil
	}

	budget := req.Timeout
	if budget <= 0 {
		budget = o.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	tours, why, err := s.construct(ctx)
	if err != nil {
		return Outcome{
			Status:  StatusTimeout,
			Reason:  ReasonTimeout,
			Message: fmt.Sprintf("no feasible plan for route %s within %s", req.RouteID, budget),
		}, nil
	}
	if tours == nil {
		// Greedy construction proves nothing; only prepare's checks do.
		o.logger.Debug().
			Str("route_id", req.RouteID).
			Str("stalled_on", why.String()).
			Msg("construction stalled, repacking")
		if tours, err = s.repair(ctx); err != nil {
			msg := fmt.Sprintf("no feasible plan for route %s within %s; construction stalled on %s", req.RouteID, budget, why)
			return Outcome{Status: StatusTimeout, Reason: ReasonNoSolution, Message: msg}, nil
		}
	}

	initial := s.totalDistance(tours)
	tours, moves, interrupted := s.improve(ctx, tours)

	plan := s.plan(req.RouteID, tours)
	plan.Moves = moves
	plan.Interrupted = interrupted

	o.logger.Debug().
		Str("route_id", req.RouteID).
		Int("vehicles", plan.Vehicles).
		Float64("initial_m", initial).
		Float64("distance_m", plan.TotalDistance).
		Int("moves", moves).
		Bool("interrupted", interrupted).
		Dur("duration", time.Since(start)).
		Msg("route optimized")

	return Outcome{Status: StatusFeasible, Plan: plan}, nil
}

// prepare validates the request and runs the infeasibility checks that need
// no search. A non-nil Outcome is a proven infeasibility.
func (o *Optimizer) prepare(req Request) (*solver, *Outcome, error) {
	if len(req.Stops) == 0 {
		return nil, nil, apperror.Data("invalid route request", fmt.Errorf("%w: %s", ErrNoStops, req.RouteID))
	}
	if err := req.Constraints.Validate(); err != nil {
		return nil, nil, apperror.Configuration("invalid route request", err)
	}
	if req.Matrix == nil || req.Matrix.Size() != len(req.Stops) {
		return nil, nil, apperror.Data("invalid route request", ErrMatrixMismatch)
	}
	for i, st := range req.Stops {
		if row, ok := req.Matrix.Index(st.ID); !ok || row != i {
			return nil, nil, apperror.Data("invalid route request", fmt.Errorf("%w: stop %s", ErrMatrixMismatch, st.ID))
		}
	}

	c := req.Constraints
	s := &solver{
		m:        req.Matrix,
		capacity: c.Capacity,
		maxDur:   c.MaxRouteDuration.Seconds(),
		dwell:    c.DwellTime.Seconds(),
		vehicles: c.MaxVehicles,
		closed:   c.ReturnToDepot,
	}

	total := 0.0
	for row, st := range req.Stops {
		d := req.Demand[st.ID]
		if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			return nil, nil, apperror.Data("invalid route request", fmt.Errorf("%w: %s", ErrNegativeDemand, st.ID))
		}
		total += d

		var window *TimeWindow
		if w, ok := c.TimeWindows[st.ID]; ok {
			window = &w
		}

		if d > c.Capacity {
			if c.MaxVehicles == 1 {
				out := infeasible(ReasonCapacityExceeded,
					"stop %s demand %.1f exceeds vehicle capacity %.1f", st.ID, d, c.Capacity)
				return nil, &out, nil
			}
			for d > c.Capacity {
				s.units = append(s.units, unit{row: row, load: c.Capacity, window: window})
				d -= c.Capacity
			}
			if d > distanceEpsilon {
				s.units = append(s.units, unit{row: row, load: d, window: window})
			}
			continue
		}
		s.units = append(s.units, unit{row: row, load: d, window: window})
	}

	if c.MaxVehicles > 0 && total > c.Capacity*float64(c.MaxVehicles)+distanceEpsilon {
		out := infeasible(ReasonCapacityExceeded,
			"total demand %.1f exceeds fleet capacity %.1f", total, c.Capacity*float64(c.MaxVehicles))
		return nil, &out, nil
	}

	if id, ok := unreachableStop(s); ok {
		out := infeasible(ReasonDisconnected, "stop %s cannot be reached from %s", id, req.Stops[0].ID)
		return nil, &out, nil
	}

	for u := range s.units {
		if _, _, why := s.tourCost([]int{u}); why == rejectTime {
			out := infeasible(ReasonTimeExceeded,
				"stop %s cannot be served within %s", req.Stops[s.units[u].row].ID, c.MaxRouteDuration)
			return nil, &out, nil
		}
	}

	return s, nil, nil
}

// unreachableStop finds a stop outside the depot's connected component.
func unreachableStop(s *solver) (string, bool) {
	n := s.m.Size()
	seen := make([]bool, n)
	seen[0] = true
	queue := []int{0}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		for j := 0; j < n; j++ {
			if !seen[j] && s.m.Reachable(i, j) {
				seen[j] = true
				queue = append(queue, j)
			}
		}
	}
	for i, ok := range seen {
		if !ok {
			return s.m.Stops[i].ID, true
		}
	}
	return "", false
}

// Baseline returns the distance of visiting the stops in their original order
// with one vehicle.
func Baseline(req Request) (float64, error) {
	if req.Matrix == nil || req.Matrix.Size() != len(req.Stops) {
		return 0, apperror.Data("baseline distance", ErrMatrixMismatch)
	}
	order := make([]int, len(req.Stops))
	for i := range order {
		order[i] = i
	}
	if req.Constraints.ReturnToDepot && len(order) > 1 {
		order = append(order, 0)
	}
	d := req.Matrix.PathDistance(order)
	if math.IsInf(d, 0) {
		return 0, apperror.Data("baseline distance", errors.New("original stop order contains an unreachable leg"))
	}
	return d, nil
}
