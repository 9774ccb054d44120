package routeopt

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/transitopt/transitopt/internal/apperror"
)

// RouteResult is the per-route entry of a network optimization.
type RouteResult struct {
	RouteID           string  `json:"route_id"`
	Status            Status  `json:"status"`
	Reason            string  `json:"reason,omitempty"`
	Error             string  `json:"error,omitempty"`
	BaselineDistance  float64 `json:"baseline_distance_m"`
	OptimizedDistance float64 `json:"optimized_distance_m,omitempty"`
	Plan              *Plan   `json:"plan,omitempty"`

	// Kind classifies every non-feasible route.
	Kind apperror.Kind `json:"kind,omitempty"`
}

// Rejected builds the result of a route whose request failed before any
// search.
func Rejected(routeID string, err error) RouteResult {
	return RouteResult{
		RouteID: routeID,
		Status:  StatusError,
		Kind:    apperror.KindOf(err),
		Error:   err.Error(),
	}
}

// Succeeded reports whether the route produced a feasible plan.
func (r RouteResult) Succeeded() bool {
	return r.Status == StatusFeasible && r.Plan != nil
}

// NetworkResult aggregates a network optimization. Distance totals cover the
// routes that produced a feasible plan.
type NetworkResult struct {
	Routes                 []RouteResult `json:"routes"`
	Successes              int           `json:"successes"`
	Failures               int           `json:"failures"`
	OriginalTotalDistance  float64       `json:"original_total_distance_m"`
	OptimizedTotalDistance float64       `json:"optimized_total_distance_m"`
	TotalDistanceSaved     float64       `json:"total_distance_saved_m"`

	// EfficiencyImprovement is (baseline - optimized) / baseline.
	EfficiencyImprovement float64 `json:"efficiency_improvement"`
	EfficiencyPercent     float64 `json:"efficiency_improvement_percent"`
}

// NetworkConfig holds configuration for network optimization.
type NetworkConfig struct {
	// Workers bounds concurrent route optimizations (default: 4).
	Workers int

	// Logger for network operations.
	Logger zerolog.Logger
}

// NetworkOptimizer optimizes many routes in parallel.
type NetworkOptimizer struct {
	optimizer *Optimizer
	workers   int
	logger    zerolog.Logger
}

// NewNetworkOptimizer creates a network optimizer around opt.
func NewNetworkOptimizer(opt *Optimizer, cfg NetworkConfig) *NetworkOptimizer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &NetworkOptimizer{optimizer: opt, workers: workers, logger: cfg.Logger}
}

// Optimize runs every request independently. A failing route is reported in
// its RouteResult and never aborts its siblings.
func (n *NetworkOptimizer) Optimize(ctx context.Context, reqs []Request) *NetworkResult {
	start := time.Now()
	results := make([]RouteResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(n.workers)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = n.optimizeOne(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	out := &NetworkResult{Routes: results}
	for _, r := range results {
		if !r.Succeeded() {
			out.Failures++
			continue
		}
		out.Successes++
		out.OriginalTotalDistance += r.BaselineDistance
		out.OptimizedTotalDistance += r.OptimizedDistance
	}
	out.TotalDistanceSaved = out.OriginalTotalDistance - out.OptimizedTotalDistance
	if out.OriginalTotalDistance > 0 {
		out.EfficiencyImprovement = out.TotalDistanceSaved / out.OriginalTotalDistance
		out.EfficiencyPercent = out.EfficiencyImprovement * 100
	}

	n.logger.Info().
		Int("routes", len(reqs)).
		Int("successes", out.Successes).
		Int("failures", out.Failures).
		Float64("efficiency_percent", out.EfficiencyPercent).
		Dur("duration", time.Since(start)).
		Msg("network route optimization completed")

	return out
}

func (n *NetworkOptimizer) optimizeOne(ctx context.Context, req Request) RouteResult {
	res := RouteResult{RouteID: req.RouteID}

	baseline, err := Baseline(req)
	if err != nil {
		return Rejected(req.RouteID, err)
	}
	res.BaselineDistance = baseline

	outcome, err := n.optimizer.Optimize(ctx, req)
	if err != nil {
		rejected := Rejected(req.RouteID, err)
		rejected.BaselineDistance = baseline
		return rejected
	}
	res.Status = outcome.Status
	res.Reason = outcome.Reason
	if outcome.Status != StatusFeasible {
		res.Error = outcome.Message
		res.Kind = apperror.KindOf(outcome.Err())
		return res
	}
	res.Plan = outcome.Plan
	res.OptimizedDistance = outcome.Plan.TotalDistance
	return res
}
