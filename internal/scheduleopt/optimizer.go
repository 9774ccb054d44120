package scheduleopt

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/apperror"
)

// OptimizerConfig holds configuration for the schedule optimizer.
type OptimizerConfig struct {
	// DefaultTimeout is the solve budget when a request sets none
	// (default: 30 seconds).
	DefaultTimeout time.Duration

	// Logger for optimizer operations.
	Logger zerolog.Logger
}

// Optimizer allocates fleet to routes and periods. It is stateless.
type Optimizer struct {
	timeout time.Duration
	logger  zerolog.Logger
}

// NewOptimizer creates a new schedule optimizer.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Optimizer{timeout: timeout, logger: cfg.Logger}
}

// cell is one (route, period) decision variable.
type cell struct {
	route   int
	tripMin float64 // round trip, minutes
	demand  float64 // passengers per hour
	hours   float64

	minH, maxH float64 // effective headway bounds, minutes
	lo, hi     int     // vehicle bounds
	relaxed    float64
	vehicles   int
}

// headway returns the headway, in minutes, that x vehicles can sustain.
func (c *cell) headway(x int) float64 {
	return math.Min(math.Max(c.tripMin/float64(x), c.minH), c.maxH)
}

// Optimize solves the request. Invalid input is returned as an error; a
// provably unsatisfiable request is an Outcome with StatusInfeasible.
func (o *Optimizer) Optimize(ctx context.Context, req Request) (Outcome, error) {
	if err := validate(req); err != nil {
		return Outcome{}, err
	}
	cons := req.Constraints.withDefaults()

	budget := req.Timeout
	if budget <= 0 {
		budget = o.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	grid := make([][]*cell, len(req.Periods))
	for p, period := range req.Periods {
		row, bad := bounds(req, cons, period)
		if bad != nil {
			o.logger.Debug().Str("reason", bad.Reason).Str("period", period.Name).Msg("schedule infeasible")
			return *bad, nil
		}
		lower := 0
		for _, c := range row {
			lower += c.lo
		}
		if lower > cons.MaxFleetSize {
			return infeasible(ReasonFleetTooSmall,
				"period %s needs at least %d vehicles but the fleet has %d",
				period.Name, lower, cons.MaxFleetSize), nil
		}
		grid[p] = row
	}

	repairs := 0
	for p := range grid {
		if err := ctx.Err(); err != nil {
			return Outcome{
				Status:  StatusTimeout,
				Reason:  ReasonTimeout,
				Message: fmt.Sprintf("schedule not solved within %s", budget),
			}, nil
		}
		relax(grid[p], cons)
		repairs += round(grid[p], cons.MaxFleetSize)
	}

	sched := o.render(req, cons, grid)
	sched.Repairs = repairs

	o.logger.Info().
		Int("routes", len(req.Routes)).
		Int("periods", len(req.Periods)).
		Int("total_vehicles", sched.TotalVehicles).
		Int("repairs", repairs).
		Float64("fleet_utilization", sched.FleetUtilization).
		Dur("duration", time.Since(start)).
		Msg("schedule optimized")

	return Outcome{Status: StatusFeasible, Schedule: sched}, nil
}

func validate(req Request) error {
	if err := req.Constraints.Validate(); err != nil {
		return apperror.Configuration("invalid schedule constraints", err)
	}
	if len(req.Routes) == 0 {
		return apperror.Data("no routes to schedule", ErrInvalidRoute)
	}
	if len(req.Periods) == 0 {
		return apperror.Configuration("no service periods", ErrInvalidPeriod)
	}
	seen := make(map[string]bool, len(req.Routes))
	for _, r := range req.Routes {
		switch {
		case r.RouteID == "":
			return apperror.Data("route without id", ErrInvalidRoute)
		case seen[r.RouteID]:
			return apperror.Data("duplicate route "+r.RouteID, ErrInvalidRoute)
		case r.RoundTripTime <= 0:
			return apperror.Data("route "+r.RouteID+" has no round trip time", ErrInvalidRoute)
		}
		seen[r.RouteID] = true
		for period, d := range req.Demand[r.RouteID] {
			if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
				return apperror.Data(fmt.Sprintf("route %s period %s has invalid demand %v", r.RouteID, period, d), ErrInvalidRoute)
			}
		}
	}
	for i, p := range req.Periods {
		if p.Name == "" || p.End <= p.Start {
			return apperror.Configuration(fmt.Sprintf("period %d is empty", i), ErrInvalidPeriod)
		}
		if i > 0 && p.Start < req.Periods[i-1].End {
			return apperror.Configuration("period "+p.Name+" overlaps its predecessor", ErrInvalidPeriod)
		}
	}
	return nil
}

// bounds computes the vehicle range of every route in one period. A route
// whose demand exceeds the capacity offered at the minimum headway makes the
// request infeasible.
func bounds(req Request, cons Constraints, period Period) ([]*cell, *Outcome) {
	minH := cons.MinHeadway.Minutes()
	maxH := cons.MaxHeadway.Minutes()

	row := make([]*cell, len(req.Routes))
	for i, r := range req.Routes {
		c := &cell{
			route:   i,
			tripMin: r.RoundTripTime.Minutes(),
			demand:  req.Demand[r.RouteID][period.Name],
			hours:   period.Hours(),
			minH:    minH,
			maxH:    maxH,
		}
		if c.demand > 0 {
			c.maxH = math.Min(maxH, 60*cons.VehicleCapacity/c.demand)
		}
		if c.maxH < minH {
			o := infeasible(ReasonHeadwayBounds,
				"route %s needs a %.1f min headway in %s to carry %.0f passengers/hour, below the %.1f min minimum",
				r.RouteID, c.maxH, period.Name, c.demand, minH)
			return nil, &o
		}
		c.lo = max(1, int(math.Ceil(c.tripMin/c.maxH-1e-9)))
		c.hi = max(c.lo, int(math.Ceil(c.tripMin/minH-1e-9)))
		row[i] = c
	}
	return row, nil
}

// unconstrained returns the vehicle count minimizing vehicle cost plus
// waiting cost when each vehicle carries an extra price of lambda.
func (c *cell) unconstrained(cons Constraints, lambda float64) float64 {
	// cost(x) = (vc + lambda)·h·x + wc·d·h·(T/x)/2
	x := math.Sqrt(cons.WaitCost * c.demand * c.tripMin / (2 * (cons.VehicleCost + lambda)))
	return math.Min(math.Max(x, float64(c.lo)), float64(c.hi))
}

// relax solves the continuous relaxation of one period, pricing the fleet
// ceiling with a multiplier found by bisection.
func relax(row []*cell, cons Constraints) {
	total := func(lambda float64) float64 {
		s := 0.0
		for _, c := range row {
			c.relaxed = c.unconstrained(cons, lambda)
			s += c.relaxed
		}
		return s
	}

	fleet := float64(cons.MaxFleetSize)
	if total(0) <= fleet {
		return
	}
	lo, hi := 0.0, cons.VehicleCost
	for total(hi) > fleet && hi < 1e12 {
		lo, hi = hi, hi*2
	}
	for range 60 {
		mid := (lo + hi) / 2
		if total(mid) > fleet {
			lo = mid
		} else {
			hi = mid
		}
	}
	total(hi)
}

// round takes the ceiling of the relaxed counts and then removes vehicles
// from the lowest-demand routes until the period fits the fleet. It returns
// the number of vehicles removed.
func round(row []*cell, fleet int) int {
	used := 0
	for _, c := range row {
		c.vehicles = min(c.hi, max(c.lo, int(math.Ceil(c.relaxed-1e-9))))
		used += c.vehicles
	}
	if used <= fleet {
		return 0
	}

	order := slices.Clone(row)
	slices.SortStableFunc(order, func(a, b *cell) int {
		switch {
		case a.demand < b.demand:
			return -1
		case a.demand > b.demand:
			return 1
		}
		return a.route - b.route
	})

	removed := 0
	for used > fleet {
		progressed := false
		for _, c := range order {
			if used <= fleet {
				break
			}
			if c.vehicles > c.lo {
				c.vehicles--
				used--
				removed++
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}
	return removed
}

func (o *Optimizer) render(req Request, cons Constraints, grid [][]*cell) *Schedule {
	sched := &Schedule{
		Periods:          slices.Clone(req.Periods),
		VehiclesByPeriod: make(map[string]int, len(req.Periods)),
		MaxFleetSize:     cons.MaxFleetSize,
	}

	var riders, offered float64
	for p, period := range req.Periods {
		inService := 0
		for _, c := range grid[p] {
			h := c.headway(c.vehicles)
			headway := min(ceilMinutes(h), cons.MaxHeadway)
			capacity := 60 / h * cons.VehicleCapacity
			sched.Assignments = append(sched.Assignments, Assignment{
				RouteID:      req.Routes[c.route].RouteID,
				Period:       period.Name,
				PeriodStart:  period.Start,
				PeriodEnd:    period.End,
				Vehicles:     c.vehicles,
				Headway:      headway,
				Demand:       c.demand,
				Capacity:     capacity,
				ExpectedWait: headway / 2,
			})
			inService += c.vehicles
			riders += c.demand * c.hours
			offered += capacity * c.hours
			sched.Objective += cons.VehicleCost*c.hours*float64(c.vehicles) + cons.WaitCost*c.demand*c.hours*h/2
		}
		sched.VehiclesByPeriod[period.Name] = inService
		sched.TotalVehicles = max(sched.TotalVehicles, inService)
	}

	sched.FleetUtilization = float64(sched.TotalVehicles) / float64(cons.MaxFleetSize)
	if offered > 0 {
		sched.CapacityUtilization = riders / offered
	}
	return sched
}

// ceilMinutes rounds up so that the round trip divided by the reported
// headway never needs more vehicles than were assigned.
func ceilMinutes(m float64) time.Duration {
	return time.Duration(math.Ceil(m * float64(time.Minute)))
}
