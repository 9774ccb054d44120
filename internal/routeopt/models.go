// Package routeopt solves the capacitated vehicle routing problem for the
// stops of one route: tours start at the route's first stop, respect vehicle
// capacity, route duration and optional arrival windows, and minimize total
// distance.
package routeopt

import (
	"errors"
	"fmt"
	"time"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/geo"
)

// Predefined errors.
var (
	ErrNoStops            = errors.New("route has no stops")
	ErrMatrixMismatch     = errors.New("distance matrix does not match stops")
	ErrInvalidConstraints = errors.New("invalid vehicle constraints")
	ErrNegativeDemand     = errors.New("negative demand weight")
)

// Diagnostic reasons carried by infeasible outcomes.
const (
	ReasonCapacityExceeded = "capacity-exceeded"
	ReasonTimeExceeded     = "time-exceeded"
	ReasonDisconnected     = "disconnected-stop-set"
	ReasonTimeout          = "timeout"

	// ReasonNoSolution marks a search that found no plan within its budget
	// although none of the infeasibility proofs applied.
	ReasonNoSolution = "no-solution-found"
)

// Status discriminates optimization outcomes.
type Status string

const (
	StatusFeasible   Status = "feasible"
	StatusInfeasible Status = "infeasible"
	StatusTimeout    Status = "timeout"

	// StatusError marks a route of a network batch whose request was
	// rejected before any search; RouteResult.Kind classifies it.
	StatusError Status = "error"
)

// TimeWindow bounds the arrival at a stop, as offsets from tour departure.
type TimeWindow struct {
	Earliest time.Duration `json:"earliest"`
	Latest   time.Duration `json:"latest"`
}

// VehicleConstraints are the hard limits every tour must satisfy.
type VehicleConstraints struct {
	// Capacity is the maximum demand-weighted load of one tour.
	Capacity float64

	// MaxRouteDuration bounds the travel plus dwell time of one tour.
	MaxRouteDuration time.Duration

	// MaxVehicles caps the number of tours. 1 requests a single vehicle;
	// 0 means no limit.
	MaxVehicles int

	// DwellTime is spent at every visited stop.
	DwellTime time.Duration

	// TimeWindows by stop id. Optional.
	TimeWindows map[string]TimeWindow

	// ReturnToDepot closes every tour back at the first stop.
	ReturnToDepot bool
}

// Validate checks the constraints for contradictions.
func (c VehicleConstraints) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConstraints)
	case c.MaxRouteDuration <= 0:
		return fmt.Errorf("%w: max route duration must be positive", ErrInvalidConstraints)
	case c.MaxVehicles < 0:
		return fmt.Errorf("%w: max vehicles must not be negative", ErrInvalidConstraints)
	case c.DwellTime < 0:
		return fmt.Errorf("%w: dwell time must not be negative", ErrInvalidConstraints)
	}
	for id, w := range c.TimeWindows {
		if w.Latest < w.Earliest {
			return fmt.Errorf("%w: time window of %s closes before it opens", ErrInvalidConstraints, id)
		}
	}
	return nil
}

// Request is one route optimization problem.
type Request struct {
	RouteID string

	// Stops in their original order; Stops[0] is the depot.
	Stops []geo.Stop

	// Demand weights by stop id. Missing stops weigh zero.
	Demand map[string]float64

	// Matrix rows must follow Stops.
	Matrix *geo.DistanceMatrix

	Constraints VehicleConstraints

	// Timeout is the search budget (default: the optimizer's).
	Timeout time.Duration
}

// Visit is one stop served by a tour. Load is picked up at the stop;
// CumulativeLoad is the vehicle's load after it.
type Visit struct {
	StopID         string        `json:"stop_id"`
	Load           float64       `json:"load"`
	CumulativeLoad float64       `json:"cumulative_load"`
	Arrival        time.Duration `json:"arrival"`
	Departure      time.Duration `json:"departure"`
}

// Tour is the itinerary of one vehicle.
type Tour struct {
	Vehicle  int           `json:"vehicle"`
	Visits   []Visit       `json:"visits"`
	Distance float64       `json:"distance_m"`
	Duration time.Duration `json:"duration"`
	Load     float64       `json:"load"`
}

// StopIDs returns the visited stops in order.
func (t Tour) StopIDs() []string {
	out := make([]string, len(t.Visits))
	for i, v := range t.Visits {
		out[i] = v.StopID
	}
	return out
}

// Plan is a feasible set of tours covering every stop.
type Plan struct {
	RouteID       string        `json:"route_id"`
	Tours         []Tour        `json:"tours"`
	TotalDistance float64       `json:"total_distance_m"`
	TotalDuration time.Duration `json:"total_duration"`
	TotalLoad     float64       `json:"total_load"`
	Vehicles      int           `json:"vehicles"`

	// Moves counts the local search rounds that shortened the plan.
	Moves int `json:"moves"`

	// Interrupted is set when the budget ran out during improvement.
	Interrupted bool `json:"interrupted"`
}

// Outcome is the discriminated result of an optimization.
type Outcome struct {
	Status  Status `json:"status"`
	Plan    *Plan  `json:"plan,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// Err converts a non-feasible outcome to a classified error.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusFeasible:
		return nil
	case StatusTimeout:
		e := apperror.Timeout(o.Message, nil)
		e.Reason = o.Reason
		if e.Reason == "" {
			e.Reason = ReasonTimeout
		}
		return e
	default:
		return apperror.Infeasible(o.Reason, o.Message)
	}
}

func infeasible(reason, format string, args ...any) Outcome {
	return Outcome{Status: StatusInfeasible, Reason: reason, Message: fmt.Sprintf(format, args...)}
}
