// Package scheduleopt allocates vehicles to routes per service period. Fleet
// counts come from a continuous relaxation that balances vehicle cost against
// rider waiting time, rounded up and repaired against the fleet ceiling.
package scheduleopt

import (
	"errors"
	"fmt"
	"time"

	"github.com/transitopt/transitopt/internal/apperror"
)

// Predefined errors.
var (
	ErrInvalidConstraints = errors.New("invalid schedule constraints")
	ErrInvalidRoute       = errors.New("invalid route input")
	ErrInvalidPeriod      = errors.New("invalid service period")
)

// Diagnostic reasons carried by infeasible outcomes.
const (
	ReasonFleetTooSmall    = "fleet-too-small"
	ReasonHeadwayBounds    = "headway-bounds-too-tight"
	ReasonTimeout          = "timeout"
)

// Status discriminates optimization outcomes.
type Status string

const (
	StatusFeasible   Status = "feasible"
	StatusInfeasible Status = "infeasible"
	StatusTimeout    Status = "timeout"
)

// Period is a slice of the service day, as offsets from midnight.
type Period struct {
	Name  string        `json:"name"`
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Hours returns the period length in hours.
func (p Period) Hours() float64 {
	return (p.End - p.Start).Hours()
}

// Contains reports whether the clock offset falls in the period.
func (p Period) Contains(clock time.Duration) bool {
	return clock >= p.Start && clock < p.End
}

var standardPeriods = []Period{
	{Name: "morning_peak", Start: 6 * time.Hour, End: 9 * time.Hour},
	{Name: "midday", Start: 9 * time.Hour, End: 16 * time.Hour},
	{Name: "afternoon_peak", Start: 16 * time.Hour, End: 19 * time.Hour},
	{Name: "evening", Start: 19 * time.Hour, End: 22 * time.Hour},
	{Name: "night", Start: 22 * time.Hour, End: 24 * time.Hour},
}

// DefaultPeriods returns the standard periods clipped to the service hours.
// Periods entirely outside service are dropped.
func DefaultPeriods(serviceStart, serviceEnd time.Duration) []Period {
	var out []Period
	for _, p := range standardPeriods {
		p.Start = max(p.Start, serviceStart)
		p.End = min(p.End, serviceEnd)
		if p.End > p.Start {
			out = append(out, p)
		}
	}
	return out
}

// RouteInput describes one route to schedule.
type RouteInput struct {
	RouteID string `json:"route_id"`

	// RoundTripTime is the time one vehicle needs to complete a cycle.
	RoundTripTime time.Duration `json:"round_trip_time"`
}

// DemandByPeriod holds passengers per hour, by route id then period name.
type DemandByPeriod map[string]map[string]float64

// Constraints bound the schedule.
type Constraints struct {
	// VehicleCapacity in passengers.
	VehicleCapacity float64

	MinHeadway time.Duration
	MaxHeadway time.Duration

	// MaxFleetSize caps the vehicles in service during any period.
	MaxFleetSize int

	// VehicleCost weighs one vehicle in service for a period (default: 100).
	VehicleCost float64

	// WaitCost weighs one passenger-minute of expected waiting (default: 1).
	WaitCost float64
}

func (c Constraints) withDefaults() Constraints {
	if c.VehicleCost <= 0 {
		c.VehicleCost = 100
	}
	if c.WaitCost <= 0 {
		c.WaitCost = 1
	}
	return c
}

// Validate checks the constraints for contradictions.
func (c Constraints) Validate() error {
	switch {
	case c.VehicleCapacity <= 0:
		return fmt.Errorf("%w: vehicle capacity must be positive", ErrInvalidConstraints)
	case c.MinHeadway <= 0:
		return fmt.Errorf("%w: min headway must be positive", ErrInvalidConstraints)
	case c.MinHeadway > c.MaxHeadway:
		return fmt.Errorf("%w: min headway %s exceeds max headway %s", ErrInvalidConstraints, c.MinHeadway, c.MaxHeadway)
	case c.MaxFleetSize <= 0:
		return fmt.Errorf("%w: max fleet size must be positive", ErrInvalidConstraints)
	}
	return nil
}

// Assignment is the service level of one route during one period.
type Assignment struct {
	RouteID      string        `json:"route_id"`
	Period       string        `json:"period"`
	PeriodStart  time.Duration `json:"period_start"`
	PeriodEnd    time.Duration `json:"period_end"`
	Vehicles     int           `json:"vehicles"`
	Headway      time.Duration `json:"headway"`
	Demand       float64       `json:"demand_per_hour"`
	Capacity     float64       `json:"capacity_per_hour"`
	ExpectedWait time.Duration `json:"expected_wait"`
}

// Schedule is a feasible fleet allocation.
type Schedule struct {
	Assignments      []Assignment   `json:"assignments"`
	Periods          []Period       `json:"periods"`
	VehiclesByPeriod map[string]int `json:"vehicles_by_period"`

	// TotalVehicles is the largest number in service during any period.
	TotalVehicles       int     `json:"total_vehicles"`
	MaxFleetSize        int     `json:"max_fleet_size"`
	FleetUtilization    float64 `json:"fleet_utilization"`
	CapacityUtilization float64 `json:"capacity_utilization"`
	Objective           float64 `json:"objective"`

	// Repairs counts the vehicles removed to restore the fleet ceiling
	// after rounding.
	Repairs int `json:"repairs"`
}

// ForRoute returns the assignments of one route in period order.
func (s *Schedule) ForRoute(routeID string) []Assignment {
	var out []Assignment
	for _, a := range s.Assignments {
		if a.RouteID == routeID {
			out = append(out, a)
		}
	}
	return out
}

// Outcome is the discriminated result of a schedule optimization.
type Outcome struct {
	Status   Status    `json:"status"`
	Schedule *Schedule `json:"schedule,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Err converts an infeasible outcome to a classified error.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusFeasible:
		return nil
	case StatusTimeout:
		e := apperror.Timeout(o.Message, nil)
		e.Reason = ReasonTimeout
		return e
	}
	return apperror.Infeasible(o.Reason, o.Message)
}

func infeasible(reason, format string, args ...any) Outcome {
	return Outcome{Status: StatusInfeasible, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Request is one schedule optimization problem.
type Request struct {
	Routes      []RouteInput
	Demand      DemandByPeriod
	Periods     []Period
	Constraints Constraints

	// Timeout bounds the solve. Zero uses the optimizer default.
	Timeout time.Duration
}
