// Package planner runs the optimization pipeline over a loaded transit feed:
// it derives optimizer inputs from the feed and the demand model, invokes the
// route and schedule optimizers and records every run in the result store.
package planner

import (
	"time"

	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/routeopt"
	"github.com/transitopt/transitopt/internal/scheduleopt"
)

// Demand sources reported with each run.
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
	SourceMixed     = "mixed"
)

// RouteParams are the knobs of a network route optimization. Zero values take
// the configured defaults.
type RouteParams struct {
	VehicleCapacity float64       `json:"vehicle_capacity,omitempty"`
	MaxRouteTime    time.Duration `json:"max_route_time,omitempty"`
	MaxVehicles     int           `json:"max_vehicles,omitempty"`

	// IncludeDemandEstimation weights stops by predicted demand when a model
	// is serving. Nil uses the configured default.
	IncludeDemandEstimation *bool `json:"include_demand_estimation,omitempty"`

	// RouteIDs restricts the run. Empty optimizes every route in the feed.
	RouteIDs []string `json:"route_ids,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`
}

// RoutesReport is the stored outcome of a route optimization.
type RoutesReport struct {
	ResultID     string                  `json:"result_id"`
	DemandSource string                  `json:"demand_source"`
	Network      *routeopt.NetworkResult `json:"network"`
}

// ScheduleParams are the knobs of a schedule optimization. Zero values take
// the configured defaults.
type ScheduleParams struct {
	VehicleCapacity float64       `json:"vehicle_capacity,omitempty"`
	MinHeadway      time.Duration `json:"min_headway,omitempty"`
	MaxHeadway      time.Duration `json:"max_headway,omitempty"`
	MaxFleetSize    int           `json:"max_fleet_size,omitempty"`

	IncludeDemandEstimation *bool    `json:"include_demand_estimation,omitempty"`
	RouteIDs                []string `json:"route_ids,omitempty"`

	Timeout time.Duration `json:"timeout,omitempty"`
}

// ScheduleReport is the stored outcome of a schedule optimization.
type ScheduleReport struct {
	ResultID     string              `json:"result_id"`
	DemandSource string              `json:"demand_source"`
	Outcome      scheduleopt.Outcome `json:"outcome"`
}

// DemandRequest asks for one demand estimate. When DayOfWeek is set the
// estimate is for that weekday in the week of Time, at Time's clock.
type DemandRequest struct {
	StopID    string
	RouteID   string
	Time      time.Time
	DayOfWeek *time.Weekday
	Context   *demand.QueryContext
}

// TrainingReport is the stored outcome of a training run.
type TrainingReport struct {
	ResultID string      `json:"result_id"`
	Source   string      `json:"source"`
	Stored   bool        `json:"stored"`
	Model    demand.Info `json:"model"`
}

// Sample sources.
const (
	SamplesRidership = "ridership"
	SamplesSynthetic = "synthetic"
)

// ModelStatus describes the serving model.
type ModelStatus struct {
	State string       `json:"state"`
	Model *demand.Info `json:"model,omitempty"`
}
