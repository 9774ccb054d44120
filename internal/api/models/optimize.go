package models

import (
	"time"

	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/routeopt"
	"github.com/transitopt/transitopt/internal/scheduleopt"
	"github.com/transitopt/transitopt/pkg/polyline"
)

// RouteOptimizationRequest is the body of POST /v1/optimize/routes. Omitted
// fields take the configured defaults.
type RouteOptimizationRequest struct {
	VehicleCapacity         float64  `json:"vehicle_capacity" validate:"gte=0"`
	MaxRouteTimeMinutes     float64  `json:"max_route_time" validate:"gte=0"`
	MaxVehicles             int      `json:"max_vehicles" validate:"gte=0"`
	IncludeDemandEstimation *bool    `json:"include_demand_estimation"`
	RouteIDs                []string `json:"route_ids" validate:"omitempty,dive,required"`
	TimeoutSeconds          int      `json:"timeout_seconds" validate:"gte=0,lte=600"`
}

// ToParams converts the request for the planner.
func (r RouteOptimizationRequest) ToParams() planner.RouteParams {
	return planner.RouteParams{
		VehicleCapacity:         r.VehicleCapacity,
		MaxRouteTime:            minutes(r.MaxRouteTimeMinutes),
		MaxVehicles:             r.MaxVehicles,
		IncludeDemandEstimation: r.IncludeDemandEstimation,
		RouteIDs:                r.RouteIDs,
		Timeout:                 time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// RouteOptimizationResponse summarizes a network route optimization.
type RouteOptimizationResponse struct {
	ResultID     string       `json:"result_id"`
	DemandSource string       `json:"demand_source"`
	Summary      RouteSummary `json:"summary"`
	Routes       []RouteView  `json:"routes"`
}

// RouteSummary holds the network totals. Distances are in meters.
type RouteSummary struct {
	Successes                    int     `json:"successes"`
	Failures                     int     `json:"failures"`
	OriginalTotalDistance        float64 `json:"original_total_distance_m"`
	OptimizedTotalDistance       float64 `json:"optimized_total_distance_m"`
	TotalDistanceSaved           float64 `json:"total_distance_saved_m"`
	EfficiencyImprovement        float64 `json:"efficiency_improvement"`
	EfficiencyImprovementPercent float64 `json:"efficiency_improvement_percent"`
}

// RouteView is the outcome of one route.
type RouteView struct {
	RouteID           string     `json:"route_id"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	Kind              string     `json:"kind,omitempty"`
	Error             string     `json:"error,omitempty"`
	BaselineDistance  float64    `json:"baseline_distance_m"`
	OptimizedDistance float64    `json:"optimized_distance_m,omitempty"`
	Vehicles          int        `json:"vehicles,omitempty"`
	Tours             []TourView `json:"tours,omitempty"`
}

// TourView is one vehicle itinerary with its encoded geometry.
type TourView struct {
	Vehicle         int              `json:"vehicle"`
	StopIDs         []string         `json:"stop_ids"`
	Distance        float64          `json:"distance_m"`
	DurationMinutes float64          `json:"duration_minutes"`
	Load            float64          `json:"load"`
	Visits          []VisitView      `json:"visits"`
	Polyline        string           `json:"polyline,omitempty"`
	Bounds          *polyline.Bounds `json:"bounds,omitempty"`
}

// VisitView is one stop of a tour with the vehicle's load after it.
type VisitView struct {
	StopID         string  `json:"stop_id"`
	Load           float64 `json:"load"`
	CumulativeLoad float64 `json:"cumulative_load"`
	ArrivalMinutes float64 `json:"arrival_minutes"`
}

// NewRouteOptimizationResponse renders a routes report. Stop coordinates for
// the tour geometry are looked up in f; unknown stops are skipped.
func NewRouteOptimizationResponse(report *planner.RoutesReport, f *feed.Feed) RouteOptimizationResponse {
	n := report.Network
	out := RouteOptimizationResponse{
		ResultID:     report.ResultID,
		DemandSource: report.DemandSource,
		Summary: RouteSummary{
			Successes:                    n.Successes,
			Failures:                     n.Failures,
			OriginalTotalDistance:        round2(n.OriginalTotalDistance),
			OptimizedTotalDistance:       round2(n.OptimizedTotalDistance),
			TotalDistanceSaved:           round2(n.TotalDistanceSaved),
			EfficiencyImprovement:        n.EfficiencyImprovement,
			EfficiencyImprovementPercent: round2(n.EfficiencyPercent),
		},
		Routes: make([]RouteView, 0, len(n.Routes)),
	}
	for _, r := range n.Routes {
		out.Routes = append(out.Routes, newRouteView(r, f))
	}
	return out
}

func newRouteView(r routeopt.RouteResult, f *feed.Feed) RouteView {
	v := RouteView{
		RouteID:           r.RouteID,
		Status:            string(r.Status),
		Reason:            r.Reason,
		Kind:              string(r.Kind),
		Error:             r.Error,
		BaselineDistance:  round2(r.BaselineDistance),
		OptimizedDistance: round2(r.OptimizedDistance),
	}
	if r.Plan == nil {
		return v
	}
	v.Vehicles = r.Plan.Vehicles
	for _, t := range r.Plan.Tours {
		tv := TourView{
			Vehicle:         t.Vehicle,
			StopIDs:         t.StopIDs(),
			Distance:        round2(t.Distance),
			DurationMinutes: inMinutes(t.Duration),
			Load:            round2(t.Load),
			Visits:          make([]VisitView, 0, len(t.Visits)),
		}
		for _, vis := range t.Visits {
			tv.Visits = append(tv.Visits, VisitView{
				StopID:         vis.StopID,
				Load:           round2(vis.Load),
				CumulativeLoad: round2(vis.CumulativeLoad),
				ArrivalMinutes: inMinutes(vis.Arrival),
			})
		}
		if path := tourPath(tv.StopIDs, f); len(path) > 0 {
			tv.Polyline = polyline.Encode(path)
			if b, ok := polyline.BoundsOf(path); ok {
				tv.Bounds = &b
			}
		}
		v.Tours = append(v.Tours, tv)
	}
	return v
}

func tourPath(stopIDs []string, f *feed.Feed) []polyline.Coordinate {
	if f == nil {
		return nil
	}
	path := make([]polyline.Coordinate, 0, len(stopIDs))
	for _, id := range stopIDs {
		if s, ok := f.Stop(id); ok {
			path = append(path, polyline.Coordinate{Lat: s.Lat, Lon: s.Lon})
		}
	}
	return path
}

// ScheduleOptimizationRequest is the body of POST /v1/optimize/schedules.
type ScheduleOptimizationRequest struct {
	VehicleCapacity         float64  `json:"vehicle_capacity" validate:"gte=0"`
	MinHeadwayMinutes       float64  `json:"min_headway" validate:"gte=0"`
	MaxHeadwayMinutes       float64  `json:"max_headway" validate:"gte=0"`
	MaxFleetSize            int      `json:"max_fleet_size" validate:"gte=0"`
	IncludeDemandEstimation *bool    `json:"include_demand_estimation"`
	RouteIDs                []string `json:"route_ids" validate:"omitempty,dive,required"`
	TimeoutSeconds          int      `json:"timeout_seconds" validate:"gte=0,lte=600"`
}

// ToParams converts the request for the planner.
func (r ScheduleOptimizationRequest) ToParams() planner.ScheduleParams {
	return planner.ScheduleParams{
		VehicleCapacity:         r.VehicleCapacity,
		MinHeadway:              minutes(r.MinHeadwayMinutes),
		MaxHeadway:              minutes(r.MaxHeadwayMinutes),
		MaxFleetSize:            r.MaxFleetSize,
		IncludeDemandEstimation: r.IncludeDemandEstimation,
		RouteIDs:                r.RouteIDs,
		Timeout:                 time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// ScheduleOptimizationResponse is a feasible fleet allocation.
type ScheduleOptimizationResponse struct {
	ResultID            string           `json:"result_id"`
	DemandSource        string           `json:"demand_source"`
	Status              string           `json:"status"`
	TotalVehicles       int              `json:"total_vehicles"`
	MaxFleetSize        int              `json:"max_fleet_size"`
	FleetUtilization    float64          `json:"fleet_utilization"`
	CapacityUtilization float64          `json:"capacity_utilization"`
	Objective           float64          `json:"objective"`
	VehiclesByPeriod    map[string]int   `json:"vehicles_by_period"`
	Periods             []PeriodView     `json:"periods"`
	Assignments         []AssignmentView `json:"assignments"`
	Links               ScheduleLinks    `json:"links"`
}

// PeriodView is a period with HH:MM bounds.
type PeriodView struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// AssignmentView is the service level of one route in one period.
type AssignmentView struct {
	RouteID             string  `json:"route_id"`
	Period              string  `json:"period"`
	Vehicles            int     `json:"vehicles"`
	HeadwayMinutes      float64 `json:"headway_minutes"`
	DemandPerHour       float64 `json:"demand_per_hour"`
	CapacityPerHour     float64 `json:"capacity_per_hour"`
	ExpectedWaitMinutes float64 `json:"expected_wait_minutes"`
}

// ScheduleLinks point at the downloadable renditions of a schedule.
type ScheduleLinks struct {
	GTFS   string `json:"gtfs"`
	Report string `json:"report"`
}

// ScheduleLinksFor returns the download links of a stored schedule.
func ScheduleLinksFor(resultID string) ScheduleLinks {
	return ScheduleLinks{
		GTFS:   "/v1/schedules/" + resultID + "/gtfs",
		Report: "/v1/schedules/" + resultID + "/report",
	}
}

// NewScheduleResponse renders a feasible schedule.
func NewScheduleResponse(resultID, source string, s *scheduleopt.Schedule) ScheduleOptimizationResponse {
	out := ScheduleOptimizationResponse{
		ResultID:            resultID,
		DemandSource:        source,
		Status:              string(scheduleopt.StatusFeasible),
		TotalVehicles:       s.TotalVehicles,
		MaxFleetSize:        s.MaxFleetSize,
		FleetUtilization:    s.FleetUtilization,
		CapacityUtilization: s.CapacityUtilization,
		Objective:           round2(s.Objective),
		VehiclesByPeriod:    s.VehiclesByPeriod,
		Periods:             make([]PeriodView, 0, len(s.Periods)),
		Assignments:         make([]AssignmentView, 0, len(s.Assignments)),
		Links:               ScheduleLinksFor(resultID),
	}
	for _, p := range s.Periods {
		out.Periods = append(out.Periods, PeriodView{
			Name:  p.Name,
			Start: feed.FormatClock(p.Start),
			End:   feed.FormatClock(p.End),
		})
	}
	for _, a := range s.Assignments {
		out.Assignments = append(out.Assignments, AssignmentView{
			RouteID:             a.RouteID,
			Period:              a.Period,
			Vehicles:            a.Vehicles,
			HeadwayMinutes:      inMinutes(a.Headway),
			DemandPerHour:       round2(a.Demand),
			CapacityPerHour:     round2(a.Capacity),
			ExpectedWaitMinutes: inMinutes(a.ExpectedWait),
		})
	}
	return out
}
