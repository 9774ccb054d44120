package models

import (
	"time"

	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/scheduleopt"
)

// Metadata describes the loaded feed and the optimizer defaults.
type Metadata struct {
	Feed     *FeedSummary `json:"feed,omitempty"`
	Periods  []PeriodView `json:"periods"`
	Defaults Defaults     `json:"defaults"`
}

// FeedSummary counts the records of the loaded feed.
type FeedSummary struct {
	Agencies     []string `json:"agencies"`
	Routes       int      `json:"routes"`
	Stops        int      `json:"stops"`
	Trips        int      `json:"trips"`
	StopTimes    int      `json:"stop_times"`
	Ridership    int      `json:"ridership_records"`
	ServiceStart string   `json:"service_start,omitempty"`
	ServiceEnd   string   `json:"service_end,omitempty"`
}

// Defaults are the values applied to omitted request fields.
type Defaults struct {
	VehicleCapacity         float64 `json:"vehicle_capacity"`
	MaxRouteTimeMinutes     int     `json:"max_route_time"`
	MaxVehicles             int     `json:"max_vehicles"`
	IncludeDemandEstimation bool    `json:"include_demand_estimation"`
	ScheduleCapacity        float64 `json:"schedule_vehicle_capacity"`
	MinHeadwayMinutes       int     `json:"min_headway"`
	MaxHeadwayMinutes       int     `json:"max_headway"`
	MaxFleetSize            int     `json:"max_fleet_size"`
	TimeoutSeconds          int     `json:"timeout_seconds"`
}

// NewMetadata renders the metadata of f under cfg. f may be nil before the
// feed is loaded.
func NewMetadata(cfg config.Config, f *feed.Feed) Metadata {
	start, end := cfg.Schedule.ServiceHours()
	out := Metadata{
		Defaults: Defaults{
			VehicleCapacity:         cfg.Routes.VehicleCapacity,
			MaxRouteTimeMinutes:     cfg.Routes.MaxRouteMinutes,
			MaxVehicles:             cfg.Routes.MaxVehicles,
			IncludeDemandEstimation: cfg.Routes.EstimateDemand,
			ScheduleCapacity:        cfg.Schedule.VehicleCapacity,
			MinHeadwayMinutes:       cfg.Schedule.MinHeadwayMinutes,
			MaxHeadwayMinutes:       cfg.Schedule.MaxHeadwayMinutes,
			MaxFleetSize:            cfg.Schedule.MaxFleetSize,
			TimeoutSeconds:          cfg.Optimization.TimeoutSeconds,
		},
	}
	for _, p := range scheduleopt.DefaultPeriods(start, end) {
		out.Periods = append(out.Periods, PeriodView{Name: p.Name, Start: feed.FormatClock(p.Start), End: feed.FormatClock(p.End)})
	}
	if f == nil {
		return out
	}
	s := &FeedSummary{
		Routes:    len(f.Routes),
		Stops:     len(f.Stops),
		Trips:     len(f.Trips),
		StopTimes: len(f.StopTimes),
		Ridership: len(f.Ridership),
	}
	for _, a := range f.Agencies {
		s.Agencies = append(s.Agencies, a.Name)
	}
	if from, to, ok := f.ServiceRange(); ok {
		s.ServiceStart = from.Format(time.DateOnly)
		s.ServiceEnd = to.Format(time.DateOnly)
	}
	out.Feed = s
	return out
}
