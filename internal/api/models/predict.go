package models

import (
	"strings"
	"time"

	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/planner"
)

// DemandContext carries optional feature overrides.
type DemandContext struct {
	Fare           float64 `json:"fare" validate:"gte=0"`
	HeadwayMinutes float64 `json:"headway_minutes" validate:"gte=0"`
	Holiday        bool    `json:"holiday"`
}

func (c *DemandContext) query() *demand.QueryContext {
	if c == nil {
		return nil
	}
	return &demand.QueryContext{Fare: c.Fare, HeadwayMinutes: c.HeadwayMinutes, Holiday: c.Holiday}
}

// DemandPredictionRequest is the body of POST /v1/predict/demand.
type DemandPredictionRequest struct {
	StopID  string `json:"stop_id" validate:"required"`
	RouteID string `json:"route_id" validate:"required"`

	// Time is a service-day clock, HH:MM or HH:MM:SS.
	Time string `json:"time" validate:"required"`

	// DayOfWeek is a day name; it defaults to the day of Date.
	DayOfWeek string `json:"day_of_week"`

	// Date is YYYY-MM-DD; it defaults to today.
	Date string `json:"date"`

	Context *DemandContext `json:"context"`
}

// ToRequest resolves the request against now. Field errors are returned for
// unparseable values.
func (r DemandPredictionRequest) ToRequest(now time.Time) (planner.DemandRequest, []FieldError) {
	var errs []FieldError
	day, err := parseDate(r.Date, now)
	if err != nil {
		errs = append(errs, FieldError{Field: "date", Message: "must be YYYY-MM-DD", Code: "format"})
	}
	clock, err := parseClock(r.Time)
	if err != nil {
		errs = append(errs, FieldError{Field: "time", Message: "must be HH:MM or HH:MM:SS", Code: "format"})
	}
	out := planner.DemandRequest{
		StopID:  r.StopID,
		RouteID: r.RouteID,
		Time:    day.Add(clock),
		Context: r.Context.query(),
	}
	if r.DayOfWeek != "" {
		wd, err := ParseWeekday(r.DayOfWeek)
		if err != nil {
			errs = append(errs, FieldError{Field: "day_of_week", Message: err.Error(), Code: "oneof"})
		}
		out.DayOfWeek = &wd
	}
	return out, errs
}

// NetworkDemandRequest is the body of POST /v1/predict/network-demand.
type NetworkDemandRequest struct {
	StopIDs  []string `json:"stop_ids" validate:"required,min=1,dive,required"`
	RouteIDs []string `json:"route_ids" validate:"required,min=1,dive,required"`

	// StartTime and EndTime bound the buckets; EndTime is exclusive.
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`

	StepMinutes int `json:"step_minutes" validate:"gte=0,lte=240"`

	// Days are day names. Empty predicts the weekday of WeekOf.
	Days []string `json:"days" validate:"omitempty,max=7"`

	// WeekOf is a YYYY-MM-DD date in the target week; it defaults to today.
	WeekOf string `json:"week_of"`
}

// ToQuery resolves the request against now.
func (r NetworkDemandRequest) ToQuery(now time.Time) (demand.NetworkQuery, []FieldError) {
	var errs []FieldError
	q := demand.NetworkQuery{
		StopIDs:  r.StopIDs,
		RouteIDs: r.RouteIDs,
		Step:     time.Duration(r.StepMinutes) * time.Minute,
	}
	var err error
	if q.Start, err = parseClock(r.StartTime); err != nil {
		errs = append(errs, FieldError{Field: "start_time", Message: "must be HH:MM or HH:MM:SS", Code: "format"})
	}
	if q.End, err = parseClock(r.EndTime); err != nil {
		errs = append(errs, FieldError{Field: "end_time", Message: "must be HH:MM or HH:MM:SS", Code: "format"})
	}
	if len(errs) == 0 && q.End <= q.Start {
		errs = append(errs, FieldError{Field: "end_time", Message: "must be after start_time", Code: "gtfield"})
	}
	if q.WeekOf, err = parseDate(r.WeekOf, now); err != nil {
		errs = append(errs, FieldError{Field: "week_of", Message: "must be YYYY-MM-DD", Code: "format"})
	}
	for _, name := range r.Days {
		d, err := ParseWeekday(name)
		if err != nil {
			errs = append(errs, FieldError{Field: "days", Message: err.Error(), Code: "oneof"})
			continue
		}
		q.Days = append(q.Days, d)
	}
	return q, errs
}

// NetworkDemandResponse holds the estimates of a network batch.
type NetworkDemandResponse struct {
	Count          int                  `json:"count"`
	TotalPredicted float64              `json:"total_predicted"`
	Estimates      []demand.Estimate    `json:"estimates"`
	Failures       []demand.UnitFailure `json:"failures,omitempty"`
}

// NewNetworkDemandResponse summarizes a network prediction.
func NewNetworkDemandResponse(p *demand.NetworkPrediction) NetworkDemandResponse {
	out := NetworkDemandResponse{
		Count:     len(p.Estimates),
		Estimates: p.Estimates,
		Failures:  p.Failures,
	}
	for _, e := range p.Estimates {
		out.TotalPredicted += e.PredictedCount
	}
	out.TotalPredicted = round2(out.TotalPredicted)
	if out.Estimates == nil {
		out.Estimates = []demand.Estimate{}
	}
	return out
}

func parseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if strings.Count(s, ":") == 1 {
		s += ":00"
	}
	return feed.ParseClock(s)
}

func parseDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), nil
	}
	return time.ParseInLocation(time.DateOnly, s, now.Location())
}
