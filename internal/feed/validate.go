package feed

import (
	"fmt"
	"strings"

	"github.com/transitopt/transitopt/internal/apperror"
)

// maxReported caps the ids listed per violation class.
const maxReported = 5

// ValidationReport lists referential integrity violations.
type ValidationReport struct {
	TripsWithUnknownRoute  []string
	StopTimesUnknownStop   []string
	StopTimesUnknownTrip   []string
	StopsInvalidCoordinate []string
	RidershipUnknownRef    []string
}

// Valid reports whether no violations were found.
func (r *ValidationReport) Valid() bool {
	return len(r.TripsWithUnknownRoute) == 0 &&
		len(r.StopTimesUnknownStop) == 0 &&
		len(r.StopTimesUnknownTrip) == 0 &&
		len(r.StopsInvalidCoordinate) == 0 &&
		len(r.RidershipUnknownRef) == 0
}

func (r *ValidationReport) String() string {
	var parts []string
	add := func(label string, ids []string) {
		if len(ids) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", label, strings.Join(ids, ", ")))
		}
	}
	add("trips with unknown route", r.TripsWithUnknownRoute)
	add("stop_times with unknown stop", r.StopTimesUnknownStop)
	add("stop_times with unknown trip", r.StopTimesUnknownTrip)
	add("stops with invalid coordinates", r.StopsInvalidCoordinate)
	add("ridership with unknown stop or route", r.RidershipUnknownRef)
	return strings.Join(parts, "; ")
}

func appendCapped(ids []string, id string) []string {
	if len(ids) < maxReported {
		return append(ids, id)
	}
	return ids
}

// Validate checks referential integrity: trips reference routes, stop times
// reference stops and trips, ridership references stops and routes, and stop
// coordinates are in range. It returns a data error describing the first
// offending ids of every violated rule.
func (f *Feed) Validate() error {
	report := f.Check()
	if report.Valid() {
		return nil
	}
	return apperror.Data("feed validation failed", fmt.Errorf("%w: %s", ErrDanglingRef, report.String()))
}

// Check runs the validation rules and returns the full report.
func (f *Feed) Check() *ValidationReport {
	if f.stopIndex == nil {
		f.Index()
	}
	report := &ValidationReport{}

	for _, s := range f.Stops {
		if err := s.GeoStop().Validate(); err != nil {
			report.StopsInvalidCoordinate = appendCapped(report.StopsInvalidCoordinate, s.ID)
		}
	}

	trips := make(map[string]bool, len(f.Trips))
	for _, t := range f.Trips {
		trips[t.ID] = true
		if _, ok := f.routeIndex[t.RouteID]; !ok {
			report.TripsWithUnknownRoute = appendCapped(report.TripsWithUnknownRoute, t.ID)
		}
	}

	for _, st := range f.StopTimes {
		if _, ok := f.stopIndex[st.StopID]; !ok {
			report.StopTimesUnknownStop = appendCapped(report.StopTimesUnknownStop, st.TripID+"/"+st.StopID)
		}
		if !trips[st.TripID] {
			report.StopTimesUnknownTrip = appendCapped(report.StopTimesUnknownTrip, st.TripID)
		}
	}

	for _, rec := range f.Ridership {
		_, stopOK := f.stopIndex[rec.StopID]
		_, routeOK := f.routeIndex[rec.RouteID]
		if !stopOK || !routeOK {
			report.RidershipUnknownRef = appendCapped(report.RidershipUnknownRef, rec.RouteID+"/"+rec.StopID)
		}
	}

	return report
}
