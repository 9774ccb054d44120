package scheduleopt

import (
	"fmt"
	"time"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/feed"
)

// ServiceID is the calendar entry shared by every exported trip.
const ServiceID = "OPT_SERVICE"

const (
	fallbackStopGap = 2 * time.Minute
	fallbackDwell   = time.Minute
)

// ExportConfig controls the GTFS rendering of a schedule.
type ExportConfig struct {
	// StartDate and EndDate bound the exported calendar. Defaults to the
	// source feed's service range, or one year from today.
	StartDate time.Time
	EndDate   time.Time
}

// Export renders a schedule as a feed that reuses the source feed's agencies,
// routes and stops. Each assignment dispatches one trip per headway from the
// start of its period until the period ends. Stop times follow the route's
// template trip, or a fixed two-minute spacing when the template is untimed.
func Export(src *feed.Feed, sched *Schedule, cfg ExportConfig) (*feed.Feed, error) {
	if sched == nil {
		return nil, apperror.Data("no schedule to export", nil)
	}

	out := &feed.Feed{
		Agencies: src.Agencies,
		Routes:   src.Routes,
		Stops:    src.Stops,
	}

	from, to := cfg.StartDate, cfg.EndDate
	if from.IsZero() || to.IsZero() {
		if f, t, ok := src.ServiceRange(); ok {
			from, to = f, t
		} else {
			today := time.Now().UTC().Truncate(24 * time.Hour)
			from, to = today, today.AddDate(1, 0, 0)
		}
	}
	out.Calendars = []feed.Calendar{{
		ServiceID: ServiceID,
		Weekdays:  [7]bool{true, true, true, true, true, true, true},
		StartDate: from,
		EndDate:   to,
	}}

	for _, a := range sched.Assignments {
		if a.Headway <= 0 {
			return nil, apperror.Data(fmt.Sprintf("assignment %s/%s has no headway", a.RouteID, a.Period), nil)
		}
		route, ok := src.Route(a.RouteID)
		if !ok {
			return nil, apperror.Data("exporting schedule", fmt.Errorf("%w: %s", feed.ErrUnknownRoute, a.RouteID))
		}
		stops, err := src.RouteStops(a.RouteID)
		if err != nil {
			return nil, apperror.Data("exporting schedule", err)
		}
		offsets := src.TemplateOffsets(a.RouteID)
		timed := increasing(stops, offsets)

		headsign := route.ShortName
		if headsign == "" {
			headsign = route.ID
		}
		n := 0
		for dep := a.PeriodStart; dep < a.PeriodEnd; dep += a.Headway {
			n++
			tripID := fmt.Sprintf("OPT_%s_%s_%03d", a.RouteID, a.Period, n)
			out.Trips = append(out.Trips, feed.Trip{
				ID:        tripID,
				RouteID:   a.RouteID,
				ServiceID: ServiceID,
				Headsign:  headsign + " - " + a.Period,
			})
			for seq, stopID := range stops {
				arr, dwell := dep+time.Duration(seq)*fallbackStopGap, fallbackDwell
				if timed {
					arr, dwell = dep+offsets[stopID], 0
				}
				out.StopTimes = append(out.StopTimes, feed.StopTime{
					TripID:    tripID,
					StopID:    stopID,
					Sequence:  seq + 1,
					Arrival:   arr,
					Departure: arr + dwell,
				})
			}
		}
	}

	out.Index()
	return out, nil
}

// increasing reports whether every stop has an offset later than its
// predecessor's.
func increasing(stops []string, offsets map[string]time.Duration) bool {
	prev := time.Duration(-1)
	for _, id := range stops {
		off, ok := offsets[id]
		if !ok || off <= prev {
			return false
		}
		prev = off
	}
	return len(stops) > 0
}
