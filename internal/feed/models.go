// Package feed models the GTFS-style transit feed consumed and produced by the
// optimizers: loading, referential validation and export.
package feed

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/transitopt/transitopt/internal/geo"
)

// Predefined errors for feed operations.
var (
	ErrMissingFile   = errors.New("required feed file missing")
	ErrMalformed     = errors.New("malformed feed record")
	ErrDanglingRef   = errors.New("dangling feed reference")
	ErrUnknownStop   = errors.New("unknown stop")
	ErrUnknownRoute  = errors.New("unknown route")
	ErrNoStopsOnTrip = errors.New("route has no scheduled stops")
)

// Route types as defined by GTFS.
const (
	RouteTypeTram  = 0
	RouteTypeMetro = 1
	RouteTypeRail  = 2
	RouteTypeBus   = 3
)

// Agency operates routes.
type Agency struct {
	ID       string
	Name     string
	URL      string
	Timezone string
}

// Route is a static route definition.
type Route struct {
	ID        string
	AgencyID  string
	ShortName string
	LongName  string
	Type      int
}

// Stop is a physical stop.
type Stop struct {
	ID   string
	Name string
	Lat  float64
	Lon  float64
	Zone string
}

// GeoStop converts the stop for the distance service.
func (s Stop) GeoStop() geo.Stop {
	return geo.Stop{ID: s.ID, Lat: s.Lat, Lon: s.Lon, Zone: s.Zone}
}

// Trip is a scheduled run of a route.
type Trip struct {
	ID        string
	RouteID   string
	ServiceID string
	ShapeID   string
	Headsign  string
}

// StopTime is a scheduled visit of a trip to a stop. Times are offsets from
// service-day midnight and may exceed 24h.
type StopTime struct {
	TripID    string
	StopID    string
	Sequence  int
	Arrival   time.Duration
	Departure time.Duration
}

// Calendar is a weekly service pattern.
type Calendar struct {
	ServiceID string
	Weekdays  [7]bool // indexed by time.Weekday
	StartDate time.Time
	EndDate   time.Time
}

// RidershipRecord is an observed passenger count at a stop on a route.
type RidershipRecord struct {
	StopID    string
	RouteID   string
	Timestamp time.Time
	Count     float64
}

// Feed is an in-memory transit feed.
type Feed struct {
	Agencies  []Agency
	Routes    []Route
	Stops     []Stop
	Trips     []Trip
	StopTimes []StopTime
	Calendars []Calendar
	Ridership []RidershipRecord

	stopIndex  map[string]int
	routeIndex map[string]int
	routeStops map[string][]string
	tripTimes  map[string][]StopTime
}

// Index builds the lookup tables. It must be called after the slices are
// populated and before any lookup method is used.
func (f *Feed) Index() {
	f.stopIndex = make(map[string]int, len(f.Stops))
	for i, s := range f.Stops {
		f.stopIndex[s.ID] = i
	}
	f.routeIndex = make(map[string]int, len(f.Routes))
	for i, r := range f.Routes {
		f.routeIndex[r.ID] = i
	}
	f.tripTimes = make(map[string][]StopTime)
	for _, st := range f.StopTimes {
		f.tripTimes[st.TripID] = append(f.tripTimes[st.TripID], st)
	}
	for _, times := range f.tripTimes {
		sort.Slice(times, func(i, j int) bool { return times[i].Sequence < times[j].Sequence })
	}
	f.routeStops = f.buildRouteStops()
}

// Stop returns the stop with the given id.
func (f *Feed) Stop(id string) (Stop, bool) {
	i, ok := f.stopIndex[id]
	if !ok {
		return Stop{}, false
	}
	return f.Stops[i], true
}

// Route returns the route with the given id.
func (f *Feed) Route(id string) (Route, bool) {
	i, ok := f.routeIndex[id]
	if !ok {
		return Route{}, false
	}
	return f.Routes[i], true
}

// RouteStops returns the ordered stop ids of a route, taken from its trip
// with the most stops.
func (f *Feed) RouteStops(routeID string) ([]string, error) {
	if _, ok := f.routeIndex[routeID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoute, routeID)
	}
	stops := f.routeStops[routeID]
	if len(stops) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoStopsOnTrip, routeID)
	}
	return append([]string(nil), stops...), nil
}

// StopPosition returns the 1-based position of a stop on a route, or 0.
func (f *Feed) StopPosition(routeID, stopID string) int {
	for i, id := range f.routeStops[routeID] {
		if id == stopID {
			return i + 1
		}
	}
	return 0
}

// GeoStops resolves stop ids for the distance service.
func (f *Feed) GeoStops(ids []string) ([]geo.Stop, error) {
	out := make([]geo.Stop, 0, len(ids))
	for _, id := range ids {
		s, ok := f.Stop(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownStop, id)
		}
		out = append(out, s.GeoStop())
	}
	return out, nil
}

// RouteLengthKM returns the path length of the route's stop sequence.
func (f *Feed) RouteLengthKM(routeID string) float64 {
	ids := f.routeStops[routeID]
	total := 0.0
	for i := 0; i+1 < len(ids); i++ {
		a, okA := f.Stop(ids[i])
		b, okB := f.Stop(ids[i+1])
		if okA && okB {
			total += geo.Distance(a.GeoStop(), b.GeoStop())
		}
	}
	return total / 1000
}

// TripDuration returns the mean scheduled one-way trip time of a route, or 0
// when the route has no timed trips.
func (f *Feed) TripDuration(routeID string) time.Duration {
	trips := make(map[string]bool)
	for _, t := range f.Trips {
		if t.RouteID == routeID {
			trips[t.ID] = true
		}
	}

	var total time.Duration
	n := 0
	for id := range trips {
		times := f.tripTimes[id]
		if len(times) < 2 {
			continue
		}
		if d := times[len(times)-1].Arrival - times[0].Departure; d > 0 {
			total += d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return total / time.Duration(n)
}

// TemplateOffsets returns, for the longest trip of a route, each stop's
// arrival offset from the trip start.
func (f *Feed) TemplateOffsets(routeID string) map[string]time.Duration {
	tripID := f.longestTrip(routeID)
	if tripID == "" {
		return nil
	}
	times := f.tripStopTimes(tripID)
	if len(times) == 0 {
		return nil
	}
	out := make(map[string]time.Duration, len(times))
	for _, st := range times {
		if _, seen := out[st.StopID]; !seen {
			out[st.StopID] = st.Arrival - times[0].Departure
		}
	}
	return out
}

func (f *Feed) buildRouteStops() map[string][]string {
	out := make(map[string][]string, len(f.Routes))
	for _, r := range f.Routes {
		tripID := f.longestTrip(r.ID)
		if tripID == "" {
			continue
		}
		seen := make(map[string]bool)
		for _, st := range f.tripStopTimes(tripID) {
			if seen[st.StopID] {
				continue
			}
			seen[st.StopID] = true
			out[r.ID] = append(out[r.ID], st.StopID)
		}
	}
	return out
}

func (f *Feed) longestTrip(routeID string) string {
	best, bestCount := "", 0
	for _, t := range f.Trips {
		if t.RouteID != routeID {
			continue
		}
		if c := len(f.tripTimes[t.ID]); c > bestCount || (c == bestCount && c > 0 && t.ID < best) {
			best, bestCount = t.ID, c
		}
	}
	return best
}

func (f *Feed) tripStopTimes(tripID string) []StopTime {
	return f.tripTimes[tripID]
}

// ServiceRange returns the earliest start and latest end date across calendars.
func (f *Feed) ServiceRange() (time.Time, time.Time, bool) {
	if len(f.Calendars) == 0 {
		return time.Time{}, time.Time{}, false
	}
	from, to := f.Calendars[0].StartDate, f.Calendars[0].EndDate
	for _, c := range f.Calendars[1:] {
		if c.StartDate.Before(from) {
			from = c.StartDate
		}
		if c.EndDate.After(to) {
			to = c.EndDate
		}
	}
	return from, to, true
}

// ParseClock parses an HH:MM:SS GTFS time, which may exceed 24 hours.
func ParseClock(s string) (time.Duration, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("%w: time %q", ErrMalformed, s)
	}
	var v [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: time %q", ErrMalformed, s)
		}
		v[i] = n
	}
	return time.Duration(v[0])*time.Hour + time.Duration(v[1])*time.Minute + time.Duration(v[2])*time.Second, nil
}

// FormatClock renders an offset as HH:MM:SS.
func FormatClock(d time.Duration) string {
	secs := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}
