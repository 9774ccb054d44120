package feed

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// WriteZip writes the feed as a GTFS zip archive containing agency, stops,
// routes, trips, stop_times and calendar files.
func WriteZip(w io.Writer, f *Feed) error {
	zw := zip.NewWriter(w)

	files := []struct {
		name   string
		header []string
		rows   func() [][]string
	}{
		{"agency.txt", []string{"agency_id", "agency_name", "agency_url", "agency_timezone"}, f.agencyRows},
		{"stops.txt", []string{"stop_id", "stop_name", "stop_lat", "stop_lon", "zone_id"}, f.stopRows},
		{"routes.txt", []string{"route_id", "agency_id", "route_short_name", "route_long_name", "route_type"}, f.routeRows},
		{"trips.txt", []string{"route_id", "service_id", "trip_id", "trip_headsign", "shape_id"}, f.tripRows},
		{"stop_times.txt", []string{"trip_id", "arrival_time", "departure_time", "stop_id", "stop_sequence"}, f.stopTimeRows},
		{"calendar.txt", []string{"service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "start_date", "end_date"}, f.calendarRows},
	}

	for _, file := range files {
		fw, err := zw.Create(file.name)
		if err != nil {
			return fmt.Errorf("creating %s: %w", file.name, err)
		}
		cw := csv.NewWriter(fw)
		if err := cw.Write(file.header); err != nil {
			return fmt.Errorf("writing %s: %w", file.name, err)
		}
		if err := cw.WriteAll(file.rows()); err != nil {
			return fmt.Errorf("writing %s: %w", file.name, err)
		}
	}

	return zw.Close()
}

func (f *Feed) agencyRows() [][]string {
	rows := make([][]string, 0, len(f.Agencies))
	for _, a := range f.Agencies {
		rows = append(rows, []string{a.ID, a.Name, a.URL, a.Timezone})
	}
	return rows
}

func (f *Feed) stopRows() [][]string {
	rows := make([][]string, 0, len(f.Stops))
	for _, s := range f.Stops {
		rows = append(rows, []string{
			s.ID, s.Name,
			strconv.FormatFloat(s.Lat, 'f', 6, 64),
			strconv.FormatFloat(s.Lon, 'f', 6, 64),
			s.Zone,
		})
	}
	return rows
}

func (f *Feed) routeRows() [][]string {
	rows := make([][]string, 0, len(f.Routes))
	for _, r := range f.Routes {
		rows = append(rows, []string{r.ID, r.AgencyID, r.ShortName, r.LongName, strconv.Itoa(r.Type)})
	}
	return rows
}

func (f *Feed) tripRows() [][]string {
	rows := make([][]string, 0, len(f.Trips))
	for _, t := range f.Trips {
		rows = append(rows, []string{t.RouteID, t.ServiceID, t.ID, t.Headsign, t.ShapeID})
	}
	return rows
}

func (f *Feed) stopTimeRows() [][]string {
	rows := make([][]string, 0, len(f.StopTimes))
	for _, st := range f.StopTimes {
		rows = append(rows, []string{
			st.TripID, FormatClock(st.Arrival), FormatClock(st.Departure),
			st.StopID, strconv.Itoa(st.Sequence),
		})
	}
	return rows
}

func (f *Feed) calendarRows() [][]string {
	flag := func(b bool) string {
		if b {
			return "1"
		}
		return "0"
	}
	rows := make([][]string, 0, len(f.Calendars))
	for _, c := range f.Calendars {
		rows = append(rows, []string{
			c.ServiceID,
			flag(c.Weekdays[1]), flag(c.Weekdays[2]), flag(c.Weekdays[3]),
			flag(c.Weekdays[4]), flag(c.Weekdays[5]), flag(c.Weekdays[6]),
			flag(c.Weekdays[0]),
			c.StartDate.Format(dateLayout), c.EndDate.Format(dateLayout),
		})
	}
	return rows
}
