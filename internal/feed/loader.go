package feed

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "20060102"

// table is a parsed CSV file with header lookup.
type table struct {
	name   string
	header map[string]int
	rows   [][]string
}

func readTable(name string, r io.Reader) (*table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	t := &table{name: name, header: make(map[string]int)}
	if len(records) == 0 {
		return t, nil
	}
	for i, h := range records[0] {
		// Strip a UTF-8 BOM on the first column.
		h = strings.TrimPrefix(strings.TrimSpace(h), "\ufeff")
		t.header[strings.ToLower(h)] = i
	}
	t.rows = records[1:]
	return t, nil
}

func (t *table) require(cols ...string) error {
	for _, c := range cols {
		if _, ok := t.header[c]; !ok {
			return fmt.Errorf("%w: %s lacks column %q", ErrMalformed, t.name, c)
		}
	}
	return nil
}

func (t *table) get(row []string, col string) string {
	i, ok := t.header[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// source abstracts a zip archive or a directory of feed files.
type source interface {
	open(name string) (io.ReadCloser, error)
}

type dirSource string

func (d dirSource) open(name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(string(d), name))
}

type zipSource struct {
	files map[string]*zip.File
}

func newZipSource(r *zip.Reader) *zipSource {
	z := &zipSource{files: make(map[string]*zip.File)}
	for _, f := range r.File {
		z.files[strings.ToLower(filepath.Base(f.Name))] = f
	}
	return z
}

func (z *zipSource) open(name string) (io.ReadCloser, error) {
	f, ok := z.files[name]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return f.Open()
}

// Load reads a feed from a GTFS zip archive or a directory of CSV files.
func Load(path string) (*Feed, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("opening feed: %w", err)
	}
	if info.IsDir() {
		return parse(dirSource(path))
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("opening feed archive: %w", err)
	}
	defer zr.Close()
	return parse(newZipSource(&zr.Reader))
}

// LoadZip reads a feed from an in-memory GTFS zip archive.
func LoadZip(data []byte) (*Feed, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening feed archive: %w", err)
	}
	return parse(newZipSource(zr))
}

func loadTable(src source, name string, required bool) (*table, error) {
	rc, err := src.open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if required {
				return nil, fmt.Errorf("%w: %s", ErrMissingFile, name)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", name, err)
	}
	defer rc.Close()
	return readTable(name, rc)
}

func parse(src source) (*Feed, error) {
	f := &Feed{}

	steps := []struct {
		name     string
		required bool
		apply    func(*table) error
	}{
		{"agency.txt", false, f.parseAgencies},
		{"stops.txt", true, f.parseStops},
		{"routes.txt", true, f.parseRoutes},
		{"trips.txt", true, f.parseTrips},
		{"stop_times.txt", true, f.parseStopTimes},
		{"calendar.txt", false, f.parseCalendars},
		{"ridership.txt", false, f.parseRidership},
	}

	for _, step := range steps {
		t, err := loadTable(src, step.name, step.required)
		if err != nil {
			return nil, err
		}
		if t == nil {
			continue
		}
		if err := step.apply(t); err != nil {
			return nil, err
		}
	}

	f.Index()
	return f, nil
}

func (f *Feed) parseAgencies(t *table) error {
	for _, row := range t.rows {
		f.Agencies = append(f.Agencies, Agency{
			ID:       t.get(row, "agency_id"),
			Name:     t.get(row, "agency_name"),
			URL:      t.get(row, "agency_url"),
			Timezone: t.get(row, "agency_timezone"),
		})
	}
	return nil
}

func (f *Feed) parseStops(t *table) error {
	if err := t.require("stop_id", "stop_lat", "stop_lon"); err != nil {
		return err
	}
	for i, row := range t.rows {
		lat, err := strconv.ParseFloat(t.get(row, "stop_lat"), 64)
		if err != nil {
			return fmt.Errorf("%w: stops.txt row %d stop_lat", ErrMalformed, i+2)
		}
		lon, err := strconv.ParseFloat(t.get(row, "stop_lon"), 64)
		if err != nil {
			return fmt.Errorf("%w: stops.txt row %d stop_lon", ErrMalformed, i+2)
		}
		f.Stops = append(f.Stops, Stop{
			ID:   t.get(row, "stop_id"),
			Name: t.get(row, "stop_name"),
			Lat:  lat,
			Lon:  lon,
			Zone: t.get(row, "zone_id"),
		})
	}
	return nil
}

func (f *Feed) parseRoutes(t *table) error {
	if err := t.require("route_id"); err != nil {
		return err
	}
	for i, row := range t.rows {
		routeType := RouteTypeBus
		if v := t.get(row, "route_type"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: routes.txt row %d route_type", ErrMalformed, i+2)
			}
			routeType = n
		}
		f.Routes = append(f.Routes, Route{
			ID:        t.get(row, "route_id"),
			AgencyID:  t.get(row, "agency_id"),
			ShortName: t.get(row, "route_short_name"),
			LongName:  t.get(row, "route_long_name"),
			Type:      routeType,
		})
	}
	return nil
}

func (f *Feed) parseTrips(t *table) error {
	if err := t.require("route_id", "trip_id"); err != nil {
		return err
	}
	for _, row := range t.rows {
		f.Trips = append(f.Trips, Trip{
			ID:        t.get(row, "trip_id"),
			RouteID:   t.get(row, "route_id"),
			ServiceID: t.get(row, "service_id"),
			ShapeID:   t.get(row, "shape_id"),
			Headsign:  t.get(row, "trip_headsign"),
		})
	}
	return nil
}

func (f *Feed) parseStopTimes(t *table) error {
	if err := t.require("trip_id", "stop_id", "stop_sequence"); err != nil {
		return err
	}
	f.StopTimes = make([]StopTime, 0, len(t.rows))
	for i, row := range t.rows {
		seq, err := strconv.Atoi(t.get(row, "stop_sequence"))
		if err != nil {
			return fmt.Errorf("%w: stop_times.txt row %d stop_sequence", ErrMalformed, i+2)
		}
		st := StopTime{
			TripID:   t.get(row, "trip_id"),
			StopID:   t.get(row, "stop_id"),
			Sequence: seq,
		}
		// Untimed stops keep zero offsets.
		if v := t.get(row, "arrival_time"); v != "" {
			if st.Arrival, err = ParseClock(v); err != nil {
				return fmt.Errorf("stop_times.txt row %d: %w", i+2, err)
			}
		}
		st.Departure = st.Arrival
		if v := t.get(row, "departure_time"); v != "" {
			if st.Departure, err = ParseClock(v); err != nil {
				return fmt.Errorf("stop_times.txt row %d: %w", i+2, err)
			}
		}
		f.StopTimes = append(f.StopTimes, st)
	}
	return nil
}

func (f *Feed) parseCalendars(t *table) error {
	days := []struct {
		col string
		day time.Weekday
	}{
		{"monday", time.Monday}, {"tuesday", time.Tuesday}, {"wednesday", time.Wednesday},
		{"thursday", time.Thursday}, {"friday", time.Friday}, {"saturday", time.Saturday},
		{"sunday", time.Sunday},
	}
	for i, row := range t.rows {
		c := Calendar{ServiceID: t.get(row, "service_id")}
		for _, d := range days {
			c.Weekdays[d.day] = t.get(row, d.col) == "1"
		}
		var err error
		if c.StartDate, err = time.Parse(dateLayout, t.get(row, "start_date")); err != nil {
			return fmt.Errorf("%w: calendar.txt row %d start_date", ErrMalformed, i+2)
		}
		if c.EndDate, err = time.Parse(dateLayout, t.get(row, "end_date")); err != nil {
			return fmt.Errorf("%w: calendar.txt row %d end_date", ErrMalformed, i+2)
		}
		f.Calendars = append(f.Calendars, c)
	}
	return nil
}

func (f *Feed) parseRidership(t *table) error {
	if err := t.require("stop_id", "route_id", "timestamp", "count"); err != nil {
		return err
	}
	for i, row := range t.rows {
		ts, err := time.Parse(time.RFC3339, t.get(row, "timestamp"))
		if err != nil {
			return fmt.Errorf("%w: ridership.txt row %d timestamp", ErrMalformed, i+2)
		}
		count, err := strconv.ParseFloat(t.get(row, "count"), 64)
		if err != nil {
			return fmt.Errorf("%w: ridership.txt row %d count", ErrMalformed, i+2)
		}
		f.Ridership = append(f.Ridership, RidershipRecord{
			StopID:    t.get(row, "stop_id"),
			RouteID:   t.get(row, "route_id"),
			Timestamp: ts,
			Count:     count,
		})
	}
	return nil
}
