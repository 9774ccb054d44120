package feed_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/provider/resilience"
)

var sampleFiles = map[string]string{
	"agency.txt": "agency_id,agency_name,agency_url,agency_timezone\nA1,City Bus,https://bus.example,Africa/Accra\n",
	"stops.txt": "stop_id,stop_name,stop_lat,stop_lon\n" +
		"S1,Central,5.5500,-0.2000\n" +
		"S2,Market,5.5600,-0.2000\n" +
		"S3,Harbour,5.5700,-0.2000\n",
	"routes.txt": "route_id,agency_id,route_short_name,route_long_name,route_type\nR1,A1,1,Central - Harbour,3\n",
	"trips.txt":  "route_id,service_id,trip_id\nR1,WK,T1\nR1,WK,T2\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,07:00:00,07:00:00,S1,1\n" +
		"T1,07:10:00,07:11:00,S2,2\n" +
		"T1,07:20:00,07:20:00,S3,3\n" +
		"T2,08:00:00,08:00:00,S1,1\n" +
		"T2,08:30:00,08:30:00,S3,2\n",
	"calendar.txt": "service_id,monday,tuesday,wednesday,thursday,friday,saturday,sunday,start_date,end_date\n" +
		"WK,1,1,1,1,1,0,0,20260101,20261231\n",
	"ridership.txt": "stop_id,route_id,timestamp,count\nS1,R1,2026-03-02T07:15:00Z,42\n",
}

func writeFeedDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
	}
	return dir
}

func TestLoad_Directory(t *testing.T) {
	f, err := feed.Load(writeFeedDir(t, sampleFiles))
	require.NoError(t, err)
	require.NoError(t, f.Validate())

	assert.Len(t, f.Stops, 3)
	assert.Len(t, f.StopTimes, 5)
	assert.Len(t, f.Ridership, 1)
	assert.True(t, f.Calendars[0].Weekdays[time.Monday])
	assert.False(t, f.Calendars[0].Weekdays[time.Sunday])

	stops, err := f.RouteStops("R1")
	require.NoError(t, err)
	assert.Equal(t, []string{"S1", "S2", "S3"}, stops, "longest trip defines the sequence")
	assert.Equal(t, 2, f.StopPosition("R1", "S2"))

	// T1 takes 20 minutes, T2 takes 30.
	assert.Equal(t, 25*time.Minute, f.TripDuration("R1"))
	assert.Equal(t, 10*time.Minute, f.TemplateOffsets("R1")["S2"])
	assert.InDelta(t, 2.22, f.RouteLengthKM("R1"), 0.05)
}

func TestLoad_MissingRequiredFile(t *testing.T) {
	files := map[string]string{}
	for k, v := range sampleFiles {
		if k != "stop_times.txt" {
			files[k] = v
		}
	}

	_, err := feed.Load(writeFeedDir(t, files))
	assert.ErrorIs(t, err, feed.ErrMissingFile)
}

func TestValidate_DanglingReferences(t *testing.T) {
	f := &feed.Feed{
		Stops:  []feed.Stop{{ID: "S1", Lat: 1, Lon: 1}, {ID: "BAD", Lat: 95, Lon: 1}},
		Routes: []feed.Route{{ID: "R1"}},
		Trips:  []feed.Trip{{ID: "T1", RouteID: "R1"}, {ID: "T2", RouteID: "R404"}},
		StopTimes: []feed.StopTime{
			{TripID: "T1", StopID: "S1", Sequence: 1},
			{TripID: "T1", StopID: "S404", Sequence: 2},
			{TripID: "T404", StopID: "S1", Sequence: 1},
		},
	}
	f.Index()

	report := f.Check()
	assert.Equal(t, []string{"T2"}, report.TripsWithUnknownRoute)
	assert.Equal(t, []string{"T1/S404"}, report.StopTimesUnknownStop)
	assert.Equal(t, []string{"T404"}, report.StopTimesUnknownTrip)
	assert.Equal(t, []string{"BAD"}, report.StopsInvalidCoordinate)

	err := f.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrDanglingRef)
	assert.Equal(t, apperror.KindData, apperror.KindOf(err))
}

func TestWriteZip_ReadBack(t *testing.T) {
	f, err := feed.Load(writeFeedDir(t, sampleFiles))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, feed.WriteZip(&buf, f))

	back, err := feed.LoadZip(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, f.Stops, back.Stops)
	assert.Equal(t, f.StopTimes, back.StopTimes)
	assert.Equal(t, f.Calendars, back.Calendars)
}

func TestSource_FetchRemote(t *testing.T) {
	local, err := feed.Load(writeFeedDir(t, sampleFiles))
	require.NoError(t, err)
	var archive bytes.Buffer
	require.NoError(t, feed.WriteZip(&archive, local))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(archive.Bytes())
	}))
	defer server.Close()

	src := feed.Source{
		Location:   server.URL + "/gtfs.zip",
		Downloader: resilience.NewClient(resilience.ClientConfig{Name: "gtfs", Logger: zerolog.Nop()}),
		Logger:     zerolog.Nop(),
	}

	f, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, f.Routes, 1)
}

func TestParseClock(t *testing.T) {
	d, err := feed.ParseClock("25:10:05")
	require.NoError(t, err)
	assert.Equal(t, 25*time.Hour+10*time.Minute+5*time.Second, d)
	assert.Equal(t, "25:10:05", feed.FormatClock(d))

	_, err = feed.ParseClock("7:00")
	assert.ErrorIs(t, err, feed.ErrMalformed)
}
