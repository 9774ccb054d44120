package planner_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/modelstore"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/results"
	"github.com/transitopt/transitopt/internal/routeopt"
	"github.com/transitopt/transitopt/internal/scheduleopt"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

// testFeed has two timed bus routes and a route R3 without trips.
func testFeed() *feed.Feed {
	f := &feed.Feed{
		Agencies: []feed.Agency{{ID: "AG", Name: "Metro", URL: "https://example.org", Timezone: "UTC"}},
		Routes: []feed.Route{
			{ID: "R1", AgencyID: "AG", ShortName: "1", Type: feed.RouteTypeBus},
			{ID: "R2", AgencyID: "AG", ShortName: "2", Type: feed.RouteTypeBus},
			{ID: "R3", AgencyID: "AG", ShortName: "3", Type: feed.RouteTypeBus},
		},
		Stops: []feed.Stop{
			{ID: "A", Lat: 5.55, Lon: -0.20},
			{ID: "B", Lat: 5.56, Lon: -0.20},
			{ID: "C", Lat: 5.57, Lon: -0.20},
			{ID: "D", Lat: 5.58, Lon: -0.20},
			{ID: "E", Lat: 5.55, Lon: -0.21},
			{ID: "F", Lat: 5.55, Lon: -0.22},
			{ID: "G", Lat: 5.55, Lon: -0.23},
		},
		Trips: []feed.Trip{
			{ID: "T1", RouteID: "R1", ServiceID: "WK"},
			{ID: "T2", RouteID: "R2", ServiceID: "WK"},
		},
	}
	add := func(trip string, stops []string) {
		for i, id := range stops {
			at := 7*time.Hour + time.Duration(i)*6*time.Minute
			f.StopTimes = append(f.StopTimes, feed.StopTime{TripID: trip, StopID: id, Sequence: i + 1, Arrival: at, Departure: at})
		}
	}
	add("T1", []string{"A", "B", "C", "D"})
	add("T2", []string{"E", "F", "G"})
	f.Index()
	return f
}

type fixture struct {
	svc     *planner.Service
	results *results.InMemoryRepository
	store   *modelstore.InMemoryRepository
}

func newFixture(t *testing.T, withStore bool) fixture {
	t.Helper()
	f := testFeed()
	settings := config.Default()
	settings.Demand.SynthesizeDays = 7

	var store *modelstore.InMemoryRepository
	mcfg := demand.ManagerConfig{Logger: zerolog.Nop()}
	if withStore {
		store = modelstore.NewInMemoryRepository()
		mcfg.Store = store
	}
	predictor := demand.NewPredictor(demand.PredictorConfig{
		Features: demand.FeatureConfig{
			Forest:   demand.ForestParams{Trees: 6},
			Boosting: demand.BoostingParams{Stages: 20},
		},
		Catalog: demand.FeedCatalog{Feed: f},
		Manager: demand.NewModelManager(mcfg),
		Logger:  zerolog.Nop(),
	})

	repo := results.NewInMemoryRepository()
	svc := planner.NewService(planner.ServiceConfig{
		Settings:  settings,
		Feed:      f,
		Predictor: predictor,
		Results:   repo,
		Now:       func() time.Time { return monday.Add(10 * time.Hour) },
		Logger:    zerolog.Nop(),
	})
	return fixture{svc: svc, results: repo, store: store}
}

func TestOptimizeRoutes_Heuristic(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	report, err := fx.svc.OptimizeRoutes(ctx, planner.RouteParams{})
	require.NoError(t, err)
	assert.Equal(t, planner.SourceHeuristic, report.DemandSource)
	assert.Equal(t, 2, report.Network.Successes)
	assert.Equal(t, 1, report.Network.Failures)
	require.Len(t, report.Network.Routes, 3)

	for _, r := range report.Network.Routes {
		if r.RouteID == "R3" {
			assert.False(t, r.Succeeded())
			assert.NotEmpty(t, r.Error)
			assert.Equal(t, routeopt.StatusError, r.Status)
			assert.Equal(t, apperror.KindData, r.Kind)
			continue
		}
		require.True(t, r.Succeeded(), r.RouteID)
		for _, tour := range r.Plan.Tours {
			assert.LessOrEqual(t, tour.Load, 100.0)
		}
	}

	stored, err := fx.results.Latest(ctx, results.KindRoutes)
	require.NoError(t, err)
	assert.Equal(t, report.ResultID, stored.ID)
	assert.Equal(t, results.StatusPartial, stored.Status)
}

func TestSamples_SyntheticStayWithinCalendar(t *testing.T) {
	fx := newFixture(t, false)
	from := time.Date(2026, 4, 6, 0, 0, 0, 0, time.UTC)
	fx.svc.Feed().Calendars = []feed.Calendar{{ServiceID: "WK", StartDate: from, EndDate: from.AddDate(0, 0, 2)}}

	samples, source, err := fx.svc.Samples()
	require.NoError(t, err)
	assert.Equal(t, planner.SamplesSynthetic, source)
	require.NotEmpty(t, samples)

	days := map[string]bool{}
	for _, s := range samples {
		assert.False(t, s.Timestamp.Before(from), s.Timestamp)
		assert.True(t, s.Timestamp.Before(from.AddDate(0, 0, 3)), s.Timestamp)
		days[s.Timestamp.Format(time.DateOnly)] = true
	}
	assert.Len(t, days, 3)
}

func TestOptimizeRoutes_Params(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	_, err := fx.svc.OptimizeRoutes(ctx, planner.RouteParams{RouteIDs: []string{"R9"}})
	assert.Equal(t, apperror.KindData, apperror.KindOf(err))

	_, err = fx.svc.OptimizeRoutes(ctx, planner.RouteParams{VehicleCapacity: -5})
	assert.Equal(t, apperror.KindConfiguration, apperror.KindOf(err))

	report, err := fx.svc.OptimizeRoutes(ctx, planner.RouteParams{RouteIDs: []string{"R1"}, VehicleCapacity: 1000})
	require.NoError(t, err)
	require.Len(t, report.Network.Routes, 1)
	assert.Len(t, report.Network.Routes[0].Plan.Tours, 1)
	assert.Equal(t, routeopt.StatusFeasible, report.Network.Routes[0].Status)
}

func TestDefaultWeights(t *testing.T) {
	w := planner.DefaultWeights([]string{"A", "B", "C", "D", "E"}, 100, 30)
	assert.Equal(t, map[string]float64{"A": 100, "B": 30, "C": 100, "D": 30, "E": 100}, w)
}

func TestOptimizeSchedules_ExportAndReport(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	report, err := fx.svc.OptimizeSchedules(ctx, planner.ScheduleParams{RouteIDs: []string{"R1", "R2"}})
	require.NoError(t, err)
	require.Equal(t, scheduleopt.StatusFeasible, report.Outcome.Status)
	assert.Equal(t, planner.SourceHeuristic, report.DemandSource)

	sched := report.Outcome.Schedule
	for _, a := range sched.Assignments {
		assert.GreaterOrEqual(t, a.Headway, 5*time.Minute)
		assert.LessOrEqual(t, a.Headway, 30*time.Minute)
	}
	assert.LessOrEqual(t, sched.TotalVehicles, 50)
	// Service hours 06-22 keep four periods.
	assert.Len(t, sched.Periods, 4)

	var gtfs bytes.Buffer
	require.NoError(t, fx.svc.ExportGTFS(ctx, report.ResultID, &gtfs))
	exported, err := feed.LoadZip(gtfs.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, exported.Trips)
	require.NoError(t, exported.Validate())

	var xlsx bytes.Buffer
	require.NoError(t, fx.svc.WriteScheduleReport(ctx, report.ResultID, &xlsx))
	assert.NotZero(t, xlsx.Len())
}

func TestOptimizeSchedules_Infeasible(t *testing.T) {
	fx := newFixture(t, false)
	ctx := context.Background()

	report, err := fx.svc.OptimizeSchedules(ctx, planner.ScheduleParams{MaxFleetSize: 1})
	require.NoError(t, err)
	assert.Equal(t, scheduleopt.StatusInfeasible, report.Outcome.Status)
	assert.Equal(t, scheduleopt.ReasonFleetTooSmall, report.Outcome.Reason)

	stored, err := fx.results.Get(ctx, report.ResultID)
	require.NoError(t, err)
	assert.Equal(t, results.StatusFailed, stored.Status)
	assert.NotEmpty(t, stored.Error)

	err = fx.svc.ExportGTFS(ctx, report.ResultID, &bytes.Buffer{})
	assert.Equal(t, apperror.KindInfeasible, apperror.KindOf(err))

	_, err = fx.svc.OptimizeSchedules(ctx, planner.ScheduleParams{MinHeadway: time.Hour, MaxHeadway: time.Minute})
	assert.Equal(t, apperror.KindConfiguration, apperror.KindOf(err))
}

func TestTrainModel_ThenModelDrivenRuns(t *testing.T) {
	fx := newFixture(t, true)
	ctx := context.Background()

	loaded, err := fx.svc.LoadModel(ctx)
	require.NoError(t, err)
	assert.False(t, loaded)
	assert.Equal(t, "uninitialized", fx.svc.ModelStatus().State)

	report, err := fx.svc.TrainModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, planner.SamplesSynthetic, report.Source)
	assert.True(t, report.Stored)
	assert.Equal(t, (4+3)*7*17, report.Model.SampleCount)

	status := fx.svc.ModelStatus()
	require.NotNil(t, status.Model)
	assert.Equal(t, report.Model.Version, status.Model.Version)

	versions, err := fx.store.Versions(ctx, "demand")
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	routes, err := fx.svc.OptimizeRoutes(ctx, planner.RouteParams{RouteIDs: []string{"R1", "R2"}})
	require.NoError(t, err)
	assert.Equal(t, planner.SourceModel, routes.DemandSource)

	scheds, err := fx.svc.OptimizeSchedules(ctx, planner.ScheduleParams{RouteIDs: []string{"R1", "R2"}})
	require.NoError(t, err)
	assert.Equal(t, planner.SourceModel, scheds.DemandSource)
	assert.Equal(t, scheduleopt.StatusFeasible, scheds.Outcome.Status)

	day := time.Saturday
	est, err := fx.svc.PredictDemand(ctx, planner.DemandRequest{
		StopID: "A", RouteID: "R1", Time: monday.Add(8 * time.Hour), DayOfWeek: &day,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Saturday, est.Time.Weekday())
	assert.Equal(t, 8, est.Time.Hour())
	assert.Equal(t, demand.DayTypeWeekend, est.DayType)
	assert.GreaterOrEqual(t, est.PredictedCount, 0.0)

	pred, err := fx.svc.PredictNetworkDemand(ctx, demand.NetworkQuery{
		StopIDs: []string{"A", "B"}, RouteIDs: []string{"R1"},
		Start: 7 * time.Hour, End: 8 * time.Hour,
	})
	require.NoError(t, err)
	assert.Len(t, pred.Estimates, 2*4)
	assert.Empty(t, pred.Failures)
}

func TestModelLifecycleErrors(t *testing.T) {
	fx := newFixture(t, false)

	_, err := fx.svc.RollbackModel()
	assert.Equal(t, apperror.KindModel, apperror.KindOf(err))

	_, err = fx.svc.PredictDemand(context.Background(), planner.DemandRequest{StopID: "A", RouteID: "R1", Time: monday})
	assert.Equal(t, apperror.KindModel, apperror.KindOf(err))

	report, err := fx.svc.TrainModel(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Stored)
}

func TestReady(t *testing.T) {
	svc := planner.NewService(planner.ServiceConfig{
		Settings:  config.Default(),
		Predictor: demand.NewPredictor(demand.PredictorConfig{Logger: zerolog.Nop()}),
		Logger:    zerolog.Nop(),
	})
	err := svc.Ready()
	require.ErrorIs(t, err, planner.ErrNoFeed)

	_, err = svc.OptimizeRoutes(context.Background(), planner.RouteParams{})
	assert.Equal(t, apperror.KindData, apperror.KindOf(err))
}
