package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/results"
	"github.com/transitopt/transitopt/internal/scheduleopt"
	"github.com/transitopt/transitopt/internal/worker"
)

func testFeed() *feed.Feed {
	f := &feed.Feed{
		Agencies: []feed.Agency{{ID: "AG", Name: "Metro", URL: "https://example.org", Timezone: "UTC"}},
		Routes: []feed.Route{
			{ID: "R1", AgencyID: "AG", ShortName: "1", Type: feed.RouteTypeBus},
			{ID: "R2", AgencyID: "AG", ShortName: "2", Type: feed.RouteTypeBus},
		},
		Stops: []feed.Stop{
			{ID: "A", Lat: 5.55, Lon: -0.20},
			{ID: "B", Lat: 5.56, Lon: -0.20},
			{ID: "C", Lat: 5.57, Lon: -0.20},
			{ID: "E", Lat: 5.55, Lon: -0.21},
			{ID: "F", Lat: 5.55, Lon: -0.22},
		},
		Trips: []feed.Trip{
			{ID: "T1", RouteID: "R1", ServiceID: "WK"},
			{ID: "T2", RouteID: "R2", ServiceID: "WK"},
		},
	}
	add := func(trip string, stops ...string) {
		for i, id := range stops {
			at := 7*time.Hour + time.Duration(i)*5*time.Minute
			f.StopTimes = append(f.StopTimes, feed.StopTime{TripID: trip, StopID: id, Sequence: i + 1, Arrival: at, Departure: at})
		}
	}
	add("T1", "A", "B", "C")
	add("T2", "E", "F")
	f.Index()
	return f
}

func newPlanner(t *testing.T) (*planner.Service, *results.InMemoryRepository) {
	t.Helper()
	f := testFeed()
	settings := config.Default()
	settings.Demand.SynthesizeDays = 7

	predictor := demand.NewPredictor(demand.PredictorConfig{
		Features: demand.FeatureConfig{
			Forest:   demand.ForestParams{Trees: 6},
			Boosting: demand.BoostingParams{Stages: 20},
		},
		Catalog: demand.FeedCatalog{Feed: f},
		Logger:  zerolog.Nop(),
	})
	repo := results.NewInMemoryRepository()
	return planner.NewService(planner.ServiceConfig{
		Settings:  settings,
		Feed:      f,
		Predictor: predictor,
		Results:   repo,
		Logger:    zerolog.Nop(),
	}), repo
}

func TestSweepRequest_Scenarios(t *testing.T) {
	scenarios, err := worker.SweepRequest{FleetSizes: []int{30, 10, 30, 20}}.Scenarios()
	require.NoError(t, err)
	assert.Equal(t, []worker.Scenario{
		{Name: "fleet_10", FleetSize: 10},
		{Name: "fleet_20", FleetSize: 20},
		{Name: "fleet_30", FleetSize: 30},
	}, scenarios)

	tests := []struct {
		name  string
		sizes []int
	}{
		{"empty", nil},
		{"zero", []int{0, 5}},
		{"negative", []int{-3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := worker.SweepRequest{FleetSizes: tt.sizes}.Scenarios()
			assert.Equal(t, apperror.KindConfiguration, apperror.KindOf(err))
		})
	}
}

func TestSweepConfigFrom(t *testing.T) {
	cfg := worker.SweepConfigFrom(config.SweepConfig{Concurrency: 5, TimeoutSeconds: 12})
	assert.Equal(t, 5, cfg.Concurrency)
	assert.Equal(t, 12*time.Second, cfg.Timeout)

	def := worker.DefaultSweepConfig()
	assert.Equal(t, 3, def.Concurrency)
	assert.Equal(t, 30*time.Second, def.Timeout)
}

func TestSweepJob_Run(t *testing.T) {
	svc, repo := newPlanner(t)
	job := worker.NewSweepJob(worker.SweepJobConfig{
		Config:  worker.SweepConfig{Concurrency: 2, Timeout: 5 * time.Second},
		Planner: svc,
		Logger:  zerolog.Nop(),
	})
	ctx := context.Background()

	res, err := job.Run(ctx, worker.SweepRequest{FleetSizes: []int{50, 1, 20}})
	require.NoError(t, err)
	require.Len(t, res.Scenarios, 3)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "fleet_1", res.Errors[0].Scenario)

	first := res.Scenarios[0]
	assert.Equal(t, scheduleopt.StatusInfeasible, first.Status)
	assert.Equal(t, scheduleopt.ReasonFleetTooSmall, first.Reason)
	for _, sc := range res.Scenarios[1:] {
		assert.Equal(t, scheduleopt.StatusFeasible, sc.Status)
		assert.LessOrEqual(t, sc.TotalVehicles, sc.Scenario.FleetSize)
	}
	// A larger fleet never costs more.
	assert.LessOrEqual(t, res.Scenarios[2].Objective, res.Scenarios[1].Objective+1e-6)

	stored, err := repo.Get(ctx, res.ResultID)
	require.NoError(t, err)
	assert.Equal(t, results.KindScenarioSweep, stored.Kind)
	assert.Equal(t, results.StatusPartial, stored.Status)

	var decoded worker.SweepResult
	require.NoError(t, stored.Decode(&decoded))
	assert.Equal(t, res.ResultID, decoded.ResultID)

	m := job.GetMetrics()
	assert.Equal(t, int64(1), m.TotalSweeps)
	assert.Equal(t, int64(2), m.SuccessfulScenarios)
	assert.Equal(t, int64(1), m.FailedScenarios)
	assert.Contains(t, job.MetricsSnapshot(), "last_sweep_duration")
}

func TestSweepJob_Run_UnknownRoute(t *testing.T) {
	svc, _ := newPlanner(t)
	job := worker.NewSweepJob(worker.SweepJobConfig{Planner: svc, Logger: zerolog.Nop()})

	_, err := job.Run(context.Background(), worker.SweepRequest{
		Params:     planner.ScheduleParams{RouteIDs: []string{"NOPE"}},
		FleetSizes: []int{10},
	})
	assert.Equal(t, apperror.KindData, apperror.KindOf(err))
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestJobs_Handle(t *testing.T) {
	svc, repo := newPlanner(t)
	jobs := worker.NewJobs(worker.JobsConfig{
		Planner: svc,
		Sweep:   worker.NewSweepJob(worker.SweepJobConfig{Planner: svc, Logger: zerolog.Nop()}),
		Logger:  zerolog.Nop(),
	})
	ctx := context.Background()

	tests := []struct {
		name string
		msg  worker.JobMessage
		kind results.Kind
	}{
		{
			name: "routes",
			msg:  worker.JobMessage{JobType: worker.JobOptimizeRoutes, Payload: payload(t, worker.RoutesPayload{MaxRouteMinutes: 90})},
			kind: results.KindRoutes,
		},
		{
			name: "schedules",
			msg:  worker.JobMessage{JobType: worker.JobOptimizeSchedules, Payload: payload(t, worker.SchedulesPayload{MinHeadwayMinutes: 6, MaxHeadwayMinutes: 20})},
			kind: results.KindSchedules,
		},
		{
			name: "sweep",
			msg: worker.JobMessage{JobType: worker.JobScenarioSweep, Payload: payload(t, worker.SweepPayload{
				FleetSizes: []int{10, 40},
			})},
			kind: results.KindScenarioSweep,
		},
		{
			name: "train",
			msg:  worker.JobMessage{JobType: worker.JobTrainModel},
			kind: results.KindTraining,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, jobs.Handle(ctx, tt.msg))
			_, err := repo.Latest(ctx, tt.kind)
			assert.NoError(t, err)
		})
	}

	require.NoError(t, jobs.Handle(ctx, worker.JobMessage{JobType: worker.JobHealthCheck}))

	err := jobs.Handle(ctx, worker.JobMessage{JobType: "reticulate"})
	assert.ErrorIs(t, err, worker.ErrUnknownJob)

	err = jobs.Handle(ctx, worker.JobMessage{JobType: worker.JobOptimizeRoutes, Payload: json.RawMessage(`{"max_vehicles":"many"}`)})
	assert.Equal(t, apperror.KindData, apperror.KindOf(err))
}

func TestSchedulesPayload_Params(t *testing.T) {
	p := worker.SchedulesPayload{MinHeadwayMinutes: 7.5, MaxHeadwayMinutes: 20, MaxFleetSize: 12}.Params()
	assert.Equal(t, 7*time.Minute+30*time.Second, p.MinHeadway)
	assert.Equal(t, 20*time.Minute, p.MaxHeadway)
	assert.Equal(t, 12, p.MaxFleetSize)
}

func TestRedeliver(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", apperror.Timeout("solver budget exhausted", context.DeadlineExceeded), true},
		{"unclassified", errors.New("connection reset"), true},
		{"data", apperror.Data("bad feed", feed.ErrUnknownRoute), false},
		{"infeasible", apperror.Infeasible(scheduleopt.ReasonFleetTooSmall, "fleet too small"), false},
		{"configuration", apperror.Configuration("bad headways", nil), false},
		{"unknown job", fmt.Errorf("%w: %q", worker.ErrUnknownJob, "x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, worker.Redeliver(tt.err))
		})
	}
}

func TestScheduler(t *testing.T) {
	var calls atomic.Int32
	trainer := worker.TrainerFunc(func(ctx context.Context) error {
		calls.Add(1)
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})

	_, err := worker.NewScheduler(worker.SchedulerConfig{Spec: "every tuesday", Trainer: trainer, Logger: zerolog.Nop()})
	require.Error(t, err)

	s, err := worker.NewScheduler(worker.SchedulerConfig{Spec: "0 0 3 * * *", Trainer: trainer, Logger: zerolog.Nop()})
	require.NoError(t, err)

	s.Start()
	next := s.Next()
	assert.False(t, next.IsZero())
	assert.Equal(t, 3, next.Hour())
	<-s.Stop().Done()

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}

func TestScheduler_RunPropagatesFailure(t *testing.T) {
	boom := errors.New("boom")
	s, err := worker.NewScheduler(worker.SchedulerConfig{
		Spec:    "@daily",
		Trainer: worker.TrainerFunc(func(context.Context) error { return boom }),
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Run(context.Background()), boom)
}
