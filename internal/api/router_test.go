package api_test

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/api"
	"github.com/transitopt/transitopt/internal/api/handler"
	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/auth"
	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/feed"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/results"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) // Monday

func testFeed() *feed.Feed {
	f := &feed.Feed{
		Agencies: []feed.Agency{{ID: "AG", Name: "Metro", Timezone: "UTC"}},
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
	add := func(trip string, stops []string) {
		for i, id := range stops {
			at := 7*time.Hour + time.Duration(i)*5*time.Minute
			f.StopTimes = append(f.StopTimes, feed.StopTime{TripID: trip, StopID: id, Sequence: i + 1, Arrival: at, Departure: at})
		}
	}
	add("T1", []string{"A", "B", "C"})
	add("T2", []string{"E", "F"})
	f.Index()
	return f
}

func newPlanner(f *feed.Feed) *planner.Service {
	settings := config.Default()
	settings.Demand.SynthesizeDays = 7
	var catalog demand.Catalog
	if f != nil {
		catalog = demand.FeedCatalog{Feed: f}
	}
	predictor := demand.NewPredictor(demand.PredictorConfig{
		Features: demand.FeatureConfig{
			Forest:   demand.ForestParams{Trees: 5},
			Boosting: demand.BoostingParams{Stages: 15},
		},
		Catalog: catalog,
		Manager: demand.NewModelManager(demand.ManagerConfig{Logger: zerolog.Nop()}),
		Logger:  zerolog.Nop(),
	})
	return planner.NewService(planner.ServiceConfig{
		Settings:  settings,
		Feed:      f,
		Predictor: predictor,
		Results:   results.NewInMemoryRepository(),
		Now:       func() time.Time { return now },
		Logger:    zerolog.Nop(),
	})
}

var tokens = auth.NewJWTService(auth.JWTConfig{
	SigningKey: "router-test-signing-key-0123456789",
	Issuer:     "transitopt",
	Audience:   "transitopt-api",
})

func token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, _, err := tokens.GenerateAccessToken("op_1", role, time.Hour)
	require.NoError(t, err)
	return tok
}

type testServer struct {
	t       *testing.T
	handler http.Handler
}

func newTestServer(t *testing.T, cfg api.RouterConfig) *testServer {
	t.Helper()
	cfg.Version = "test"
	cfg.BuildTime = "2026-01-01T00:00:00Z"
	cfg.Logger = zerolog.Nop()
	if cfg.Planner == nil {
		cfg.Planner = newPlanner(testFeed())
	}
	cfg.Tokens = tokens
	cfg.Now = func() time.Time { return now }
	return &testServer{t: t, handler: api.NewRouter(cfg)}
}

func (s *testServer) do(method, path string, body any, role auth.Role) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+token(s.t, role))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, v any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if v != nil {
		require.NoError(t, json.Unmarshal(env.Data, v))
	}
	return env
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p), rec.Body.String())
	return p
}

func TestRouter_HealthCheck(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})
	rec := s.do(http.MethodGet, "/v1/ops/health", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var health models.Health
	env := decodeData(t, rec, &health)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRouter_ReadinessCheck(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{
		Checks: []handler.Check{{Name: "database", Probe: func(context.Context) error { return nil }}},
	})
	rec := s.do(http.MethodGet, "/v1/ops/ready", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ready models.Readiness
	decodeData(t, rec, &ready)
	require.Len(t, ready.Checks, 2)
	assert.Equal(t, "feed", ready.Checks[0].Name)

	s = newTestServer(t, api.RouterConfig{
		Planner: newPlanner(nil),
		Checks:  []handler.Check{{Name: "database", Probe: func(context.Context) error { return errors.New("connection refused") }}},
	})
	rec = s.do(http.MethodGet, "/v1/ops/ready", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decodeData(t, rec, &ready)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, models.HealthStatusFail, ready.Status)
	for _, c := range ready.Checks {
		assert.Equal(t, models.HealthStatusFail, c.Status, c.Name)
	}
}

func TestRouter_Metadata(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})
	rec := s.do(http.MethodGet, "/v1/metadata", nil, "")

	require.Equal(t, http.StatusOK, rec.Code)
	var md models.Metadata
	decodeData(t, rec, &md)
	require.NotNil(t, md.Feed)
	assert.Equal(t, 2, md.Feed.Routes)
	assert.Equal(t, 5, md.Feed.Stops)
	assert.Equal(t, 100.0, md.Defaults.VehicleCapacity)
	assert.NotEmpty(t, md.Periods)
}

func TestRouter_RequestID(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})
	rec := s.do(http.MethodGet, "/v1/ops/health", nil, "")
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-Id"), "req_"))

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody)
	req.Header.Set("X-Request-Id", "client-abc.1")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "client-abc.1", rec.Header().Get("X-Request-Id"))
}

func TestRouter_NotFound(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/v1/nonexistent", nil, "").Code)

	rec := s.do(http.MethodGet, "/v1/results/bogus", nil, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, models.ProblemTypeNotFound, decodeProblem(t, rec).Type)
}

func TestRouter_OptimizeRoutes(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})

	rec := s.do(http.MethodPost, "/v1/optimize/routes", models.RouteOptimizationRequest{}, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(http.MethodPost, "/v1/optimize/routes", models.RouteOptimizationRequest{VehicleCapacity: 500}, auth.RoleOperator)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp models.RouteOptimizationResponse
	env := decodeData(t, rec, &resp)
	assert.Equal(t, "routes optimized", env.Message)
	assert.Equal(t, planner.SourceHeuristic, resp.DemandSource)
	assert.Equal(t, 2, resp.Summary.Successes)
	assert.Zero(t, resp.Summary.Failures)
	require.Len(t, resp.Routes, 2)
	for _, r := range resp.Routes {
		require.NotEmpty(t, r.Tours, r.RouteID)
		assert.NotEmpty(t, r.Tours[0].Polyline)
	}
	assert.Equal(t, "/v1/results/routes/"+resp.ResultID, rec.Header().Get("Location"))

	// The run is stored and readable.
	rec = s.do(http.MethodGet, "/v1/results/routes", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var latest models.ResultView
	decodeData(t, rec, &latest)
	assert.Equal(t, resp.ResultID, latest.ID)
	assert.Equal(t, "succeeded", latest.Status)

	rec = s.do(http.MethodGet, "/v1/results/routes/"+resp.ResultID, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(http.MethodGet, "/v1/results/schedules/"+resp.ResultID, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodGet, "/v1/results/routes?limit=5", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.ResultView
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)

	rec = s.do(http.MethodGet, "/v1/results/routes?limit=0", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouter_OptimizeRoutes_Errors(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})

	rec := s.do(http.MethodPost, "/v1/optimize/routes", map[string]any{"max_vehicles": -1}, auth.RoleOperator)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "max_vehicles", p.Errors[0].Field)
	assert.Equal(t, "gte", p.Errors[0].Code)

	rec = s.do(http.MethodPost, "/v1/optimize/routes", map[string]any{"vehicles": 3}, auth.RoleOperator)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/v1/optimize/routes", map[string]any{"route_ids": []string{"R9"}}, auth.RoleOperator)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "data", decodeProblem(t, rec).Kind)

	req := httptest.NewRequest(http.MethodPost, "/v1/optimize/routes", strings.NewReader("capacity=5"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+token(t, auth.RoleOperator))
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRouter_OptimizeSchedules(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})

	rec := s.do(http.MethodPost, "/v1/optimize/schedules", models.ScheduleOptimizationRequest{MaxFleetSize: 40}, auth.RoleOperator)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.ScheduleOptimizationResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "feasible", resp.Status)
	assert.Positive(t, resp.TotalVehicles)
	assert.LessOrEqual(t, resp.TotalVehicles, 40)
	assert.NotEmpty(t, resp.Assignments)

	rec = s.do(http.MethodGet, resp.Links.GTFS, nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)
	assert.NotEmpty(t, zr.File)

	rec = s.do(http.MethodGet, resp.Links.Report, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, rec.Body.Len())

	rec = s.do(http.MethodGet, "/v1/schedules/missing/gtfs", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_OptimizeSchedules_Infeasible(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})

	rec := s.do(http.MethodPost, "/v1/optimize/schedules", models.ScheduleOptimizationRequest{MaxFleetSize: 1}, auth.RoleOperator)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
	p := decodeProblem(t, rec)
	assert.Equal(t, "infeasible", p.Kind)
	assert.Equal(t, "fleet-too-small", p.Reason)
	require.NotEmpty(t, p.ResultID)
	assert.Equal(t, "/v1/results/schedules/"+p.ResultID, rec.Header().Get("Location"))

	// The stored failure has no schedule to export.
	rec = s.do(http.MethodGet, "/v1/schedules/"+p.ResultID+"/gtfs", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodPost, "/v1/optimize/schedules",
		models.ScheduleOptimizationRequest{MinHeadwayMinutes: 30, MaxHeadwayMinutes: 10}, auth.RoleOperator)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "configuration", decodeProblem(t, rec).Kind)
}

func TestRouter_PredictAndAdmin(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})
	predict := models.DemandPredictionRequest{StopID: "A", RouteID: "R1", Time: "08:00", DayOfWeek: "tuesday"}

	rec := s.do(http.MethodPost, "/v1/predict/demand", predict, "")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "model", decodeProblem(t, rec).Kind)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/v1/admin/model/train", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/v1/admin/model/train", nil, auth.RoleOperator).Code)

	rec = s.do(http.MethodPost, "/v1/admin/model/train", nil, auth.RoleAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var trained models.TrainingResponse
	decodeData(t, rec, &trained)
	assert.Equal(t, planner.SamplesSynthetic, trained.Source)
	assert.False(t, trained.Stored)
	assert.Equal(t, "/v1/results/training/"+trained.ResultID, rec.Header().Get("Location"))

	rec = s.do(http.MethodGet, "/v1/admin/model", nil, auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var status models.ModelStatusResponse
	decodeData(t, rec, &status)
	assert.NotEqual(t, "uninitialized", status.State)
	require.NotNil(t, status.Model)
	assert.Equal(t, trained.Model.Version, status.Model.Version)
	assert.Empty(t, status.Versions)

	rec = s.do(http.MethodPost, "/v1/predict/demand", predict, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var est demand.Estimate
	decodeData(t, rec, &est)
	assert.Equal(t, time.Tuesday, est.Time.Weekday())
	assert.GreaterOrEqual(t, est.PredictedCount, 0.0)
	assert.GreaterOrEqual(t, est.Confidence, 0.0)
	assert.LessOrEqual(t, est.Confidence, 1.0)

	rec = s.do(http.MethodPost, "/v1/predict/network-demand", models.NetworkDemandRequest{
		StopIDs: []string{"A", "B"}, RouteIDs: []string{"R1"},
		StartTime: "07:00", EndTime: "08:00", StepMinutes: 30,
	}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var network models.NetworkDemandResponse
	decodeData(t, rec, &network)
	assert.Equal(t, 4, network.Count)

	rec = s.do(http.MethodPost, "/v1/admin/model/rollback", nil, auth.RoleAdmin)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "model", decodeProblem(t, rec).Kind)
}

func TestRouter_PredictValidation(t *testing.T) {
	s := newTestServer(t, api.RouterConfig{})

	rec := s.do(http.MethodPost, "/v1/predict/demand", map[string]any{"stop_id": "A", "time": "08:00"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	p := decodeProblem(t, rec)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "route_id", p.Errors[0].Field)

	rec = s.do(http.MethodPost, "/v1/predict/demand", map[string]any{"stop_id": "A", "route_id": "R1", "time": "late"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "time", decodeProblem(t, rec).Errors[0].Field)

	rec = s.do(http.MethodPost, "/v1/predict/network-demand", map[string]any{"route_ids": []string{"R1"}, "start_time": "07:00", "end_time": "08:00"}, "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "stop_ids", decodeProblem(t, rec).Errors[0].Field)
}
