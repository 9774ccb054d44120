package demand_test

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/modelstore"
)

var monday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

type fakeCatalog map[string]demand.Attributes

func (c fakeCatalog) Attributes(stopID, routeID string) (demand.Attributes, error) {
	a, ok := c[stopID]
	if !ok {
		return demand.Attributes{}, errors.New("unknown stop " + stopID)
	}
	if routeID != "R1" && routeID != "R2" {
		return demand.Attributes{}, errors.New("unknown route " + routeID)
	}
	return a, nil
}

func testCatalog() fakeCatalog {
	return fakeCatalog{
		"S1": {RouteType: 3, Position: 1, RouteStops: 3, RouteLengthKM: 4, Lat: 5.55, Lon: -0.2},
		"S2": {RouteType: 3, Position: 2, RouteStops: 3, RouteLengthKM: 4, Lat: 5.56, Lon: -0.2},
		"S3": {RouteType: 3, Position: 3, RouteStops: 3, RouteLengthKM: 4, Lat: 5.57, Lon: -0.2},
	}
}

// trainingSamples covers one week of hourly counts with a morning peak and
// a per-stop offset.
func trainingSamples(countScale float64) []demand.Sample {
	var out []demand.Sample
	for d := 0; d < 7; d++ {
		for h := 6; h < 22; h++ {
			for si, stop := range []string{"S1", "S2", "S3"} {
				for ri, route := range []string{"R1", "R2"} {
					c := 10 + 5*float64(si) + 8*float64(ri)
					if h >= 7 && h <= 9 {
						c += 30
					}
					if d >= 5 {
						c *= 0.5
					}
					out = append(out, demand.Sample{
						StopID:    stop,
						RouteID:   route,
						Timestamp: monday.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour),
						Count:     c * countScale,
					})
				}
			}
		}
	}
	return out
}

func fastFeatures() demand.FeatureConfig {
	return demand.FeatureConfig{
		Forest:   demand.ForestParams{Trees: 6},
		Boosting: demand.BoostingParams{Stages: 20},
	}
}

func newTestPredictor(store modelstore.Repository) *demand.Predictor {
	return demand.NewPredictor(demand.PredictorConfig{
		Features: fastFeatures(),
		Catalog:  testCatalog(),
		Manager:  demand.NewModelManager(demand.ManagerConfig{Store: store, Logger: zerolog.Nop()}),
		Workers:  4,
		Logger:   zerolog.Nop(),
	})
}

func TestPredictor_PredictBeforeTrain(t *testing.T) {
	p := newTestPredictor(nil)

	_, err := p.Predict(context.Background(), demand.Query{StopID: "S1", RouteID: "R1", Time: monday})
	require.Error(t, err)
	assert.ErrorIs(t, err, demand.ErrModelNotTrained)
	assert.Equal(t, apperror.KindModel, apperror.KindOf(err))
	assert.Equal(t, demand.StateUninitialized, p.Manager().State())
}

func TestPredictor_TrainAndPredict(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(nil)

	a, err := p.Train(ctx, trainingSamples(1))
	require.NoError(t, err)
	assert.NotEmpty(t, a.Version)
	assert.Equal(t, demand.StateTrained, p.Manager().State())
	assert.Len(t, a.Info().Models, 4)
	assert.Positive(t, a.Evaluation.Ensemble.N)

	peak, err := p.Predict(ctx, demand.Query{StopID: "S1", RouteID: "R1", Time: monday.Add(8 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, demand.StateServing, p.Manager().State())
	assert.Equal(t, "morning_peak", peak.TimeBucket)
	assert.Equal(t, demand.DayTypeWeekday, peak.DayType)
	assert.Equal(t, a.Version, peak.ModelVersion)

	offPeak, err := p.Predict(ctx, demand.Query{StopID: "S1", RouteID: "R1", Time: monday.Add(13 * time.Hour)})
	require.NoError(t, err)
	assert.Greater(t, peak.PredictedCount, offPeak.PredictedCount)

	// Same artifact and input give the same output.
	again, err := p.Predict(ctx, demand.Query{StopID: "S1", RouteID: "R1", Time: monday.Add(8 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, peak, again)
}

func TestPredictor_TrainFailureKeepsServingModel(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(nil)

	first, err := p.Train(ctx, trainingSamples(1))
	require.NoError(t, err)

	_, err = p.Train(ctx, trainingSamples(1)[:5])
	require.Error(t, err)
	assert.ErrorIs(t, err, demand.ErrInsufficientData)
	assert.Equal(t, apperror.KindData, apperror.KindOf(err))
	assert.Same(t, first, p.Manager().Current())

	bad := trainingSamples(1)
	bad[10].Count = -1
	_, err = p.Train(ctx, bad)
	assert.ErrorIs(t, err, demand.ErrFeatureValidation)
	assert.Same(t, first, p.Manager().Current())
}

func TestPredictor_TrainValidatesSamples(t *testing.T) {
	week := trainingSamples(1)
	tests := []struct {
		name   string
		mutate func(*demand.FeatureConfig, []demand.Sample)
	}{
		{"missing stop", func(_ *demand.FeatureConfig, s []demand.Sample) { s[3].StopID = "" }},
		{"missing route", func(_ *demand.FeatureConfig, s []demand.Sample) { s[4].RouteID = "" }},
		{"missing timestamp", func(_ *demand.FeatureConfig, s []demand.Sample) { s[5].Timestamp = time.Time{} }},
		{"count not finite", func(_ *demand.FeatureConfig, s []demand.Sample) { s[6].Count = math.Inf(1) }},
		{"before feed validity", func(c *demand.FeatureConfig, _ []demand.Sample) { c.ValidFrom = monday.AddDate(0, 0, 1) }},
		{"after feed validity", func(c *demand.FeatureConfig, _ []demand.Sample) { c.ValidTo = monday.AddDate(0, 0, 3) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fastFeatures()
			samples := append([]demand.Sample(nil), week...)
			tt.mutate(&cfg, samples)

			p := demand.NewPredictor(demand.PredictorConfig{Features: cfg, Catalog: testCatalog(), Logger: zerolog.Nop()})
			_, err := p.Train(context.Background(), samples)
			require.Error(t, err)
			assert.ErrorIs(t, err, demand.ErrFeatureValidation)
			assert.Equal(t, apperror.KindData, apperror.KindOf(err))
			assert.Nil(t, p.Manager().Current())
		})
	}
}

func TestPredictor_TrainWithinFeedValidity(t *testing.T) {
	cfg := fastFeatures()
	cfg.ValidFrom = monday
	cfg.ValidTo = monday.AddDate(0, 0, 7).Add(-time.Nanosecond)

	p := demand.NewPredictor(demand.PredictorConfig{Features: cfg, Catalog: testCatalog(), Logger: zerolog.Nop()})
	_, err := p.Train(context.Background(), trainingSamples(1))
	require.NoError(t, err)
}

func TestPredictor_PredictionsAreBounded(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(nil)
	_, err := p.Train(ctx, trainingSamples(1))
	require.NoError(t, err)

	rng := rand.New(rand.NewPCG(5, 5))
	stops := []string{"S1", "S2", "S3"}
	for i := 0; i < 300; i++ {
		q := demand.Query{
			StopID:  stops[rng.IntN(len(stops))],
			RouteID: []string{"R1", "R2"}[rng.IntN(2)],
			Time:    monday.Add(time.Duration(rng.IntN(14*24*60)) * time.Minute),
			Context: &demand.QueryContext{
				Fare:           rng.Float64() * 10,
				HeadwayMinutes: rng.Float64() * 60,
				Holiday:        rng.IntN(5) == 0,
			},
		}
		est, err := p.Predict(ctx, q)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, est.PredictedCount, 0.0)
		assert.GreaterOrEqual(t, est.Confidence, 0.0)
		assert.LessOrEqual(t, est.Confidence, 1.0)
	}
}

func TestPredictor_UnknownStop(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(nil)
	_, err := p.Train(ctx, trainingSamples(1))
	require.NoError(t, err)

	_, err = p.Predict(ctx, demand.Query{StopID: "S9", RouteID: "R1", Time: monday})
	assert.Equal(t, apperror.KindData, apperror.KindOf(err))
}

func TestPredictor_PredictNetwork(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(nil)
	_, err := p.Train(ctx, trainingSamples(1))
	require.NoError(t, err)

	res, err := p.PredictNetwork(ctx, demand.NetworkQuery{
		StopIDs:  []string{"S1", "S2", "S9"},
		RouteIDs: []string{"R1"},
		Start:    7 * time.Hour,
		End:      8 * time.Hour,
		Days:     []time.Weekday{time.Monday, time.Saturday},
		WeekOf:   monday.AddDate(0, 0, 2),
	})
	require.NoError(t, err)

	// 2 days x 4 buckets x 3 stops, S9 unknown.
	assert.Len(t, res.Estimates, 16)
	assert.Len(t, res.Failures, 8)
	assert.Equal(t, "S1", res.Estimates[0].StopID)
	assert.Equal(t, monday.Add(7*time.Hour), res.Estimates[0].Time)
	assert.Equal(t, time.Saturday, res.Estimates[len(res.Estimates)-1].Time.Weekday())
	for _, f := range res.Failures {
		assert.Equal(t, "S9", f.StopID)
	}
}

func TestPredictor_PredictNetworkRejectsBadQueries(t *testing.T) {
	ctx := context.Background()
	p := demand.NewPredictor(demand.PredictorConfig{
		Features: fastFeatures(),
		Catalog:  testCatalog(),
		MaxUnits: 10,
		Logger:   zerolog.Nop(),
	})
	_, err := p.Train(ctx, trainingSamples(1))
	require.NoError(t, err)

	tests := []struct {
		name    string
		query   demand.NetworkQuery
		wantErr error
	}{
		{
			name:  "empty range",
			query: demand.NetworkQuery{StopIDs: []string{"S1"}, RouteIDs: []string{"R1"}, Start: time.Hour, End: time.Hour},
		},
		{
			name:    "too many units",
			query:   demand.NetworkQuery{StopIDs: []string{"S1", "S2"}, RouteIDs: []string{"R1"}, Start: 0, End: 24 * time.Hour},
			wantErr: demand.ErrTooManyUnits,
		},
		{
			// Millions of units if expanded; rejected from the counts alone.
			name: "week of one second buckets",
			query: demand.NetworkQuery{
				StopIDs:  []string{"S1", "S2", "S3"},
				RouteIDs: []string{"R1", "R2"},
				Start:    0,
				End:      24 * time.Hour,
				Step:     time.Second,
				Days:     []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday},
			},
			wantErr: demand.ErrTooManyUnits,
		},
		{
			name:    "bucket count overflows",
			query:   demand.NetworkQuery{StopIDs: []string{"S1"}, RouteIDs: []string{"R1"}, Start: 0, End: math.MaxInt64, Step: 1},
			wantErr: demand.ErrTooManyUnits,
		},
	}

	t.Run("exactly at the limit", func(t *testing.T) {
		// 1 day x 5 buckets x 2 stops x 1 route.
		res, err := p.PredictNetwork(ctx, demand.NetworkQuery{
			StopIDs: []string{"S1", "S2"}, RouteIDs: []string{"R1"},
			Start: 7 * time.Hour, End: 8 * time.Hour, Step: 12 * time.Minute,
			WeekOf: monday,
		})
		require.NoError(t, err)
		assert.Len(t, res.Estimates, 10)
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.PredictNetwork(ctx, tt.query)
			require.Error(t, err)
			assert.Equal(t, apperror.KindConfiguration, apperror.KindOf(err))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestModelManager_RetrainSwapsUnderConcurrentReads(t *testing.T) {
	ctx := context.Background()
	p := newTestPredictor(nil)
	first, err := p.Train(ctx, trainingSamples(1))
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				est, err := p.Predict(ctx, demand.Query{StopID: "S2", RouteID: "R2", Time: monday.Add(8 * time.Hour)})
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[est.ModelVersion] = true
				mu.Unlock()
			}
		}()
	}

	second, err := p.Train(ctx, trainingSamples(3))
	require.NoError(t, err)
	close(stop)
	wg.Wait()

	assert.NotEqual(t, first.Version, second.Version)
	assert.Same(t, second, p.Manager().Current())
	for v := range seen {
		assert.Contains(t, []string{first.Version, second.Version}, v)
	}

	restored, err := p.Manager().Rollback()
	require.NoError(t, err)
	assert.Equal(t, first.Version, restored.Version)
}

func TestModelManager_RollbackWithoutHistory(t *testing.T) {
	m := demand.NewModelManager(demand.ManagerConfig{Logger: zerolog.Nop()})
	_, err := m.Rollback()
	assert.ErrorIs(t, err, demand.ErrNoPreviousModel)
}

func TestModelManager_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	store := modelstore.NewInMemoryRepository()
	trained := newTestPredictor(store)

	a, err := trained.Train(ctx, trainingSamples(1))
	require.NoError(t, err)
	require.NoError(t, trained.Manager().Save(ctx, a, map[string]string{"source": "test"}))

	q := demand.Query{StopID: "S3", RouteID: "R1", Time: monday.Add(17 * time.Hour)}
	want, err := trained.Predict(ctx, q)
	require.NoError(t, err)

	fresh := newTestPredictor(store)
	loaded, err := fresh.Manager().Load(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, a.Version, loaded.Version)

	got, err := fresh.Predict(ctx, q)
	require.NoError(t, err)
	assert.InDelta(t, want.PredictedCount, got.PredictedCount, 1e-9)
	assert.InDelta(t, want.Confidence, got.Confidence, 1e-9)

	versions, err := fresh.Manager().Versions(ctx)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, "test", versions[0].Metadata["source"])
}

func TestAt(t *testing.T) {
	wednesday := monday.AddDate(0, 0, 2).Add(15 * time.Hour)
	tests := []struct {
		day  time.Weekday
		want time.Time
	}{
		{time.Monday, monday.Add(90 * time.Minute)},
		{time.Wednesday, monday.AddDate(0, 0, 2).Add(90 * time.Minute)},
		{time.Sunday, monday.AddDate(0, 0, 6).Add(90 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.day.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, demand.At(wednesday, tt.day, 90*time.Minute))
		})
	}
}
