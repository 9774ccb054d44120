package routeopt_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/geo"
	"github.com/transitopt/transitopt/internal/routeopt"
)

const baseLat, baseLon = 5.55, -0.2

// lineStops places n stops due north of the base point, spacing meters apart.
func lineStops(n int, spacing float64) []geo.Stop {
	stops := make([]geo.Stop, n)
	for i := range stops {
		lat, lon := geo.Offset(baseLat, baseLon, float64(i)*spacing, 0)
		stops[i] = geo.Stop{ID: fmt.Sprintf("S%d", i+1), Lat: lat, Lon: lon}
	}
	return stops
}

func uniformDemand(stops []geo.Stop, d float64) map[string]float64 {
	out := make(map[string]float64, len(stops))
	for _, s := range stops {
		out[s.ID] = d
	}
	return out
}

func request(t *testing.T, stops []geo.Stop, demand map[string]float64, c routeopt.VehicleConstraints) routeopt.Request {
	t.Helper()
	m, err := geo.BuildMatrix(stops, 25)
	require.NoError(t, err)
	return routeopt.Request{RouteID: "R1", Stops: stops, Demand: demand, Matrix: m, Constraints: c, Timeout: 5 * time.Second}
}

func newOptimizer() *routeopt.Optimizer {
	return routeopt.NewOptimizer(routeopt.OptimizerConfig{Logger: zerolog.Nop()})
}

func TestOptimize_StopsInALine(t *testing.T) {
	stops := lineStops(5, 1000)
	req := request(t, stops, uniformDemand(stops, 10), routeopt.VehicleConstraints{
		Capacity:         50,
		MaxRouteDuration: 2 * time.Hour,
	})

	out, err := newOptimizer().Optimize(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, routeopt.StatusFeasible, out.Status)
	require.Len(t, out.Plan.Tours, 1)

	tour := out.Plan.Tours[0]
	assert.Equal(t, []string{"S1", "S2", "S3", "S4", "S5"}, tour.StopIDs())
	assert.InDelta(t, 4000, out.Plan.TotalDistance, 0.5)
	assert.InDelta(t, 50, tour.Load, 1e-9)
	assert.NoError(t, out.Err())

	var cumulative []float64
	for _, v := range tour.Visits {
		cumulative = append(cumulative, v.CumulativeLoad)
	}
	assert.Equal(t, []float64{10, 20, 30, 40, 50}, cumulative)
}

func TestOptimize_RepacksWhenGreedyRunsOutOfVehicles(t *testing.T) {
	// Nearest-first fills the first vehicle with 3 + 6 and strands S6; the
	// split {S3, S5} + {S2, S4, S6} fits two vehicles exactly.
	stops := lineStops(6, 1000)
	demand := map[string]float64{"S2": 3, "S3": 6, "S4": 3, "S5": 4, "S6": 4}
	req := request(t, stops, demand, routeopt.VehicleConstraints{
		Capacity: 10, MaxRouteDuration: 2 * time.Hour, MaxVehicles: 2,
	})

	out, err := newOptimizer().Optimize(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, routeopt.StatusFeasible, out.Status, out.Message)
	assert.NoError(t, out.Err())
	assert.LessOrEqual(t, out.Plan.Vehicles, 2)

	served := map[string]float64{}
	for _, tour := range out.Plan.Tours {
		assert.LessOrEqual(t, tour.Load, 10.0+1e-9)
		prev := 0.0
		for _, v := range tour.Visits {
			served[v.StopID] += v.Load
			assert.GreaterOrEqual(t, v.CumulativeLoad, prev)
			prev = v.CumulativeLoad
		}
		assert.InDelta(t, tour.Load, prev, 1e-9)
	}
	for id, d := range demand {
		assert.InDelta(t, d, served[id], 1e-9, id)
	}
}

func TestOptimize_UnprovenFailureIsRetryable(t *testing.T) {
	// Three loads of 6 cannot share two vehicles of 10, yet total demand fits
	// the fleet and every stop fits a vehicle, so no proof applies.
	stops := lineStops(4, 1000)
	demand := map[string]float64{"S2": 6, "S3": 6, "S4": 6}
	req := request(t, stops, demand, routeopt.VehicleConstraints{
		Capacity: 10, MaxRouteDuration: 2 * time.Hour, MaxVehicles: 2,
	})
	req.Timeout = 50 * time.Millisecond

	out, err := newOptimizer().Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, routeopt.StatusTimeout, out.Status)
	assert.Equal(t, routeopt.ReasonNoSolution, out.Reason)
	assert.Nil(t, out.Plan)

	err = out.Err()
	assert.Equal(t, apperror.KindTimeout, apperror.KindOf(err))
	assert.Equal(t, routeopt.ReasonNoSolution, apperror.ReasonOf(err))
	assert.True(t, apperror.IsRetryable(err))
}

func TestOptimize_DemandAboveCapacity(t *testing.T) {
	stops := lineStops(5, 500)
	demand := uniformDemand(stops, 5)
	demand["S3"] = 200

	t.Run("single vehicle", func(t *testing.T) {
		req := request(t, stops, demand, routeopt.VehicleConstraints{
			Capacity: 50, MaxRouteDuration: 2 * time.Hour, MaxVehicles: 1,
		})
		out, err := newOptimizer().Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, routeopt.StatusInfeasible, out.Status)
		assert.Equal(t, routeopt.ReasonCapacityExceeded, out.Reason)

		err = out.Err()
		assert.Equal(t, apperror.KindInfeasible, apperror.KindOf(err))
		assert.False(t, apperror.IsRetryable(err))
	})

	t.Run("multiple vehicles", func(t *testing.T) {
		req := request(t, stops, demand, routeopt.VehicleConstraints{
			Capacity: 50, MaxRouteDuration: 2 * time.Hour, MaxVehicles: 10,
		})
		out, err := newOptimizer().Optimize(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, routeopt.StatusFeasible, out.Status)
		assert.GreaterOrEqual(t, out.Plan.Vehicles, 4)

		served := 0.0
		for _, tour := range out.Plan.Tours {
			for _, v := range tour.Visits {
				if v.StopID == "S3" {
					served += v.Load
				}
			}
		}
		assert.InDelta(t, 200, served, 1e-9)
	})

	t.Run("fleet too small", func(t *testing.T) {
		req := request(t, stops, demand, routeopt.VehicleConstraints{
			Capacity: 50, MaxRouteDuration: 2 * time.Hour, MaxVehicles: 3,
		})
		out, err := newOptimizer().Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, routeopt.StatusInfeasible, out.Status)
		assert.Equal(t, routeopt.ReasonCapacityExceeded, out.Reason)
	})
}

func TestOptimize_InfeasibleReasons(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		stops := lineStops(4, 1000)
		req := request(t, stops, uniformDemand(stops, 1), routeopt.VehicleConstraints{
			Capacity: 50, MaxRouteDuration: time.Hour,
		})
		for j := 0; j < 3; j++ {
			req.Matrix.SetUnreachable(j, 3)
		}

		out, err := newOptimizer().Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, routeopt.StatusInfeasible, out.Status)
		assert.Equal(t, routeopt.ReasonDisconnected, out.Reason)
	})

	t.Run("stop beyond route duration", func(t *testing.T) {
		// 20 km at 25 km/h takes 48 minutes.
		stops := lineStops(2, 20000)
		req := request(t, stops, uniformDemand(stops, 1), routeopt.VehicleConstraints{
			Capacity: 50, MaxRouteDuration: 30 * time.Minute,
		})

		out, err := newOptimizer().Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, routeopt.StatusInfeasible, out.Status)
		assert.Equal(t, routeopt.ReasonTimeExceeded, out.Reason)
	})
}

func TestOptimize_InvalidRequests(t *testing.T) {
	stops := lineStops(3, 1000)
	valid := routeopt.VehicleConstraints{Capacity: 50, MaxRouteDuration: time.Hour}

	tests := []struct {
		name     string
		mutate   func(*routeopt.Request)
		wantKind apperror.Kind
	}{
		{
			name:     "no stops",
			mutate:   func(r *routeopt.Request) { r.Stops = nil },
			wantKind: apperror.KindData,
		},
		{
			name:     "zero capacity",
			mutate:   func(r *routeopt.Request) { r.Constraints.Capacity = 0 },
			wantKind: apperror.KindConfiguration,
		},
		{
			name: "inverted time window",
			mutate: func(r *routeopt.Request) {
				r.Constraints.TimeWindows = map[string]routeopt.TimeWindow{"S2": {Earliest: time.Hour, Latest: time.Minute}}
			},
			wantKind: apperror.KindConfiguration,
		},
		{
			name:     "matrix for other stops",
			mutate:   func(r *routeopt.Request) { r.Stops = lineStops(4, 1000) },
			wantKind: apperror.KindData,
		},
		{
			name:     "negative demand",
			mutate:   func(r *routeopt.Request) { r.Demand = map[string]float64{"S2": -1} },
			wantKind: apperror.KindData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request(t, stops, uniformDemand(stops, 1), valid)
			tt.mutate(&req)
			_, err := newOptimizer().Optimize(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, apperror.KindOf(err))
		})
	}
}

func TestOptimize_TimeWindowForcesOrder(t *testing.T) {
	stops := lineStops(4, 1000)
	// S4 is 3 km out (432 s); it must be reached within 8 minutes.
	req := request(t, stops, uniformDemand(stops, 1), routeopt.VehicleConstraints{
		Capacity:         50,
		MaxRouteDuration: time.Hour,
		MaxVehicles:      1,
		DwellTime:        30 * time.Second,
		TimeWindows:      map[string]routeopt.TimeWindow{"S4": {Latest: 8 * time.Minute}},
	})

	out, err := newOptimizer().Optimize(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, routeopt.StatusFeasible, out.Status)

	for _, v := range out.Plan.Tours[0].Visits {
		if v.StopID == "S4" {
			assert.LessOrEqual(t, v.Arrival, 8*time.Minute)
		}
	}
}

func TestOptimize_ExpiredBudget(t *testing.T) {
	stops := lineStops(6, 1000)
	req := request(t, stops, uniformDemand(stops, 1), routeopt.VehicleConstraints{
		Capacity: 50, MaxRouteDuration: time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newOptimizer().Optimize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, routeopt.StatusTimeout, out.Status)
	assert.Nil(t, out.Plan)
	assert.True(t, apperror.IsRetryable(out.Err()))
}

// randomRequest scatters stops within a few kilometers of the base point.
func randomRequest(t *testing.T, rng *rand.Rand) routeopt.Request {
	n := 3 + rng.IntN(10)
	stops := make([]geo.Stop, n)
	demand := make(map[string]float64, n)
	for i := range stops {
		lat, lon := geo.Offset(baseLat, baseLon, rng.Float64()*6000-3000, rng.Float64()*6000-3000)
		stops[i] = geo.Stop{ID: fmt.Sprintf("S%d", i), Lat: lat, Lon: lon}
		demand[stops[i].ID] = float64(rng.IntN(120))
	}
	return request(t, stops, demand, routeopt.VehicleConstraints{
		Capacity:         40 + float64(rng.IntN(80)),
		MaxRouteDuration: time.Duration(20+rng.IntN(60)) * time.Minute,
		DwellTime:        time.Duration(rng.IntN(60)) * time.Second,
		ReturnToDepot:    rng.IntN(2) == 0,
	})
}

func TestOptimize_FeasiblePlansRespectConstraints(t *testing.T) {
	rng := rand.New(rand.NewPCG(11, 17))
	opt := newOptimizer()

	for i := 0; i < 60; i++ {
		req := randomRequest(t, rng)
		out, err := opt.Optimize(context.Background(), req)
		require.NoError(t, err)
		if out.Status != routeopt.StatusFeasible {
			assert.NotEmpty(t, out.Reason)
			continue
		}

		served := map[string]float64{}
		for _, tour := range out.Plan.Tours {
			assert.LessOrEqual(t, tour.Load, req.Constraints.Capacity+1e-6)
			assert.LessOrEqual(t, tour.Duration, req.Constraints.MaxRouteDuration+time.Millisecond)
			for _, v := range tour.Visits {
				served[v.StopID] += v.Load
			}
		}
		require.Len(t, served, len(req.Stops), "every stop is visited")
		for id, d := range req.Demand {
			assert.InDelta(t, d, served[id], 1e-6, id)
		}
	}
}

func TestOptimize_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	opt := newOptimizer()
	for i := 0; i < 10; i++ {
		req := randomRequest(t, rng)
		first, err := opt.Optimize(context.Background(), req)
		require.NoError(t, err)
		second, err := opt.Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, first, second)
	}
}
