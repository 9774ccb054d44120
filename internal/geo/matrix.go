package geo

import (
	"math"

	"github.com/transitopt/transitopt/internal/apperror"
)

// DefaultAverageSpeedKmh is the bus speed used to derive travel times.
const DefaultAverageSpeedKmh = 25.0

// DistanceMatrix holds pairwise distances (meters) and travel times (seconds)
// for an ordered working set of stops. Entries that are not finite mark an
// unreachable pair.
type DistanceMatrix struct {
	Stops     []Stop
	Distances [][]float64
	Durations [][]float64

	index map[string]int
}

// BuildMatrix computes the haversine distance matrix for stops in the given
// order. Travel time is distance divided by speedKmh.
func BuildMatrix(stops []Stop, speedKmh float64) (*DistanceMatrix, error) {
	if speedKmh <= 0 {
		speedKmh = DefaultAverageSpeedKmh
	}
	for _, s := range stops {
		if err := s.Validate(); err != nil {
			return nil, apperror.Data("building distance matrix", err)
		}
	}

	n := len(stops)
	m := newMatrix(stops)
	metersPerSecond := speedKmh * 1000 / 3600

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := Distance(stops[i], stops[j])
			m.Distances[i][j] = d
			m.Distances[j][i] = d
			m.Durations[i][j] = d / metersPerSecond
			m.Durations[j][i] = d / metersPerSecond
		}
	}

	return m, nil
}

func newMatrix(stops []Stop) *DistanceMatrix {
	n := len(stops)
	m := &DistanceMatrix{
		Stops:     append([]Stop(nil), stops...),
		Distances: make([][]float64, n),
		Durations: make([][]float64, n),
		index:     make(map[string]int, n),
	}
	for i := range stops {
		m.Distances[i] = make([]float64, n)
		m.Durations[i] = make([]float64, n)
		m.index[stops[i].ID] = i
	}
	return m
}

// Size returns the number of stops in the matrix.
func (m *DistanceMatrix) Size() int {
	return len(m.Stops)
}

// Index returns the row of a stop id.
func (m *DistanceMatrix) Index(stopID string) (int, bool) {
	i, ok := m.index[stopID]
	return i, ok
}

// Reachable reports whether j can be reached from i.
func (m *DistanceMatrix) Reachable(i, j int) bool {
	d := m.Distances[i][j]
	return !math.IsInf(d, 0) && !math.IsNaN(d)
}

// SetUnreachable marks the pair (i, j) as unreachable in both directions.
func (m *DistanceMatrix) SetUnreachable(i, j int) {
	m.Distances[i][j], m.Distances[j][i] = math.Inf(1), math.Inf(1)
	m.Durations[i][j], m.Durations[j][i] = math.Inf(1), math.Inf(1)
}

// PathDistance sums the distances along an ordered sequence of rows.
func (m *DistanceMatrix) PathDistance(order []int) float64 {
	total := 0.0
	for i := 0; i+1 < len(order); i++ {
		total += m.Distances[order[i]][order[i+1]]
	}
	return total
}

// Subset returns the matrix restricted to the given stop ids, in that order.
func (m *DistanceMatrix) Subset(stopIDs []string) (*DistanceMatrix, bool) {
	rows := make([]int, len(stopIDs))
	stops := make([]Stop, len(stopIDs))
	for k, id := range stopIDs {
		i, ok := m.index[id]
		if !ok {
			return nil, false
		}
		rows[k] = i
		stops[k] = m.Stops[i]
	}

	out := newMatrix(stops)
	for a, i := range rows {
		for b, j := range rows {
			out.Distances[a][b] = m.Distances[i][j]
			out.Durations[a][b] = m.Durations[i][j]
		}
	}
	return out, true
}
