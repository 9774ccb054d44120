package routeopt

import (
	"cmp"
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/transitopt/transitopt/internal/geo"
)

const distanceEpsilon = 1e-6

// unit is one service obligation: a stop, or a capacity-sized share of a stop
// whose demand exceeds one vehicle.
type unit struct {
	row    int
	load   float64
	window *TimeWindow
}

// solver holds the immutable problem data of one optimization.
type solver struct {
	m        *geo.DistanceMatrix
	units    []unit
	capacity float64
	maxDur   float64 // seconds
	dwell    float64 // seconds
	vehicles int     // 0 = unlimited
	closed   bool
}

// rejection records why a tour could not take a unit.
type rejection int

const (
	accepted rejection = iota
	rejectCapacity
	rejectTime
	rejectUnreachable
)

func (r rejection) String() string {
	switch r {
	case rejectCapacity:
		return "capacity"
	case rejectTime:
		return "route duration"
	case rejectUnreachable:
		return "unreachable legs"
	}
	return "none"
}

// tourCost evaluates a tour given as unit indices. It returns the tour
// distance in meters and its duration in seconds.
func (s *solver) tourCost(tour []int) (dist, dur float64, why rejection) {
	load := 0.0
	at, clock := 0, 0.0
	for _, u := range tour {
		un := s.units[u]
		load += un.load
		if load > s.capacity+distanceEpsilon {
			return 0, 0, rejectCapacity
		}
		if !s.m.Reachable(at, un.row) {
			return 0, 0, rejectUnreachable
		}
		dist += s.m.Distances[at][un.row]
		clock += s.m.Durations[at][un.row]
		if w := un.window; w != nil {
			if early := w.Earliest.Seconds(); clock < early {
				clock = early
			}
			if clock > w.Latest.Seconds()+distanceEpsilon {
				return 0, 0, rejectTime
			}
		}
		clock += s.dwell
		at = un.row
	}
	if s.closed && len(tour) > 0 {
		if !s.m.Reachable(at, 0) {
			return 0, 0, rejectUnreachable
		}
		dist += s.m.Distances[at][0]
		clock += s.m.Durations[at][0]
	}
	if clock > s.maxDur+distanceEpsilon {
		return 0, 0, rejectTime
	}
	return dist, clock, accepted
}

func (s *solver) totalDistance(tours [][]int) float64 {
	total := 0.0
	for _, t := range tours {
		d, _, _ := s.tourCost(t)
		total += d
	}
	return total
}

// construct builds tours greedily: each vehicle repeatedly moves to the
// nearest unit it can still take. Distance ties go to the unit with the
// higher load, then to the lower index. When no unit can be appended the
// cheapest feasible insertion is tried. It returns the dominant rejection
// when the vehicle limit is reached with units left over.
func (s *solver) construct(ctx context.Context) ([][]int, rejection, error) {
	remaining := make([]bool, len(s.units))
	left := len(s.units)
	for i := range remaining {
		remaining[i] = true
	}

	var tours [][]int
	var capacityRejects, timeRejects int
	for left > 0 {
		if s.vehicles > 0 && len(tours) == s.vehicles {
			if capacityRejects >= timeRejects {
				return nil, rejectCapacity, nil
			}
			return nil, rejectTime, nil
		}

		var tour []int
		at := 0
		for {
			if err := ctx.Err(); err != nil {
				return nil, accepted, err
			}
			best, bestDist := -1, math.Inf(1)
			for u, ok := range remaining {
				if !ok || !s.m.Reachable(at, s.units[u].row) {
					continue
				}
				d := s.m.Distances[at][s.units[u].row]
				if d > bestDist+distanceEpsilon {
					continue
				}
				tie := math.Abs(d-bestDist) <= distanceEpsilon
				if tie && s.units[u].load <= s.units[best].load {
					continue
				}
				if _, _, why := s.tourCost(append(tour[:len(tour):len(tour)], u)); why != accepted {
					switch why {
					case rejectCapacity:
						capacityRejects++
					case rejectTime:
						timeRejects++
					}
					continue
				}
				best, bestDist = u, d
			}
			if best >= 0 {
				tour = append(tour, best)
				remaining[best] = false
				left--
				at = s.units[best].row
				continue
			}

			// Nothing can be appended; try the cheapest feasible insertion
			// before giving up on this vehicle.
			ins, pos := s.cheapestInsertion(tour, remaining)
			if ins < 0 {
				break
			}
			tour = slices.Insert(tour, pos, ins)
			remaining[ins] = false
			left--
			at = s.units[tour[len(tour)-1]].row
		}

		if len(tour) == 0 {
			// Nothing fits in an empty vehicle.
			if capacityRejects > timeRejects {
				return nil, rejectCapacity, nil
			}
			return nil, rejectTime, nil
		}
		tours = append(tours, tour)
	}
	return tours, accepted, nil
}

// cheapestInsertion returns the remaining unit and position that extend
// tour the least while keeping it feasible, or -1.
func (s *solver) cheapestInsertion(tour []int, remaining []bool) (int, int) {
	base, _, _ := s.tourCost(tour)
	best, bestPos, bestDelta := -1, 0, math.Inf(1)
	for u, ok := range remaining {
		if !ok {
			continue
		}
		for pos := 0; pos <= len(tour); pos++ {
			cand := slices.Insert(slices.Clone(tour), pos, u)
			d, _, why := s.tourCost(cand)
			if why != accepted {
				continue
			}
			if delta := d - base; delta+distanceEpsilon < bestDelta {
				best, bestPos, bestDelta = u, pos, delta
			}
		}
	}
	return best, bestPos
}

// repair packs units into tours when greedy construction stalls. Units go
// largest first into the tour where their cheapest feasible insertion lies,
// opening a new tour only when none can take them. Every failed packing is
// retried in a shuffled order until one succeeds or ctx ends, so a nil
// result means the budget ran out, not that no plan exists.
func (s *solver) repair(ctx context.Context) ([][]int, error) {
	order := make([]int, len(s.units))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(s.units[b].load, s.units[a].load)
	})

	rng := rand.New(rand.NewPCG(uint64(len(order)), 0x5eed))
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if tours, ok := s.pack(ctx, order); ok {
			return tours, nil
		}
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
}

// pack assigns units in the given order. It reports false when a unit fits
// no open tour and the vehicle limit forbids another.
func (s *solver) pack(ctx context.Context, order []int) ([][]int, bool) {
	var tours [][]int
	for _, u := range order {
		if ctx.Err() != nil {
			return nil, false
		}
		bestTour, bestPos, bestDelta := -1, 0, math.Inf(1)
		for t, tour := range tours {
			base, _, _ := s.tourCost(tour)
			for pos := 0; pos <= len(tour); pos++ {
				d, _, why := s.tourCost(slices.Insert(slices.Clone(tour), pos, u))
				if why != accepted {
					continue
				}
				if delta := d - base; delta+distanceEpsilon < bestDelta {
					bestTour, bestPos, bestDelta = t, pos, delta
				}
			}
		}
		if bestTour >= 0 {
			tours[bestTour] = slices.Insert(tours[bestTour], bestPos, u)
			continue
		}
		if s.vehicles > 0 && len(tours) == s.vehicles {
			return nil, false
		}
		if _, _, why := s.tourCost([]int{u}); why != accepted {
			return nil, false
		}
		tours = append(tours, []int{u})
	}
	return tours, true
}

// improve applies first-improvement local search until no move helps or
// the context ends. Every accepted move keeps all tours feasible.
func (s *solver) improve(ctx context.Context, tours [][]int) ([][]int, int, bool) {
	moves := 0
	for {
		if ctx.Err() != nil {
			return tours, moves, true
		}
		improved := false
		for t := range tours {
			if s.twoOpt(tours, t) || s.orOpt(tours, t) {
				improved = true
			}
		}
		if !improved && s.relocate(ctx, &tours) {
			improved = true
		}
		if !improved {
			return tours, moves, false
		}
		moves++
	}
}

// twoOpt reverses one segment of tour t if that shortens it.
func (s *solver) twoOpt(tours [][]int, t int) bool {
	tour := tours[t]
	base, _, _ := s.tourCost(tour)
	for i := 0; i < len(tour)-1; i++ {
		for k := i + 1; k < len(tour); k++ {
			cand := twoOptSwap(tour, i, k)
			if d, _, why := s.tourCost(cand); why == accepted && d+distanceEpsilon < base {
				tours[t] = cand
				return true
			}
		}
	}
	return false
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// orOpt moves a segment of one to three units elsewhere within tour t.
func (s *solver) orOpt(tours [][]int, t int) bool {
	tour := tours[t]
	base, _, _ := s.tourCost(tour)
	for length := 1; length <= 3 && length < len(tour); length++ {
		for i := 0; i+length <= len(tour); i++ {
			seg := tour[i : i+length]
			rest := make([]int, 0, len(tour)-length)
			rest = append(rest, tour[:i]...)
			rest = append(rest, tour[i+length:]...)
			for j := 0; j <= len(rest); j++ {
				if j == i {
					continue
				}
				cand := make([]int, 0, len(tour))
				cand = append(cand, rest[:j]...)
				cand = append(cand, seg...)
				cand = append(cand, rest[j:]...)
				if d, _, why := s.tourCost(cand); why == accepted && d+distanceEpsilon < base {
					tours[t] = cand
					return true
				}
			}
		}
	}
	return false
}

// relocate moves a single unit from one tour into another when that lowers
// the total distance, dropping tours that become empty.
func (s *solver) relocate(ctx context.Context, tours *[][]int) bool {
	ts := *tours
	if len(ts) < 2 {
		return false
	}
	for from := range ts {
		for i := range ts[from] {
			if ctx.Err() != nil {
				return false
			}
			src := make([]int, 0, len(ts[from])-1)
			src = append(src, ts[from][:i]...)
			src = append(src, ts[from][i+1:]...)
			srcOld, _, _ := s.tourCost(ts[from])
			srcNew, _, _ := s.tourCost(src)

			for to := range ts {
				if to == from {
					continue
				}
				dstOld, _, _ := s.tourCost(ts[to])
				for j := 0; j <= len(ts[to]); j++ {
					dst := make([]int, 0, len(ts[to])+1)
					dst = append(dst, ts[to][:j]...)
					dst = append(dst, ts[from][i])
					dst = append(dst, ts[to][j:]...)
					dstNew, _, why := s.tourCost(dst)
					if why != accepted || srcNew+dstNew+distanceEpsilon >= srcOld+dstOld {
						continue
					}
					ts[from], ts[to] = src, dst
					if len(src) == 0 {
						ts = append(ts[:from], ts[from+1:]...)
					}
					*tours = ts
					return true
				}
			}
		}
	}
	return false
}

// plan renders unit tours into the public result.
func (s *solver) plan(routeID string, tours [][]int) *Plan {
	p := &Plan{RouteID: routeID, Vehicles: len(tours)}
	for v, tour := range tours {
		out := Tour{Vehicle: v + 1}
		at, clock := 0, 0.0
		for _, u := range tour {
			un := s.units[u]
			clock += s.m.Durations[at][un.row]
			if un.window != nil && clock < un.window.Earliest.Seconds() {
				clock = un.window.Earliest.Seconds()
			}
			arrival := clock
			clock += s.dwell
			out.Load += un.load
			out.Visits = append(out.Visits, Visit{
				StopID:         s.m.Stops[un.row].ID,
				Load:           un.load,
				CumulativeLoad: out.Load,
				Arrival:        seconds(arrival),
				Departure:      seconds(clock),
			})
			at = un.row
		}
		dist, dur, _ := s.tourCost(tour)
		out.Distance = dist
		out.Duration = seconds(dur)

		p.Tours = append(p.Tours, out)
		p.TotalDistance += out.Distance
		p.TotalDuration += out.Duration
		p.TotalLoad += out.Load
	}
	return p
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
