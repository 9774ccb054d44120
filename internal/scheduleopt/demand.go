package scheduleopt

// Period demand multipliers applied to the heuristic base demand.
var periodMultiplier = map[string]float64{
	"morning_peak":   2.5,
	"midday":         1.0,
	"afternoon_peak": 2.0,
	"evening":        1.5,
	"night":          0.3,
}

const (
	heuristicBase      = 20.0
	terminalMultiplier = 1.5
)

// HeuristicDemand estimates passengers per hour for every route and period
// when no trained demand model is available. A route's demand in a period is
// that of its busiest stop. The first and last three stops of a route are
// major stops, so every non-empty route peaks at a terminal.
func HeuristicDemand(routeStops map[string][]string, periods []Period) DemandByPeriod {
	out := make(DemandByPeriod, len(routeStops))
	for routeID, stops := range routeStops {
		if len(stops) == 0 {
			continue
		}
		byPeriod := make(map[string]float64, len(periods))
		for _, p := range periods {
			m, ok := periodMultiplier[p.Name]
			if !ok {
				m = 1
			}
			byPeriod[p.Name] = heuristicBase * m * terminalMultiplier
		}
		out[routeID] = byPeriod
	}
	return out
}

// MergeDemand folds per-stop estimates into route demand: each route keeps
// its busiest stop per period.
func MergeDemand(dst DemandByPeriod, routeID, period string, perHour float64) {
	byPeriod, ok := dst[routeID]
	if !ok {
		byPeriod = make(map[string]float64)
		dst[routeID] = byPeriod
	}
	if perHour > byPeriod[period] {
		byPeriod[period] = perHour
	}
}
