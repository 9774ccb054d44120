package demand

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// SchemaVersion identifies the feature layout produced by Transform.Vector.
// Bump it whenever features are added, removed or reordered.
const SchemaVersion = 2

// FeatureNames lists the model inputs in vector order.
var FeatureNames = []string{
	"hour", "hour_sin", "hour_cos", "peak", "weekend", "holiday",
	"dow_mon", "dow_tue", "dow_wed", "dow_thu", "dow_fri", "dow_sat", "dow_sun",
	"period", "route_type", "route_length_km", "stop_position", "relative_position",
	"terminal", "fare", "headway", "stop_lat", "stop_lon",
	"stop_mean", "route_mean", "stop_hour_mean", "route_period_mean",
}

// Periods of the service day used as a categorical feature and as the
// time-bucket label of estimates.
var periods = []struct {
	name  string
	until int
}{
	{"night", 6},
	{"morning_peak", 9},
	{"midday", 12},
	{"afternoon_peak", 17},
	{"evening", 20},
	{"late_night", 24},
}

// PeriodOf returns the period name and index of an hour.
func PeriodOf(hour int) (string, int) {
	for i, p := range periods {
		if hour < p.until {
			return p.name, i
		}
	}
	last := len(periods) - 1
	return periods[last].name, last
}

// FeatureConfig controls training.
type FeatureConfig struct {
	// MinSamples required to train. Default: 100
	MinSamples int

	// PeakHours flagged as peak. Default: 7, 8, 17, 18
	PeakHours []int

	// Holidays are service dates treated as holidays.
	Holidays []time.Time

	// ValidFrom and ValidTo bound sample timestamps when set.
	ValidFrom time.Time
	ValidTo   time.Time

	// Folds for out-of-fold stacking predictions. Default: 3
	Folds int

	// HoldoutFraction reserved for evaluation metrics. Default: 0.2
	HoldoutFraction float64

	// Seed makes training reproducible.
	Seed uint64

	Forest   ForestParams
	Boosting BoostingParams
	Tree     TreeParams
	Ridge    RidgeParams
}

func (c FeatureConfig) withDefaults() FeatureConfig {
	if c.MinSamples <= 0 {
		c.MinSamples = 100
	}
	if len(c.PeakHours) == 0 {
		c.PeakHours = []int{7, 8, 17, 18}
	}
	if c.Folds < 2 {
		c.Folds = 3
	}
	if c.HoldoutFraction <= 0 || c.HoldoutFraction >= 0.5 {
		c.HoldoutFraction = 0.2
	}
	if c.Seed == 0 {
		c.Seed = 42
	}
	return c
}

// Transform turns samples and queries into feature vectors. It is fitted once
// per training run and stored in the artifact so prediction applies the exact
// same mapping.
type Transform struct {
	GlobalMean      float64            `json:"global_mean"`
	StopMean        map[string]float64 `json:"stop_mean"`
	RouteMean       map[string]float64 `json:"route_mean"`
	StopHourMean    map[string]float64 `json:"stop_hour_mean"`
	RoutePeriodMean map[string]float64 `json:"route_period_mean"`
	PeakHours       []int              `json:"peak_hours"`
	Holidays        []string           `json:"holidays"`

	peak     map[int]bool
	holidays map[string]bool
}

type meanAcc struct {
	sum float64
	n   float64
}

func (m *meanAcc) add(v float64) { m.sum += v; m.n++ }
func (m meanAcc) mean() float64 { return m.sum / m.n }

func stopHourKey(stopID string, hour int) string {
	return stopID + "|" + strconv.Itoa(hour)
}

func routePeriodKey(routeID string, period int) string {
	return routeID + "|" + strconv.Itoa(period)
}

// fitTransform computes the historical aggregates over samples.
func fitTransform(samples []Sample, cfg FeatureConfig) *Transform {
	var global meanAcc
	stops := map[string]*meanAcc{}
	routes := map[string]*meanAcc{}
	stopHours := map[string]*meanAcc{}
	routePeriods := map[string]*meanAcc{}

	get := func(m map[string]*meanAcc, k string) *meanAcc {
		a, ok := m[k]
		if !ok {
			a = &meanAcc{}
			m[k] = a
		}
		return a
	}

	for _, s := range samples {
		global.add(s.Count)
		get(stops, s.StopID).add(s.Count)
		get(routes, s.RouteID).add(s.Count)
		get(stopHours, stopHourKey(s.StopID, s.Timestamp.Hour())).add(s.Count)
		_, p := PeriodOf(s.Timestamp.Hour())
		get(routePeriods, routePeriodKey(s.RouteID, p)).add(s.Count)
	}

	flatten := func(m map[string]*meanAcc) map[string]float64 {
		out := make(map[string]float64, len(m))
		for k, a := range m {
			out[k] = a.mean()
		}
		return out
	}

	t := &Transform{
		GlobalMean:      global.mean(),
		StopMean:        flatten(stops),
		RouteMean:       flatten(routes),
		StopHourMean:    flatten(stopHours),
		RoutePeriodMean: flatten(routePeriods),
		PeakHours:       append([]int(nil), cfg.PeakHours...),
	}
	for _, h := range cfg.Holidays {
		t.Holidays = append(t.Holidays, h.Format(time.DateOnly))
	}
	t.init()
	return t
}

func (t *Transform) init() {
	t.peak = make(map[int]bool, len(t.PeakHours))
	for _, h := range t.PeakHours {
		t.peak[h] = true
	}
	t.holidays = make(map[string]bool, len(t.Holidays))
	for _, d := range t.Holidays {
		t.holidays[d] = true
	}
}

// IsHoliday reports whether ts falls on a configured holiday.
func (t *Transform) IsHoliday(ts time.Time) bool {
	return t.holidays[ts.Format(time.DateOnly)]
}

// DayType classifies a timestamp.
func (t *Transform) DayType(ts time.Time, holiday bool) string {
	switch {
	case holiday || t.IsHoliday(ts):
		return DayTypeHoliday
	case ts.Weekday() == time.Saturday || ts.Weekday() == time.Sunday:
		return DayTypeWeekend
	default:
		return DayTypeWeekday
	}
}

func (t *Transform) lookup(m map[string]float64, key string, fallback float64) float64 {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}

// Vector builds the feature vector for one observation.
func (t *Transform) Vector(stopID, routeID string, ts time.Time, attrs Attributes, qc *QueryContext) []float64 {
	hour := ts.Hour()
	hourF := float64(hour) + float64(ts.Minute())/60
	angle := 2 * math.Pi * hourF / 24
	_, period := PeriodOf(hour)

	holiday := t.IsHoliday(ts)
	fare, headway := attrs.Fare, attrs.HeadwayMinutes
	if qc != nil {
		holiday = holiday || qc.Holiday
		if qc.Fare > 0 {
			fare = qc.Fare
		}
		if qc.HeadwayMinutes > 0 {
			headway = qc.HeadwayMinutes
		}
	}

	weekday := ts.Weekday()
	weekend := weekday == time.Saturday || weekday == time.Sunday

	relative := 0.0
	terminal := 0.0
	if attrs.RouteStops > 0 && attrs.Position > 0 {
		relative = float64(attrs.Position) / float64(attrs.RouteStops)
		if attrs.Position <= 3 || attrs.Position > attrs.RouteStops-3 {
			terminal = 1
		}
	}

	stopMean := t.lookup(t.StopMean, stopID, t.GlobalMean)
	routeMean := t.lookup(t.RouteMean, routeID, t.GlobalMean)

	v := make([]float64, 0, len(FeatureNames))
	v = append(v,
		hourF, math.Sin(angle), math.Cos(angle),
		boolFloat(t.peak[hour]), boolFloat(weekend), boolFloat(holiday),
	)
	// Monday first.
	for _, d := range []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday} {
		v = append(v, boolFloat(weekday == d))
	}
	v = append(v,
		float64(period), float64(attrs.RouteType), attrs.RouteLengthKM,
		float64(attrs.Position), relative, terminal, fare, headway,
		attrs.Lat, attrs.Lon,
		stopMean, routeMean,
		t.lookup(t.StopHourMean, stopHourKey(stopID, hour), stopMean),
		t.lookup(t.RoutePeriodMean, routePeriodKey(routeID, period), routeMean),
	)
	return v
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// validateSamples checks required fields and value domains.
func validateSamples(samples []Sample, cfg FeatureConfig) error {
	for i, s := range samples {
		switch {
		case s.StopID == "":
			return fmt.Errorf("%w: sample %d missing stop_id", ErrFeatureValidation, i)
		case s.RouteID == "":
			return fmt.Errorf("%w: sample %d missing route_id", ErrFeatureValidation, i)
		case s.Timestamp.IsZero():
			return fmt.Errorf("%w: sample %d missing timestamp", ErrFeatureValidation, i)
		case math.IsNaN(s.Count) || math.IsInf(s.Count, 0):
			return fmt.Errorf("%w: sample %d count is not finite", ErrFeatureValidation, i)
		case s.Count < 0:
			return fmt.Errorf("%w: sample %d has negative count %v", ErrFeatureValidation, i, s.Count)
		case !cfg.ValidFrom.IsZero() && s.Timestamp.Before(cfg.ValidFrom):
			return fmt.Errorf("%w: sample %d timestamp %s before feed validity", ErrFeatureValidation, i, s.Timestamp.Format(time.RFC3339))
		case !cfg.ValidTo.IsZero() && s.Timestamp.After(cfg.ValidTo):
			return fmt.Errorf("%w: sample %d timestamp %s after feed validity", ErrFeatureValidation, i, s.Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}
