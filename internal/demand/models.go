// Package demand trains and serves the passenger demand model: a stacking
// ensemble of tree and linear regressors over temporal, static route/stop and
// historical aggregate features.
package demand

import (
	"errors"
	"time"
)

// Predefined errors for the demand predictor.
var (
	ErrInsufficientData  = errors.New("insufficient training samples")
	ErrFeatureValidation = errors.New("feature validation failed")
	ErrModelNotTrained   = errors.New("no trained model loaded")
	ErrFeatureMismatch   = errors.New("model feature schema does not match")
	ErrNoPreviousModel   = errors.New("no previous model to roll back to")
	ErrTooManyUnits      = errors.New("network prediction exceeds unit limit")
)

// Attributes are static route/stop properties used as features.
type Attributes struct {
	RouteType      int     `json:"route_type"`
	Position       int     `json:"position"`
	RouteStops     int     `json:"route_stops"`
	RouteLengthKM  float64 `json:"route_length_km"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	Fare           float64 `json:"fare,omitempty"`
	HeadwayMinutes float64 `json:"headway_minutes,omitempty"`
}

// Sample is one historical observation.
type Sample struct {
	StopID    string
	RouteID   string
	Timestamp time.Time
	Count     float64

	// Attributes are resolved from the catalog when nil.
	Attributes *Attributes
}

// QueryContext carries optional per-request feature overrides.
type QueryContext struct {
	Fare           float64 `json:"fare,omitempty"`
	HeadwayMinutes float64 `json:"headway_minutes,omitempty"`
	Holiday        bool    `json:"holiday,omitempty"`
}

// Query asks for the demand at one stop on one route at one time.
type Query struct {
	StopID  string
	RouteID string
	Time    time.Time
	Context *QueryContext
}

// Estimate is a demand prediction. It is never mutated after creation.
type Estimate struct {
	StopID         string    `json:"stop_id"`
	RouteID        string    `json:"route_id"`
	Time           time.Time `json:"time"`
	TimeBucket     string    `json:"time_bucket"`
	DayType        string    `json:"day_type"`
	PredictedCount float64   `json:"predicted_count"`
	Confidence     float64   `json:"confidence"`
	ModelVersion   string    `json:"model_version"`
}

// NetworkQuery describes a Cartesian batch of stops × routes × time buckets.
type NetworkQuery struct {
	StopIDs  []string
	RouteIDs []string

	// Start and End are clock offsets within the service day, End exclusive.
	Start time.Duration
	End   time.Duration

	// Step between buckets. Default: 15 minutes
	Step time.Duration

	Days []time.Weekday

	// WeekOf anchors the days to calendar dates. Default: now.
	WeekOf time.Time
}

// UnitFailure reports a tuple that could not be predicted.
type UnitFailure struct {
	StopID  string    `json:"stop_id"`
	RouteID string    `json:"route_id"`
	Time    time.Time `json:"time"`
	Error   string    `json:"error"`
}

// NetworkPrediction holds the per-tuple results of a network batch.
type NetworkPrediction struct {
	Estimates []Estimate    `json:"estimates"`
	Failures  []UnitFailure `json:"failures,omitempty"`
}

// Catalog resolves static attributes for a stop on a route.
type Catalog interface {
	Attributes(stopID, routeID string) (Attributes, error)
}

// Day types.
const (
	DayTypeWeekday = "weekday"
	DayTypeWeekend = "weekend"
	DayTypeHoliday = "holiday"
)
