// Package config loads the optimizer and pipeline settings from an optional
// YAML file, overlays environment variables and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/transitopt/transitopt/internal/apperror"
)

// Config is the full pipeline configuration.
type Config struct {
	Feed         FeedConfig         `yaml:"feed"`
	Routes       RouteConfig        `yaml:"routes"`
	Schedule     ScheduleConfig     `yaml:"schedule"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Demand       DemandConfig       `yaml:"demand"`
	Cache        CacheConfig        `yaml:"cache"`
	Sweep        SweepConfig        `yaml:"sweep"`
}

// FeedConfig locates the transit feed.
type FeedConfig struct {
	// Location is a GTFS zip, a directory of CSV files or an http(s) URL.
	Location string `yaml:"location" validate:"required"`
}

// RouteConfig holds route optimizer defaults.
type RouteConfig struct {
	VehicleCapacity    float64 `yaml:"vehicle_capacity" validate:"gt=0"`
	MaxRouteMinutes    int     `yaml:"max_route_minutes" validate:"gt=0"`
	AverageSpeedKmh    float64 `yaml:"average_speed_kmh" validate:"gt=0"`
	MaxVehicles        int     `yaml:"max_vehicles" validate:"gte=0"`
	ReturnToDepot      bool    `yaml:"return_to_depot"`
	DwellSeconds       int     `yaml:"dwell_seconds" validate:"gte=0"`
	Workers            int     `yaml:"workers" validate:"gte=1,lte=64"`
	EstimateDemand     bool    `yaml:"include_demand_estimation"`
	TerminalWeight     float64 `yaml:"terminal_weight" validate:"gte=0"`
	IntermediateWeight float64 `yaml:"intermediate_weight" validate:"gte=0"`
}

// ScheduleConfig holds schedule optimizer defaults.
type ScheduleConfig struct {
	VehicleCapacity   float64 `yaml:"vehicle_capacity" validate:"gt=0"`
	MinHeadwayMinutes int     `yaml:"min_headway_minutes" validate:"gt=0"`
	MaxHeadwayMinutes int     `yaml:"max_headway_minutes" validate:"gtefield=MinHeadwayMinutes"`
	MaxFleetSize      int     `yaml:"max_fleet_size" validate:"gt=0"`
	ServiceStartHour  int     `yaml:"service_start_hour" validate:"gte=0,lt=24"`
	ServiceEndHour    int     `yaml:"service_end_hour" validate:"gtfield=ServiceStartHour,lte=30"`
	VehicleCost       float64 `yaml:"vehicle_cost" validate:"gte=0"`
	WaitCost          float64 `yaml:"wait_cost" validate:"gte=0"`

	// FallbackTripMinutes is the one-way trip time used for routes whose
	// feed has no timed trips.
	FallbackTripMinutes int `yaml:"fallback_trip_minutes" validate:"gt=0"`
}

// OptimizationConfig bounds solver runs.
type OptimizationConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gt=0"`
}

// DemandConfig holds demand predictor settings.
type DemandConfig struct {
	ModelName       string  `yaml:"model_name" validate:"required"`
	MinSamples      int     `yaml:"min_samples" validate:"gt=0"`
	Folds           int     `yaml:"folds" validate:"gte=2,lte=10"`
	HoldoutFraction float64 `yaml:"holdout_fraction" validate:"gt=0,lt=0.5"`
	Seed            uint64  `yaml:"seed"`
	RetrainCron     string  `yaml:"retrain_cron" validate:"required"`
	Workers         int     `yaml:"workers" validate:"gte=1,lte=64"`
	MaxNetworkUnits int     `yaml:"max_network_units" validate:"gt=0"`

	// SynthesizeDays of samples are generated when the feed has no ridership.
	SynthesizeDays int `yaml:"synthesize_days" validate:"gte=0"`
}

// CacheConfig sizes the distance matrix cache.
type CacheConfig struct {
	MatrixSize       int `yaml:"matrix_size" validate:"gt=0"`
	MatrixTTLMinutes int `yaml:"matrix_ttl_minutes" validate:"gt=0"`
}

// SweepConfig controls scenario sweeps.
type SweepConfig struct {
	Concurrency    int `yaml:"concurrency" validate:"gte=1,lte=32"`
	TimeoutSeconds int `yaml:"timeout_seconds" validate:"gt=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Feed: FeedConfig{Location: "data/gtfs.zip"},
		Routes: RouteConfig{
			VehicleCapacity:    100,
			MaxRouteMinutes:    120,
			AverageSpeedKmh:    25,
			DwellSeconds:       0,
			Workers:            4,
			EstimateDemand:     true,
			TerminalWeight:     100,
			IntermediateWeight: 30,
		},
		Schedule: ScheduleConfig{
			VehicleCapacity:     100,
			MinHeadwayMinutes:   5,
			MaxHeadwayMinutes:   30,
			MaxFleetSize:        50,
			ServiceStartHour:    6,
			ServiceEndHour:      22,
			VehicleCost:         100,
			WaitCost:            1,
			FallbackTripMinutes: 30,
		},
		Optimization: OptimizationConfig{TimeoutSeconds: 30},
		Demand: DemandConfig{
			ModelName:       "demand",
			MinSamples:      100,
			Folds:           3,
			HoldoutFraction: 0.2,
			Seed:            42,
			RetrainCron:     "0 0 3 * * *",
			Workers:         8,
			MaxNetworkUnits: 100000,
			SynthesizeDays:  14,
		},
		Cache: CacheConfig{MatrixSize: 1024, MatrixTTLMinutes: 60},
		Sweep: SweepConfig{Concurrency: 3, TimeoutSeconds: 30},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, apperror.Configuration("reading "+path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, apperror.Configuration("parsing "+path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// FromEnv loads the file named by CONFIG_FILE (default: config.yml).
func FromEnv() (Config, error) {
	return Load(getEnvOrDefault("CONFIG_FILE", "config.yml"))
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// CronParser parses retraining schedules. Specs carry a leading seconds field.
var CronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks every field constraint and reports them together.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		if _, cerr := CronParser.Parse(c.Demand.RetrainCron); cerr != nil {
			return apperror.Configuration("invalid retrain_cron "+strconv.Quote(c.Demand.RetrainCron), cerr)
		}
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Configuration("validating configuration", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg := fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag())
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		msgs = append(msgs, msg)
	}
	return apperror.Configuration("invalid configuration: "+strings.Join(msgs, "; "), err)
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("FEED_LOCATION"); v != "" {
		c.Feed.Location = v
	}
	if v := os.Getenv("RETRAIN_CRON"); v != "" {
		c.Demand.RetrainCron = v
	}
	if v := os.Getenv("DEMAND_MODEL_NAME"); v != "" {
		c.Demand.ModelName = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"OPTIMIZATION_TIMEOUT_SECONDS", &c.Optimization.TimeoutSeconds},
		{"MAX_FLEET_SIZE", &c.Schedule.MaxFleetSize},
		{"MIN_TRAINING_SAMPLES", &c.Demand.MinSamples},
	}
	for _, e := range ints {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperror.Configuration(e.key+" must be an integer", err)
		}
		*e.dst = n
	}
	return nil
}

// Timeout is the solver budget.
func (c Config) Timeout() time.Duration {
	return time.Duration(c.Optimization.TimeoutSeconds) * time.Second
}

// MaxRouteDuration is the route optimizer's per-tour time limit.
func (c RouteConfig) MaxRouteDuration() time.Duration {
	return time.Duration(c.MaxRouteMinutes) * time.Minute
}

// Dwell is the time spent serving each stop.
func (c RouteConfig) Dwell() time.Duration {
	return time.Duration(c.DwellSeconds) * time.Second
}

// Headways returns the headway bounds.
func (c ScheduleConfig) Headways() (time.Duration, time.Duration) {
	return time.Duration(c.MinHeadwayMinutes) * time.Minute, time.Duration(c.MaxHeadwayMinutes) * time.Minute
}

// ServiceHours returns the service day as offsets from midnight.
func (c ScheduleConfig) ServiceHours() (time.Duration, time.Duration) {
	return time.Duration(c.ServiceStartHour) * time.Hour, time.Duration(c.ServiceEndHour) * time.Hour
}

// MatrixTTL is the distance matrix cache lifetime.
func (c CacheConfig) MatrixTTL() time.Duration {
	return time.Duration(c.MatrixTTLMinutes) * time.Minute
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
