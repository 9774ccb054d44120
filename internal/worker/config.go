// Package worker provides background job processing for transitopt:
// Pub/Sub triggered optimizations, scenario sweeps and scheduled retraining.
package worker

import (
	"fmt"
	"slices"
	"time"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/config"
	"github.com/transitopt/transitopt/internal/planner"
)

// SweepConfig holds configuration for the scenario sweep job.
type SweepConfig struct {
	// Concurrency is the number of scenarios optimized at once.
	// Default: 3
	Concurrency int

	// Timeout bounds each scenario.
	// Default: 30 seconds
	Timeout time.Duration
}

// DefaultSweepConfig returns the default sweep configuration.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Concurrency: 3,
		Timeout:     30 * time.Second,
	}
}

// SweepConfigFrom converts the file configuration.
func SweepConfigFrom(c config.SweepConfig) SweepConfig {
	return SweepConfig{
		Concurrency: c.Concurrency,
		Timeout:     time.Duration(c.TimeoutSeconds) * time.Second,
	}
}

func (c SweepConfig) withDefaults() SweepConfig {
	d := DefaultSweepConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	return c
}

// Scenario is one fleet size evaluated by a sweep.
type Scenario struct {
	Name      string `json:"name"`
	FleetSize int    `json:"fleet_size"`
}

// SweepRequest asks for the schedule of one set of parameters under several
// fleet ceilings.
type SweepRequest struct {
	Params     planner.ScheduleParams
	FleetSizes []int
}

// Scenarios returns the distinct fleet sizes in ascending order.
func (r SweepRequest) Scenarios() ([]Scenario, error) {
	if len(r.FleetSizes) == 0 {
		return nil, apperror.Configuration("scenario sweep needs at least one fleet size", nil)
	}
	sizes := slices.Clone(r.FleetSizes)
	slices.Sort(sizes)
	sizes = slices.Compact(sizes)

	out := make([]Scenario, 0, len(sizes))
	for _, n := range sizes {
		if n <= 0 {
			return nil, apperror.Configuration(fmt.Sprintf("invalid fleet size %d", n), nil)
		}
		out = append(out, Scenario{Name: fmt.Sprintf("fleet_%d", n), FleetSize: n})
	}
	return out, nil
}
