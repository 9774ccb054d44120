package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/results"
	"github.com/transitopt/transitopt/internal/scheduleopt"
	"github.com/transitopt/transitopt/internal/telemetry"
)

// SweepJob evaluates schedule scenarios over a bounded worker pool.
type SweepJob struct {
	config  SweepConfig
	planner *planner.Service
	runs    *telemetry.RunMetrics
	logger  zerolog.Logger

	metrics *SweepMetrics
}

// SweepMetrics tracks sweep job statistics.
type SweepMetrics struct {
	mu sync.RWMutex

	TotalSweeps         int64
	SuccessfulScenarios int64
	FailedScenarios     int64

	LastSweepAt       time.Time
	LastSweepDuration time.Duration
	TotalDuration     time.Duration
}

// SweepJobConfig holds configuration for creating a SweepJob.
type SweepJobConfig struct {
	Config  SweepConfig
	Planner *planner.Service
	Metrics *telemetry.RunMetrics
	Logger  zerolog.Logger
}

// NewSweepJob creates a new scenario sweep job.
func NewSweepJob(cfg SweepJobConfig) *SweepJob {
	return &SweepJob{
		config:  cfg.Config.withDefaults(),
		planner: cfg.Planner,
		runs:    cfg.Metrics,
		logger:  cfg.Logger,
		metrics: &SweepMetrics{},
	}
}

// ScenarioOutcome is the schedule summary of one scenario.
type ScenarioOutcome struct {
	Scenario            Scenario           `json:"scenario"`
	Status              scheduleopt.Status `json:"status"`
	Reason              string             `json:"reason,omitempty"`
	TotalVehicles       int                `json:"total_vehicles,omitempty"`
	FleetUtilization    float64            `json:"fleet_utilization,omitempty"`
	CapacityUtilization float64            `json:"capacity_utilization,omitempty"`
	Objective           float64            `json:"objective,omitempty"`
}

// SweepError records a scenario without a feasible schedule.
type SweepError struct {
	Scenario string `json:"scenario"`
	Error    string `json:"error"`
}

// SweepResult contains the result of a sweep.
type SweepResult struct {
	ResultID     string            `json:"result_id"`
	DemandSource string            `json:"demand_source"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      time.Time         `json:"end_time"`
	Duration     time.Duration     `json:"duration"`
	Scenarios    []ScenarioOutcome `json:"scenarios"`
	Successful   int               `json:"successful"`
	Failed       int               `json:"failed"`
	Errors       []SweepError      `json:"errors,omitempty"`
}

// Run evaluates every scenario of req against one shared optimizer input and
// stores the result.
func (j *SweepJob) Run(ctx context.Context, req SweepRequest) (*SweepResult, error) {
	scenarios, err := req.Scenarios()
	if err != nil {
		return nil, err
	}
	base, source, err := j.planner.ScheduleRequest(ctx, req.Params)
	if err != nil {
		return nil, err
	}

	startTime := time.Now()
	result := &SweepResult{
		DemandSource: source,
		StartTime:    startTime,
		Scenarios:    make([]ScenarioOutcome, len(scenarios)),
	}

	j.logger.Info().
		Int("scenarios", len(scenarios)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting scenario sweep")

	jobs := make(chan int, len(scenarios))
	for i := range scenarios {
		jobs <- i
	}
	close(jobs)

	errs := make([]error, len(scenarios))
	var wg sync.WaitGroup
	for w := 0; w < min(j.config.Concurrency, len(scenarios)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				result.Scenarios[i], errs[i] = j.runScenario(ctx, base, scenarios[i])
			}
		}()
	}
	wg.Wait()

	for i, sc := range scenarios {
		if errs[i] == nil {
			result.Successful++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, SweepError{Scenario: sc.Name, Error: errs[i].Error()})
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	status := results.StatusSucceeded
	switch {
	case result.Successful == 0:
		status = results.StatusFailed
	case result.Failed > 0:
		status = results.StatusPartial
	}
	result.ResultID = uuid.NewString()
	stored, err := results.New(results.KindScenarioSweep, status, result)
	if err != nil {
		return nil, err
	}
	stored.ID = result.ResultID
	if err := j.planner.Results().Save(ctx, stored); err != nil {
		return nil, fmt.Errorf("storing sweep result: %w", err)
	}

	j.updateMetrics(result)
	j.runs.RecordRun(ctx, string(results.KindScenarioSweep), string(status), result.Duration)
	j.runs.RecordUnits(ctx, string(results.KindScenarioSweep), result.Successful, result.Failed)

	j.logger.Info().
		Str("result_id", result.ResultID).
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("scenario sweep completed")

	return result, nil
}

func (j *SweepJob) runScenario(ctx context.Context, base scheduleopt.Request, sc Scenario) (ScenarioOutcome, error) {
	out := ScenarioOutcome{Scenario: sc}
	if err := ctx.Err(); err != nil {
		out.Status = scheduleopt.StatusTimeout
		return out, err
	}

	scenarioCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	req := base
	req.Constraints.MaxFleetSize = sc.FleetSize
	if req.Timeout <= 0 || req.Timeout > j.config.Timeout {
		req.Timeout = j.config.Timeout
	}

	outcome, err := j.planner.Schedules().Optimize(scenarioCtx, req)
	if err != nil {
		out.Status = scheduleopt.StatusInfeasible
		return out, err
	}
	out.Status = outcome.Status
	out.Reason = outcome.Reason
	if outcome.Schedule == nil {
		return out, outcome.Err()
	}
	out.TotalVehicles = outcome.Schedule.TotalVehicles
	out.FleetUtilization = outcome.Schedule.FleetUtilization
	out.CapacityUtilization = outcome.Schedule.CapacityUtilization
	out.Objective = outcome.Schedule.Objective
	return out, nil
}

func (j *SweepJob) updateMetrics(result *SweepResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalSweeps++
	j.metrics.SuccessfulScenarios += int64(result.Successful)
	j.metrics.FailedScenarios += int64(result.Failed)
	j.metrics.LastSweepAt = result.EndTime
	j.metrics.LastSweepDuration = result.Duration
	j.metrics.TotalDuration += result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *SweepJob) GetMetrics() SweepMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return SweepMetrics{
		TotalSweeps:         j.metrics.TotalSweeps,
		SuccessfulScenarios: j.metrics.SuccessfulScenarios,
		FailedScenarios:     j.metrics.FailedScenarios,
		LastSweepAt:         j.metrics.LastSweepAt,
		LastSweepDuration:   j.metrics.LastSweepDuration,
		TotalDuration:       j.metrics.TotalDuration,
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (j *SweepJob) MetricsSnapshot() map[string]any {
	m := j.GetMetrics()
	return map[string]any{
		"total_sweeps":         m.TotalSweeps,
		"successful_scenarios": m.SuccessfulScenarios,
		"failed_scenarios":     m.FailedScenarios,
		"last_sweep_at":        m.LastSweepAt,
		"last_sweep_duration":  m.LastSweepDuration.String(),
		"total_duration":       m.TotalDuration.String(),
	}
}
