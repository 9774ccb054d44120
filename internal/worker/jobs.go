package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/planner"
)

// Job types.
const (
	JobOptimizeRoutes    = "optimize_routes"
	JobOptimizeSchedules = "optimize_schedules"
	JobTrainModel        = "train_model"
	JobScenarioSweep     = "scenario_sweep"
	JobHealthCheck       = "health_check"
)

// ErrUnknownJob is returned for messages with an unsupported job type.
var ErrUnknownJob = errors.New("unknown job type")

// JobMessage is the envelope of every worker message.
type JobMessage struct {
	JobType string          `json:"job_type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoutesPayload parameterizes an optimize_routes job.
type RoutesPayload struct {
	VehicleCapacity         float64  `json:"vehicle_capacity,omitempty"`
	MaxRouteMinutes         int      `json:"max_route_time,omitempty"`
	MaxVehicles             int      `json:"max_vehicles,omitempty"`
	IncludeDemandEstimation *bool    `json:"include_demand_estimation,omitempty"`
	RouteIDs                []string `json:"route_ids,omitempty"`
}

// Params converts the payload.
func (p RoutesPayload) Params() planner.RouteParams {
	return planner.RouteParams{
		VehicleCapacity:         p.VehicleCapacity,
		MaxRouteTime:            time.Duration(p.MaxRouteMinutes) * time.Minute,
		MaxVehicles:             p.MaxVehicles,
		IncludeDemandEstimation: p.IncludeDemandEstimation,
		RouteIDs:                p.RouteIDs,
	}
}

// SchedulesPayload parameterizes an optimize_schedules job.
type SchedulesPayload struct {
	VehicleCapacity         float64  `json:"vehicle_capacity,omitempty"`
	MinHeadwayMinutes       float64  `json:"min_headway,omitempty"`
	MaxHeadwayMinutes       float64  `json:"max_headway,omitempty"`
	MaxFleetSize            int      `json:"max_fleet_size,omitempty"`
	IncludeDemandEstimation *bool    `json:"include_demand_estimation,omitempty"`
	RouteIDs                []string `json:"route_ids,omitempty"`
}

// Params converts the payload.
func (p SchedulesPayload) Params() planner.ScheduleParams {
	return planner.ScheduleParams{
		VehicleCapacity:         p.VehicleCapacity,
		MinHeadway:              minutes(p.MinHeadwayMinutes),
		MaxHeadway:              minutes(p.MaxHeadwayMinutes),
		MaxFleetSize:            p.MaxFleetSize,
		IncludeDemandEstimation: p.IncludeDemandEstimation,
		RouteIDs:                p.RouteIDs,
	}
}

// SweepPayload parameterizes a scenario_sweep job.
type SweepPayload struct {
	SchedulesPayload
	FleetSizes []int `json:"fleet_sizes"`
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}

// Jobs executes worker messages against the planner.
type Jobs struct {
	planner *planner.Service
	sweep   *SweepJob
	logger  zerolog.Logger
}

// JobsConfig holds the collaborators of Jobs.
type JobsConfig struct {
	Planner *planner.Service
	Sweep   *SweepJob
	Logger  zerolog.Logger
}

// NewJobs creates a job executor.
func NewJobs(cfg JobsConfig) *Jobs {
	return &Jobs{planner: cfg.Planner, sweep: cfg.Sweep, logger: cfg.Logger}
}

// Handle runs one message. Unsupported job types return ErrUnknownJob.
func (j *Jobs) Handle(ctx context.Context, msg JobMessage) error {
	switch msg.JobType {
	case JobOptimizeRoutes:
		var p RoutesPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		report, err := j.planner.OptimizeRoutes(ctx, p.Params())
		if err != nil {
			return err
		}
		j.logger.Info().
			Str("result_id", report.ResultID).
			Int("successes", report.Network.Successes).
			Int("failures", report.Network.Failures).
			Msg("route job finished")
		return nil

	case JobOptimizeSchedules:
		var p SchedulesPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		report, err := j.planner.OptimizeSchedules(ctx, p.Params())
		if err != nil {
			return err
		}
		j.logger.Info().
			Str("result_id", report.ResultID).
			Str("status", string(report.Outcome.Status)).
			Msg("schedule job finished")
		return nil

	case JobTrainModel:
		report, err := j.planner.TrainModel(ctx)
		if err != nil {
			return err
		}
		j.logger.Info().
			Str("result_id", report.ResultID).
			Str("version", report.Model.Version).
			Bool("stored", report.Stored).
			Msg("training job finished")
		return nil

	case JobScenarioSweep:
		if j.sweep == nil {
			return apperror.Configuration("scenario sweeps not configured", nil)
		}
		var p SweepPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return err
		}
		_, err := j.sweep.Run(ctx, SweepRequest{Params: p.Params(), FleetSizes: p.FleetSizes})
		return err

	case JobHealthCheck:
		if err := j.planner.Ready(); err != nil {
			return err
		}
		j.logger.Debug().
			Str("model_state", j.planner.ModelStatus().State).
			Msg("health check passed")
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperror.Data("malformed job payload", err)
	}
	return nil
}

// redeliver reports whether a failed message should be retried. Only timeouts
// and unclassified failures can succeed on redelivery.
func redeliver(err error) bool {
	if errors.Is(err, ErrUnknownJob) {
		return false
	}
	switch apperror.KindOf(err) {
	case apperror.KindTimeout, apperror.KindInternal:
		return true
	}
	return false
}
