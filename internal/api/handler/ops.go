package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/api/response"
	"github.com/transitopt/transitopt/internal/planner"
)

// Check probes one dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

// OpsConfig holds configuration for the ops endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string
	Planner   *planner.Service

	// Checks run on readiness in addition to the planner's own.
	Checks []Check

	// CheckTimeout bounds each probe (default: 2 seconds).
	CheckTimeout time.Duration
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	planner   *planner.Service
	checks    []Check
	timeout   time.Duration
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		planner:   cfg.Planner,
		checks:    cfg.Checks,
		timeout:   timeout,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]any{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.OK(w, r, "", health)
}

// ReadinessCheck handles GET /v1/ops/ready. It answers 503 while any
// dependency fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	checks := append([]Check{{Name: "feed", Probe: func(context.Context) error { return h.planner.Ready() }}}, h.checks...)
	ready := models.Readiness{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Checks: make([]models.DependencyCheck, 0, len(checks)),
	}
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		err := c.Probe(ctx)
		cancel()

		dc := models.DependencyCheck{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			dc.Status = models.HealthStatusFail
			dc.Detail = err.Error()
			ready.Status = models.HealthStatusFail
		}
		ready.Checks = append(ready.Checks, dc)
	}

	status := http.StatusOK
	if ready.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, models.Envelope{Status: statusWord(status), Data: ready})
}

func statusWord(code int) string {
	if code == http.StatusOK {
		return models.EnvelopeSuccess
	}
	return "error"
}
