package handler

import (
	"net/http"

	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/api/response"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/scheduleopt"
)

// OptimizeHandler handles the optimization endpoints.
type OptimizeHandler struct {
	planner *planner.Service
}

// NewOptimizeHandler creates a new OptimizeHandler.
func NewOptimizeHandler(p *planner.Service) *OptimizeHandler {
	return &OptimizeHandler{planner: p}
}

// OptimizeRoutes handles POST /v1/optimize/routes.
func (h *OptimizeHandler) OptimizeRoutes(w http.ResponseWriter, r *http.Request) {
	var req models.RouteOptimizationRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := h.planner.OptimizeRoutes(r.Context(), req.ToParams())
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	w.Header().Set("Location", resultLocation("routes", report.ResultID))
	response.OK(w, r, "routes optimized", models.NewRouteOptimizationResponse(report, h.planner.Feed()))
}

// OptimizeSchedules handles POST /v1/optimize/schedules. An infeasible
// outcome is still stored; the problem response points at it.
func (h *OptimizeHandler) OptimizeSchedules(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleOptimizationRequest
	if !decode(w, r, &req) {
		return
	}
	report, err := h.planner.OptimizeSchedules(r.Context(), req.ToParams())
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	location := resultLocation("schedules", report.ResultID)
	w.Header().Set("Location", location)

	if report.Outcome.Status != scheduleopt.StatusFeasible {
		p := response.Problem(r, report.Outcome.Err())
		p.ResultID = report.ResultID
		response.Error(w, r, p)
		return
	}
	response.OK(w, r, "schedules optimized",
		models.NewScheduleResponse(report.ResultID, report.DemandSource, report.Outcome.Schedule))
}

func resultLocation(kind, id string) string {
	return "/v1/results/" + kind + "/" + id
}
