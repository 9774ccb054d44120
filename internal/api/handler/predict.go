package handler

import (
	"net/http"
	"time"

	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/api/response"
	"github.com/transitopt/transitopt/internal/planner"
)

// PredictHandler handles the demand prediction endpoints.
type PredictHandler struct {
	planner *planner.Service
	now     func() time.Time
}

// NewPredictHandler creates a new PredictHandler. Relative dates resolve
// against now; nil uses time.Now.
func NewPredictHandler(p *planner.Service, now func() time.Time) *PredictHandler {
	if now == nil {
		now = time.Now
	}
	return &PredictHandler{planner: p, now: now}
}

// PredictDemand handles POST /v1/predict/demand.
func (h *PredictHandler) PredictDemand(w http.ResponseWriter, r *http.Request) {
	var req models.DemandPredictionRequest
	if !decode(w, r, &req) {
		return
	}
	dr, errs := req.ToRequest(h.now())
	if len(errs) > 0 {
		response.BadRequest(w, r, "request validation failed", errs)
		return
	}
	est, err := h.planner.PredictDemand(r.Context(), dr)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.OK(w, r, "demand predicted", est)
}

// PredictNetworkDemand handles POST /v1/predict/network-demand.
func (h *PredictHandler) PredictNetworkDemand(w http.ResponseWriter, r *http.Request) {
	var req models.NetworkDemandRequest
	if !decode(w, r, &req) {
		return
	}
	q, errs := req.ToQuery(h.now())
	if len(errs) > 0 {
		response.BadRequest(w, r, "request validation failed", errs)
		return
	}
	pred, err := h.planner.PredictNetworkDemand(r.Context(), q)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.OK(w, r, "network demand predicted", models.NewNetworkDemandResponse(pred))
}
