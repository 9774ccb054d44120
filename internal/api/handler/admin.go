package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/transitopt/transitopt/internal/api/middleware"
	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/api/response"
	"github.com/transitopt/transitopt/internal/modelstore"
	"github.com/transitopt/transitopt/internal/planner"
)

// AdminHandler manages the demand model.
type AdminHandler struct {
	planner *planner.Service
	logger  zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(p *planner.Service, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{planner: p, logger: logger}
}

// ModelStatus handles GET /v1/admin/model.
func (h *AdminHandler) ModelStatus(w http.ResponseWriter, r *http.Request) {
	st := h.planner.ModelStatus()
	versions, err := h.planner.Predictor().Manager().Versions(r.Context())
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	if versions == nil {
		versions = []modelstore.VersionInfo{}
	}
	response.OK(w, r, "", models.ModelStatusResponse{State: st.State, Model: st.Model, Versions: versions})
}

// Train handles POST /v1/admin/model/train.
func (h *AdminHandler) Train(w http.ResponseWriter, r *http.Request) {
	report, err := h.planner.TrainModel(r.Context())
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	h.logger.Info().
		Str("operator_id", middleware.GetOperatorID(r.Context())).
		Str("version", report.Model.Version).
		Msg("model trained on request")
	response.Created(w, r, resultLocation("training", report.ResultID), "model trained", models.NewTrainingResponse(report))
}

// Rollback handles POST /v1/admin/model/rollback.
func (h *AdminHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	info, err := h.planner.RollbackModel()
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	h.logger.Warn().
		Str("operator_id", middleware.GetOperatorID(r.Context())).
		Str("version", info.Version).
		Msg("model rolled back")
	response.OK(w, r, "model rolled back", info)
}
