package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/api/response"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/results"
)

const (
	contentTypeZip  = "application/zip"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	maxListLimit = 100
)

// ResultsHandler serves stored runs and their downloads.
type ResultsHandler struct {
	planner *planner.Service
}

// NewResultsHandler creates a new ResultsHandler.
func NewResultsHandler(p *planner.Service) *ResultsHandler {
	return &ResultsHandler{planner: p}
}

func kindParam(w http.ResponseWriter, r *http.Request) (results.Kind, bool) {
	kind := results.Kind(chi.URLParam(r, "kind"))
	if !kind.Valid() {
		response.NotFound(w, r, "unknown result kind "+strconv.Quote(string(kind)))
		return "", false
	}
	return kind, true
}

// Latest handles GET /v1/results/{kind}. With ?limit=N it lists the N most
// recent runs instead.
func (h *ResultsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > maxListLimit {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{
				{Field: "limit", Message: "must be between 1 and " + strconv.Itoa(maxListLimit), Code: "range"},
			})
			return
		}
		list, err := h.planner.Results().List(r.Context(), kind, limit)
		if err != nil {
			response.AppError(w, r, err)
			return
		}
		views := make([]models.ResultView, len(list))
		for i := range list {
			views[i] = models.NewResultView(&list[i])
		}
		response.OK(w, r, "", views)
		return
	}

	res, err := h.planner.Results().Latest(r.Context(), kind)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.OK(w, r, "", models.NewResultView(res))
}

// Get handles GET /v1/results/{kind}/{id}.
func (h *ResultsHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	res, err := h.planner.Results().Get(r.Context(), id)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	if res.Kind != kind {
		response.NotFound(w, r, "no "+string(kind)+" result "+id)
		return
	}
	response.OK(w, r, "", models.NewResultView(res))
}

// ExportGTFS handles GET /v1/schedules/{id}/gtfs.
func (h *ResultsHandler) ExportGTFS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	response.Attachment(w, r, contentTypeZip, "schedule-"+id+".zip", func(out io.Writer) error {
		return h.planner.ExportGTFS(r.Context(), id, out)
	})
}

// Report handles GET /v1/schedules/{id}/report.
func (h *ResultsHandler) Report(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	response.Attachment(w, r, contentTypeXLSX, "schedule-"+id+".xlsx", func(out io.Writer) error {
		return h.planner.WriteScheduleReport(r.Context(), id, out)
	})
}
