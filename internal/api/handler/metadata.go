package handler

import (
	"net/http"

	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/api/response"
	"github.com/transitopt/transitopt/internal/planner"
)

// MetadataHandler handles metadata endpoints.
type MetadataHandler struct {
	planner *planner.Service
}

// NewMetadataHandler creates a new MetadataHandler.
func NewMetadataHandler(p *planner.Service) *MetadataHandler {
	return &MetadataHandler{planner: p}
}

// GetMetadata handles GET /v1/metadata - feed summary, periods and defaults.
func (h *MetadataHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "private, max-age=60")
	response.OK(w, r, "", models.NewMetadata(h.planner.Settings(), h.planner.Feed()))
}
