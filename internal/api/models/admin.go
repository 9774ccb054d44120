package models

import (
	"github.com/transitopt/transitopt/internal/demand"
	"github.com/transitopt/transitopt/internal/modelstore"
	"github.com/transitopt/transitopt/internal/planner"
)

// ModelStatusResponse describes the serving demand model and its stored
// versions.
type ModelStatusResponse struct {
	State    string                   `json:"state"`
	Model    *demand.Info             `json:"model,omitempty"`
	Versions []modelstore.VersionInfo `json:"versions"`
}

// TrainingResponse is the outcome of a training run.
type TrainingResponse struct {
	ResultID string      `json:"result_id"`
	Source   string      `json:"source"`
	Stored   bool        `json:"stored"`
	Model    demand.Info `json:"model"`
}

// NewTrainingResponse renders a training report.
func NewTrainingResponse(r *planner.TrainingReport) TrainingResponse {
	return TrainingResponse{ResultID: r.ResultID, Source: r.Source, Stored: r.Stored, Model: r.Model}
}
