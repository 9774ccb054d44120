package models

import (
	"encoding/json"

	"github.com/transitopt/transitopt/internal/results"
)

// ResultView is a stored run.
type ResultView struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	CreatedAt Timestamp       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewResultView renders a stored result.
func NewResultView(r *results.Result) ResultView {
	return ResultView{
		ID:        r.ID,
		Kind:      string(r.Kind),
		Status:    string(r.Status),
		Error:     r.Error,
		CreatedAt: Timestamp(r.CreatedAt),
		Payload:   r.Payload,
	}
}
