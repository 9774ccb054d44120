// Package results stores the outcomes of optimization runs so that callers
// can poll for them after a background job completes.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository errors.
var (
	ErrNotFound      = errors.New("result not found")
	ErrInvalidResult = errors.New("result requires id and kind")
)

// Kind names the operation that produced a result.
type Kind string

// Result kinds.
const (
	KindRoutes        Kind = "routes"
	KindSchedules     Kind = "schedules"
	KindNetworkDemand Kind = "network_demand"
	KindScenarioSweep Kind = "scenario_sweep"
	KindTraining      Kind = "training"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRoutes, KindSchedules, KindNetworkDemand, KindScenarioSweep, KindTraining:
		return true
	}
	return false
}

// Status of a stored run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Result is one stored run. Payload is the JSON encoding of the run's
// output type.
type Result struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Status    Status          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (r Result) validate() error {
	if r.ID == "" || !r.Kind.Valid() {
		return ErrInvalidResult
	}
	return nil
}

// Decode unmarshals the payload into v.
func (r *Result) Decode(v any) error {
	return json.Unmarshal(r.Payload, v)
}

// New builds a result with a fresh id, encoding v as the payload.
func New(kind Kind, status Status, v any) (Result, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Result{}, fmt.Errorf("encoding %s result: %w", kind, err)
	}
	return Result{
		ID:        uuid.New().String(),
		Kind:      kind,
		Status:    status,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}, nil
}
