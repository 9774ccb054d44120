package models

import (
	"encoding/json"
	"net/http"
)

// Problem represents an RFC7807 error response.
// This is used for all API error responses with Content-Type: application/problem+json.
type Problem struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`

	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`

	// Status is the HTTP status code for this occurrence of the problem.
	Status int `json:"status"`

	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`

	// Instance is a URI reference that identifies the specific occurrence.
	Instance string `json:"instance,omitempty"`

	// TraceID is the request trace identifier for debugging.
	TraceID string `json:"trace_id"`

	// Kind is the error classification of pipeline failures.
	Kind string `json:"kind,omitempty"`

	// Reason is the machine-readable diagnostic of infeasible and timed out
	// optimizations, e.g. "fleet-too-small".
	Reason string `json:"reason,omitempty"`

	// ResultID references the stored run that produced the problem.
	ResultID string `json:"result_id,omitempty"`

	// Errors contains structured field validation errors.
	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError represents a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Problem types. Relative references resolve against the API host.
const (
	ProblemTypeValidation       = "/problems/validation-error"
	ProblemTypeUnauthorized     = "/problems/unauthorized"
	ProblemTypeForbidden        = "/problems/forbidden"
	ProblemTypeNotFound         = "/problems/not-found"
	ProblemTypeConflict         = "/problems/conflict"
	ProblemTypeUnsupportedMedia = "/problems/unsupported-media-type"
	ProblemTypeTooManyRequests  = "/problems/too-many-requests"
	ProblemTypeInternal         = "/problems/internal-error"
	ProblemTypeUnavailable      = "/problems/service-unavailable"
	ProblemTypeTLSRequired      = "/problems/tls-required"

	ProblemTypeDataError     = "/problems/data-error"
	ProblemTypeModelError    = "/problems/model-unavailable"
	ProblemTypeInfeasible    = "/problems/infeasible"
	ProblemTypeTimeout       = "/problems/timeout"
	ProblemTypeConfiguration = "/problems/configuration-error"
)

// NewProblem creates a new Problem with the given parameters.
func NewProblem(problemType, title string, status int, traceID string) *Problem {
	return &Problem{
		Type:    problemType,
		Title:   title,
		Status:  status,
		TraceID: traceID,
	}
}

// WithDetail adds a detail message to the Problem.
func (p *Problem) WithDetail(detail string) *Problem {
	p.Detail = detail
	return p
}

// WithInstance adds the request instance URI to the Problem.
func (p *Problem) WithInstance(instance string) *Problem {
	p.Instance = instance
	return p
}

// WithErrors adds field errors to the Problem.
func (p *Problem) WithErrors(errors []FieldError) *Problem {
	p.Errors = errors
	return p
}

// Write writes the Problem as JSON to the ResponseWriter.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func newDetailed(problemType, title string, status int, traceID, detail string) *Problem {
	p := NewProblem(problemType, title, status, traceID)
	p.Detail = detail
	return p
}

// NewBadRequest creates a 400 Bad Request problem.
func NewBadRequest(traceID, detail string, errors []FieldError) *Problem {
	p := newDetailed(ProblemTypeValidation, "Validation error", http.StatusBadRequest, traceID, detail)
	p.Errors = errors
	return p
}

// NewUnauthorized creates a 401 Unauthorized problem.
func NewUnauthorized(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized, traceID, detail)
}

// NewForbidden creates a 403 Forbidden problem.
func NewForbidden(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeForbidden, "Forbidden", http.StatusForbidden, traceID, detail)
}

// NewNotFound creates a 404 Not Found problem.
func NewNotFound(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeNotFound, "Not found", http.StatusNotFound, traceID, detail)
}

// NewConflict creates a 409 Conflict problem.
func NewConflict(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeConflict, "Conflict", http.StatusConflict, traceID, detail)
}

// NewUnsupportedMediaType creates a 415 problem.
func NewUnsupportedMediaType(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeUnsupportedMedia, "Unsupported media type", http.StatusUnsupportedMediaType, traceID, detail)
}

// NewTooManyRequests creates a 429 Too Many Requests problem.
func NewTooManyRequests(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests, traceID, detail)
}

// NewInternalError creates a 500 Internal Server Error problem.
func NewInternalError(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeInternal, "Internal server error", http.StatusInternalServerError, traceID, detail)
}

// NewServiceUnavailable creates a 503 Service Unavailable problem.
func NewServiceUnavailable(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable, traceID, detail)
}

// NewDataError creates a 422 problem for unusable input data.
func NewDataError(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeDataError, "Unusable data", http.StatusUnprocessableEntity, traceID, detail)
}

// NewModelError creates a 409 problem for a missing or incompatible model.
func NewModelError(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeModelError, "Demand model unavailable", http.StatusConflict, traceID, detail)
}

// NewInfeasible creates a 422 problem for an optimization without solution.
func NewInfeasible(traceID, reason, detail string) *Problem {
	p := newDetailed(ProblemTypeInfeasible, "No feasible solution", http.StatusUnprocessableEntity, traceID, detail)
	p.Reason = reason
	return p
}

// NewTimeout creates a 504 problem for an exhausted solver budget.
func NewTimeout(traceID, detail string) *Problem {
	p := newDetailed(ProblemTypeTimeout, "Optimization timed out", http.StatusGatewayTimeout, traceID, detail)
	p.Reason = "timeout"
	return p
}

// NewConfigurationError creates a 400 problem for contradictory settings.
func NewConfigurationError(traceID, detail string) *Problem {
	return newDetailed(ProblemTypeConfiguration, "Invalid configuration", http.StatusBadRequest, traceID, detail)
}
