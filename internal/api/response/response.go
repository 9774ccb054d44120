// Package response provides utilities for HTTP response handling.
package response

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/transitopt/transitopt/internal/api/middleware"
	"github.com/transitopt/transitopt/internal/api/models"
	"github.com/transitopt/transitopt/internal/apperror"
	"github.com/transitopt/transitopt/internal/planner"
	"github.com/transitopt/transitopt/internal/results"
)

// JSON writes a JSON response with the given status code.
// Includes X-Request-Id header for correlation.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	setRequestID(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// OK writes a 200 response wrapped in the success envelope.
func OK(w http.ResponseWriter, r *http.Request, message string, data any) {
	JSON(w, r, http.StatusOK, models.Envelope{Status: models.EnvelopeSuccess, Message: message, Data: data})
}

// Created writes a 201 enveloped response with a Location header.
func Created(w http.ResponseWriter, r *http.Request, location, message string, data any) {
	if location != "" {
		w.Header().Set("Location", location)
	}
	JSON(w, r, http.StatusCreated, models.Envelope{Status: models.EnvelopeSuccess, Message: message, Data: data})
}

// Attachment renders a file with write and sends it as a download. The body
// is buffered so a failure still produces a problem response.
func Attachment(w http.ResponseWriter, r *http.Request, contentType, filename string, write func(io.Writer) error) {
	var buf bytes.Buffer
	if err := write(&buf); err != nil {
		AppError(w, r, err)
		return
	}
	setRequestID(w, r)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func setRequestID(w http.ResponseWriter, r *http.Request) {
	if id := middleware.GetRequestID(r.Context()); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
}

// Error writes a Problem+JSON error response.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

func traceID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}

// BadRequest writes a 400 Bad Request error response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(traceID(r), detail, errors))
}

// NotFound writes a 404 Not Found error response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewNotFound(traceID(r), detail))
}

// InternalError writes a 500 Internal Server Error response.
func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewInternalError(traceID(r), detail))
}

// ServiceUnavailable writes a 503 Service Unavailable error response.
func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, models.NewServiceUnavailable(traceID(r), detail))
}

// Problem maps err to the problem it is reported as.
func Problem(r *http.Request, err error) *models.Problem {
	id := traceID(r)
	switch {
	case errors.Is(err, results.ErrNotFound):
		return models.NewNotFound(id, err.Error())
	case errors.Is(err, planner.ErrNoFeed):
		return models.NewServiceUnavailable(id, "transit feed not loaded")
	}

	kind := apperror.KindOf(err)
	var p *models.Problem
	switch kind {
	case apperror.KindData:
		p = models.NewDataError(id, err.Error())
	case apperror.KindModel:
		p = models.NewModelError(id, err.Error())
	case apperror.KindInfeasible:
		p = models.NewInfeasible(id, apperror.ReasonOf(err), err.Error())
	case apperror.KindTimeout:
		p = models.NewTimeout(id, err.Error())
	case apperror.KindConfiguration:
		p = models.NewConfigurationError(id, err.Error())
	default:
		// Unclassified errors do not leak their text.
		return models.NewInternalError(id, "an unexpected error occurred")
	}
	p.Kind = string(kind)
	if reason := apperror.ReasonOf(err); reason != "" {
		p.Reason = reason
	}
	return p
}

// AppError writes err as a problem response.
func AppError(w http.ResponseWriter, r *http.Request, err error) {
	Error(w, r, Problem(r, err))
}
