// Package apperror defines the error taxonomy shared by the optimization
// pipeline. Every failure that crosses a package boundary carries a Kind so the
// transport layers (HTTP, Pub/Sub) can decide how to report and whether to retry.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	// KindData covers missing or invalid feed data, insufficient training
	// samples and out-of-range coordinates.
	KindData Kind = "data"

	// KindModel covers a missing trained artifact or a feature mismatch
	// between training and prediction.
	KindModel Kind = "model"

	// KindInfeasible means no solution satisfies the hard constraints.
	KindInfeasible Kind = "infeasible"

	// KindTimeout means a solver exhausted its budget without a feasible solution.
	KindTimeout Kind = "timeout"

	// KindConfiguration covers contradictory or out-of-range settings.
	KindConfiguration Kind = "configuration"

	// KindInternal is anything unclassified.
	KindInternal Kind = "internal"
)

// Error is a classified error with an optional diagnostic reason.
type Error struct {
	Kind    Kind
	Reason  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the same call with a larger budget can
// succeed. Infeasible results need relaxed constraints instead.
func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout
}

// New creates a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Data wraps err as a data error.
func Data(message string, err error) *Error {
	return New(KindData, message, err)
}

// Model wraps err as a model error.
func Model(message string, err error) *Error {
	return New(KindModel, message, err)
}

// Configuration wraps err as a configuration error.
func Configuration(message string, err error) *Error {
	return New(KindConfiguration, message, err)
}

// Infeasible creates an infeasibility error with a diagnostic reason.
func Infeasible(reason, message string) *Error {
	return &Error{Kind: KindInfeasible, Reason: reason, Message: message}
}

// Timeout creates a timeout error.
func Timeout(message string, err error) *Error {
	return New(KindTimeout, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ReasonOf returns the diagnostic reason of the first *Error in err's chain.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsRetryable reports whether err is a retryable classified error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
