package models

import (
	"errors"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrInvalidGraph        = errors.New("invalid pipeline graph")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrAlreadyDecided      = errors.New("approval already decided")
	ErrApprovalExpired     = errors.New("approval window expired")
	ErrNotAwaitingApproval = errors.New("execution is not awaiting approval")
	ErrNotCancellable      = errors.New("execution cannot be cancelled in its current status")
	ErrBudgetExceeded      = errors.New("budget exceeded")
	ErrQueueFull           = errors.New("execution queue full")
	ErrSnapshotUnavailable = errors.New("registry snapshot unavailable")
	ErrUnknownAgent        = errors.New("unknown agent type")
	ErrExecutionBusy       = errors.New("execution owned by another worker")
	ErrLeaseLost           = errors.New("execution lease lost")
	ErrVersionConflict     = errors.New("execution version conflict")
)

// FieldError describes one validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationErrors collects creation-time validation failures.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

func (v *ValidationErrors) Add(field, code, message string) {
	v.Errors = append(v.Errors, FieldError{Field: field, Code: code, Message: message})
}

func (v *ValidationErrors) Len() int { return len(v.Errors) }

func (v *ValidationErrors) Error() string {
	msgs := make([]string, 0, len(v.Errors))
	for _, e := range v.Errors {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (v *ValidationErrors) Unwrap() error { return ErrValidation }

// OrNil returns v as an error only when it holds failures.
func (v *ValidationErrors) OrNil() error {
	if v == nil || len(v.Errors) == 0 {
		return nil
	}
	return v
}
