// Package xerrors holds the sentinel errors shared by every service and their
// mapping to API error codes and HTTP statuses.
package xerrors

import (
	"errors"
	"net/http"
)

// Generic
var (
	ErrInvalidInput = errors.New("invalid input provided")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrInternal     = errors.New("internal server error")
	ErrUnavailable  = errors.New("dependency is not configured or unreachable")
)

// Persistence
var (
	ErrConcurrentModification = errors.New("record was modified by another request")
	ErrDuplicateRequest       = errors.New("request with this idempotency key was already processed")
)

// CRM
var (
	ErrDealFrozen         = errors.New("deal is closed and can no longer be changed")
	ErrDealNotClosed      = errors.New("deal is not closed")
	ErrStageNotInPipeline = errors.New("stage does not belong to the deal's pipeline")
	ErrTerminalStage      = errors.New("target stage is terminal")
	ErrInvalidPipeline    = errors.New("invalid pipeline definition")
	ErrPipelineInUse      = errors.New("pipeline still has deals")
	ErrLostReasonRequired = errors.New("lost reason is required")
)

// Users
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrSessionNotFound    = errors.New("session not found")
)

type mapping struct {
	err    error
	code   string
	status int
}

var mappings = []mapping{
	{ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{ErrUnauthorized, "UNAUTHORIZED", http.StatusUnauthorized},
	{ErrForbidden, "FORBIDDEN", http.StatusForbidden},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrUnavailable, "UNAVAILABLE", http.StatusServiceUnavailable},
	{ErrConcurrentModification, "CONCURRENT_MODIFICATION", http.StatusConflict},
	{ErrDuplicateRequest, "DUPLICATE_REQUEST", http.StatusConflict},
	{ErrDealFrozen, "DEAL_FROZEN", http.StatusConflict},
	{ErrDealNotClosed, "DEAL_NOT_CLOSED", http.StatusConflict},
	{ErrStageNotInPipeline, "STAGE_NOT_IN_PIPELINE", http.StatusUnprocessableEntity},
	{ErrTerminalStage, "TERMINAL_STAGE", http.StatusUnprocessableEntity},
	{ErrInvalidPipeline, "INVALID_PIPELINE", http.StatusUnprocessableEntity},
	{ErrPipelineInUse, "PIPELINE_IN_USE", http.StatusConflict},
	{ErrLostReasonRequired, "LOST_REASON_REQUIRED", http.StatusUnprocessableEntity},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS", http.StatusUnauthorized},
	{ErrUserAlreadyExists, "USER_ALREADY_EXISTS", http.StatusConflict},
	{ErrSessionNotFound, "SESSION_NOT_FOUND", http.StatusUnauthorized},
}

// Coded is implemented by domain errors that carry their own code, such as
// calculation failures.
type Coded interface {
	error
	ErrCode() string
}

func lookup(err error) (mapping, bool) {
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	var coded Coded
	if errors.As(err, &coded) {
		status := http.StatusUnprocessableEntity
		if coded.ErrCode() == "INVALID_INPUT" {
			status = http.StatusBadRequest
		}
		return mapping{err: coded, code: coded.ErrCode(), status: status}, true
	}
	return mapping{}, false
}

// Code returns the API error code for err, INTERNAL for unknown errors.
func Code(err error) string {
	if m, ok := lookup(err); ok {
		return m.code
	}
	return "INTERNAL"
}

// Status returns the HTTP status for err, 500 for unknown errors.
func Status(err error) int {
	if m, ok := lookup(err); ok {
		return m.status
	}
	return http.StatusInternalServerError
}

// Known reports whether err wraps one of the sentinels above.
func Known(err error) bool {
	_, ok := lookup(err)
	return ok
}
