// Package handlers defines HTTP-layer error codes used across all agent endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror HTTP status semantics;
// domain codes name the engine operation that failed so clients can branch
// on them without parsing messages.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "invalid_entry_action",
//	  "message": "entry_action must be one of APP_OPEN, APP_CLOSE, NOTIFICATION_CLICK, APP_OPEN_NORMAL"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-outcomes/internal/influence"
	"github.com/tbourn/go-outcomes/internal/outcomes"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeInvalidEntryAction = "invalid_entry_action"
	ErrCodeInvalidParams      = "invalid_params"
	ErrCodeSignalFailed       = "signal_failed"
	ErrCodeSessionFailed      = "session_failed"
	ErrCodeOutcomeFailed      = "outcome_failed"
	ErrCodeFlushFailed        = "flush_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeParamsFailed       = "params_failed"
)

// failFor maps an engine error to a response. Validation sentinels become
// 400s; anything else is a 500 carrying fallback as its code.
func failFor(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, influence.ErrEmptyID),
		errors.Is(err, outcomes.ErrEmptyOutcomeName),
		errors.Is(err, outcomes.ErrInvalidWeight):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, influence.ErrNotDirectOpen):
		fail(c, http.StatusBadRequest, ErrCodeInvalidEntryAction, err.Error())
	case errors.Is(err, influence.ErrInvalidParams):
		fail(c, http.StatusBadRequest, ErrCodeInvalidParams, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}
