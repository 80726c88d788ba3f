// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// This file centralizes symbolic error code constants that are mapped to HTTP
// responses (via the `fail()` helper in this package) and the translation from
// service-layer errors to HTTP status/code pairs. These codes provide clients
// with a stable, machine-readable error taxonomy that supplements
// human-readable messages.
//
// Conventions:
//   - Codes are lowercase, snake_case, and domain-agnostic unless explicitly noted.
//   - Generic codes (e.g., bad_request, unauthorized, conflict) mirror common HTTP
//     status semantics to aid interoperability.
//   - Domain-specific codes (e.g., invalid_transition, unknown_document) are
//     reserved for business logic errors that cannot be conveyed by status alone.
//   - All error responses must include both an HTTP status and one of these codes.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusdocs/go-registrar-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeUnknownDocument   = "unknown_document"
	ErrCodeDetailsRequired   = "details_required"
	ErrCodeReasonRequired    = "reason_required"
	ErrCodeInvalidTransition = "invalid_transition"
	ErrCodeBadSignature      = "bad_signature"
	ErrCodeUpstream          = "upstream_unavailable"
	ErrCodeCreateFailed      = "create_failed"
	ErrCodeListFailed        = "list_failed"
	ErrCodeMethodNotAllowed  = "method_not_allowed"
)

// failService translates a service-layer error into the matching HTTP
// status/code pair and writes the standard error envelope. Unknown errors
// surface as 500 internal_error.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrEmptyLineItems):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUnknownDocument):
		fail(c, http.StatusUnprocessableEntity, ErrCodeUnknownDocument, err.Error())
	case errors.Is(err, services.ErrDetailsRequired):
		fail(c, http.StatusUnprocessableEntity, ErrCodeDetailsRequired, err.Error())
	case errors.Is(err, services.ErrInvalidLineItem):
		fail(c, http.StatusUnprocessableEntity, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrReasonRequired):
		fail(c, http.StatusBadRequest, ErrCodeReasonRequired, err.Error())
	case errors.Is(err, services.ErrEmptyReceipt):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusBadRequest, ErrCodeInvalidTransition, err.Error())
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, services.ErrConcurrencyConflict):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrUnauthenticatedWebhook):
		fail(c, http.StatusUnauthorized, ErrCodeBadSignature, err.Error())
	case errors.Is(err, services.ErrMalformedWebhook):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrUpstreamUnavailable):
		fail(c, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
