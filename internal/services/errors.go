// Package services defines the business logic for document requests: creation
// with catalog snapshotting, the lifecycle state machine, and payment
// reconciliation. This file centralizes common service-level error values so
// that they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the handler
// layer.
package services

import "errors"

// Validation errors: recoverable by the caller correcting input; never
// retried automatically.
var (
	// ErrEmptyLineItems is returned when a creation request carries no line items.
	ErrEmptyLineItems = errors.New("at least one line item is required")

	// ErrUnknownDocument is returned when a line item names a document type
	// that is not in the catalog.
	ErrUnknownDocument = errors.New("document type not in catalog")

	// ErrDetailsRequired is returned when a catalog entry demands free-form
	// details and the line item omits them.
	ErrDetailsRequired = errors.New("document type requires details")

	// ErrInvalidLineItem is returned when a line-item snapshot would carry a
	// negative price or a processing estimate below one day.
	ErrInvalidLineItem = errors.New("line item has invalid price or processing time")

	// ErrReasonRequired is returned when a denial transition is attempted
	// without a non-empty rejection reason.
	ErrReasonRequired = errors.New("rejection reason is required for denial")

	// ErrEmptyReceipt is returned when a receipt upload carries no bytes.
	ErrEmptyReceipt = errors.New("receipt file is empty")
)

// Lifecycle errors.
var (
	// ErrRequestNotFound indicates that the request does not exist or is not
	// visible to the current actor.
	ErrRequestNotFound = errors.New("request not found")

	// ErrInvalidTransition is returned when the requested status change is
	// not an edge of the lifecycle graph from the request's current status.
	ErrInvalidTransition = errors.New("status transition not allowed")

	// ErrUnauthorized is returned when the actor lacks the role or ownership
	// required for a transition.
	ErrUnauthorized = errors.New("actor may not perform this transition")

	// ErrConcurrencyConflict is returned when optimistic retries on a racing
	// transition are exhausted. Callers may retry the whole operation.
	ErrConcurrencyConflict = errors.New("conflicting concurrent update")
)

// External-provider errors.
var (
	// ErrUnauthenticatedWebhook indicates a webhook payload that failed
	// signature verification. No state is mutated; treated as a potential
	// security event.
	ErrUnauthenticatedWebhook = errors.New("webhook failed signature verification")

	// ErrMalformedWebhook indicates a webhook payload that authenticated but
	// could not be parsed into a known event shape.
	ErrMalformedWebhook = errors.New("webhook payload malformed")

	// ErrUpstreamUnavailable indicates persistence or provider I/O failure
	// that persisted through the local retry budget.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
)
