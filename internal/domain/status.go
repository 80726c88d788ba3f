// Package domain – request lifecycle vocabulary.
//
// This file defines the closed status enumeration, the payment-status axis,
// actor roles, and the allowed-transition graph. The graph here is the single
// source of truth: services validate every requested edge against it and
// reject anything else, with no silent coercion.
package domain

// Status is the lifecycle state of a request. The set is closed; values
// outside the constants below are rejected at the boundary.
type Status string

const (
	StatusPendingApproval     Status = "pending_approval"
	StatusPendingPayment      Status = "pending_payment"
	StatusPendingVerification Status = "pending_verification"
	StatusProcessing          Status = "processing"
	StatusReadyForPickup      Status = "ready_for_pickup"
	StatusCompleted           Status = "completed"
	StatusDenied              Status = "denied"
	StatusCancelled           Status = "cancelled"
)

// PaymentStatus tracks payment independently of Status, constrained jointly:
// a priced request never reaches processing while unpaid.
type PaymentStatus string

const (
	PaymentUnpaid              PaymentStatus = "unpaid"
	PaymentPendingVerification PaymentStatus = "pending_verification"
	PaymentPaid                PaymentStatus = "paid"
)

// Role gates which transitions an actor may invoke. Identity itself comes
// from the external auth provider; only the role matters here.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// transitions is the allowed-edge set of the lifecycle graph. Cancellation is
// handled separately: any non-terminal state may be administratively moved to
// cancelled.
var transitions = map[Status][]Status{
	StatusPendingApproval:     {StatusDenied, StatusPendingPayment, StatusProcessing},
	StatusPendingPayment:      {StatusPendingVerification},
	StatusPendingVerification: {StatusProcessing, StatusDenied},
	StatusProcessing:          {StatusReadyForPickup},
	StatusReadyForPickup:      {StatusCompleted},
}

// AllStatuses lists every valid status value, for input validation and
// aggregate projections.
var AllStatuses = []Status{
	StatusPendingApproval,
	StatusPendingPayment,
	StatusPendingVerification,
	StatusProcessing,
	StatusReadyForPickup,
	StatusCompleted,
	StatusDenied,
	StatusCancelled,
}

// Valid reports whether s is a member of the closed status enumeration.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusDenied || s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the edge s → to exists in the lifecycle
// graph. Any non-terminal state may move to cancelled.
func (s Status) CanTransition(to Status) bool {
	if !to.Valid() {
		return false
	}
	if to == StatusCancelled {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// RequesterEdge reports whether the edge s → to may be invoked by the owning
// requester rather than staff. The only requester-side edge is the receipt
// upload (pending_payment → pending_verification).
func RequesterEdge(from, to Status) bool {
	return from == StatusPendingPayment && to == StatusPendingVerification
}
