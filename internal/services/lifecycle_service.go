// Package services – LifecycleService
//
// This file implements the lifecycle state machine: the single entry point
// through which every status change flows, whether triggered by staff, by the
// requester uploading a receipt, or by payment reconciliation. Keeping one
// entry point means one set of business rules: graph validation, actor
// authorization, denial reasons, write-once timestamps, and the
// persist-then-notify ordering.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
)

// transitionsTotal counts accepted transitions by edge. No-op replays are not
// counted, mirroring the notification contract.
var transitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "request_transitions_total",
		Help: "Total accepted request status transitions.",
	},
	[]string{"from", "to"},
)

func init() {
	prometheus.MustRegister(transitionsTotal)
}

// Actor is whoever invokes a transition: a requester, a staff member, or the
// payment-reconciliation system principal. Identity comes from the external
// auth provider; only ID and role matter here.
type Actor struct {
	ID   string
	Role domain.Role
}

// Admin reports whether the actor may invoke staff-side transitions.
func (a Actor) Admin() bool { return a.Role == domain.RoleAdmin }

// Notifier receives the full updated entity after every accepted transition.
type Notifier interface {
	Broadcast(req *domain.Request)
}

// LifecycleService drives requests through the status graph.
type LifecycleService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Notifier is invoked after (and only after) successful persistence.
	// May be nil in contexts with no observers (tests, batch tools).
	Notifier Notifier

	// MaxAttempts bounds optimistic-concurrency retries. Defaults to 3.
	MaxAttempts int
	// RetryBackoff is the base backoff between attempts. Defaults to 25ms.
	RetryBackoff time.Duration
}

// NewLifecycleService constructs a LifecycleService with default retry policy.
func NewLifecycleService(db *gorm.DB, n Notifier) *LifecycleService {
	return &LifecycleService{
		DB:           db,
		Notifier:     n,
		MaxAttempts:  3,
		RetryBackoff: 25 * time.Millisecond,
	}
}

// Transition moves the request to target on behalf of actor.
//
// Semantics:
//   - the edge (current → target) must exist in the lifecycle graph;
//     anything else is ErrInvalidTransition, with no silent coercion;
//   - staff-side edges require the admin role; the owning requester may only
//     invoke the receipt-upload edge (ErrUnauthorized otherwise);
//   - denial requires a non-empty reason (ErrReasonRequired);
//   - entering processing stamps ProcessingStartedAt once; entering completed
//     stamps CompletedAt once; replays never overwrite either;
//   - a request already in target is a no-op success for staff and for the
//     owning requester: current state is returned unchanged, nothing is
//     re-stamped, nothing is re-notified (this is what makes webhook retries
//     safe); any other actor still gets ErrUnauthorized;
//   - persistence and notification are sequenced, so observers never see a
//     transition that did not commit.
//
// Concurrency: racing transitions on one request serialize through the
// version guard; the loser re-reads and re-validates against the winner's
// state, up to MaxAttempts, then surfaces ErrConcurrencyConflict.
func (s *LifecycleService) Transition(ctx context.Context, actor Actor, requestID string, target domain.Status, reason string) (*domain.Request, error) {
	return s.transition(ctx, actor, requestID, target, reason, "")
}

// AttachReceipt records the proof-of-payment reference and drives the
// receipt-upload edge (pending_payment → pending_verification) atomically
// with it, on behalf of the owning requester or staff.
func (s *LifecycleService) AttachReceipt(ctx context.Context, actor Actor, requestID, receiptRef string) (*domain.Request, error) {
	return s.transition(ctx, actor, requestID, domain.StatusPendingVerification, "", receiptRef)
}

func (s *LifecycleService) transition(ctx context.Context, actor Actor, requestID string, target domain.Status, reason, receiptRef string) (*domain.Request, error) {
	tr := otel.Tracer("services/LifecycleService")
	ctx, span := tr.Start(ctx, "Transition",
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("target", string(target)),
			attribute.String("actor.role", string(actor.Role)),
		),
	)
	defer span.End()

	attempts := s.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	backoff := s.RetryBackoff
	if backoff <= 0 {
		backoff = 25 * time.Millisecond
	}

	for attempt := 0; attempt < attempts; attempt++ {
		req, err := repo.GetRequest(ctx, s.DB, requestID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrRequestNotFound
			}
			return nil, err
		}

		// Idempotent replay: already there, leave everything untouched.
		// Visibility-gated: only staff or the owning requester may take this
		// shortcut. Without the gate, a stranger guessing the current status
		// as the target would be handed the full entity.
		if req.Status == target {
			if !actor.Admin() && actor.ID != req.UserID {
				return nil, ErrUnauthorized
			}
			return req, nil
		}

		if err := s.validate(actor, req, target, reason); err != nil {
			return nil, err
		}

		observed := req.Version
		from := req.Status
		s.apply(req, target, reason, receiptRef)

		err = repo.UpdateRequestState(ctx, s.DB, req, observed)
		if err == nil {
			transitionsTotal.WithLabelValues(string(from), string(target)).Inc()
			if s.Notifier != nil {
				s.Notifier.Broadcast(req)
			}
			return req, nil
		}
		if !errors.Is(err, repo.ErrStaleVersion) {
			return nil, err
		}

		// Lost the race: back off and re-validate against the winner's state.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * backoff):
		}
	}
	return nil, ErrConcurrencyConflict
}

// validate enforces graph membership, actor authorization, denial reasons,
// and the payment invariant for the processing edge.
func (s *LifecycleService) validate(actor Actor, req *domain.Request, target domain.Status, reason string) error {
	if !req.Status.CanTransition(target) {
		return ErrInvalidTransition
	}

	if !actor.Admin() {
		if !(domain.RequesterEdge(req.Status, target) && actor.ID == req.UserID) {
			return ErrUnauthorized
		}
	}

	if target == domain.StatusDenied && strings.TrimSpace(reason) == "" {
		return ErrReasonRequired
	}

	if target == domain.StatusProcessing && req.TotalAmount > 0 {
		// Priced requests must clear payment first: the only processing edge
		// open to them starts at pending_verification.
		if req.Status != domain.StatusPendingVerification {
			return ErrInvalidTransition
		}
	}
	return nil
}

// apply mutates req in memory for the accepted edge. Timestamps are
// write-once: a stamp already present is never overwritten.
func (s *LifecycleService) apply(req *domain.Request, target domain.Status, reason, receiptRef string) {
	req.Status = target
	switch target {
	case domain.StatusPendingVerification:
		req.PaymentStatus = domain.PaymentPendingVerification
		if receiptRef != "" {
			req.ReceiptRef = receiptRef
		}
	case domain.StatusProcessing:
		if req.TotalAmount > 0 {
			req.PaymentStatus = domain.PaymentPaid
		}
		if req.ProcessingStartedAt == nil {
			now := time.Now().UTC()
			req.ProcessingStartedAt = &now
		}
	case domain.StatusCompleted:
		if req.CompletedAt == nil {
			now := time.Now().UTC()
			req.CompletedAt = &now
		}
	case domain.StatusDenied:
		req.RejectionReason = strings.TrimSpace(reason)
	}
}
