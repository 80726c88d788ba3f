// Package services – PaymentService
//
// This file implements payment reconciliation: aligning a request's payment
// state with the ground truth reported by the external provider. Both the
// asynchronous webhook path and the manual receipt path funnel into the
// lifecycle state machine; reconciliation never mutates a request directly,
// so the business rules cannot diverge between the two.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/payments"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
	"github.com/campusdocs/go-registrar-backend/internal/storage"
)

// reconcilerActor is the system principal that applies provider-confirmed
// outcomes. It carries the admin role because reconciliation drives
// staff-side edges.
var reconcilerActor = Actor{ID: "payment-provider", Role: domain.RoleAdmin}

// webhookEvent is the provider's event envelope.
type webhookEvent struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id"`
	Outcome   string `json:"outcome"` // "succeeded" | "failed"
}

// PaymentService reconciles external payment events and handles receipt
// uploads. All collaborators are injected, so tests can run against doubles.
type PaymentService struct {
	// DB is the GORM handle used for event bookkeeping.
	DB *gorm.DB
	// Lifecycle drives the actual status changes.
	Lifecycle *LifecycleService
	// Verifier authenticates provider-signed webhook payloads.
	Verifier payments.SignatureVerifier
	// Receipts stores uploaded proof-of-payment blobs.
	Receipts storage.BlobStore
	// Provider creates payment intents. Optional: when nil, approval into
	// pending_payment simply skips intent creation.
	Provider payments.Client
}

// HandleWebhook verifies, parses, and applies one provider event.
//
// Ordering and idempotence:
//  1. Signature verification happens before anything else; a failure is
//     ErrUnauthenticatedWebhook with no persistence or notification calls.
//  2. An event ID that was already applied is a safe no-op (at-least-once
//     delivery), backed by the processed-event table; and even if the event
//     record were lost, the lifecycle's own no-op replay behavior prevents a
//     double transition or a second broadcast.
//  3. The transition is applied first and the event recorded after, so a
//     crash between the two leaves a replayable (not a lost) event.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "HandleWebhook")
	defer span.End()

	if err := s.Verifier.Verify(payload, signature); err != nil {
		return ErrUnauthenticatedWebhook
	}

	var evt webhookEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if evt.ID == "" || evt.RequestID == "" || (evt.Outcome != "succeeded" && evt.Outcome != "failed") {
		return ErrMalformedWebhook
	}
	span.SetAttributes(
		attribute.String("event.id", evt.ID),
		attribute.String("request.id", evt.RequestID),
		attribute.String("outcome", evt.Outcome),
	)

	seen, err := repo.WebhookEventSeen(ctx, s.DB, evt.ID)
	if err != nil {
		return err
	}
	if seen {
		log.Debug().Str("event_id", evt.ID).Msg("webhook replay ignored")
		return nil
	}

	switch evt.Outcome {
	case "succeeded":
		_, err = s.Lifecycle.Transition(ctx, reconcilerActor, evt.RequestID, domain.StatusProcessing, "")
	case "failed":
		_, err = s.Lifecycle.Transition(ctx, reconcilerActor, evt.RequestID, domain.StatusDenied, "payment rejected by provider")
	}
	if err != nil {
		return err
	}

	if err := repo.RecordWebhookEvent(ctx, s.DB, evt.ID, evt.RequestID, evt.Outcome); err != nil && !errors.Is(err, repo.ErrDuplicate) {
		// The transition committed; a lost event record only means a replay
		// will rediscover the no-op path.
		log.Warn().Err(err).Str("event_id", evt.ID).Msg("record webhook event")
	}
	return nil
}

// UploadReceipt stores the proof-of-payment blob and drives the request from
// pending_payment to pending_verification. Authorization (owner or staff) is
// enforced by the lifecycle; if the transition is rejected, or replayed so
// the earlier receipt is kept, the stored blob is removed again.
func (s *PaymentService) UploadReceipt(ctx context.Context, actor Actor, requestID, filename string, r io.Reader) (*domain.Request, error) {
	tr := otel.Tracer("services/PaymentService")
	ctx, span := tr.Start(ctx, "UploadReceipt",
		trace.WithAttributes(attribute.String("request.id", requestID)),
	)
	defer span.End()

	if r == nil {
		return nil, ErrEmptyReceipt
	}

	ref, err := s.Receipts.Save(ctx, filename, r)
	if err != nil {
		return nil, err
	}

	req, err := s.Lifecycle.AttachReceipt(ctx, actor, requestID, ref)
	if err != nil {
		if rmErr := s.Receipts.Remove(ctx, ref); rmErr != nil {
			log.Warn().Err(rmErr).Str("ref", ref).Msg("orphaned receipt blob")
		}
		return nil, err
	}
	if req.ReceiptRef != ref {
		// Replayed upload: the request already held a receipt and the
		// no-op transition kept it, so the blob saved above is
		// unreferenced. Remove it rather than orphaning it in the store.
		if rmErr := s.Receipts.Remove(ctx, ref); rmErr != nil {
			log.Warn().Err(rmErr).Str("ref", ref).Msg("orphaned receipt blob")
		}
	}
	return req, nil
}

// CreateIntent registers the amount due for an approved priced request with
// the provider and returns the intent (checkout reference included). Safe to
// retry: the provider keys intents by request ID.
func (s *PaymentService) CreateIntent(ctx context.Context, req *domain.Request) (*payments.Intent, error) {
	if s.Provider == nil || req.TotalAmount == 0 {
		return nil, nil
	}
	intent, err := s.Provider.CreateIntent(ctx, req.ID, req.TotalAmount)
	if err != nil {
		if errors.Is(err, payments.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		return nil, err
	}
	return intent, nil
}
