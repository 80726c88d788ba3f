// Package services – RequestService
//
// This file implements the RequestService, which owns request creation and
// the read paths used by dashboards. Creation validates line items against
// the document catalog, snapshots price and processing time (client-supplied
// amounts are ignored; totals are always recomputed server-side), assigns
// the queue number, and persists the request in its initial state. No
// notification fires on creation: there is no prior state for observers to
// reconcile against.
package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
)

// defaultEstimatedDays is used when a catalog entry carries no usable
// processing estimate. Policy: the request-level estimate is the max of its
// line-item estimates.
const defaultEstimatedDays = 7

// Catalog is the narrow catalog contract RequestService needs.
type Catalog interface {
	// Lookup resolves a document name to its catalog entry.
	Lookup(ctx context.Context, name string) (*domain.DocumentType, error)
}

// CreateLineItemInput is one requested document within a creation call.
// Price and processing time are intentionally absent: they are snapshotted
// from the catalog, never taken from the client.
type CreateLineItemInput struct {
	Name    string
	Details string
}

// CreateRequestInput is the payload for RequestService.Create.
type CreateRequestInput struct {
	Purpose string
	Contact string
	Items   []CreateLineItemInput
}

// RequestService provides request creation and read projections.
type RequestService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Catalog resolves document names at creation time.
	Catalog Catalog
}

// NewRequestService constructs a RequestService.
func NewRequestService(db *gorm.DB, catalog Catalog) *RequestService {
	return &RequestService{DB: db, Catalog: catalog}
}

// Create validates the input, snapshots pricing from the catalog, assigns a
// queue number, and persists the request.
//
// Semantics and validation:
//   - at least one line item is required (ErrEmptyLineItems);
//   - each item must name a catalog entry (ErrUnknownDocument) and carry
//     details when the entry demands them (ErrDetailsRequired);
//   - snapshots with a negative price or an estimate below one day are
//     rejected (ErrInvalidLineItem); the catalog row is considered corrupt;
//   - the total amount is the sum of snapshot prices; the request estimate is
//     the max of item estimates;
//   - zero-total requests skip payment entirely: they are created with
//     payment status paid so the lifecycle can move them straight toward
//     processing on approval.
func (s *RequestService) Create(ctx context.Context, ownerID string, in CreateRequestInput) (*domain.Request, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Create",
		trace.WithAttributes(
			attribute.String("user.id", ownerID),
			attribute.Int("items", len(in.Items)),
		),
	)
	defer span.End()

	if len(in.Items) == 0 {
		return nil, ErrEmptyLineItems
	}

	id := uuid.NewString()
	items := make([]domain.LineItem, 0, len(in.Items))
	var total int64
	estimated := 0

	for i, it := range in.Items {
		doc, err := s.Catalog.Lookup(ctx, it.Name)
		if err != nil {
			return nil, err
		}
		details := strings.TrimSpace(it.Details)
		if doc.RequiresDetails && details == "" {
			return nil, ErrDetailsRequired
		}

		days := doc.ProcessingDays
		if days == 0 {
			days = defaultEstimatedDays
		}
		if doc.Price < 0 || days < 1 {
			return nil, ErrInvalidLineItem
		}

		items = append(items, domain.LineItem{
			ID:             uuid.NewString(),
			RequestID:      id,
			Position:       i,
			Name:           doc.Name,
			Details:        details,
			UnitPrice:      doc.Price,
			ProcessingDays: days,
		})
		total += doc.Price
		if days > estimated {
			estimated = days
		}
	}

	queue, err := repo.NextQueueNumber(ctx, s.DB)
	if err != nil {
		return nil, err
	}

	payment := domain.PaymentUnpaid
	if total == 0 {
		// Nothing to collect: the payment axis is settled from the start.
		payment = domain.PaymentPaid
	}

	req := &domain.Request{
		ID:            id,
		QueueNumber:   queue,
		UserID:        ownerID,
		Purpose:       strings.TrimSpace(in.Purpose),
		Contact:       strings.TrimSpace(in.Contact),
		Status:        domain.StatusPendingApproval,
		PaymentStatus: payment,
		TotalAmount:   total,
		EstimatedDays: estimated,
		RequestedAt:   time.Now().UTC(),
		Items:         items,
	}
	if err := repo.CreateRequest(ctx, s.DB, req); err != nil {
		return nil, err
	}
	return req, nil
}

// Get fetches a single request. Non-admin actors may only read their own
// requests; anything else surfaces as ErrRequestNotFound rather than leaking
// existence.
func (s *RequestService) Get(ctx context.Context, actor Actor, id string) (*domain.Request, error) {
	req, err := repo.GetRequest(ctx, s.DB, id)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	if !actor.Admin() && req.UserID != actor.ID {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

// List returns requests visible to the actor ordered by queue number
// descending. Admins see everything and may filter by status; other actors
// are always scoped to their own requests.
func (s *RequestService) List(ctx context.Context, actor Actor, status domain.Status) ([]domain.Request, error) {
	f := repo.RequestFilter{Status: status}
	if !actor.Admin() {
		f.OwnerID = actor.ID
	}
	return repo.ListRequests(ctx, s.DB, f)
}

// ListPage returns one page of requests visible to the actor plus the total
// match count, with the same scoping rules as List.
func (s *RequestService) ListPage(ctx context.Context, actor Actor, status domain.Status, page, pageSize int) ([]domain.Request, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	f := repo.RequestFilter{Status: status}
	if !actor.Admin() {
		f.OwnerID = actor.ID
	}
	total, err := repo.CountRequests(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	items, err := repo.ListRequestsPage(ctx, s.DB, f, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Summary returns per-status request counts for the staff dashboard.
func (s *RequestService) Summary(ctx context.Context, actor Actor) (map[domain.Status]int64, error) {
	if !actor.Admin() {
		return nil, ErrUnauthorized
	}
	return repo.CountByStatus(ctx, s.DB)
}
