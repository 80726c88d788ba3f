// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Request
// aggregate.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a request is not found, functions return ErrNotFound.
//   - UpdateRequestState returns ErrStaleVersion when the optimistic version
//     guard matches no rows (a concurrent transition won the race).
//   - On other DB errors the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
)

// RequestFilter narrows list queries. Zero values mean "no filter".
type RequestFilter struct {
	// OwnerID scopes the listing to one requester.
	OwnerID string
	// Status filters by lifecycle state.
	Status domain.Status
}

// CreateRequest inserts a request together with its line items in one insert.
// IDs, queue number and timestamps are expected to be populated by the
// service layer before the call.
func CreateRequest(ctx context.Context, db *gorm.DB, r *domain.Request) error {
	return db.WithContext(ctx).Create(r).Error
}

// GetRequest fetches a single request by ID with its line items preloaded,
// or ErrNotFound if missing.
func GetRequest(ctx context.Context, db *gorm.DB, id string) (*domain.Request, error) {
	var r domain.Request
	err := db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ListRequests returns requests matching the filter, ordered by queue number
// descending (most recent submission first), with line items preloaded.
func ListRequests(ctx context.Context, db *gorm.DB, f RequestFilter) ([]domain.Request, error) {
	q := db.WithContext(ctx).Preload("Items").Order("queue_number desc")
	if f.OwnerID != "" {
		q = q.Where("user_id = ?", f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.Request
	err := q.Find(&out).Error
	return out, err
}

// CountRequests returns the number of requests matching the filter.
func CountRequests(ctx context.Context, db *gorm.DB, f RequestFilter) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Request{})
	if f.OwnerID != "" {
		q = q.Where("user_id = ?", f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// ListRequestsPage returns one page of requests matching the filter, ordered
// by queue number descending, with line items preloaded.
func ListRequestsPage(ctx context.Context, db *gorm.DB, f RequestFilter, offset, limit int) ([]domain.Request, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	q := db.WithContext(ctx).Preload("Items").Order("queue_number desc")
	if f.OwnerID != "" {
		q = q.Where("user_id = ?", f.OwnerID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []domain.Request
	err := q.Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// UpdateRequestState persists the mutable lifecycle fields of r, guarded by
// the version the caller observed at read time. On success the stored version
// is bumped and r.Version is updated to match.
//
// The guard makes concurrent transitions on the same request serialize: the
// loser matches zero rows and receives ErrStaleVersion instead of silently
// clobbering write-once timestamps.
func UpdateRequestState(ctx context.Context, db *gorm.DB, r *domain.Request, observedVersion int64) error {
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND version = ?", r.ID, observedVersion).
		Updates(map[string]any{
			"status":                r.Status,
			"payment_status":        r.PaymentStatus,
			"rejection_reason":      r.RejectionReason,
			"receipt_ref":           r.ReceiptRef,
			"processing_started_at": r.ProcessingStartedAt,
			"completed_at":          r.CompletedAt,
			"version":               observedVersion + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleVersion
	}
	r.Version = observedVersion + 1
	return nil
}

// CountByStatus returns the number of requests per lifecycle state. States
// with no requests are present with a zero count so dashboards can render a
// complete board.
func CountByStatus(ctx context.Context, db *gorm.DB) (map[domain.Status]int64, error) {
	type row struct {
		Status domain.Status
		N      int64
	}
	var rows []row
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Select("status, COUNT(*) as n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		out[s] = 0
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
