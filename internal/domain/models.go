// Package domain defines the persistence models for document requests, their
// line items, the document catalog, and the bookkeeping records (queue
// counter, processed webhook events, idempotency). These types are mapped
// with GORM and form the core data layer of the registrar backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Request is the central entity: one submission by a requester for one or
// more document types, moving through the approval → payment → verification
// → processing → pickup lifecycle.
//
// Fields:
//   - ID: stable UUID primary key (char(36)), immutable.
//   - QueueNumber: sequential integer assigned once at creation; strictly
//     increasing across all requests, never reused (see repo.NextQueueNumber).
//   - UserID: identifier of the owning requester; indexed, immutable.
//   - Purpose / Contact: free-form metadata captured at submission.
//   - Status / PaymentStatus: lifecycle axes (see status.go). Status changes
//     only through the lifecycle service; PaymentStatus is derived alongside.
//   - TotalAmount: sum of line-item prices in integer currency units,
//     computed server-side from the catalog snapshot.
//   - EstimatedDays: max of the line-item processing estimates.
//   - RejectionReason: required precisely when Status is denied.
//   - ReceiptRef: opaque blob-store reference to the uploaded proof of
//     payment; present from pending_verification onward.
//   - Version: optimistic-concurrency guard; bumped on every status update.
//   - RequestedAt / ProcessingStartedAt / CompletedAt: write-once stamps.
type Request struct {
	ID            string        `json:"id"             gorm:"type:char(36);primaryKey"`
	QueueNumber   int64         `json:"queue_number"   gorm:"not null;uniqueIndex:ux_requests_queue"`
	UserID        string        `json:"user_id"        gorm:"type:varchar(64);not null;index:idx_user_requests"`
	Purpose       string        `json:"purpose"        gorm:"type:varchar(255)"`
	Contact       string        `json:"contact"        gorm:"type:varchar(128)"`
	Status        Status        `json:"status"         gorm:"type:varchar(32);not null;index:idx_request_status"`
	PaymentStatus PaymentStatus `json:"payment_status" gorm:"type:varchar(24);not null"`
	TotalAmount   int64         `json:"total_amount"   gorm:"not null"`
	EstimatedDays int           `json:"estimated_days" gorm:"not null"`

	RejectionReason string `json:"rejection_reason,omitempty" gorm:"type:text"`
	ReceiptRef      string `json:"receipt_ref,omitempty"      gorm:"type:varchar(255)"`

	// Version guards concurrent transitions on the same request: updates are
	// conditional on the version observed at read time.
	Version int64 `json:"-" gorm:"not null;default:0"`

	RequestedAt         time.Time  `json:"requested_at"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Items are the requested document types with their price/time snapshot.
	// Cascade-deleted with the request.
	Items []LineItem `json:"items" gorm:"foreignKey:RequestID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// LineItem is one requested document type within a request. Price and
// processing time are snapshotted from the catalog at creation time, so later
// catalog edits never alter an existing request.
type LineItem struct {
	ID        string `json:"id"         gorm:"type:char(36);primaryKey"`
	RequestID string `json:"request_id" gorm:"type:char(36);not null;index:idx_request_items,priority:1"`
	// Position preserves the order the items were submitted in.
	Position       int    `json:"position"          gorm:"not null;index:idx_request_items,priority:2"`
	Name           string `json:"name"              gorm:"type:varchar(128);not null"`
	Details        string `json:"details,omitempty" gorm:"type:text"`
	UnitPrice      int64  `json:"unit_price"        gorm:"not null"`
	ProcessingDays int    `json:"processing_days"   gorm:"not null"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for LineItem.
func (LineItem) TableName() string { return "request_items" }

// DocumentType is a catalog entry describing a requestable document. The
// catalog is read at request-creation time to validate names and snapshot
// pricing; it is never dereferenced afterwards.
type DocumentType struct {
	ID             string `json:"id"              gorm:"type:char(36);primaryKey"`
	Name           string `json:"name"            gorm:"type:varchar(128);not null;uniqueIndex:ux_document_name"`
	Price          int64  `json:"price"           gorm:"not null"`
	ProcessingDays int    `json:"processing_days" gorm:"not null"`
	// RequiresDetails marks documents that cannot be requested without
	// free-form details (e.g. which academic year a form covers).
	RequiresDetails bool `json:"requires_details" gorm:"not null;default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for DocumentType.
func (DocumentType) TableName() string { return "document_types" }

// QueueCounter is the single persisted row backing queue-number allocation.
// It is incremented with an atomic UPDATE so multiple handler instances can
// share it; an in-process variable would not survive horizontal scaling.
type QueueCounter struct {
	Name  string `gorm:"type:varchar(32);primaryKey"`
	Value int64  `gorm:"not null"`
}

// TableName returns the database table name for QueueCounter.
func (QueueCounter) TableName() string { return "queue_counters" }

// WebhookEvent records an externally delivered payment event that has been
// applied, keyed by the provider's event ID. Replayed deliveries hit the
// primary key and are treated as no-ops (at-least-once safety).
type WebhookEvent struct {
	EventID    string    `gorm:"type:varchar(128);primaryKey"`
	RequestID  string    `gorm:"type:char(36);not null;index"`
	Outcome    string    `gorm:"type:varchar(16);not null"`
	ReceivedAt time.Time `gorm:"not null"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string { return "webhook_events" }

// Idempotency records the result of a previously processed creation request,
// keyed by (user_id, key). It lets clients safely retry POST /requests and
// receive the originally created request instead of a duplicate submission.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:1"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_key,priority:2"`
	RequestID string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName returns the database table name for Idempotency.
func (Idempotency) TableName() string { return "idempotency" }
