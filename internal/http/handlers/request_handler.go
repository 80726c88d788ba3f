// Document-request HTTP handlers.
//
// This file exposes REST endpoints for the request resource:
//   - POST  /requests             (submit, idempotent via Idempotency-Key)
//   - GET   /requests             (list, paginated, ETag support)
//   - GET   /requests/{id}        (fetch one)
//   - PATCH /requests/{id}/status (staff-driven lifecycle transition)
//   - GET   /requests/summary     (per-status counts, staff only)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/http/middleware"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
	"github.com/campusdocs/go-registrar-backend/internal/services"
	"github.com/campusdocs/go-registrar-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RequestService defines the request creation and read operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RequestService interface {
	// Create validates, prices, and persists a new request for ownerID.
	Create(ctx context.Context, ownerID string, in services.CreateRequestInput) (*domain.Request, error)
	// Get fetches one request, scoped to the actor's visibility.
	Get(ctx context.Context, actor services.Actor, id string) (*domain.Request, error)
	// ListPage returns a page of visible requests and the total match count.
	ListPage(ctx context.Context, actor services.Actor, status domain.Status, page, pageSize int) ([]domain.Request, int64, error)
	// Summary returns per-status counts (staff only).
	Summary(ctx context.Context, actor services.Actor) (map[domain.Status]int64, error)
}

// LifecycleService defines the status-transition operation.
type LifecycleService interface {
	// Transition moves a request to target on behalf of actor.
	Transition(ctx context.Context, actor services.Actor, requestID string, target domain.Status, reason string) (*domain.Request, error)
}

// PaymentService defines receipt upload and webhook reconciliation.
type PaymentService interface {
	// UploadReceipt stores the proof of payment and advances the request.
	UploadReceipt(ctx context.Context, actor services.Actor, requestID, filename string, r io.Reader) (*domain.Request, error)
	// HandleWebhook verifies and applies one provider event.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// CatalogService defines the document-catalog read path.
type CatalogService interface {
	// List returns every requestable document type.
	List(ctx context.Context) ([]domain.DocumentType, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for requests, payments, and the catalog.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	reqSvc  RequestService
	lcSvc   LifecycleService
	paySvc  PaymentService
	catSvc  CatalogService
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
// idemTTL controls how long a creation Idempotency-Key stays replayable.
func New(reqSvc RequestService, lcSvc LifecycleService, paySvc PaymentService, catSvc CatalogService, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{reqSvc: reqSvc, lcSvc: lcSvc, paySvc: paySvc, catSvc: catSvc, idemTTL: idemTTL}
}

// actor extracts the calling principal from the Gin context. Identity comes
// from the external auth layer: upstream middleware sets "userID"/"userRole",
// with X-User-ID / X-User-Role header fallbacks for tests and local tooling.
// An absent identity resolves to a non-staff "demo-user".
func actor(c *gin.Context) services.Actor {
	a := services.Actor{ID: "demo-user", Role: domain.RoleUser}

	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			a.ID = s
		}
	} else if c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			a.ID = h
		}
	}

	role := ""
	if v, ok := c.Get("userRole"); ok {
		role, _ = v.(string)
	}
	if role == "" && c.Request != nil {
		role = c.GetHeader("X-User-Role")
	}
	if strings.EqualFold(strings.TrimSpace(role), string(domain.RoleAdmin)) {
		a.Role = domain.RoleAdmin
	}
	return a
}

//
// DTOs
//

// LineItemInput is one requested document within a creation payload. Prices
// and processing estimates are never accepted from clients; they are
// snapshotted from the catalog.
type LineItemInput struct {
	// Name is the catalog name of the document type.
	Name string `json:"name" binding:"required,min=1" example:"Transcript Of Records"`
	// Details carries free-form specifics when the document type requires them.
	Details string `json:"details,omitempty" example:"AY 2024-2025, first semester"`
}

// CreateRequestPayload is the JSON payload for submitting a request.
type CreateRequestPayload struct {
	Purpose string          `json:"purpose" example:"scholarship application"`
	Contact string          `json:"contact" example:"student@example.edu"`
	Items   []LineItemInput `json:"items" binding:"required,min=1"`
}

// UpdateStatusPayload is the JSON payload for a lifecycle transition.
type UpdateStatusPayload struct {
	// Status is the target lifecycle state.
	Status string `json:"status" binding:"required" example:"processing"`
	// Reason is mandatory when denying a request.
	Reason string `json:"reason,omitempty" example:"records incomplete"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []domain.Request `json:"requests"`
	Pagination Pagination       `json:"pagination"`
}

// SummaryResponse reports per-status request counts for the staff dashboard.
type SummaryResponse struct {
	Counts map[domain.Status]int64 `json:"counts"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// Handlers
//

// CreateRequest godoc
// @ID          createRequest
// @Summary     Submit a document request
// @Description Validates line items against the catalog, snapshots pricing, assigns the next queue number, and creates the request in pending_approval.
// @Description Supports idempotency via the Idempotency-Key header (same key → same request returned).
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Requester ID (demo header)" example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       body             body    handlers.CreateRequestPayload  true  "Request payload"
//
// @Success     201  {object}  domain.Request
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     422  {object}  handlers.ErrorResponse  "Unknown document / missing details"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /requests [post]
func (h *Handlers) CreateRequest(c *gin.Context) {
	ctx := c.Request.Context()
	var payload CreateRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	a := actor(c)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey == "" {
		idemKey = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}
	if idemKey != "" {
		if db := h.db(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, a.ID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := h.reqSvc.Get(ctx, a, rec.RequestID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, rec.Status, prev)
					return
				}
			}
		}
	}

	in := services.CreateRequestInput{
		Purpose: payload.Purpose,
		Contact: payload.Contact,
		Items:   make([]services.CreateLineItemInput, 0, len(payload.Items)),
	}
	for _, it := range payload.Items {
		in.Items = append(in.Items, services.CreateLineItemInput{Name: it.Name, Details: it.Details})
	}

	req, err := h.reqSvc.Create(ctx, a.ID, in)
	if err != nil {
		failService(c, err)
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if db := h.db(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, a.ID, idemKey, req.ID, http.StatusCreated, h.idemTTL)
		}
	}

	ok(c, http.StatusCreated, req)
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List document requests (paginated)
// @Description Returns a page of requests visible to the caller, newest queue number first. Staff see all requests and may filter by status. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID      header  string  false "Requester ID (demo header)"  example(user123)
// @Param       X-User-Role    header  string  false "Role (admin for staff)"      example(admin)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       status         query   string  false "Filter by lifecycle status (staff only)"
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	a := actor(c)
	page, pageSize := clampPagination(c)

	status := domain.Status(strings.TrimSpace(c.Query("status")))
	if status != "" && !status.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status filter")
		return
	}

	// ETag pre-check (best effort). The freshness token covers creations and
	// transitions within the caller's scope, so observers never read a status
	// older than the latest accepted transition. The version sum guarantees a
	// new token even when a transition lands in the same instant as the one
	// the client's ETag was minted from.
	if db := h.db(); db != nil && status == "" {
		scope := a.ID
		if a.Admin() {
			scope = ""
		}
		st, err := repo.RequestsStats(ctx, db, scope)
		if err == nil {
			var ts int64
			if st.MaxUpdatedAt != nil {
				ts = st.MaxUpdatedAt.UnixNano()
			}
			etag := fmt.Sprintf(`W/"requests:%s:%d:%d:%d"`, scope, st.Count, st.VersionSum, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.reqSvc.ListPage(ctx, a, status, page, pageSize)
	if err != nil {
		failService(c, err)
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Fetch one document request
// @Description Returns the request with its line items. Requesters only see their own requests.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID  header  string  false "Requester ID (demo header)" example(user123)
// @Param       id         path    string  true  "Request ID (UUID)"           format(uuid)
//
// @Success     200  {object} domain.Request
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Router      /requests/{id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}

	req, err := h.reqSvc.Get(c.Request.Context(), actor(c), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// UpdateStatus godoc
// @ID          updateRequestStatus
// @Summary     Transition a request's lifecycle status
// @Description Moves the request along the lifecycle graph. Staff drive approval, denial, verification, processing, pickup, completion, and cancellation; denial requires a reason. A request already in the target state is a safe no-op.
// @Tags        Requests
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID    header  string  true  "Actor ID"            example(staff1)
// @Param       X-User-Role  header  string  false "Role (admin for staff)" example(admin)
// @Param       id           path    string  true  "Request ID (UUID)"   format(uuid)
// @Param       body         body    handlers.UpdateStatusPayload  true  "Target status"
//
// @Success     200  {object} domain.Request
// @Failure     400  {object} handlers.ErrorResponse "Invalid transition / missing reason"
// @Failure     403  {object} handlers.ErrorResponse "Actor not allowed"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     409  {object} handlers.ErrorResponse "Concurrent update lost"
// @Router      /requests/{id}/status [patch]
func (h *Handlers) UpdateStatus(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}

	var payload UpdateStatusPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "status required")
		return
	}
	target := domain.Status(strings.ToLower(strings.TrimSpace(payload.Status)))
	if !target.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown status value")
		return
	}

	req, err := h.lcSvc.Transition(c.Request.Context(), actor(c), id, target, payload.Reason)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// Summary godoc
// @ID          requestsSummary
// @Summary     Per-status request counts
// @Description Returns the number of requests in each lifecycle state, zero-filled. Staff only.
// @Tags        Requests
// @Produce     json
//
// @Param       X-User-ID    header  string  true "Actor ID"               example(staff1)
// @Param       X-User-Role  header  string  true "Role (admin for staff)" example(admin)
//
// @Success     200  {object} handlers.SummaryResponse
// @Failure     403  {object} handlers.ErrorResponse "Staff only"
// @Router      /requests/summary [get]
func (h *Handlers) Summary(c *gin.Context) {
	counts, err := h.reqSvc.Summary(c.Request.Context(), actor(c))
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, SummaryResponse{Counts: counts})
}

// db exposes the underlying GORM handle when the concrete RequestService is
// in use. Idempotency bookkeeping is best effort and skipped for test doubles.
func (h *Handlers) db() *gorm.DB {
	if svc, ok := h.reqSvc.(*services.RequestService); ok {
		return svc.DB
	}
	return nil
}
