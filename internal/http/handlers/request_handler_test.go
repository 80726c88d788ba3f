package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/http/middleware"
	"github.com/campusdocs/go-registrar-backend/internal/notify"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
	"github.com/campusdocs/go-registrar-backend/internal/services"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:req_handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Create(&domain.DocumentType{
		ID:             uuid.NewString(),
		Name:           "Transcript Of Records",
		Price:          150,
		ProcessingDays: 5,
	}).Error; err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	return db
}

// ---------- flexible stubs ----------

type stubReqSvc struct {
	create   func(context.Context, string, services.CreateRequestInput) (*domain.Request, error)
	get      func(context.Context, services.Actor, string) (*domain.Request, error)
	listPage func(context.Context, services.Actor, domain.Status, int, int) ([]domain.Request, int64, error)
	summary  func(context.Context, services.Actor) (map[domain.Status]int64, error)
}

func (s stubReqSvc) Create(ctx context.Context, ownerID string, in services.CreateRequestInput) (*domain.Request, error) {
	if s.create != nil {
		return s.create(ctx, ownerID, in)
	}
	return &domain.Request{ID: uuid.NewString(), UserID: ownerID, Status: domain.StatusPendingApproval}, nil
}

func (s stubReqSvc) Get(ctx context.Context, a services.Actor, id string) (*domain.Request, error) {
	if s.get != nil {
		return s.get(ctx, a, id)
	}
	return &domain.Request{ID: id, UserID: a.ID, Status: domain.StatusPendingApproval}, nil
}

func (s stubReqSvc) ListPage(ctx context.Context, a services.Actor, st domain.Status, page, pageSize int) ([]domain.Request, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, a, st, page, pageSize)
	}
	return nil, 0, nil
}

func (s stubReqSvc) Summary(ctx context.Context, a services.Actor) (map[domain.Status]int64, error) {
	if s.summary != nil {
		return s.summary(ctx, a)
	}
	return map[domain.Status]int64{}, nil
}

type stubLcSvc struct {
	transition func(context.Context, services.Actor, string, domain.Status, string) (*domain.Request, error)
}

func (s stubLcSvc) Transition(ctx context.Context, a services.Actor, id string, target domain.Status, reason string) (*domain.Request, error) {
	if s.transition != nil {
		return s.transition(ctx, a, id, target, reason)
	}
	return &domain.Request{ID: id, Status: target}, nil
}

type stubPaySvc struct {
	upload  func(context.Context, services.Actor, string, string, io.Reader) (*domain.Request, error)
	webhook func(context.Context, []byte, string) error
}

func (s stubPaySvc) UploadReceipt(ctx context.Context, a services.Actor, id, filename string, r io.Reader) (*domain.Request, error) {
	if s.upload != nil {
		return s.upload(ctx, a, id, filename, r)
	}
	return &domain.Request{ID: id, Status: domain.StatusPendingVerification}, nil
}

func (s stubPaySvc) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.webhook != nil {
		return s.webhook(ctx, payload, signature)
	}
	return nil
}

type stubCatSvc struct {
	list func(context.Context) ([]domain.DocumentType, error)
}

func (s stubCatSvc) List(ctx context.Context) ([]domain.DocumentType, error) {
	if s.list != nil {
		return s.list(ctx)
	}
	return nil, nil
}

// ---------- router builders ----------

func newStubRouter(reqSvc RequestService, lcSvc LifecycleService, paySvc PaymentService, catSvc CatalogService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := New(reqSvc, lcSvc, paySvc, catSvc, time.Hour)
	r.POST("/requests", h.CreateRequest)
	r.GET("/requests", h.ListRequests)
	r.GET("/requests/summary", h.Summary)
	r.GET("/requests/:id", h.GetRequest)
	r.PATCH("/requests/:id/status", h.UpdateStatus)
	r.POST("/requests/:id/upload-receipt", h.UploadReceipt)
	r.GET("/documents", h.ListDocumentTypes)
	r.POST("/payments/webhook", h.PaymentWebhook)
	return r
}

// newRealRouter wires the concrete services against an in-memory DB so the
// idempotency and ETag paths (which unwrap the GORM handle) are exercised.
func newRealRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	db := newHandlerDB(t)
	hub := notify.NewHub()
	t.Cleanup(hub.Close)

	catSvc := services.NewCatalogService(db)
	reqSvc := services.NewRequestService(db, catSvc)
	lcSvc := services.NewLifecycleService(db, hub)
	return newStubRouter(reqSvc, lcSvc, stubPaySvc{}, catSvc), db
}

func do(r *gin.Engine, method, path string, body []byte, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

// ---------- CreateRequest ----------

func TestCreateRequest_InvalidJSON(t *testing.T) {
	r := newStubRouter(stubReqSvc{}, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	w := do(r, http.MethodPost, "/requests", []byte(`{"items":`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCreateRequest_MissingItems(t *testing.T) {
	r := newStubRouter(stubReqSvc{}, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	w := do(r, http.MethodPost, "/requests", []byte(`{"purpose":"x"}`), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing items, got %d", w.Code)
	}
}

func TestCreateRequest_ServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{services.ErrUnknownDocument, http.StatusUnprocessableEntity, ErrCodeUnknownDocument},
		{services.ErrDetailsRequired, http.StatusUnprocessableEntity, ErrCodeDetailsRequired},
		{services.ErrEmptyLineItems, http.StatusBadRequest, ErrCodeBadRequest},
	}
	for _, tc := range cases {
		svc := stubReqSvc{create: func(context.Context, string, services.CreateRequestInput) (*domain.Request, error) {
			return nil, tc.err
		}}
		r := newStubRouter(svc, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
		w := do(r, http.MethodPost, "/requests", []byte(`{"items":[{"name":"Transcript Of Records"}]}`), nil)
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("%v: bad error envelope: %v", tc.err, err)
		}
		if er.Code != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, er.Code)
		}
	}
}

func TestCreateRequest_IdempotentReplay(t *testing.T) {
	r, _ := newRealRouter(t)

	body := []byte(`{"purpose":"scholarship","items":[{"name":"Transcript Of Records"}]}`)
	hdr := map[string]string{
		"X-User-ID":                      "idem-user",
		middleware.HeaderIdempotencyKey: uuid.NewString(),
	}

	w1 := do(r, http.MethodPost, "/requests", body, hdr)
	if w1.Code != http.StatusCreated {
		t.Fatalf("first create = %d body=%s", w1.Code, w1.Body.String())
	}
	var first domain.Request
	if err := json.Unmarshal(w1.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode first: %v", err)
	}

	w2 := do(r, http.MethodPost, "/requests", body, hdr)
	if w2.Code != http.StatusCreated {
		t.Fatalf("replay = %d body=%s", w2.Code, w2.Body.String())
	}
	if w2.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected Idempotency-Replayed header on second call")
	}
	var second domain.Request
	if err := json.Unmarshal(w2.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if second.ID != first.ID || second.QueueNumber != first.QueueNumber {
		t.Fatalf("replay returned a different request: %s vs %s", second.ID, first.ID)
	}
}

func TestCreateRequest_DifferentKeysCreateDistinctRequests(t *testing.T) {
	r, _ := newRealRouter(t)

	body := []byte(`{"items":[{"name":"Transcript Of Records"}]}`)
	mk := func() domain.Request {
		hdr := map[string]string{
			"X-User-ID":                      "idem-user-2",
			middleware.HeaderIdempotencyKey: uuid.NewString(),
		}
		w := do(r, http.MethodPost, "/requests", body, hdr)
		if w.Code != http.StatusCreated {
			t.Fatalf("create = %d body=%s", w.Code, w.Body.String())
		}
		var req domain.Request
		if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return req
	}

	a, b := mk(), mk()
	if a.ID == b.ID {
		t.Fatalf("distinct keys must create distinct requests")
	}
	if b.QueueNumber <= a.QueueNumber {
		t.Fatalf("queue numbers must increase: %d then %d", a.QueueNumber, b.QueueNumber)
	}
}

// ---------- ListRequests ----------

func TestListRequests_BadStatusFilter(t *testing.T) {
	r := newStubRouter(stubReqSvc{}, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	w := do(r, http.MethodGet, "/requests?status=archived", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}
}

func TestListRequests_PaginationEnvelope(t *testing.T) {
	svc := stubReqSvc{listPage: func(_ context.Context, _ services.Actor, _ domain.Status, page, pageSize int) ([]domain.Request, int64, error) {
		if page != 2 || pageSize != 3 {
			t.Fatalf("expected page=2 size=3, got page=%d size=%d", page, pageSize)
		}
		return []domain.Request{{ID: "a"}, {ID: "b"}, {ID: "c"}}, 7, nil
	}}
	r := newStubRouter(svc, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})

	w := do(r, http.MethodGet, "/requests?page=2&page_size=3", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp ListRequestsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.Total != 7 || resp.Pagination.TotalPages != 3 {
		t.Fatalf("pagination math wrong: %+v", resp.Pagination)
	}
	if !resp.Pagination.HasNext {
		t.Fatalf("page 2 of 3 must have next")
	}
}

func TestListRequests_PageSizeClamped(t *testing.T) {
	svc := stubReqSvc{listPage: func(_ context.Context, _ services.Actor, _ domain.Status, page, pageSize int) ([]domain.Request, int64, error) {
		if pageSize != 100 {
			t.Fatalf("expected clamp to 100, got %d", pageSize)
		}
		if page != 1 {
			t.Fatalf("negative page must clamp to 1, got %d", page)
		}
		return nil, 0, nil
	}}
	r := newStubRouter(svc, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	if w := do(r, http.MethodGet, "/requests?page=-4&page_size=9999", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
}

func TestListRequests_ETagNotModified(t *testing.T) {
	r, _ := newRealRouter(t)

	hdr := map[string]string{"X-User-ID": "etag-user"}
	body := []byte(`{"items":[{"name":"Transcript Of Records"}]}`)
	if w := do(r, http.MethodPost, "/requests", body, hdr); w.Code != http.StatusCreated {
		t.Fatalf("seed create = %d", w.Code)
	}

	w1 := do(r, http.MethodGet, "/requests", nil, hdr)
	if w1.Code != http.StatusOK {
		t.Fatalf("first list = %d", w1.Code)
	}
	etag := w1.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag on list response")
	}

	w2 := do(r, http.MethodGet, "/requests", nil, map[string]string{
		"X-User-ID":     "etag-user",
		"If-None-Match": etag,
	})
	if w2.Code != http.StatusNotModified {
		t.Fatalf("expected 304 with matching ETag, got %d", w2.Code)
	}

	// A new creation invalidates the token.
	if w := do(r, http.MethodPost, "/requests", body, hdr); w.Code != http.StatusCreated {
		t.Fatalf("second create = %d", w.Code)
	}
	w3 := do(r, http.MethodGet, "/requests", nil, map[string]string{
		"X-User-ID":     "etag-user",
		"If-None-Match": etag,
	})
	if w3.Code != http.StatusOK {
		t.Fatalf("expected fresh 200 after create, got %d", w3.Code)
	}
}

func TestListRequests_ETagFreshAfterTransition(t *testing.T) {
	r, _ := newRealRouter(t)

	hdr := map[string]string{"X-User-ID": "etag-user-2"}
	w := do(r, http.MethodPost, "/requests", []byte(`{"items":[{"name":"Transcript Of Records"}]}`), hdr)
	if w.Code != http.StatusCreated {
		t.Fatalf("seed create = %d", w.Code)
	}
	var created domain.Request
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}

	w1 := do(r, http.MethodGet, "/requests", nil, hdr)
	if w1.Code != http.StatusOK {
		t.Fatalf("first list = %d", w1.Code)
	}
	etag := w1.Header().Get("ETag")
	if etag == "" {
		t.Fatalf("expected ETag on list response")
	}

	// Transition immediately after the first list. Even when both land
	// inside the same clock tick, the token must change: serving a 304
	// here would hide the new status from the owner.
	wp := do(r, http.MethodPatch, "/requests/"+created.ID+"/status",
		[]byte(`{"status":"pending_payment"}`),
		map[string]string{"X-User-ID": "staff-1", "X-User-Role": "admin"})
	if wp.Code != http.StatusOK {
		t.Fatalf("transition = %d body=%s", wp.Code, wp.Body.String())
	}

	w2 := do(r, http.MethodGet, "/requests", nil, map[string]string{
		"X-User-ID":     "etag-user-2",
		"If-None-Match": etag,
	})
	if w2.Code != http.StatusOK {
		t.Fatalf("expected fresh 200 after transition, got %d", w2.Code)
	}
	if w2.Header().Get("ETag") == etag {
		t.Fatalf("transition did not rotate the ETag: %s", etag)
	}
}

// ---------- GetRequest ----------

func TestGetRequest_BadID(t *testing.T) {
	r := newStubRouter(stubReqSvc{}, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	w := do(r, http.MethodGet, "/requests/not-a-uuid", nil, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetRequest_NotFound(t *testing.T) {
	svc := stubReqSvc{get: func(context.Context, services.Actor, string) (*domain.Request, error) {
		return nil, services.ErrRequestNotFound
	}}
	r := newStubRouter(svc, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	w := do(r, http.MethodGet, "/requests/"+uuid.NewString(), nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetRequest_OK(t *testing.T) {
	id := uuid.NewString()
	r := newStubRouter(stubReqSvc{}, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	w := do(r, http.MethodGet, "/requests/"+id, nil, map[string]string{"X-User-ID": "owner-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var req domain.Request
	if err := json.Unmarshal(w.Body.Bytes(), &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.ID != id || req.UserID != "owner-1" {
		t.Fatalf("unexpected body: %+v", req)
	}
}

// ---------- UpdateStatus ----------

func TestUpdateStatus_Validation(t *testing.T) {
	r := newStubRouter(stubReqSvc{}, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})
	id := uuid.NewString()

	// bad uuid
	if w := do(r, http.MethodPatch, "/requests/xx/status", []byte(`{"status":"processing"}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid: expected 400, got %d", w.Code)
	}
	// missing status
	if w := do(r, http.MethodPatch, "/requests/"+id+"/status", []byte(`{}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing status: expected 400, got %d", w.Code)
	}
	// unknown status value
	if w := do(r, http.MethodPatch, "/requests/"+id+"/status", []byte(`{"status":"launched"}`), nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown status: expected 400, got %d", w.Code)
	}
}

func TestUpdateStatus_TargetNormalized(t *testing.T) {
	var gotTarget domain.Status
	svc := stubLcSvc{transition: func(_ context.Context, _ services.Actor, id string, target domain.Status, _ string) (*domain.Request, error) {
		gotTarget = target
		return &domain.Request{ID: id, Status: target}, nil
	}}
	r := newStubRouter(stubReqSvc{}, svc, stubPaySvc{}, stubCatSvc{})

	w := do(r, http.MethodPatch, "/requests/"+uuid.NewString()+"/status", []byte(`{"status":"  PROCESSING "}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", w.Code, w.Body.String())
	}
	if gotTarget != domain.StatusProcessing {
		t.Fatalf("expected normalized target processing, got %q", gotTarget)
	}
}

func TestUpdateStatus_ServiceErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
		code string
	}{
		{services.ErrInvalidTransition, http.StatusBadRequest, ErrCodeInvalidTransition},
		{services.ErrUnauthorized, http.StatusForbidden, ErrCodeForbidden},
		{services.ErrReasonRequired, http.StatusBadRequest, ErrCodeReasonRequired},
		{services.ErrRequestNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrConcurrencyConflict, http.StatusConflict, ErrCodeConflict},
	}
	for _, tc := range cases {
		svc := stubLcSvc{transition: func(context.Context, services.Actor, string, domain.Status, string) (*domain.Request, error) {
			return nil, tc.err
		}}
		r := newStubRouter(stubReqSvc{}, svc, stubPaySvc{}, stubCatSvc{})
		w := do(r, http.MethodPatch, "/requests/"+uuid.NewString()+"/status", []byte(`{"status":"denied","reason":"x"}`), nil)
		if w.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, w.Code)
		}
		var er ErrorResponse
		if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
			t.Fatalf("%v: bad envelope: %v", tc.err, err)
		}
		if er.Code != tc.code {
			t.Fatalf("%v: expected code %q, got %q", tc.err, tc.code, er.Code)
		}
	}
}

// ---------- Summary ----------

func TestSummary_StaffOnly(t *testing.T) {
	svc := stubReqSvc{summary: func(_ context.Context, a services.Actor) (map[domain.Status]int64, error) {
		if !a.Admin() {
			return nil, services.ErrUnauthorized
		}
		return map[domain.Status]int64{domain.StatusPendingApproval: 2}, nil
	}}
	r := newStubRouter(svc, stubLcSvc{}, stubPaySvc{}, stubCatSvc{})

	if w := do(r, http.MethodGet, "/requests/summary", nil, nil); w.Code != http.StatusForbidden {
		t.Fatalf("non-staff summary expected 403, got %d", w.Code)
	}

	w := do(r, http.MethodGet, "/requests/summary", nil, map[string]string{
		"X-User-ID":   "staff-1",
		"X-User-Role": "admin",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("staff summary = %d", w.Code)
	}
	var resp SummaryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Counts[domain.StatusPendingApproval] != 2 {
		t.Fatalf("unexpected counts: %+v", resp.Counts)
	}
}

// ---------- actor extraction ----------

func TestActor_HeaderFallbackAndRole(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name     string
		setup    func(c *gin.Context)
		wantID   string
		wantRole domain.Role
	}{
		{
			name:     "defaults",
			setup:    func(c *gin.Context) {},
			wantID:   "demo-user",
			wantRole: domain.RoleUser,
		},
		{
			name: "headers",
			setup: func(c *gin.Context) {
				c.Request.Header.Set("X-User-ID", "u9")
				c.Request.Header.Set("X-User-Role", "ADMIN")
			},
			wantID:   "u9",
			wantRole: domain.RoleAdmin,
		},
		{
			name: "context wins over headers",
			setup: func(c *gin.Context) {
				c.Request.Header.Set("X-User-ID", "header-user")
				c.Set("userID", "ctx-user")
				c.Set("userRole", "admin")
			},
			wantID:   "ctx-user",
			wantRole: domain.RoleAdmin,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
			tc.setup(c)
			a := actor(c)
			if a.ID != tc.wantID || a.Role != tc.wantRole {
				t.Fatalf("actor = %+v, want id=%s role=%s", a, tc.wantID, tc.wantRole)
			}
		})
	}
}
