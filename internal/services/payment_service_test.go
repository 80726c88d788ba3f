package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/payments"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
	"github.com/campusdocs/go-registrar-backend/internal/storage"
)

const testWebhookSecret = "whsec_test"

func newPaymentService(t *testing.T) (*PaymentService, *fakeNotifier, string) {
	t.Helper()
	db := newTestDB(t)
	dir := t.TempDir()
	store, err := storage.NewFSStore(dir)
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}
	notifier := &fakeNotifier{}
	svc := &PaymentService{
		DB:        db,
		Lifecycle: NewLifecycleService(db, notifier),
		Verifier:  payments.NewHMACVerifier(testWebhookSecret),
		Receipts:  store,
	}
	return svc, notifier, dir
}

func signedEvent(eventID, requestID, outcome string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":%q,"request_id":%q,"outcome":%q}`, eventID, requestID, outcome))
	return payload, payments.Sign(testWebhookSecret, payload)
}

func TestHandleWebhook_SucceededMovesToProcessing(t *testing.T) {
	svc, notifier, _ := newPaymentService(t)
	ctx := context.Background()
	req := seedRequest(t, svc.DB, ownerActor.ID, domain.StatusPendingVerification, domain.PaymentPendingVerification, 150)

	payload, sig := signedEvent("evt_1", req.ID, "succeeded")
	if err := svc.HandleWebhook(ctx, payload, sig); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	got, err := repo.GetRequest(ctx, svc.DB, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if got.Status != domain.StatusProcessing {
		t.Errorf("status = %q; want %q", got.Status, domain.StatusProcessing)
	}
	if got.PaymentStatus != domain.PaymentPaid {
		t.Errorf("payment status = %q; want %q", got.PaymentStatus, domain.PaymentPaid)
	}
	if notifier.count() != 1 {
		t.Errorf("broadcasts = %d; want 1", notifier.count())
	}

	seen, err := repo.WebhookEventSeen(ctx, svc.DB, "evt_1")
	if err != nil || !seen {
		t.Errorf("event not recorded: seen=%v err=%v", seen, err)
	}
}

func TestHandleWebhook_FailedDeniesWithReason(t *testing.T) {
	svc, _, _ := newPaymentService(t)
	ctx := context.Background()
	req := seedRequest(t, svc.DB, ownerActor.ID, domain.StatusPendingVerification, domain.PaymentPendingVerification, 150)

	payload, sig := signedEvent("evt_2", req.ID, "failed")
	if err := svc.HandleWebhook(ctx, payload, sig); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	got, _ := repo.GetRequest(ctx, svc.DB, req.ID)
	if got.Status != domain.StatusDenied {
		t.Errorf("status = %q; want %q", got.Status, domain.StatusDenied)
	}
	if got.RejectionReason == "" {
		t.Error("denied without a rejection reason")
	}
}

func TestHandleWebhook_ReplayIsNoOp(t *testing.T) {
	svc, notifier, _ := newPaymentService(t)
	ctx := context.Background()
	req := seedRequest(t, svc.DB, ownerActor.ID, domain.StatusPendingVerification, domain.PaymentPendingVerification, 150)

	payload, sig := signedEvent("evt_3", req.ID, "succeeded")
	for i := 0; i < 3; i++ {
		if err := svc.HandleWebhook(ctx, payload, sig); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	got, _ := repo.GetRequest(ctx, svc.DB, req.ID)
	if got.Status != domain.StatusProcessing {
		t.Errorf("status = %q; want %q", got.Status, domain.StatusProcessing)
	}
	if notifier.count() != 1 {
		t.Errorf("broadcasts = %d; want 1 across 3 deliveries", notifier.count())
	}
}

func TestHandleWebhook_BadSignatureMutatesNothing(t *testing.T) {
	svc, notifier, _ := newPaymentService(t)
	ctx := context.Background()
	req := seedRequest(t, svc.DB, ownerActor.ID, domain.StatusPendingVerification, domain.PaymentPendingVerification, 150)

	payload, _ := signedEvent("evt_4", req.ID, "succeeded")
	cases := []string{"", "not-hex", payments.Sign("wrong-secret", payload)}
	for _, sig := range cases {
		if err := svc.HandleWebhook(ctx, payload, sig); !errors.Is(err, ErrUnauthenticatedWebhook) {
			t.Errorf("signature %q err = %v; want %v", sig, err, ErrUnauthenticatedWebhook)
		}
	}

	got, _ := repo.GetRequest(ctx, svc.DB, req.ID)
	if got.Status != domain.StatusPendingVerification {
		t.Errorf("status = %q; unauthenticated webhook mutated state", got.Status)
	}
	if notifier.count() != 0 {
		t.Errorf("broadcasts = %d; want 0", notifier.count())
	}
	if seen, _ := repo.WebhookEventSeen(ctx, svc.DB, "evt_4"); seen {
		t.Error("unauthenticated event was recorded")
	}
}

func TestHandleWebhook_MalformedPayloads(t *testing.T) {
	svc, _, _ := newPaymentService(t)
	ctx := context.Background()

	cases := []string{
		`not json`,
		`{}`,
		`{"id":"evt_5","request_id":"r1","outcome":"refunded"}`,
		`{"id":"","request_id":"r1","outcome":"succeeded"}`,
		`{"id":"evt_5","request_id":"","outcome":"succeeded"}`,
	}
	for _, body := range cases {
		payload := []byte(body)
		err := svc.HandleWebhook(ctx, payload, payments.Sign(testWebhookSecret, payload))
		if !errors.Is(err, ErrMalformedWebhook) {
			t.Errorf("payload %s err = %v; want %v", body, err, ErrMalformedWebhook)
		}
	}
}

func TestUploadReceipt_StoresBlobAndTransitions(t *testing.T) {
	svc, _, dir := newPaymentService(t)
	ctx := context.Background()
	req := seedRequest(t, svc.DB, ownerActor.ID, domain.StatusPendingPayment, domain.PaymentUnpaid, 150)

	got, err := svc.UploadReceipt(ctx, ownerActor, req.ID, "receipt.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("UploadReceipt: %v", err)
	}
	if got.Status != domain.StatusPendingVerification {
		t.Errorf("status = %q; want %q", got.Status, domain.StatusPendingVerification)
	}
	if got.ReceiptRef == "" {
		t.Fatal("no receipt ref recorded")
	}

	rc, err := svc.Receipts.Open(ctx, got.ReceiptRef)
	if err != nil {
		t.Fatalf("open stored receipt: %v", err)
	}
	rc.Close()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("blob dir has %d entries; want 1", len(entries))
	}
}

func TestUploadReceipt_ReplayKeepsFirstBlob(t *testing.T) {
	svc, notifier, dir := newPaymentService(t)
	ctx := context.Background()
	req := seedRequest(t, svc.DB, ownerActor.ID, domain.StatusPendingPayment, domain.PaymentUnpaid, 150)

	first, err := svc.UploadReceipt(ctx, ownerActor, req.ID, "receipt.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	// Re-submitting against a request already pending verification is a
	// no-op: the original receipt stays referenced and the duplicate blob
	// must not linger in the store.
	replay, err := svc.UploadReceipt(ctx, ownerActor, req.ID, "receipt.pdf", strings.NewReader("%PDF-1.4 v2"))
	if err != nil {
		t.Fatalf("replayed upload: %v", err)
	}
	if replay.ReceiptRef != first.ReceiptRef {
		t.Errorf("replay ref = %q; want original %q", replay.ReceiptRef, first.ReceiptRef)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("blob dir has %d entries after replay; want 1", len(entries))
	}
	if notifier.count() != 1 {
		t.Errorf("broadcasts = %d; want 1", notifier.count())
	}
}

func TestUploadReceipt_RejectedTransitionRemovesBlob(t *testing.T) {
	svc, _, dir := newPaymentService(t)
	ctx := context.Background()
	// Wrong lifecycle state for a receipt.
	req := seedRequest(t, svc.DB, ownerActor.ID, domain.StatusProcessing, domain.PaymentPaid, 150)

	_, err := svc.UploadReceipt(ctx, ownerActor, req.ID, "receipt.pdf", strings.NewReader("%PDF-1.4"))
	if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v; want transition rejection", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("blob dir has %d entries after rejection; want 0", len(entries))
	}
}

// stubPaymentClient fakes the provider intent API.
type stubPaymentClient struct {
	intent *payments.Intent
	err    error
	calls  int
}

func (c *stubPaymentClient) CreateIntent(_ context.Context, requestID string, amount int64) (*payments.Intent, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.intent, nil
}

func TestCreateIntent(t *testing.T) {
	svc, _, _ := newPaymentService(t)
	ctx := context.Background()

	// No provider configured: nothing to do.
	if intent, err := svc.CreateIntent(ctx, &domain.Request{TotalAmount: 150}); intent != nil || err != nil {
		t.Errorf("nil provider = (%v, %v); want (nil, nil)", intent, err)
	}

	stub := &stubPaymentClient{intent: &payments.Intent{ID: "pi_1", CheckoutURL: "https://pay.example/pi_1", Amount: 150}}
	svc.Provider = stub

	// Zero-total requests never touch the provider.
	if intent, err := svc.CreateIntent(ctx, &domain.Request{TotalAmount: 0}); intent != nil || err != nil || stub.calls != 0 {
		t.Errorf("zero total = (%v, %v, calls=%d); want no provider call", intent, err, stub.calls)
	}

	intent, err := svc.CreateIntent(ctx, &domain.Request{ID: "r1", TotalAmount: 150})
	if err != nil || intent == nil || intent.ID != "pi_1" {
		t.Errorf("CreateIntent = (%v, %v); want intent pi_1", intent, err)
	}

	stub.err = fmt.Errorf("wrapped: %w", payments.ErrUnavailable)
	if _, err := svc.CreateIntent(ctx, &domain.Request{ID: "r1", TotalAmount: 150}); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("provider down err = %v; want %v", err, ErrUpstreamUnavailable)
	}
}
