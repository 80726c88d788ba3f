// Payment HTTP handlers.
//
// This file exposes the payment-side endpoints:
//   - POST /requests/{id}/upload-receipt (requester uploads proof of payment)
//   - POST /payments/webhook             (provider pushes signed payment outcomes)
//
// The webhook route is unauthenticated at the transport level; authenticity
// comes from the HMAC signature over the raw body, verified in the service
// before anything is touched.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderWebhookSignature carries the provider's hex-encoded HMAC-SHA256
// signature over the raw request body.
const HeaderWebhookSignature = "X-Webhook-Signature"

// maxReceiptBytes caps uploaded receipt files (8 MiB).
const maxReceiptBytes = 8 << 20

// UploadReceipt godoc
// @ID          uploadReceipt
// @Summary     Upload proof of payment
// @Description Stores the receipt file and moves the request from pending_payment to pending_verification. Only the owning requester (or staff) may upload.
// @Tags        Payments
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Requester ID"      example(user123)
// @Param       id         path    string  true  "Request ID (UUID)" format(uuid)
// @Param       receipt    formData file    true  "Receipt file"
//
// @Success     200  {object} domain.Request
// @Failure     400  {object} handlers.ErrorResponse "Bad request / missing file / not awaiting payment"
// @Failure     403  {object} handlers.ErrorResponse "Not the owner"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Router      /requests/{id}/upload-receipt [post]
func (h *Handlers) UploadReceipt(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "request id must be a UUID")
		return
	}

	fh, err := c.FormFile("receipt")
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receipt file required")
		return
	}
	if fh.Size <= 0 || fh.Size > maxReceiptBytes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receipt file empty or too large")
		return
	}
	f, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receipt file unreadable")
		return
	}
	defer f.Close()

	req, err := h.paySvc.UploadReceipt(c.Request.Context(), actor(c), id, fh.Filename, f)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, req)
}

// PaymentWebhook godoc
// @ID          paymentWebhook
// @Summary     Payment provider webhook
// @Description Applies a signed payment outcome (succeeded/failed) to the referenced request. Deliveries are at-least-once; replayed event IDs are acknowledged without side effects.
// @Tags        Payments
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Signature  header  string  true "Hex HMAC-SHA256 of the raw body"
// @Param       body                 body    object  true "Provider event"
//
// @Success     200  {object} map[string]string
// @Failure     400  {object} handlers.ErrorResponse "Malformed payload"
// @Failure     401  {object} handlers.ErrorResponse "Bad signature"
// @Failure     404  {object} handlers.ErrorResponse "Unknown request"
// @Router      /payments/webhook [post]
func (h *Handlers) PaymentWebhook(c *gin.Context) {
	// The signature covers the exact bytes on the wire, so read them raw.
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unreadable body")
		return
	}

	if err := h.paySvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader(HeaderWebhookSignature)); err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"status": "accepted"})
}
