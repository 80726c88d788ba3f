// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for processed
// webhook events, enabling idempotent handling of at-least-once delivery
// from the payment provider.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
)

// WebhookEventSeen reports whether the provider event with eventID has
// already been applied.
func WebhookEventSeen(ctx context.Context, db *gorm.DB, eventID string) (bool, error) {
	var rec domain.WebhookEvent
	err := db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecordWebhookEvent marks the provider event as applied. A replayed event
// hits the primary key and returns ErrDuplicate, which callers treat as a
// safe no-op.
func RecordWebhookEvent(ctx context.Context, db *gorm.DB, eventID, requestID, outcome string) error {
	rec := &domain.WebhookEvent{
		EventID:    eventID,
		RequestID:  requestID,
		Outcome:    outcome,
		ReceivedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isDuplicateErr(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
