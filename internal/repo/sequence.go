// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file implements the queue-number sequence allocator.
//
// The allocator is a single persisted counter row incremented with an atomic
// UPDATE inside a transaction, so concurrent creations, including across
// multiple handler instances sharing one database, never observe or assign
// the same number. First use initializes the row transactionally: at most one
// initializer wins the insert; losers fall back to the increment.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
)

// queueCounterName is the primary key of the single counter row backing
// request queue numbers.
const queueCounterName = "request_queue"

// nextAttempts bounds retries for transient conflicts (busy database, losing
// the initialization race) before the error is surfaced.
const nextAttempts = 3

// NextQueueNumber allocates the next queue number. Every call returns a value
// strictly greater than any previously returned value; numbers are never
// reused or decremented. Gaps are tolerated (an allocation whose enclosing
// creation later fails simply burns a number).
func NextQueueNumber(ctx context.Context, db *gorm.DB) (int64, error) {
	var lastErr error
	for attempt := 0; attempt < nextAttempts; attempt++ {
		n, err := incrementQueueCounter(ctx, db)
		if err == nil {
			return n, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 10 * time.Millisecond):
		}
	}
	return 0, lastErr
}

// incrementQueueCounter performs one read-modify-write cycle. The UPDATE is a
// single atomic statement; the row stays locked until commit, so the read-back
// inside the same transaction observes our own increment.
func incrementQueueCounter(ctx context.Context, db *gorm.DB) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.QueueCounter{}).
			Where("name = ?", queueCounterName).
			UpdateColumn("value", gorm.Expr("value + 1"))
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected == 0 {
			// First use: seed the counter at 1. A racing initializer loses on
			// the primary key and retries the increment instead.
			if err := tx.Create(&domain.QueueCounter{Name: queueCounterName, Value: 1}).Error; err != nil {
				if !isDuplicateErr(err) {
					return err
				}
				res = tx.Model(&domain.QueueCounter{}).
					Where("name = ?", queueCounterName).
					UpdateColumn("value", gorm.Expr("value + 1"))
				if res.Error != nil {
					return res.Error
				}
			} else {
				next = 1
				return nil
			}
		}

		var c domain.QueueCounter
		if err := tx.Where("name = ?", queueCounterName).First(&c).Error; err != nil {
			return err
		}
		next = c.Value
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
