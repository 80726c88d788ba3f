// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
)

// ListStats is the freshness metadata behind the listing ETag.
type ListStats struct {
	// Count is the number of request rows in scope.
	Count int64
	// VersionSum is the sum of the rows' version columns. Every accepted
	// transition bumps exactly one version, so the sum changes even when two
	// transitions land within the updated_at clock's granularity.
	VersionSum int64
	// MaxUpdatedAt is the latest UpdatedAt in scope; nil when Count is 0.
	MaxUpdatedAt *time.Time
}

// RequestsStats returns aggregate metadata for a listing scope. An empty
// ownerID covers all requests (admin listing).
//
// The triple (Count, VersionSum, MaxUpdatedAt) changes whenever a request is
// created or transitioned, so it is a cheap freshness token for weak ETags:
// the Query/Projection layer never serves a stale status past a transition,
// including transitions that land in the same instant as the previous token.
func RequestsStats(ctx context.Context, db *gorm.DB, ownerID string) (ListStats, error) {
	var st ListStats
	base := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&domain.Request{})
		if ownerID != "" {
			q = q.Where("user_id = ?", ownerID)
		}
		return q
	}

	var agg struct {
		Count      int64
		VersionSum int64
	}
	if err := base().
		Select("COUNT(*) AS count, COALESCE(SUM(version), 0) AS version_sum").
		Scan(&agg).Error; err != nil {
		return st, err
	}
	st.Count, st.VersionSum = agg.Count, agg.VersionSum
	if st.Count == 0 {
		return st, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err := base().
		Select("updated_at").
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return st, err
	}
	st.MaxUpdatedAt = &row.UpdatedAt
	return st, nil
}
