package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
)

// newTestDB opens a unique in-memory SQLite database with the full schema.
// The pool is capped at one connection so concurrent test goroutines
// serialize at the pool instead of tripping SQLITE_BUSY.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedCatalog inserts a small document catalog covering the interesting
// shapes: priced, priced-with-details, and free.
func seedCatalog(t *testing.T, db *gorm.DB) {
	t.Helper()
	docs := []domain.DocumentType{
		{ID: uuid.NewString(), Name: "Transcript Of Records", Price: 150, ProcessingDays: 5},
		{ID: uuid.NewString(), Name: "Certified True Copy", Price: 30, ProcessingDays: 3, RequiresDetails: true},
		{ID: uuid.NewString(), Name: "Enrollment Certificate", Price: 0, ProcessingDays: 2},
	}
	for i := range docs {
		if err := db.Create(&docs[i]).Error; err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}
}

// seedRequest persists a bare request in the given state, bypassing the
// creation path so lifecycle tests can start anywhere in the graph.
func seedRequest(t *testing.T, db *gorm.DB, ownerID string, status domain.Status, payment domain.PaymentStatus, total int64) *domain.Request {
	t.Helper()
	queue, err := repo.NextQueueNumber(context.Background(), db)
	if err != nil {
		t.Fatalf("next queue number: %v", err)
	}
	req := &domain.Request{
		ID:            uuid.NewString(),
		QueueNumber:   queue,
		UserID:        ownerID,
		Purpose:       "employment",
		Status:        status,
		PaymentStatus: payment,
		TotalAmount:   total,
		EstimatedDays: 5,
		RequestedAt:   time.Now().UTC(),
	}
	if err := repo.CreateRequest(context.Background(), db, req); err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return req
}

// fakeNotifier records every broadcast it receives.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []*domain.Request
}

func (n *fakeNotifier) Broadcast(req *domain.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, req)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

var (
	adminActor = Actor{ID: "staff-1", Role: domain.RoleAdmin}
	ownerActor = Actor{ID: "user-1", Role: domain.RoleUser}
	otherActor = Actor{ID: "user-2", Role: domain.RoleUser}
)
