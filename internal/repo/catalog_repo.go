// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the document
// catalog. Catalog rows are read at request-creation time to validate and
// snapshot pricing; requests never hold live references to them.
package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
)

// ListDocumentTypes returns the full catalog ordered by name.
func ListDocumentTypes(ctx context.Context, db *gorm.DB) ([]domain.DocumentType, error) {
	var out []domain.DocumentType
	err := db.WithContext(ctx).Order("name asc").Find(&out).Error
	return out, err
}

// GetDocumentTypeByName fetches a catalog entry by its unique name, or
// ErrNotFound if the document is not offered.
func GetDocumentTypeByName(ctx context.Context, db *gorm.DB, name string) (*domain.DocumentType, error) {
	var d domain.DocumentType
	err := db.WithContext(ctx).Where("name = ?", name).First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// SeedDocumentTypes inserts the given catalog entries when the table is
// empty. An already-populated catalog is left untouched so operator edits
// survive restarts.
func SeedDocumentTypes(ctx context.Context, db *gorm.DB, entries []domain.DocumentType) error {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.DocumentType{}).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	for i := range entries {
		if entries[i].ID == "" {
			entries[i].ID = uuid.NewString()
		}
	}
	return db.WithContext(ctx).Create(&entries).Error
}
