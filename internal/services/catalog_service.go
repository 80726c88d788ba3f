// Package services – CatalogService
//
// This file implements the CatalogService, the read path over the document
// catalog. The catalog itself is maintained out of band (seeded at startup,
// edited by operators); request creation only ever reads it to validate names
// and snapshot pricing.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
	"github.com/campusdocs/go-registrar-backend/internal/repo"
)

// CatalogService exposes catalog reads with document-name normalization, so
// "transcript of records" and "Transcript Of Records" resolve to the same
// entry.
type CatalogService struct {
	// DB is the GORM handle used for catalog queries.
	DB *gorm.DB
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(db *gorm.DB) *CatalogService {
	return &CatalogService{DB: db}
}

// List returns every catalog entry ordered by name.
func (s *CatalogService) List(ctx context.Context) ([]domain.DocumentType, error) {
	return repo.ListDocumentTypes(ctx, s.DB)
}

// Lookup resolves a document name to its catalog entry, normalizing case and
// whitespace first. Returns ErrUnknownDocument when the catalog has no such
// entry.
func (s *CatalogService) Lookup(ctx context.Context, name string) (*domain.DocumentType, error) {
	d, err := repo.GetDocumentTypeByName(ctx, s.DB, NormalizeDocumentName(name))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnknownDocument
		}
		return nil, err
	}
	return d, nil
}

// NormalizeDocumentName trims, collapses whitespace, and title-cases a
// document name. Catalog rows are stored in this canonical form; seeding and
// lookups share the function so the two can never drift.
func NormalizeDocumentName(name string) string {
	name = whitespaceRE.ReplaceAllString(strings.TrimSpace(name), " ")
	return cases.Title(language.English, cases.NoLower).String(strings.ToLower(name))
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)
