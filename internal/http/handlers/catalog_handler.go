// Catalog HTTP handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campusdocs/go-registrar-backend/internal/domain"
)

// ListDocumentTypesResponse wraps the catalog listing.
type ListDocumentTypesResponse struct {
	Documents []domain.DocumentType `json:"documents"`
}

// ListDocumentTypes godoc
// @ID          listDocumentTypes
// @Summary     List requestable document types
// @Description Returns the catalog of document types with prices and processing estimates, ordered by name.
// @Tags        Catalog
// @Produce     json
//
// @Success     200  {object} handlers.ListDocumentTypesResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents [get]
func (h *Handlers) ListDocumentTypes(c *gin.Context) {
	docs, err := h.catSvc.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListDocumentTypesResponse{Documents: docs})
}
