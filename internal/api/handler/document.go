package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docstream/corpusd/internal/api/middleware"
	"github.com/docstream/corpusd/internal/repository"
)

// DocumentHandler serves document listing and inspection endpoints.
type DocumentHandler struct {
	docs   *repository.DocumentRepository
	chunks *repository.ChunkRepository
	index  *repository.QdrantRepository
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(docs *repository.DocumentRepository, chunks *repository.ChunkRepository, index *repository.QdrantRepository) *DocumentHandler {
	return &DocumentHandler{docs: docs, chunks: chunks, index: index}
}

// ListDocuments handles GET /api/v1/documents.
func (h *DocumentHandler) ListDocuments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	docs, err := h.docs.ListByOwner(c.Request.Context(), middleware.OwnerID(c), limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

// GetDocument handles GET /api/v1/documents/:id.
func (h *DocumentHandler) GetDocument(c *gin.Context) {
	doc, err := h.docs.GetOwned(c.Request.Context(), middleware.OwnerID(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListChunks handles GET /api/v1/documents/:id/chunks.
func (h *DocumentHandler) ListChunks(c *gin.Context) {
	ownerID := middleware.OwnerID(c)

	if _, err := h.docs.GetOwned(c.Request.Context(), ownerID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	chunks, err := h.chunks.ListByDocument(c.Request.Context(), ownerID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"chunks": chunks,
		"total":  len(chunks),
	})
}

// DeleteDocument handles DELETE /api/v1/documents/:id. The row is
// soft-deleted and the document's vectors are removed so retrieval stops
// matching them immediately.
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	id := c.Param("id")

	if _, err := h.docs.GetOwned(c.Request.Context(), ownerID, id); err != nil {
		respondError(c, err)
		return
	}

	if err := h.index.DeleteByDocument(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	if err := h.docs.SoftDelete(c.Request.Context(), ownerID, id); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
