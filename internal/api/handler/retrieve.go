package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docstream/corpusd/internal/api/middleware"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/service"
)

// RetrieveHandler serves semantic retrieval queries.
type RetrieveHandler struct {
	retrieval *service.RetrievalService
}

// NewRetrieveHandler creates a new retrieval handler.
func NewRetrieveHandler(retrieval *service.RetrievalService) *RetrieveHandler {
	return &RetrieveHandler{retrieval: retrieval}
}

type retrieveRequest struct {
	Query       string    `json:"query"`
	Embedding   []float32 `json:"embedding"`
	MaxChunks   int       `json:"max_chunks"`
	TokenBudget int       `json:"token_budget"`
}

type retrieveResponse struct {
	Results []retrievedChunk `json:"results"`
	Total   int              `json:"total"`
}

type retrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Ordinal    int     `json:"ordinal"`
	Text       string  `json:"text"`
	TokenCount int     `json:"token_count"`
	Score      float32 `json:"score"`
}

// Retrieve handles POST /api/v1/retrieve.
func (h *RetrieveHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	results, err := h.retrieval.Retrieve(c.Request.Context(), service.Query{
		OwnerID:     middleware.OwnerID(c),
		Text:        req.Query,
		Vector:      req.Embedding,
		MaxChunks:   req.MaxChunks,
		TokenBudget: req.TokenBudget,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toRetrieveResponse(results))
}

func toRetrieveResponse(results []domain.RetrievedChunk) retrieveResponse {
	out := retrieveResponse{
		Results: make([]retrievedChunk, len(results)),
		Total:   len(results),
	}
	for i, r := range results {
		out.Results[i] = retrievedChunk{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			Ordinal:    r.Ordinal,
			Text:       r.Text,
			TokenCount: r.TokenCount,
			Score:      r.Score,
		}
	}
	return out
}
