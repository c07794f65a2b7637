package service

import (
	"context"
	"sort"
	"time"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/logger"
	"github.com/docstream/corpusd/internal/repository"
)

// RetrievalService answers semantic queries over a single owner's chunks.
type RetrievalService struct {
	index    VectorIndex
	embedder EmbeddingProvider
	chunks   *repository.ChunkRepository
	cfg      config.RetrievalConfig
}

func NewRetrievalService(index VectorIndex, embedder EmbeddingProvider, chunks *repository.ChunkRepository, cfg config.RetrievalConfig) *RetrievalService {
	return &RetrievalService{
		index:    index,
		embedder: embedder,
		chunks:   chunks,
		cfg:      cfg,
	}
}

// Query holds one retrieval request. Callers supply either a precomputed
// query embedding or raw text to embed on their behalf. Zero-valued limits
// fall back to the configured defaults.
type Query struct {
	OwnerID     string
	Text        string
	Vector      []float32
	MaxChunks   int
	TokenBudget int
}

// Retrieve searches the owner's slice of the index and returns ranked chunks
// trimmed to the token budget.
func (s *RetrievalService) Retrieve(ctx context.Context, q Query) ([]domain.RetrievedChunk, error) {
	if q.OwnerID == "" {
		return nil, domain.Validation("owner is required")
	}
	if q.Text == "" && len(q.Vector) == 0 {
		return nil, domain.Validation("either query text or a query embedding is required")
	}
	maxChunks := q.MaxChunks
	if maxChunks <= 0 || maxChunks > s.cfg.MaxChunks {
		maxChunks = s.cfg.MaxChunks
	}
	budget := q.TokenBudget
	if budget <= 0 {
		budget = s.cfg.TokenBudget
	}

	start := time.Now()
	vector := q.Vector
	if len(vector) == 0 {
		v, err := s.embedder.EmbedQuery(ctx, q.Text)
		if err != nil {
			return nil, err
		}
		vector = v
	}

	hits, err := s.index.Search(ctx, q.OwnerID, vector, maxChunks, s.cfg.SimilarityThreshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []domain.RetrievedChunk{}, nil
	}

	ids := make([]string, len(hits))
	scores := make(map[string]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.Payload.ChunkID
		scores[h.Payload.ChunkID] = h.Score
	}

	// Hydrate full rows; a hit whose row has been deleted since indexing is
	// silently dropped.
	rows, err := s.chunks.GetByIDs(ctx, q.OwnerID, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]domain.RetrievedChunk, 0, len(rows))
	for i := range rows {
		candidates = append(candidates, domain.RetrievedChunk{
			Chunk: rows[i],
			Score: scores[rows[i].ID],
		})
	}

	results := rankAndTrim(candidates, maxChunks, budget)

	logger.With(logger.Fields{
		logger.FieldCount:      len(results),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "retrieval served")
	return results, nil
}

// rankAndTrim orders candidates by score (ties broken by lower ordinal) and
// greedily packs them into the token budget. Packing stops at the first chunk
// that would overflow the budget, so results are always a ranked prefix.
func rankAndTrim(candidates []domain.RetrievedChunk, maxChunks, tokenBudget int) []domain.RetrievedChunk {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Ordinal < candidates[j].Ordinal
	})

	results := make([]domain.RetrievedChunk, 0, len(candidates))
	used := 0
	for _, c := range candidates {
		if len(results) >= maxChunks {
			break
		}
		if used+c.TokenCount > tokenBudget {
			break
		}
		used += c.TokenCount
		results = append(results, c)
	}
	return results
}
