package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/repository"
)

func mkCandidate(id string, ordinal, tokens int, score float32) domain.RetrievedChunk {
	return domain.RetrievedChunk{
		Chunk: domain.Chunk{ID: id, Ordinal: ordinal, TokenCount: tokens},
		Score: score,
	}
}

func TestRankAndTrimOrdering(t *testing.T) {
	candidates := []domain.RetrievedChunk{
		mkCandidate("low", 0, 10, 0.5),
		mkCandidate("high", 3, 10, 0.9),
		mkCandidate("mid", 1, 10, 0.7),
	}

	results := rankAndTrim(candidates, 10, 1000)
	require.Len(t, results, 3)
	assert.Equal(t, "high", results[0].ID)
	assert.Equal(t, "mid", results[1].ID)
	assert.Equal(t, "low", results[2].ID)
}

func TestRankAndTrimTieBreakByOrdinal(t *testing.T) {
	candidates := []domain.RetrievedChunk{
		mkCandidate("later", 7, 10, 0.8),
		mkCandidate("earlier", 2, 10, 0.8),
	}

	results := rankAndTrim(candidates, 10, 1000)
	require.Len(t, results, 2)
	assert.Equal(t, "earlier", results[0].ID)
	assert.Equal(t, "later", results[1].ID)
}

func TestRankAndTrimTokenBudgetStopsAtOverflow(t *testing.T) {
	candidates := []domain.RetrievedChunk{
		mkCandidate("a", 0, 40, 0.9),
		mkCandidate("b", 1, 40, 0.8),
		mkCandidate("c", 2, 5, 0.7), // would fit, but packing stops at b
	}

	results := rankAndTrim(candidates, 10, 70)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestRankAndTrimMaxChunks(t *testing.T) {
	candidates := []domain.RetrievedChunk{
		mkCandidate("a", 0, 1, 0.9),
		mkCandidate("b", 1, 1, 0.8),
		mkCandidate("c", 2, 1, 0.7),
	}

	results := rankAndTrim(candidates, 2, 1000)
	assert.Len(t, results, 2)
}

func TestRankAndTrimEmpty(t *testing.T) {
	assert.Empty(t, rankAndTrim(nil, 5, 100))
}

func TestRetrieveOwnerScoping(t *testing.T) {
	db := newTestDB(t)
	chunkRepo := repository.NewChunkRepository(db)
	ctx := context.Background()

	mine := domain.Chunk{
		ID: "chunk-mine", DocumentID: "doc-1", OwnerID: "owner-a",
		Ordinal: 0, Text: "my text", TokenCount: 2, ChunkerVersion: ChunkerVersion,
	}
	theirs := domain.Chunk{
		ID: "chunk-theirs", DocumentID: "doc-2", OwnerID: "owner-b",
		Ordinal: 0, Text: "their text", TokenCount: 2, ChunkerVersion: ChunkerVersion,
	}
	require.NoError(t, chunkRepo.CreateBatch(ctx, []domain.Chunk{mine, theirs}))

	// index returns a hit the relational layer must refuse to hydrate for
	// the wrong owner
	index := &fakeIndex{hits: []repository.ScoredChunk{
		{Score: 0.9, Payload: repository.ChunkPayload{ChunkID: "chunk-mine", OwnerID: "owner-a"}},
		{Score: 0.8, Payload: repository.ChunkPayload{ChunkID: "chunk-theirs", OwnerID: "owner-b"}},
	}}

	svc := NewRetrievalService(index, &fakeEmbedder{}, chunkRepo, config.RetrievalConfig{
		MaxChunks: 8, TokenBudget: 2048,
	})

	results, err := svc.Retrieve(ctx, Query{OwnerID: "owner-a", Text: "anything"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk-mine", results[0].ID)
}

func TestRetrieveValidation(t *testing.T) {
	svc := NewRetrievalService(&fakeIndex{}, &fakeEmbedder{}, repository.NewChunkRepository(newTestDB(t)), config.RetrievalConfig{
		MaxChunks: 8, TokenBudget: 2048,
	})

	_, err := svc.Retrieve(context.Background(), Query{OwnerID: "", Text: "q"})
	assert.Error(t, err)

	_, err = svc.Retrieve(context.Background(), Query{OwnerID: "owner-a", Text: ""})
	assert.Error(t, err)
}

func TestRetrieveAcceptsPrecomputedEmbedding(t *testing.T) {
	db := newTestDB(t)
	chunkRepo := repository.NewChunkRepository(db)
	ctx := context.Background()

	chunk := domain.Chunk{
		ID: "chunk-1", DocumentID: "doc-1", OwnerID: "owner-a",
		Ordinal: 0, Text: "text", TokenCount: 1, ChunkerVersion: ChunkerVersion,
	}
	require.NoError(t, chunkRepo.CreateBatch(ctx, []domain.Chunk{chunk}))

	index := &fakeIndex{hits: []repository.ScoredChunk{
		{Score: 0.9, Payload: repository.ChunkPayload{ChunkID: "chunk-1", OwnerID: "owner-a"}},
	}}
	embedder := &fakeEmbedder{failOn: 1} // any embedding call would fail

	svc := NewRetrievalService(index, embedder, chunkRepo, config.RetrievalConfig{
		MaxChunks: 8, TokenBudget: 2048,
	})

	results, err := svc.Retrieve(ctx, Query{OwnerID: "owner-a", Vector: []float32{0.1, 0.2}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, embedder.calls, "a supplied embedding must not be recomputed")
}

func TestRetrieveEmbedsTextAsQuery(t *testing.T) {
	db := newTestDB(t)
	chunkRepo := repository.NewChunkRepository(db)
	ctx := context.Background()

	chunk := domain.Chunk{
		ID: "chunk-1", DocumentID: "doc-1", OwnerID: "owner-a",
		Ordinal: 0, Text: "text", TokenCount: 1, ChunkerVersion: ChunkerVersion,
	}
	require.NoError(t, chunkRepo.CreateBatch(ctx, []domain.Chunk{chunk}))

	index := &fakeIndex{hits: []repository.ScoredChunk{
		{Score: 0.9, Payload: repository.ChunkPayload{ChunkID: "chunk-1", OwnerID: "owner-a"}},
	}}
	embedder := &fakeEmbedder{}

	svc := NewRetrievalService(index, embedder, chunkRepo, config.RetrievalConfig{
		MaxChunks: 8, TokenBudget: 2048,
	})

	_, err := svc.Retrieve(ctx, Query{OwnerID: "owner-a", Text: "what is in the corpus"})
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.queryCalls, "query text must go through the query-side embedding")
}

func TestRetrieveNoHits(t *testing.T) {
	svc := NewRetrievalService(&fakeIndex{}, &fakeEmbedder{}, repository.NewChunkRepository(newTestDB(t)), config.RetrievalConfig{
		MaxChunks: 8, TokenBudget: 2048,
	})

	results, err := svc.Retrieve(context.Background(), Query{OwnerID: "owner-a", Text: "nothing matches"})
	require.NoError(t, err)
	assert.Empty(t, results)
}
