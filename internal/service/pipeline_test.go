package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/repository"
	"gorm.io/gorm"
)

type pipelineHarness struct {
	db       *gorm.DB
	jobs     *repository.JobRepository
	docs     *repository.DocumentRepository
	chunks   *repository.ChunkRepository
	store    *memStore
	parser   *fakeParser
	index    *fakeIndex
	embedder *fakeEmbedder
	pipeline *Pipeline
	webhooks *WebhookService
	intake   *IntakeService
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	db := newTestDB(t)
	h := &pipelineHarness{
		db:       db,
		jobs:     repository.NewJobRepository(db),
		docs:     repository.NewDocumentRepository(db),
		chunks:   repository.NewChunkRepository(db),
		store:    newMemStore(),
		parser:   &fakeParser{},
		index:    &fakeIndex{},
		embedder: &fakeEmbedder{},
	}

	pipeCfg := config.PipelineConfig{
		MaxRetries:     2,
		BackoffBase:    time.Nanosecond,
		BackoffCap:     time.Nanosecond,
		ChunkTarget:    80,
		ChunkOverlap:   10,
		ChunkLookahead: 20,
	}

	worker, err := NewEmbedWorker(h.chunks, h.index, h.embedder, 2, 2, testLogger())
	require.NoError(t, err)
	t.Cleanup(worker.Release)

	h.pipeline = NewPipeline(
		h.db, h.jobs, h.docs, h.chunks, h.store, h.parser,
		NewChunker(pipeCfg.ChunkTarget, pipeCfg.ChunkOverlap, pipeCfg.ChunkLookahead),
		worker,
		"test-embed", "ev1",
		"http://api.test",
		pipeCfg,
		testLogger(),
	)
	h.webhooks = NewWebhookService(h.db, h.jobs, h.docs, repository.NewWebhookEventRepository(db), h.store, pipeCfg)
	h.intake = NewIntakeService(h.docs, h.jobs, h.store, config.IntakeConfig{
		MaxBytes:     1 << 20,
		AllowedMIMEs: []string{"text/plain"},
	}, time.Minute, testLogger())
	return h
}

func (h *pipelineHarness) jobState(t *testing.T, jobID string) domain.JobState {
	t.Helper()
	var job domain.Job
	require.NoError(t, h.db.First(&job, "id = ?", jobID).Error)
	return job.State
}

func (h *pipelineHarness) job(t *testing.T, jobID string) *domain.Job {
	t.Helper()
	var job domain.Job
	require.NoError(t, h.db.First(&job, "id = ?", jobID).Error)
	return &job
}

func TestPipelineEndToEnd(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	result, err := h.intake.Upload(ctx, &UploadRequest{
		OwnerID:  "owner-a",
		Filename: "notes.txt",
		MimeType: "text/plain",
		Content:  []byte("raw upload bytes"),
	})
	require.NoError(t, err)

	// worker pass: queued -> parse submitted
	h.pipeline.RunOnce(ctx)
	require.Equal(t, domain.JobStateParseQueued, h.jobState(t, result.JobID))
	require.Len(t, h.parser.submitted(), 1)
	req := h.parser.submitted()[0]
	assert.Contains(t, req.CallbackURL, result.JobID)
	assert.NotEmpty(t, req.SourceURL)
	assert.NotEmpty(t, req.Secret)

	// provider calls back with extracted text
	text := strings.Repeat("One more useful sentence for the corpus. ", 12)
	body := successPayload(t, text)
	require.NoError(t, h.webhooks.HandleCallback(ctx, result.JobID, body, SignPayload(req.Secret, body)))
	require.Equal(t, domain.JobStateParsed, h.jobState(t, result.JobID))

	// worker passes drive the job to completion
	for i := 0; i < 4 && h.jobState(t, result.JobID) != domain.JobStateComplete; i++ {
		h.pipeline.RunOnce(ctx)
	}
	require.Equal(t, domain.JobStateComplete, h.jobState(t, result.JobID))

	var chunks []domain.Chunk
	require.NoError(t, h.db.Find(&chunks, "document_id = ?", result.DocumentID).Error)
	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.True(t, chunk.Embedded)
		assert.Equal(t, "owner-a", chunk.OwnerID)
		assert.Equal(t, ChunkerVersion, chunk.ChunkerVersion)
		assert.Equal(t, "test-embed", chunk.EmbedModel)
	}
	assert.Len(t, h.index.stored(), len(chunks))

	job := h.job(t, result.JobID)
	assert.Equal(t, len(chunks), job.Progress.ChunksTotal)
	assert.Equal(t, len(chunks), job.Progress.ChunksEmbedded)
}

func TestPipelineReprocessIsDeterministic(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	upload := func() string {
		result, err := h.intake.Upload(ctx, &UploadRequest{
			OwnerID:  "owner-a",
			Filename: "notes.txt",
			MimeType: "text/plain",
			Content:  []byte("same bytes as before"),
		})
		require.NoError(t, err)
		return result.JobID
	}

	runToCompletion := func(jobID string) []domain.Chunk {
		h.pipeline.RunOnce(ctx)
		req := h.parser.submitted()[len(h.parser.submitted())-1]
		body := successPayload(t, "Stable text. Always the same. Every single run.")
		require.NoError(t, h.webhooks.HandleCallback(ctx, jobID, body, SignPayload(req.Secret, body)))
		for i := 0; i < 4 && h.jobState(t, jobID) != domain.JobStateComplete; i++ {
			h.pipeline.RunOnce(ctx)
		}
		require.Equal(t, domain.JobStateComplete, h.jobState(t, jobID))

		var chunks []domain.Chunk
		require.NoError(t, h.db.Order("ordinal").Find(&chunks).Error)
		return chunks
	}

	first := runToCompletion(upload())

	// force a fresh attempt for the same content
	require.NoError(t, h.db.Model(&domain.Job{}).
		Where("1 = 1").Update("state", domain.JobStateFailedEmbed).Error)
	second := runToCompletion(upload())

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "reprocessing must hit identical chunk IDs")
	}
}

func TestPipelineParseSubmitFailureRetries(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.parser.failure = domain.Retryable("", "provider unreachable", nil)

	result, err := h.intake.Upload(ctx, &UploadRequest{
		OwnerID:  "owner-a",
		Filename: "notes.txt",
		MimeType: "text/plain",
		Content:  []byte("content"),
	})
	require.NoError(t, err)

	h.pipeline.RunOnce(ctx)

	job := h.job(t, result.JobID)
	assert.Equal(t, domain.JobStateQueued, job.State)
	assert.Equal(t, 1, job.RetryCount)
	assert.NotEmpty(t, job.ErrorRef)
}

func TestPipelineParseSubmitPermanentFailure(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.parser.failure = domain.Permanent("", "unsupported file type", nil)

	result, err := h.intake.Upload(ctx, &UploadRequest{
		OwnerID:  "owner-a",
		Filename: "notes.txt",
		MimeType: "text/plain",
		Content:  []byte("content"),
	})
	require.NoError(t, err)

	h.pipeline.RunOnce(ctx)

	job := h.job(t, result.JobID)
	assert.Equal(t, domain.JobStateFailedParse, job.State)
	assert.Equal(t, "unsupported file type", job.LastError)
}

func TestPipelineMissingTextFailsChunkStage(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	doc := &domain.Document{
		ID: "doc-1", OwnerID: "owner-a", ContentHash: "h",
		StoragePath: "raw/doc-1/h", TextPath: "text/doc-1/missing.txt",
	}
	require.NoError(t, h.db.Create(doc).Error)
	job := &domain.Job{ID: "job-1", DocumentID: doc.ID, State: domain.JobStateParseValidated}
	require.NoError(t, h.db.Create(job).Error)

	h.pipeline.RunOnce(ctx)

	// unreadable extracted text is permanent, not retried
	updated := h.job(t, "job-1")
	assert.Equal(t, domain.JobStateFailedChunk, updated.State)
	assert.NotEmpty(t, updated.ErrorRef)
}

func TestPipelineEmbeddingFailureRequeues(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()
	h.index.failure = assert.AnError

	doc := &domain.Document{
		ID: "doc-1", OwnerID: "owner-a", ContentHash: "h", StoragePath: "raw/doc-1/h",
	}
	require.NoError(t, h.db.Create(doc).Error)
	require.NoError(t, h.db.Create(&domain.Chunk{
		ID: "chunk-1", DocumentID: doc.ID, OwnerID: doc.OwnerID,
		Ordinal: 0, Text: "text", TokenCount: 1, ChunkerVersion: ChunkerVersion,
	}).Error)
	job := &domain.Job{ID: "job-1", DocumentID: doc.ID, State: domain.JobStateEmbeddingQueued}
	require.NoError(t, h.db.Create(job).Error)

	h.pipeline.RunOnce(ctx)

	updated := h.job(t, "job-1")
	assert.Equal(t, domain.JobStateEmbeddingQueued, updated.State)
	assert.Equal(t, 1, updated.RetryCount)

	// once the index recovers, the retry finishes the job
	h.index.failure = nil
	require.NoError(t, h.db.Model(&domain.Job{}).
		Where("id = ?", "job-1").Update("next_attempt_at", nil).Error)

	for i := 0; i < 3 && h.jobState(t, "job-1") != domain.JobStateComplete; i++ {
		h.pipeline.RunOnce(ctx)
	}
	assert.Equal(t, domain.JobStateComplete, h.jobState(t, "job-1"))
}

func TestPipelineRecoversLostHandoffs(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	// a crash after the chunk-store commit leaves the job in chunks_stored
	chunked := &domain.Document{
		ID: "doc-chunked", OwnerID: "owner-a", ContentHash: "h1", StoragePath: "raw/doc-chunked/h1",
	}
	require.NoError(t, h.db.Create(chunked).Error)
	require.NoError(t, h.db.Create(&domain.Chunk{
		ID: "chunk-1", DocumentID: chunked.ID, OwnerID: chunked.OwnerID,
		Ordinal: 0, Text: "text", TokenCount: 1, ChunkerVersion: ChunkerVersion,
	}).Error)
	require.NoError(t, h.db.Create(&domain.Job{
		ID: "job-chunked", DocumentID: chunked.ID, State: domain.JobStateChunksStored,
	}).Error)

	// and one stranded between embeddings_stored and complete
	embedded := &domain.Document{
		ID: "doc-embedded", OwnerID: "owner-a", ContentHash: "h2", StoragePath: "raw/doc-embedded/h2",
	}
	require.NoError(t, h.db.Create(embedded).Error)
	require.NoError(t, h.db.Create(&domain.Job{
		ID: "job-embedded", DocumentID: embedded.ID, State: domain.JobStateEmbeddingsStored,
	}).Error)

	for i := 0; i < 3; i++ {
		h.pipeline.RunOnce(ctx)
	}

	assert.Equal(t, domain.JobStateComplete, h.jobState(t, "job-chunked"))
	assert.Equal(t, domain.JobStateComplete, h.jobState(t, "job-embedded"))
}

func TestPipelineDuplicateRace(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	doc := &domain.Document{
		ID: "doc-1", OwnerID: "owner-a", ContentHash: "h", StoragePath: "raw/doc-1/h",
	}
	require.NoError(t, h.db.Create(doc).Error)

	done := &domain.Job{ID: "job-done", DocumentID: doc.ID, State: domain.JobStateComplete}
	require.NoError(t, h.db.Create(done).Error)
	racer := &domain.Job{ID: "job-racer", DocumentID: doc.ID, State: domain.JobStateQueued}
	require.NoError(t, h.db.Create(racer).Error)

	h.pipeline.RunOnce(ctx)

	assert.Equal(t, domain.JobStateDuplicate, h.jobState(t, "job-racer"))
	assert.Empty(t, h.parser.submitted(), "a duplicate must not reach the parse provider")
}
