package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/identifier"
	"github.com/docstream/corpusd/internal/logger"
	"github.com/docstream/corpusd/internal/repository"
	"github.com/docstream/corpusd/internal/storage"
	"gorm.io/gorm"
)

// pipeline stage names for logging
const (
	stageParseSubmit   = "parse_submit"
	stageParseValidate = "parse_validate"
	stageChunking      = "chunking"
	stageEmbedQueue    = "embed_queue"
	stageEmbedding     = "embedding"
	stageFinalize      = "finalize"
)

const claimBatchSize = 10

// Pipeline advances jobs through the processing state machine. Multiple
// pipeline instances may run concurrently: every stage entry is a guarded
// transition on the job row, so at most one instance's claim commits and
// losers walk away without side effects.
type Pipeline struct {
	db       *gorm.DB
	jobs     *repository.JobRepository
	docs     *repository.DocumentRepository
	chunks   *repository.ChunkRepository
	store    storage.ObjectStorage
	parser   ParseProvider
	chunker  *Chunker
	embedder *EmbedWorker

	embedModel   string
	embedVersion string
	callbackBase string
	cfg          config.PipelineConfig
	log          *logger.Logger
}

// NewPipeline creates a pipeline orchestrator.
func NewPipeline(
	db *gorm.DB,
	jobs *repository.JobRepository,
	docs *repository.DocumentRepository,
	chunks *repository.ChunkRepository,
	store storage.ObjectStorage,
	parser ParseProvider,
	chunker *Chunker,
	embedder *EmbedWorker,
	embedModel, embedVersion, callbackBase string,
	cfg config.PipelineConfig,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		db:           db,
		jobs:         jobs,
		docs:         docs,
		chunks:       chunks,
		store:        store,
		parser:       parser,
		chunker:      chunker,
		embedder:     embedder,
		embedModel:   embedModel,
		embedVersion: embedVersion,
		callbackBase: strings.TrimSuffix(callbackBase, "/"),
		cfg:          cfg,
		log:          log,
	}
}

// RunOnce executes one polling pass over every worker-owned stage. The
// chunks_stored and embeddings_stored hand-off states are polled too: their
// forward transitions normally fire inline, but a crash or a transient error
// between a stage commit and its hand-off would otherwise strand the job.
func (p *Pipeline) RunOnce(ctx context.Context) {
	p.runStage(ctx, domain.JobStateQueued, stageParseSubmit, p.submitParse)
	p.runStage(ctx, domain.JobStateParsed, stageParseValidate, p.validateParse)
	p.runStage(ctx, domain.JobStateParseValidated, stageChunking, p.chunkDocument)
	p.runStage(ctx, domain.JobStateChunksStored, stageEmbedQueue, p.queueEmbedding)
	p.runStage(ctx, domain.JobStateEmbeddingQueued, stageEmbedding, p.embedDocument)
	p.runStage(ctx, domain.JobStateEmbeddingsStored, stageFinalize, p.finishJob)
}

// runStage polls for claimable jobs in one state and hands each to the stage
// function. Stage functions claim the job themselves; a lost claim is not an
// error.
func (p *Pipeline) runStage(ctx context.Context, state domain.JobState, stage string, fn func(context.Context, *domain.Job) error) {
	jobs, err := p.jobs.FindReady(ctx, state, claimBatchSize)
	if err != nil {
		p.log.WithError(err).Errorf("failed to poll %s jobs", state)
		return
	}

	for i := range jobs {
		job := jobs[i]
		jctx := logger.SetStage(logger.SetJobID(ctx, job.ID), stage)
		jctx = logger.SetDocumentID(jctx, job.DocumentID)
		if err := fn(jctx, &job); err != nil {
			logger.CtxError(jctx, "stage failed: %v", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// submitParse claims a queued job and fires the parse request. The job waits
// in parse_queued until the provider's callback arrives.
func (p *Pipeline) submitParse(ctx context.Context, job *domain.Job) error {
	doc, err := p.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return err
	}

	// Two uploads can race before the first completes; if a sibling job has
	// already finished this document, this attempt is a duplicate success.
	if done, err := p.jobs.HasCompleted(ctx, job.DocumentID, job.ID); err != nil {
		return err
	} else if done {
		_, err := p.jobs.Transition(ctx, job.ID, domain.JobStateQueued, domain.JobStateDuplicate, nil)
		return err
	}

	secret, err := newParseSecret()
	if err != nil {
		return err
	}

	claimed, err := p.jobs.Transition(ctx, job.ID, domain.JobStateQueued, domain.JobStateParseQueued, map[string]interface{}{
		"parse_secret":    secret,
		"next_attempt_at": nil,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil // another worker won the race
	}

	sourceURL, err := p.store.PresignGet(ctx, doc.StoragePath, time.Hour)
	if err != nil {
		p.failOrRetry(ctx, job, domain.JobStateParseQueued,
			domain.Retryable("", "could not issue source URL", err))
		return nil
	}

	req := &ParseRequest{
		JobID:       job.ID,
		SourceURL:   sourceURL,
		CallbackURL: fmt.Sprintf("%s/webhook/parse/%s", p.callbackBase, job.ID),
		Secret:      secret,
	}
	if err := p.parser.Submit(ctx, req); err != nil {
		p.failOrRetry(ctx, job, domain.JobStateParseQueued, err)
		return nil
	}

	logger.CtxInfo(ctx, "parse submitted, awaiting callback")
	return nil
}

// validateParse checks the extracted text before chunking is admitted.
func (p *Pipeline) validateParse(ctx context.Context, job *domain.Job) error {
	doc, err := p.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		return err
	}

	if doc.TextPath == "" {
		_, err := p.jobs.Transition(ctx, job.ID, domain.JobStateParsed, domain.JobStateFailedParse, map[string]interface{}{
			"last_error": "parsing produced no text",
			"error_ref":  newErrorRef(),
		})
		return err
	}

	_, err = p.jobs.Transition(ctx, job.ID, domain.JobStateParsed, domain.JobStateParseValidated, nil)
	return err
}

// chunkDocument claims a validated job, splits the extracted text and stores
// the chunk batch atomically with the state transition. Winning the claim is
// the admission ticket for writing chunks: no two workers ever write chunks
// for the same (document, chunker_version).
func (p *Pipeline) chunkDocument(ctx context.Context, job *domain.Job) error {
	claimed, err := p.jobs.Transition(ctx, job.ID, domain.JobStateParseValidated, domain.JobStateChunking, map[string]interface{}{
		"next_attempt_at": nil,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	doc, err := p.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		p.failOrRetry(ctx, job, domain.JobStateChunking, err)
		return nil
	}

	text, err := p.readText(ctx, doc)
	if err != nil {
		// Extracted text we wrote ourselves being unreadable is a storage
		// access defect, not a transient blip; surface it instead of
		// burning retries.
		p.failOrRetry(ctx, job, domain.JobStateChunking,
			domain.Permanent("", "document text is not accessible for processing", err))
		return nil
	}

	segments := p.chunker.Split(text)
	if len(segments) == 0 {
		p.failOrRetry(ctx, job, domain.JobStateChunking,
			domain.Permanent("", "document contains no usable text", nil))
		return nil
	}

	rows := make([]domain.Chunk, len(segments))
	for i, seg := range segments {
		rows[i] = domain.Chunk{
			ID:             identifier.ChunkID(doc.ID, ChunkerVersion, p.embedVersion, seg.Ordinal),
			DocumentID:     doc.ID,
			OwnerID:        doc.OwnerID,
			Ordinal:        seg.Ordinal,
			Text:           seg.Text,
			TokenCount:     seg.TokenCount,
			ChunkerVersion: ChunkerVersion,
		}
	}

	progress := job.Progress
	progress.ChunksTotal = len(rows)

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.chunks.WithTx(tx).CreateBatch(ctx, rows); err != nil {
			return err
		}
		moved, err := p.jobs.WithTx(tx).Transition(ctx, job.ID, domain.JobStateChunking, domain.JobStateChunksStored, map[string]interface{}{
			"progress": progress,
		})
		if err != nil {
			return err
		}
		if !moved {
			return fmt.Errorf("job %s left chunking state mid-stage", job.ID)
		}
		return nil
	})
	if err != nil {
		p.failOrRetry(ctx, job, domain.JobStateChunking, err)
		return nil
	}

	logger.CtxInfo(ctx, "stored %d chunks", len(rows))

	// hand straight to the embedding stage
	_, err = p.jobs.Transition(ctx, job.ID, domain.JobStateChunksStored, domain.JobStateEmbeddingQueued, nil)
	return err
}

// embedDocument claims an embedding-ready job and runs an embedding pass
// over its pending chunks.
func (p *Pipeline) embedDocument(ctx context.Context, job *domain.Job) error {
	claimed, err := p.jobs.Transition(ctx, job.ID, domain.JobStateEmbeddingQueued, domain.JobStateEmbeddingInProgress, map[string]interface{}{
		"next_attempt_at": nil,
	})
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	doc, err := p.docs.GetByID(ctx, job.DocumentID)
	if err != nil {
		p.failOrRetry(ctx, job, domain.JobStateEmbeddingInProgress, err)
		return nil
	}

	outcome, embedErr := p.embedder.ProcessDocument(ctx, doc, ChunkerVersion)
	if outcome != nil {
		progress := job.Progress
		progress.ChunksEmbedded += outcome.Embedded
		progress.FailedChunks = outcome.Failed
		job.Progress = progress
		if err := p.jobs.UpdateProgress(ctx, job.ID, progress); err != nil {
			logger.CtxWarn(ctx, "failed to record progress: %v", err)
		}
	}
	if embedErr != nil {
		p.failOrRetry(ctx, job, domain.JobStateEmbeddingInProgress, embedErr)
		return nil
	}

	// every chunk embedded: finish the job
	moved, err := p.jobs.Transition(ctx, job.ID, domain.JobStateEmbeddingInProgress, domain.JobStateEmbeddingsStored, nil)
	if err != nil || !moved {
		return err
	}
	_, err = p.jobs.Transition(ctx, job.ID, domain.JobStateEmbeddingsStored, domain.JobStateComplete, nil)
	if err == nil {
		logger.CtxInfo(ctx, "job complete")
	}
	return err
}

// queueEmbedding re-fires the chunks_stored hand-off. Idempotent under the
// transition guard; losing the race means the inline hand-off already landed.
func (p *Pipeline) queueEmbedding(ctx context.Context, job *domain.Job) error {
	_, err := p.jobs.Transition(ctx, job.ID, domain.JobStateChunksStored, domain.JobStateEmbeddingQueued, nil)
	return err
}

// finishJob re-fires the embeddings_stored hand-off.
func (p *Pipeline) finishJob(ctx context.Context, job *domain.Job) error {
	moved, err := p.jobs.Transition(ctx, job.ID, domain.JobStateEmbeddingsStored, domain.JobStateComplete, nil)
	if err == nil && moved {
		logger.CtxInfo(ctx, "job complete")
	}
	return err
}

// readText loads the extracted text of a document from storage.
func (p *Pipeline) readText(ctx context.Context, doc *domain.Document) (string, error) {
	rc, err := p.store.Download(ctx, doc.TextPath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// failOrRetry applies the retry/terminal rules for a stage failure observed
// while holding the given state. Retryable errors below the retry limit
// re-queue the job with backoff; permanent errors and exhausted budgets move
// it to the stage's terminal failure state with a redacted message and a
// correlation reference.
func (p *Pipeline) failOrRetry(ctx context.Context, job *domain.Job, held domain.JobState, cause error) {
	kind := domain.KindOf(cause)

	ref := newErrorRef()
	msg := "document processing failed"
	var pe *domain.PipelineError
	if errors.As(cause, &pe) && pe.Message != "" {
		msg = pe.Message
		if pe.Ref != "" {
			ref = pe.Ref
		}
	}

	if kind == domain.ErrorKindRetryable && job.RetryCount < p.cfg.MaxRetries {
		delay := backoffDelay(job.RetryCount+1, p.cfg.BackoffBase, p.cfg.BackoffCap)
		next := time.Now().Add(delay)
		moved, err := p.jobs.Transition(ctx, job.ID, held, held.RetryState(), map[string]interface{}{
			"retry_count":     job.RetryCount + 1,
			"last_error":      msg,
			"error_ref":       ref,
			"next_attempt_at": next,
		})
		if err != nil {
			logger.CtxError(ctx, "failed to requeue job: %v", err)
		} else if moved {
			logger.CtxWarn(ctx, "retry %d/%d in %s: %v", job.RetryCount+1, p.cfg.MaxRetries, delay.Round(time.Millisecond), cause)
		}
		return
	}

	moved, err := p.jobs.Transition(ctx, job.ID, held, held.FailureState(), map[string]interface{}{
		"last_error": msg,
		"error_ref":  ref,
	})
	if err != nil {
		logger.CtxError(ctx, "failed to mark job failed: %v", err)
	} else if moved {
		logger.With(logger.Fields{"error_ref": ref}).Error(ctx, "job failed permanently: %v", cause)
	}
}

// newParseSecret generates the per-job secret used to verify callback
// signatures.
func newParseSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// newErrorRef generates an opaque correlation reference for support lookups.
func newErrorRef() string {
	return identifier.EventID()
}
