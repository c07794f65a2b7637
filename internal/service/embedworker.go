package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/logger"
	"github.com/docstream/corpusd/internal/repository"
	"github.com/panjf2000/ants/v2"
)

// EmbedWorker computes and persists embeddings for a job's chunks. Batches
// run concurrently on a bounded pool; a batch is only marked embedded after
// its vectors are stored in the index, so the (embed_model, embed_version)
// pair on a chunk row always matches a stored vector.
type EmbedWorker struct {
	chunks    *repository.ChunkRepository
	index     VectorIndex
	embedder  EmbeddingProvider
	pool      *ants.Pool
	batchSize int
	log       *logger.Logger
}

// NewEmbedWorker creates an embedding worker with the given pool size and
// batch size.
func NewEmbedWorker(
	chunks *repository.ChunkRepository,
	index VectorIndex,
	embedder EmbeddingProvider,
	poolSize, batchSize int,
	log *logger.Logger,
) (*EmbedWorker, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	if batchSize < 1 {
		batchSize = 16
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}
	return &EmbedWorker{
		chunks:    chunks,
		index:     index,
		embedder:  embedder,
		pool:      pool,
		batchSize: batchSize,
		log:       log,
	}, nil
}

// Release frees the worker pool.
func (w *EmbedWorker) Release() {
	w.pool.Release()
}

// EmbedOutcome summarizes one embedding pass over a job's pending chunks.
type EmbedOutcome struct {
	Total    int
	Embedded int
	Failed   int
}

// ProcessDocument embeds every pending chunk of a document. Previously
// embedded chunks are skipped, so a retry after a partial failure works on
// the failed subset only. A non-nil error is returned when any batch failed;
// the outcome still reports what succeeded.
func (w *EmbedWorker) ProcessDocument(ctx context.Context, doc *domain.Document, chunkerVersion string) (*EmbedOutcome, error) {
	pending, err := w.chunks.ListPending(ctx, doc.ID, chunkerVersion, 0)
	if err != nil {
		return nil, err
	}

	outcome := &EmbedOutcome{Total: len(pending)}
	if len(pending) == 0 {
		return outcome, nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []error
	)

	for start := 0; start < len(pending); start += w.batchSize {
		end := start + w.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		wg.Add(1)
		submitErr := w.pool.Submit(func() {
			defer wg.Done()
			n, err := w.processBatch(ctx, doc, batch)
			mu.Lock()
			outcome.Embedded += n
			if err != nil {
				outcome.Failed += len(batch) - n
				failures = append(failures, err)
			}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			outcome.Failed += len(batch)
			failures = append(failures, submitErr)
			mu.Unlock()
		}
	}

	wg.Wait()

	if len(failures) > 0 {
		logger.CtxWarn(ctx, "embedding pass finished with %d failed chunks of %d", outcome.Failed, outcome.Total)
		return outcome, errors.Join(failures...)
	}
	return outcome, nil
}

// processBatch embeds one batch and persists vectors plus row flags,
// returning how many chunks were fully stored.
func (w *EmbedWorker) processBatch(ctx context.Context, doc *domain.Document, batch []domain.Chunk) (int, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch starting at ordinal %d: %w", batch[0].Ordinal, err)
	}

	points := make([]repository.ChunkPoint, len(batch))
	ids := make([]string, len(batch))
	for i, chunk := range batch {
		ids[i] = chunk.ID
		points[i] = repository.ChunkPoint{
			Vector: vectors[i],
			Payload: repository.ChunkPayload{
				ChunkID:    chunk.ID,
				DocumentID: chunk.DocumentID,
				OwnerID:    chunk.OwnerID,
				Ordinal:    chunk.Ordinal,
				TokenCount: chunk.TokenCount,
			},
		}
	}

	if err := w.index.UpsertBatch(ctx, points); err != nil {
		return 0, fmt.Errorf("store vectors for batch at ordinal %d: %w", batch[0].Ordinal, err)
	}

	if err := w.chunks.MarkEmbedded(ctx, ids, w.embedder.Model(), w.embedder.Version()); err != nil {
		return 0, fmt.Errorf("mark batch embedded at ordinal %d: %w", batch[0].Ordinal, err)
	}

	return len(batch), nil
}
