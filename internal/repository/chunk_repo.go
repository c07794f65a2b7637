package repository

import (
	"context"

	"github.com/docstream/corpusd/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChunkRepository handles chunk data operations. Chunk rows are append-only
// per (document_id, chunker_version); the embedding columns are set exactly
// once by the embedding worker.
type ChunkRepository struct {
	db *gorm.DB
}

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *ChunkRepository) WithTx(tx *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

// CreateBatch inserts chunk rows in bulk. Chunk IDs are deterministic, so a
// reprocessed batch conflicts on primary key and is ignored rather than
// duplicated.
func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&chunks).Error
}

// ListPending returns unembedded chunks for a document and chunker version,
// ordered by ordinal.
func (r *ChunkRepository) ListPending(ctx context.Context, documentID, chunkerVersion string, limit int) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	q := r.db.WithContext(ctx).
		Where("document_id = ? AND chunker_version = ? AND embedded = ?", documentID, chunkerVersion, false).
		Order("ordinal ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// MarkEmbedded records the embedding model/version pair for the given chunk
// IDs. The pair is written together with the flag so a chunk row never
// carries a mismatched combination.
func (r *ChunkRepository) MarkEmbedded(ctx context.Context, ids []string, embedModel, embedVersion string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&domain.Chunk{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"embedded":      true,
			"embed_model":   embedModel,
			"embed_version": embedVersion,
		}).Error
}

// CountPending counts unembedded chunks for a document and chunker version.
func (r *ChunkRepository) CountPending(ctx context.Context, documentID, chunkerVersion string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Chunk{}).
		Where("document_id = ? AND chunker_version = ? AND embedded = ?", documentID, chunkerVersion, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// GetByIDs retrieves chunks by ID, restricted to the given owner. The owner
// filter is part of the query, not a post-check: rows belonging to other
// owners are simply never loaded.
func (r *ChunkRepository) GetByIDs(ctx context.Context, ownerID string, ids []string) ([]domain.Chunk, error) {
	if len(ids) == 0 {
		return []domain.Chunk{}, nil
	}
	var chunks []domain.Chunk
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}

// ListByDocument retrieves a document's chunks for one chunker version,
// owner-scoped, in ordinal order.
func (r *ChunkRepository) ListByDocument(ctx context.Context, ownerID, documentID string) ([]domain.Chunk, error) {
	var chunks []domain.Chunk
	if err := r.db.WithContext(ctx).
		Where("owner_id = ? AND document_id = ?", ownerID, documentID).
		Order("ordinal ASC").
		Find(&chunks).Error; err != nil {
		return nil, err
	}
	return chunks, nil
}
