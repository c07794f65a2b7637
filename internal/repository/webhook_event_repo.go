package repository

import (
	"context"

	"github.com/docstream/corpusd/internal/domain"
	"gorm.io/gorm"
)

// WebhookEventRepository handles the callback idempotency ledger.
type WebhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new WebhookEventRepository.
func NewWebhookEventRepository(db *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *WebhookEventRepository) WithTx(tx *gorm.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: tx}
}

// WasApplied reports whether a payload digest has already been applied for a
// job.
func (r *WebhookEventRepository) WasApplied(ctx context.Context, jobID, digest string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.WebhookEvent{}).
		Where("job_id = ? AND payload_digest = ? AND applied = ?", jobID, digest, true).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordApplied writes the ledger row marking a payload as applied. It must
// run inside the same transaction as the job state change it records, so a
// crash between the two can only lose the pair together and the callback is
// safely reprocessed on redelivery.
func (r *WebhookEventRepository) RecordApplied(ctx context.Context, event *domain.WebhookEvent) error {
	event.Applied = true
	return r.db.WithContext(ctx).Create(event).Error
}
