package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/docstream/corpusd/internal/domain"
	"gorm.io/gorm"
)

// JobRepository handles job data operations. All state changes go through
// guarded transitions: an UPDATE conditioned on the expected current state,
// so under concurrent workers at most one update commits per stage.
type JobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a new JobRepository.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// WithTx returns a repository bound to the given transaction handle.
func (r *JobRepository) WithTx(tx *gorm.DB) *JobRepository {
	return &JobRepository{db: tx}
}

// Create inserts a new job record.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// GetByID retrieves a job by its ID.
func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// LatestByDocument retrieves the most recent job for a document.
func (r *JobRepository) LatestByDocument(ctx context.Context, documentID string) (*domain.Job, error) {
	var job domain.Job
	if err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at DESC").
		First(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// Transition atomically advances a job from an expected state to a new one,
// applying extra column updates in the same statement. It returns false
// without error when the guard fails, meaning another worker already moved
// the job; callers must treat that as "not mine" and walk away.
func (r *JobRepository) Transition(ctx context.Context, jobID string, from, to domain.JobState, updates map[string]interface{}) (bool, error) {
	if !domain.CanTransition(from, to) {
		return false, fmt.Errorf("illegal job transition %s -> %s", from, to)
	}

	values := map[string]interface{}{
		"state":      to,
		"updated_at": time.Now(),
	}
	for k, v := range updates {
		values[k] = v
	}

	tx := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND state = ?", jobID, from).
		Updates(values)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// FindReady returns jobs in the given state whose backoff delay, if any, has
// elapsed. Workers race on the returned jobs via Transition.
func (r *JobRepository) FindReady(ctx context.Context, state domain.JobState, limit int) ([]domain.Job, error) {
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", time.Now()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// FindStale returns non-terminal jobs untouched for longer than the
// staleness window, for the reaper to re-examine.
func (r *JobRepository) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]domain.Job, error) {
	terminal := []domain.JobState{
		domain.JobStateComplete,
		domain.JobStateFailedParse,
		domain.JobStateFailedChunk,
		domain.JobStateFailedEmbed,
		domain.JobStateDuplicate,
	}
	var jobs []domain.Job
	if err := r.db.WithContext(ctx).
		Where("state NOT IN ?", terminal).
		Where("updated_at < ?", olderThan).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// HasCompleted reports whether any other job already finished processing
// this document, which makes a still-queued sibling a duplicate.
func (r *JobRepository) HasCompleted(ctx context.Context, documentID, excludeJobID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("document_id = ? AND state = ? AND id <> ?", documentID, domain.JobStateComplete, excludeJobID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateProgress overwrites the stage progress metadata without touching
// state.
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID string, progress domain.JobProgress) error {
	return r.db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"progress":   progress,
			"updated_at": time.Now(),
		}).Error
}
