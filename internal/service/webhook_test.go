package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/repository"
	"gorm.io/gorm"
)

const testSecret = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newWebhookService(t *testing.T) (*WebhookService, *gorm.DB, *memStore) {
	t.Helper()
	db := newTestDB(t)
	store := newMemStore()
	svc := NewWebhookService(
		db,
		repository.NewJobRepository(db),
		repository.NewDocumentRepository(db),
		repository.NewWebhookEventRepository(db),
		store,
		config.PipelineConfig{MaxRetries: 3, BackoffBase: 1, BackoffCap: 10},
	)
	return svc, db, store
}

func seedParseQueuedJob(t *testing.T, db *gorm.DB) *domain.Job {
	t.Helper()
	doc := &domain.Document{
		ID: "doc-1", OwnerID: "owner-a",
		ContentHash: "aaaa", StoragePath: "raw/doc-1/aaaa",
	}
	require.NoError(t, db.Create(doc).Error)
	job := &domain.Job{
		ID: "job-1", DocumentID: doc.ID,
		State: domain.JobStateParseQueued, ParseSecret: testSecret,
	}
	require.NoError(t, db.Create(job).Error)
	return job
}

func successPayload(t *testing.T, text string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.ParseResult{Status: domain.ParseStatusSuccess, Text: text})
	require.NoError(t, err)
	return body
}

func TestHandleCallbackSuccess(t *testing.T) {
	svc, db, store := newWebhookService(t)
	job := seedParseQueuedJob(t, db)
	ctx := context.Background()

	body := successPayload(t, "Extracted document text.")
	err := svc.HandleCallback(ctx, job.ID, body, SignPayload(testSecret, body))
	require.NoError(t, err)

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateParsed, updated.State)

	var doc domain.Document
	require.NoError(t, db.First(&doc, "id = ?", job.DocumentID).Error)
	require.NotEmpty(t, doc.TextPath)

	exists, err := store.Exists(ctx, doc.TextPath)
	require.NoError(t, err)
	assert.True(t, exists, "extracted text must land in object storage")
}

func TestHandleCallbackBadSignature(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)

	body := successPayload(t, "text")
	err := svc.HandleCallback(context.Background(), job.ID, body, SignPayload("wrong-secret", body))
	assert.ErrorIs(t, err, ErrBadSignature)

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateParseQueued, updated.State, "rejected callback must not touch job state")
}

func TestHandleCallbackUnknownJob(t *testing.T) {
	svc, _, _ := newWebhookService(t)

	body := successPayload(t, "text")
	err := svc.HandleCallback(context.Background(), "no-such-job", body, SignPayload(testSecret, body))
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestHandleCallbackReplayIsNoOp(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)
	ctx := context.Background()

	body := successPayload(t, "text once")
	sig := SignPayload(testSecret, body)
	require.NoError(t, svc.HandleCallback(ctx, job.ID, body, sig))

	// redelivery of the exact same payload
	require.NoError(t, svc.HandleCallback(ctx, job.ID, body, sig))

	var events []domain.WebhookEvent
	require.NoError(t, db.Find(&events, "job_id = ?", job.ID).Error)
	assert.Len(t, events, 1, "ledger must record the payload exactly once")

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateParsed, updated.State)
}

func TestHandleCallbackLateArrivalIgnored(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)
	ctx := context.Background()

	require.NoError(t, db.Model(&domain.Job{}).
		Where("id = ?", job.ID).
		Update("state", domain.JobStateChunking).Error)

	body := successPayload(t, "too late")
	err := svc.HandleCallback(ctx, job.ID, body, SignPayload(testSecret, body))
	require.NoError(t, err, "late callbacks are acknowledged, not errored")

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateChunking, updated.State)
}

func TestHandleCallbackRetryableFailure(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)

	body, _ := json.Marshal(domain.ParseResult{
		Status: domain.ParseStatusFailure, Reason: "provider busy", Retryable: true,
	})
	require.NoError(t, svc.HandleCallback(context.Background(), job.ID, body, SignPayload(testSecret, body)))

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateQueued, updated.State)
	assert.Equal(t, 1, updated.RetryCount)
	assert.NotNil(t, updated.NextAttemptAt)
}

func TestHandleCallbackPermanentFailure(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)

	body, _ := json.Marshal(domain.ParseResult{
		Status: domain.ParseStatusFailure, Reason: "file is encrypted", Retryable: false,
	})
	require.NoError(t, svc.HandleCallback(context.Background(), job.ID, body, SignPayload(testSecret, body)))

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateFailedParse, updated.State)
	assert.Equal(t, "document could not be parsed", updated.LastError, "provider detail stays out of the job row")
	assert.NotContains(t, updated.LastError, "encrypted")
	assert.NotEmpty(t, updated.ErrorRef, "the correlation ref is the path back to the raw reason")
}

func TestHandleCallbackRetryBudgetExhausted(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)

	require.NoError(t, db.Model(&domain.Job{}).
		Where("id = ?", job.ID).
		Update("retry_count", 3).Error)
	job.RetryCount = 3

	body, _ := json.Marshal(domain.ParseResult{
		Status: domain.ParseStatusFailure, Reason: "provider busy", Retryable: true,
	})
	require.NoError(t, svc.HandleCallback(context.Background(), job.ID, body, SignPayload(testSecret, body)))

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateFailedParse, updated.State, "retryable failure past the budget is terminal")
}

func TestHandleCallbackEmptyTextIsFailure(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)

	body := successPayload(t, "")
	require.NoError(t, svc.HandleCallback(context.Background(), job.ID, body, SignPayload(testSecret, body)))

	var updated domain.Job
	require.NoError(t, db.First(&updated, "id = ?", job.ID).Error)
	assert.Equal(t, domain.JobStateFailedParse, updated.State)
}

func TestHandleCallbackMalformedPayload(t *testing.T) {
	svc, db, _ := newWebhookService(t)
	job := seedParseQueuedJob(t, db)

	body := []byte("{not json")
	err := svc.HandleCallback(context.Background(), job.ID, body, SignPayload(testSecret, body))
	require.Error(t, err)
	assert.Equal(t, domain.ErrorKindValidation, domain.KindOf(err))
}
