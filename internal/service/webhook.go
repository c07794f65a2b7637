package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/identifier"
	"github.com/docstream/corpusd/internal/logger"
	"github.com/docstream/corpusd/internal/repository"
	"github.com/docstream/corpusd/internal/storage"
	"gorm.io/gorm"
)

// ErrBadSignature is returned when a callback's HMAC signature does not
// verify against the job's secret. Callers must reject the request without
// touching job state.
var ErrBadSignature = errors.New("webhook signature verification failed")

// ErrJobNotFound is returned for callbacks addressing an unknown job.
var ErrJobNotFound = errors.New("job not found")

// WebhookService processes parse-completion callbacks. Every callback is
// signature-checked, then applied at most once through a payload-digest
// ledger written in the same transaction as the job transition.
type WebhookService struct {
	db     *gorm.DB
	jobs   *repository.JobRepository
	docs   *repository.DocumentRepository
	events *repository.WebhookEventRepository
	store  storage.ObjectStorage
	cfg    config.PipelineConfig
}

func NewWebhookService(
	db *gorm.DB,
	jobs *repository.JobRepository,
	docs *repository.DocumentRepository,
	events *repository.WebhookEventRepository,
	store storage.ObjectStorage,
	cfg config.PipelineConfig,
) *WebhookService {
	return &WebhookService{
		db:     db,
		jobs:   jobs,
		docs:   docs,
		events: events,
		store:  store,
		cfg:    cfg,
	}
}

// HandleCallback verifies and applies one parse callback. Replays, late
// arrivals and callbacks for jobs that have already moved on are acknowledged
// as no-ops so the provider stops redelivering.
func (s *WebhookService) HandleCallback(ctx context.Context, jobID string, body []byte, signature string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		return err
	}

	if !verifySignature(job.ParseSecret, body, signature) {
		return ErrBadSignature
	}

	digest := payloadDigest(body)
	ctx = logger.SetDocumentID(logger.SetJobID(ctx, job.ID), job.DocumentID)

	applied, err := s.events.WasApplied(ctx, job.ID, digest)
	if err != nil {
		return err
	}
	if applied {
		logger.CtxDebug(ctx, "callback replay ignored")
		return nil
	}

	// A late callback for a job that already advanced (or was reaped back to
	// queued) carries no new information.
	if job.State != domain.JobStateParseQueued {
		logger.CtxDebug(ctx, "callback for job in state %s ignored", job.State)
		return nil
	}

	var result domain.ParseResult
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.Validation("callback payload is not valid JSON")
	}

	switch result.Status {
	case domain.ParseStatusSuccess:
		return s.applySuccess(ctx, job, &result, digest)
	case domain.ParseStatusFailure:
		return s.applyFailure(ctx, job, &result, digest)
	default:
		return domain.Validation(fmt.Sprintf("unknown parse status %q", result.Status))
	}
}

// applySuccess stores the extracted text and advances the job, recording the
// event in the same transaction so a crash cannot apply the payload twice.
func (s *WebhookService) applySuccess(ctx context.Context, job *domain.Job, result *domain.ParseResult, digest string) error {
	if result.Text == "" {
		return s.applyFailure(ctx, job, &domain.ParseResult{
			Status: domain.ParseStatusFailure,
			Reason: "parsing produced no text",
		}, digest)
	}

	textPath := fmt.Sprintf("text/%s/%x.txt", job.DocumentID, sha256.Sum256([]byte(result.Text)))
	if err := s.store.Upload(ctx, textPath, bytes.NewReader([]byte(result.Text)), int64(len(result.Text)), "text/plain; charset=utf-8"); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		moved, err := s.jobs.WithTx(tx).Transition(ctx, job.ID, domain.JobStateParseQueued, domain.JobStateParsed, nil)
		if err != nil {
			return err
		}
		if !moved {
			// concurrent delivery won; treat as replay
			return nil
		}
		if err := s.docs.WithTx(tx).SetTextPath(ctx, job.DocumentID, textPath); err != nil {
			return err
		}
		return s.events.WithTx(tx).RecordApplied(ctx, newEvent(job.ID, digest))
	})
	if err != nil {
		return err
	}

	logger.With(logger.Fields{logger.FieldSize: len(result.Text)}).Info(ctx, "parse callback applied")
	return nil
}

// applyFailure applies the provider's failure report under the usual
// retry/terminal rules. The raw provider reason goes to the log under the
// error_ref; the job row only ever carries the stable redacted message.
func (s *WebhookService) applyFailure(ctx context.Context, job *domain.Job, result *domain.ParseResult, digest string) error {
	reason := result.Reason
	if reason == "" {
		reason = "no reason given"
	}
	ref := newErrorRef()
	const redacted = "document could not be parsed"

	retryable := result.Retryable && job.RetryCount < s.cfg.MaxRetries

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txJobs := s.jobs.WithTx(tx)

		var moved bool
		var err error
		if retryable {
			delay := backoffDelay(job.RetryCount+1, s.cfg.BackoffBase, s.cfg.BackoffCap)
			moved, err = txJobs.Transition(ctx, job.ID, domain.JobStateParseQueued, domain.JobStateQueued, map[string]interface{}{
				"retry_count":     job.RetryCount + 1,
				"last_error":      redacted,
				"error_ref":       ref,
				"next_attempt_at": time.Now().Add(delay),
			})
		} else {
			moved, err = txJobs.Transition(ctx, job.ID, domain.JobStateParseQueued, domain.JobStateFailedParse, map[string]interface{}{
				"last_error": redacted,
				"error_ref":  ref,
			})
		}
		if err != nil {
			return err
		}
		if !moved {
			return nil
		}
		if err := s.events.WithTx(tx).RecordApplied(ctx, newEvent(job.ID, digest)); err != nil {
			return err
		}
		logger.With(logger.Fields{"error_ref": ref}).Warn(ctx, "parse failed (retryable=%v): %s", result.Retryable, reason)
		return nil
	})
}

// verifySignature checks an HMAC-SHA256 signature of the raw payload in the
// form "sha256=<hex>".
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(signature))
}

// SignPayload computes the signature a provider would attach to a callback.
// Exported for use in tests and local tooling.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func payloadDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func newEvent(jobID, digest string) *domain.WebhookEvent {
	return &domain.WebhookEvent{
		ID:            identifier.EventID(),
		JobID:         jobID,
		PayloadDigest: digest,
		ReceivedAt:    time.Now(),
	}
}
