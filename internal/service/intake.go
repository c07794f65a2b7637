package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
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

// IntakeService validates and registers new uploads: deduplication, document
// and job creation, and issuing the write target for raw bytes.
type IntakeService struct {
	docs          *repository.DocumentRepository
	jobs          *repository.JobRepository
	store         storage.ObjectStorage
	cfg           config.IntakeConfig
	presignExpiry time.Duration
	log           *logger.Logger
}

// NewIntakeService creates a new intake service.
func NewIntakeService(
	docs *repository.DocumentRepository,
	jobs *repository.JobRepository,
	store storage.ObjectStorage,
	cfg config.IntakeConfig,
	presignExpiry time.Duration,
	log *logger.Logger,
) *IntakeService {
	return &IntakeService{
		docs:          docs,
		jobs:          jobs,
		store:         store,
		cfg:           cfg,
		presignExpiry: presignExpiry,
		log:           log,
	}
}

// UploadRequest describes a new upload. Either Content carries the raw bytes
// inline, or ContentHash carries a client-computed sha256 and the bytes
// arrive later through the returned write target.
type UploadRequest struct {
	OwnerID      string
	Filename     string
	MimeType     string
	DeclaredSize int64
	ContentHash  string
	Content      []byte
}

// UploadResult is returned to the client for progress polling and, when the
// bytes were not inlined, for uploading them.
type UploadResult struct {
	DocumentID  string `json:"document_id"`
	JobID       string `json:"job_id,omitempty"`
	WriteTarget string `json:"write_target,omitempty"`
	Duplicate   bool   `json:"duplicate,omitempty"`
}

// Upload validates and registers a document upload. Re-uploading content
// that already completed processing is an idempotent no-op returning the
// existing document; re-uploading content with a job still in flight returns
// that job instead of creating a second one.
func (s *IntakeService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}

	contentHash, err := s.resolveHash(req)
	if err != nil {
		return nil, err
	}

	documentID := identifier.DocumentID(req.OwnerID, contentHash)
	storagePath := fmt.Sprintf("raw/%s/%s", documentID, contentHash)
	ctx = logger.SetDocumentID(logger.SetOwnerID(ctx, req.OwnerID), documentID)

	// Dedup: a completed prior job means nothing left to do; an in-flight
	// job means return it instead of racing a second pipeline pass.
	latest, err := s.jobs.LatestByDocument(ctx, documentID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if latest != nil {
		switch {
		case latest.State == domain.JobStateComplete || latest.State == domain.JobStateDuplicate:
			logger.CtxInfo(ctx, "duplicate upload of completed document")
			return &UploadResult{DocumentID: documentID, Duplicate: true}, nil
		case !latest.State.IsTerminal():
			logger.CtxInfo(ctx, "upload while job %s still in flight", latest.ID)
			return &UploadResult{DocumentID: documentID, JobID: latest.ID}, nil
		}
		// terminal failure: fall through and start a fresh attempt
	}

	doc := &domain.Document{
		ID:               documentID,
		OwnerID:          req.OwnerID,
		ContentHash:      contentHash,
		OriginalFilename: req.Filename,
		MimeType:         req.MimeType,
		ByteSize:         req.DeclaredSize,
		StoragePath:      storagePath,
	}
	if err := s.docs.Upsert(ctx, doc); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:         identifier.JobID(),
		DocumentID: documentID,
		State:      domain.JobStateQueued,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	result := &UploadResult{DocumentID: documentID, JobID: job.ID}

	if len(req.Content) > 0 {
		if err := s.store.Upload(ctx, storagePath, bytes.NewReader(req.Content), int64(len(req.Content)), req.MimeType); err != nil {
			return nil, fmt.Errorf("failed to store upload: %w", err)
		}
	} else {
		target, err := s.store.PresignPut(ctx, storagePath, req.MimeType, s.presignExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to issue write target: %w", err)
		}
		result.WriteTarget = target
	}

	logger.CtxInfo(ctx, "upload registered, job %s queued", job.ID)
	return result, nil
}

func (s *IntakeService) validate(req *UploadRequest) error {
	if req.OwnerID == "" {
		return domain.Validation("owner identity is required")
	}
	if req.Filename == "" {
		return domain.Validation("filename is required")
	}
	size := req.DeclaredSize
	if len(req.Content) > 0 {
		size = int64(len(req.Content))
	}
	if size <= 0 {
		return domain.Validation("declared size must be positive")
	}
	if size > s.cfg.MaxBytes {
		return domain.Validation(fmt.Sprintf("file exceeds maximum size of %d bytes", s.cfg.MaxBytes))
	}
	if !s.mimeAllowed(req.MimeType) {
		return domain.Validation(fmt.Sprintf("mime type %q is not allowed", req.MimeType))
	}
	if len(req.Content) == 0 && req.ContentHash == "" {
		return domain.Validation("either file content or a content hash is required")
	}
	return nil
}

func (s *IntakeService) mimeAllowed(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	for _, allowed := range s.cfg.AllowedMIMEs {
		if mime == allowed {
			return true
		}
	}
	return false
}

// resolveHash computes the content hash from inline bytes, verifying any
// client-supplied hash against it; hash-only uploads are validated for
// shape and trusted until the parse stage reads the object.
func (s *IntakeService) resolveHash(req *UploadRequest) (string, error) {
	if len(req.Content) > 0 {
		sum := sha256.Sum256(req.Content)
		computed := hex.EncodeToString(sum[:])
		if req.ContentHash != "" && !strings.EqualFold(req.ContentHash, computed) {
			return "", domain.Validation("declared content hash does not match uploaded bytes")
		}
		return computed, nil
	}

	hash := strings.ToLower(req.ContentHash)
	if len(hash) != sha256.Size*2 {
		return "", domain.Validation("content hash must be a sha256 hex digest")
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", domain.Validation("content hash must be a sha256 hex digest")
	}
	return hash, nil
}
