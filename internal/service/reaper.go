package service

import (
	"context"
	"time"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/domain"
	"github.com/docstream/corpusd/internal/logger"
	"github.com/docstream/corpusd/internal/repository"
)

// Reaper recovers jobs stranded mid-stage by a crashed worker or a parse
// provider that never called back. A job that has not moved for longer than
// the staleness window gets its stage re-queued under the normal retry rules.
type Reaper struct {
	jobs *repository.JobRepository
	cfg  config.PipelineConfig
	log  *logger.Logger
}

func NewReaper(jobs *repository.JobRepository, cfg config.PipelineConfig, log *logger.Logger) *Reaper {
	return &Reaper{jobs: jobs, cfg: cfg, log: log}
}

// RunOnce performs one recovery sweep.
func (r *Reaper) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.cfg.StalenessWindow)
	stale, err := r.jobs.FindStale(ctx, cutoff, claimBatchSize)
	if err != nil {
		r.log.WithError(err).Error("stale job sweep failed")
		return
	}

	for i := range stale {
		job := stale[i]
		jctx := logger.SetJobID(ctx, job.ID)
		if err := r.recover(jctx, &job); err != nil {
			logger.CtxError(jctx, "failed to recover stale job: %v", err)
		}
	}
}

func (r *Reaper) recover(ctx context.Context, job *domain.Job) error {
	retry := job.State.RetryState()
	if retry == job.State {
		// waiting states are the poller's queue, not a stall
		return nil
	}

	if job.RetryCount >= r.cfg.MaxRetries {
		moved, err := r.jobs.Transition(ctx, job.ID, job.State, job.State.FailureState(), map[string]interface{}{
			"last_error": "processing stalled and retry budget is exhausted",
			"error_ref":  newErrorRef(),
		})
		if err == nil && moved {
			logger.CtxWarn(ctx, "stale job in %s failed after %d retries", job.State, job.RetryCount)
		}
		return err
	}

	moved, err := r.jobs.Transition(ctx, job.ID, job.State, retry, map[string]interface{}{
		"retry_count":     job.RetryCount + 1,
		"next_attempt_at": time.Now().Add(backoffDelay(job.RetryCount+1, r.cfg.BackoffBase, r.cfg.BackoffCap)),
	})
	if err == nil && moved {
		logger.CtxWarn(ctx, "requeued stale job from %s to %s", job.State, retry)
	}
	return err
}
