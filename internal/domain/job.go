package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JobState represents the processing state of a job. The state enum is the
// single authoritative set of variants; handlers and workers must never
// compare against raw strings outside this package.
type JobState string

const (
	JobStateQueued              JobState = "queued"
	JobStateParseQueued         JobState = "parse_queued"
	JobStateParsed              JobState = "parsed"
	JobStateParseValidated      JobState = "parse_validated"
	JobStateChunking            JobState = "chunking"
	JobStateChunksStored        JobState = "chunks_stored"
	JobStateEmbeddingQueued     JobState = "embedding_queued"
	JobStateEmbeddingInProgress JobState = "embedding_in_progress"
	JobStateEmbeddingsStored    JobState = "embeddings_stored"
	JobStateComplete            JobState = "complete"
	JobStateFailedParse         JobState = "failed_parse"
	JobStateFailedChunk         JobState = "failed_chunk"
	JobStateFailedEmbed         JobState = "failed_embed"
	JobStateDuplicate           JobState = "duplicate"
)

// forwardTransitions maps each state to the set of states a job may legally
// advance to. Retry re-queues (back to the stage's queued predecessor) are
// listed alongside forward edges.
var forwardTransitions = map[JobState][]JobState{
	JobStateQueued:              {JobStateParseQueued, JobStateDuplicate, JobStateFailedParse},
	JobStateParseQueued:         {JobStateParsed, JobStateQueued, JobStateFailedParse},
	JobStateParsed:              {JobStateParseValidated, JobStateFailedParse},
	JobStateParseValidated:      {JobStateChunking, JobStateFailedChunk},
	JobStateChunking:            {JobStateChunksStored, JobStateParseValidated, JobStateFailedChunk},
	JobStateChunksStored:        {JobStateEmbeddingQueued},
	JobStateEmbeddingQueued:     {JobStateEmbeddingInProgress, JobStateFailedEmbed},
	JobStateEmbeddingInProgress: {JobStateEmbeddingsStored, JobStateEmbeddingQueued, JobStateFailedEmbed},
	JobStateEmbeddingsStored:    {JobStateComplete},
}

// CanTransition reports whether moving from one state to another is legal.
// Terminal states have no outgoing edges.
func CanTransition(from, to JobState) bool {
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a state is terminal (success or failure).
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateComplete, JobStateFailedParse, JobStateFailedChunk, JobStateFailedEmbed, JobStateDuplicate:
		return true
	}
	return false
}

// FailureState returns the terminal failure state for the stage that owns
// the given non-terminal state.
func (s JobState) FailureState() JobState {
	switch s {
	case JobStateQueued, JobStateParseQueued, JobStateParsed:
		return JobStateFailedParse
	case JobStateParseValidated, JobStateChunking, JobStateChunksStored:
		return JobStateFailedChunk
	default:
		return JobStateFailedEmbed
	}
}

// RetryState returns the queued predecessor state a retryable failure in the
// given state falls back to.
func (s JobState) RetryState() JobState {
	switch s {
	case JobStateParseQueued:
		return JobStateQueued
	case JobStateChunking:
		return JobStateParseValidated
	case JobStateEmbeddingInProgress:
		return JobStateEmbeddingQueued
	default:
		return s
	}
}

// JobProgress carries stage-specific metadata, stored as JSON on the job row.
type JobProgress struct {
	ChunksTotal    int `json:"chunks_total,omitempty"`
	ChunksEmbedded int `json:"chunks_embedded,omitempty"`
	FailedChunks   int `json:"failed_chunks,omitempty"`
}

// Value implements the driver.Valuer interface for database serialization.
func (p JobProgress) Value() (driver.Value, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (p *JobProgress) Scan(value interface{}) error {
	if value == nil {
		*p = JobProgress{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JobProgress")
		}
		bytes = []byte(str)
	}
	if len(bytes) == 0 {
		*p = JobProgress{}
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Job tracks one processing attempt for a document through the pipeline.
// The job row is the single source of truth for progress and the sole point
// of mutual exclusion between workers: a worker owns a stage only after
// winning the guarded transition into it.
type Job struct {
	ID            string      `gorm:"type:text;primaryKey" json:"id"`
	DocumentID    string      `gorm:"type:text;not null;index:idx_jobs_document" json:"document_id"`
	State         JobState    `gorm:"type:text;not null;index:idx_jobs_state;default:queued" json:"state"`
	RetryCount    int         `gorm:"default:0" json:"retry_count"`
	LastError     string      `gorm:"type:text" json:"last_error,omitempty"`
	ErrorRef      string      `gorm:"type:text" json:"error_ref,omitempty"`
	Progress      JobProgress `gorm:"type:text" json:"progress"`
	ParseSecret   string      `gorm:"type:text" json:"-"`
	NextAttemptAt *time.Time  `json:"next_attempt_at,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Job.
func (Job) TableName() string {
	return "jobs"
}
