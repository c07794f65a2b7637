package domain

import "time"

// WebhookEvent is the idempotency ledger for parse callbacks. A payload whose
// digest has already been recorded as applied for a job is acknowledged but
// never reapplied, which makes provider-side redelivery safe.
type WebhookEvent struct {
	ID            string    `gorm:"type:text;primaryKey" json:"id"`
	JobID         string    `gorm:"type:text;not null;uniqueIndex:idx_webhook_events_job_digest" json:"job_id"`
	PayloadDigest string    `gorm:"type:text;not null;uniqueIndex:idx_webhook_events_job_digest" json:"payload_digest"`
	Applied       bool      `gorm:"default:false" json:"applied"`
	ReceivedAt    time.Time `json:"received_at"`
}

// TableName returns the database table name for WebhookEvent.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

// ParseResult is the decoded payload of a parse callback: either extracted
// text or a structured failure.
type ParseResult struct {
	Status    string `json:"status"`
	Text      string `json:"text,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Parse callback status values.
const (
	ParseStatusSuccess = "success"
	ParseStatusFailure = "failure"
)
