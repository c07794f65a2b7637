package domain

import (
	"time"

	"gorm.io/gorm"
)

// Document represents a deduplicated logical upload. Its ID is a
// deterministic function of (owner_id, content_hash), so the same owner
// re-uploading byte-identical content always maps to the same row, while
// different owners uploading identical bytes get distinct rows.
type Document struct {
	ID               string         `gorm:"type:text;primaryKey" json:"id"`
	OwnerID          string         `gorm:"type:text;not null;uniqueIndex:idx_documents_owner_hash" json:"owner_id"`
	ContentHash      string         `gorm:"type:text;not null;uniqueIndex:idx_documents_owner_hash" json:"content_hash"`
	OriginalFilename string         `gorm:"type:text" json:"original_filename"`
	MimeType         string         `gorm:"type:text" json:"mime_type"`
	ByteSize         int64          `json:"byte_size"`
	StoragePath      string         `gorm:"type:text" json:"storage_path"`
	TextPath         string         `gorm:"type:text" json:"text_path,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string {
	return "documents"
}
