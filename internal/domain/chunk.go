package domain

import "time"

// Chunk is a deterministically-identified segment of a document's extracted
// text. Its ID is a pure function of (document_id, chunker_version,
// embed_version, ordinal), so reprocessing with a new chunker or embedding
// version produces new rows instead of mutating old ones.
//
// The vector itself lives in the vector index under the chunk ID; the row
// records (embed_model, embed_version) only once the vector has been stored,
// so the pair is never mismatched.
type Chunk struct {
	ID             string    `gorm:"type:text;primaryKey" json:"id"`
	DocumentID     string    `gorm:"type:text;not null;index:idx_chunks_document" json:"document_id"`
	OwnerID        string    `gorm:"type:text;not null;index:idx_chunks_owner" json:"owner_id"`
	Ordinal        int       `gorm:"not null" json:"ordinal"`
	Text           string    `gorm:"type:text;not null" json:"text"`
	TokenCount     int       `gorm:"not null" json:"token_count"`
	Embedded       bool      `gorm:"default:false;index:idx_chunks_embedded" json:"embedded"`
	ChunkerVersion string    `gorm:"type:text;not null" json:"chunker_version"`
	EmbedModel     string    `gorm:"type:text" json:"embed_model,omitempty"`
	EmbedVersion   string    `gorm:"type:text" json:"embed_version,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TableName returns the database table name for Chunk.
func (Chunk) TableName() string {
	return "chunks"
}

// RetrievedChunk is a chunk returned by a retrieval query together with its
// similarity score.
type RetrievedChunk struct {
	Chunk
	Score float32 `json:"score"`
}
