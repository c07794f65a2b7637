// Package identifier produces the IDs used across the pipeline. Document and
// chunk IDs are deterministic (namespace-hashed UUIDs over their semantic
// inputs) so identical inputs always yield identical IDs; this is the
// mechanism behind deduplication and safe reprocessing. Job and event IDs are
// random because those records are ephemeral tracking state.
package identifier

import (
	"fmt"

	"github.com/google/uuid"
)

// Fixed namespaces. Changing either would re-key every document and chunk,
// so they are part of the storage contract.
var (
	documentNamespace = uuid.MustParse("7a3c9f42-1b5e-4d8a-9c6f-2e7b4a1d8f03")
	chunkNamespace    = uuid.MustParse("c1e8b5d7-6f2a-4093-8b4e-5a9d3c7f1e26")
)

// DocumentID derives the deterministic document ID for an owner and content
// hash. The same owner re-uploading identical bytes always gets the same ID;
// different owners with identical bytes get different IDs.
func DocumentID(ownerID, contentHash string) string {
	name := ownerID + "/" + contentHash
	return uuid.NewSHA1(documentNamespace, []byte(name)).String()
}

// ChunkID derives the deterministic chunk ID for one segment of a document
// under a specific chunker and embedding version.
func ChunkID(documentID, chunkerVersion, embedVersion string, ordinal int) string {
	name := fmt.Sprintf("%s/%s/%s/%d", documentID, chunkerVersion, embedVersion, ordinal)
	return uuid.NewSHA1(chunkNamespace, []byte(name)).String()
}

// JobID returns a random ID for a new processing job.
func JobID() string {
	return uuid.New().String()
}

// EventID returns a random ID for a webhook ledger row.
func EventID() string {
	return uuid.New().String()
}
