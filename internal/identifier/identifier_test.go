package identifier

import (
	"testing"
)

func TestDocumentIDDeterminism(t *testing.T) {
	testCases := []struct {
		name    string
		ownerID string
		hash    string
	}{
		{
			name:    "basic",
			ownerID: "owner-a",
			hash:    "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		},
		{
			name:    "other owner",
			ownerID: "owner-b",
			hash:    "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id1 := DocumentID(tc.ownerID, tc.hash)
			id2 := DocumentID(tc.ownerID, tc.hash)
			if id1 != id2 {
				t.Errorf("ID not stable: %s vs %s", id1, id2)
			}
			if len(id1) != 36 {
				t.Errorf("invalid UUID length: got %d, want 36", len(id1))
			}
		})
	}
}

func TestDocumentIDOwnerIsolation(t *testing.T) {
	hash := "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"
	if DocumentID("owner-a", hash) == DocumentID("owner-b", hash) {
		t.Error("same content for different owners must produce different document IDs")
	}
}

func TestChunkIDComponents(t *testing.T) {
	base := ChunkID("doc-1", "cv1", "ev1", 0)

	if base != ChunkID("doc-1", "cv1", "ev1", 0) {
		t.Error("chunk ID not stable")
	}

	variants := []string{
		ChunkID("doc-2", "cv1", "ev1", 0),
		ChunkID("doc-1", "cv2", "ev1", 0),
		ChunkID("doc-1", "cv1", "ev2", 0),
		ChunkID("doc-1", "cv1", "ev1", 1),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collides with base ID", i)
		}
	}
}

func TestJobIDIsRandom(t *testing.T) {
	if JobID() == JobID() {
		t.Error("job IDs must be unique per call")
	}
}
