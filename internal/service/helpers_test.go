package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/docstream/corpusd/internal/config"
	"github.com/docstream/corpusd/internal/logger"
	"github.com/docstream/corpusd/internal/repository"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		AutoMigrate: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	return db
}

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "text"})
}

// memStore is an in-memory ObjectStorage.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}}
}

func (m *memStore) Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

func (m *memStore) PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error) {
	return "https://storage.test/put/" + key, nil
}

func (m *memStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://storage.test/get/" + key, nil
}

// fakeIndex records upserted points and serves canned search results.
type fakeIndex struct {
	mu      sync.Mutex
	points  []repository.ChunkPoint
	hits    []repository.ScoredChunk
	failure error
}

func (f *fakeIndex) UpsertBatch(ctx context.Context, points []repository.ChunkPoint) error {
	if f.failure != nil {
		return f.failure
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, ownerID string, vector []float32, topK int, scoreThreshold float32) ([]repository.ScoredChunk, error) {
	if f.failure != nil {
		return nil, f.failure
	}
	return f.hits, nil
}

func (f *fakeIndex) stored() []repository.ChunkPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]repository.ChunkPoint(nil), f.points...)
}

// fakeEmbedder returns fixed-size vectors, optionally failing on demand.
type fakeEmbedder struct {
	mu         sync.Mutex
	calls      int
	queryCalls int
	failOn     int // 1-based call number to fail on, 0 disables
	failure    error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.failOn > 0 && call == f.failOn {
		err := f.failure
		if err == nil {
			err = fmt.Errorf("embedding call %d failed", call)
		}
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 0.5}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	f.mu.Lock()
	f.queryCalls++
	f.mu.Unlock()
	vectors, err := f.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) Model() string   { return "test-embed" }
func (f *fakeEmbedder) Version() string { return "ev1" }

// fakeParser records submissions.
type fakeParser struct {
	mu       sync.Mutex
	requests []*ParseRequest
	failure  error
}

func (f *fakeParser) Submit(ctx context.Context, req *ParseRequest) error {
	if f.failure != nil {
		return f.failure
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeParser) submitted() []*ParseRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*ParseRequest(nil), f.requests...)
}
