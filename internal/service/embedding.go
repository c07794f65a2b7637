package service

import (
	"context"
	"fmt"

	"github.com/docstream/corpusd/internal/domain"
	"github.com/go-resty/resty/v2"
)

// EmbeddingClient computes embeddings through an external provider with a
// Jina-style batch API.
type EmbeddingClient struct {
	client     *resty.Client
	model      string
	version    string
	dimensions int
}

// EmbeddingClientConfig holds configuration for the embedding provider.
type EmbeddingClientConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Version    string
	Dimensions int
}

// NewEmbeddingClient creates a new embedding provider client.
func NewEmbeddingClient(cfg *EmbeddingClientConfig) *EmbeddingClient {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	return &EmbeddingClient{
		client:     client,
		model:      cfg.Model,
		version:    cfg.Version,
		dimensions: cfg.Dimensions,
	}
}

// Model returns the embedding model name.
func (c *EmbeddingClient) Model() string {
	return c.model
}

// Version returns the embedding model version recorded alongside vectors.
func (c *EmbeddingClient) Version() string {
	return c.version
}

type embedRequest struct {
	Model      string   `json:"model"`
	Task       string   `json:"task,omitempty"`
	Dimensions int      `json:"dimensions,omitempty"`
	Input      []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
}

// EmbedBatch generates document embeddings for multiple texts, returned in
// input order.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, "retrieval.passage", texts)
}

// EmbedQuery generates an embedding optimized for query/search. Asymmetric
// models embed queries and passages differently; mixing the two tasks
// degrades ranking.
func (c *EmbeddingClient) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := c.embed(ctx, "retrieval.query", []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, domain.Retryable("", "query embedding unavailable", nil)
	}
	return embeddings[0], nil
}

func (c *EmbeddingClient) embed(ctx context.Context, task string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	req := embedRequest{
		Model:      c.model,
		Task:       task,
		Dimensions: c.dimensions,
		Input:      texts,
	}

	var resp embedResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post("/v1/embeddings")

	if err != nil {
		return nil, domain.Retryable("", "embedding provider unreachable", err)
	}

	status := httpResp.StatusCode()
	if status >= 400 && status < 500 {
		return nil, domain.Permanent("", "embedding provider rejected the batch",
			fmt.Errorf("embed status %d: %s", status, resp.Detail))
	}
	if status != 200 {
		return nil, domain.Retryable("", "embedding provider error",
			fmt.Errorf("embed status %d: %s", status, resp.Detail))
	}

	if len(resp.Data) != len(texts) {
		return nil, domain.Retryable("", "embedding provider returned a short batch",
			fmt.Errorf("got %d embeddings, expected %d", len(resp.Data), len(texts)))
	}

	// Order by index; providers may return out of order
	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}

	return embeddings, nil
}
