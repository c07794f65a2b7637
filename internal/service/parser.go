package service

import (
	"context"
	"fmt"
	"time"

	"github.com/docstream/corpusd/internal/domain"
	"github.com/go-resty/resty/v2"
)

// ParseClient submits documents to the external parsing provider. Parsing is
// fire-and-callback: the provider fetches the document from the signed URL
// and later delivers the result to the callback endpoint, so no worker is
// ever blocked for the provider's full processing time.
type ParseClient struct {
	client *resty.Client
}

// ParseClientConfig holds configuration for the parse provider client.
type ParseClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewParseClient creates a new parse provider client.
func NewParseClient(cfg *ParseClientConfig) *ParseClient {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	return &ParseClient{client: client}
}

type parseSubmitRequest struct {
	JobID          string `json:"job_id"`
	SourceURL      string `json:"source_url"`
	CallbackURL    string `json:"callback_url"`
	CallbackSecret string `json:"callback_secret"`
}

type parseSubmitResponse struct {
	Accepted bool   `json:"accepted"`
	Detail   string `json:"detail,omitempty"`
}

// Submit sends a parse request for one document. 4xx responses mean the
// provider rejected the request permanently; 5xx and transport failures are
// transient.
func (c *ParseClient) Submit(ctx context.Context, req *ParseRequest) error {
	body := parseSubmitRequest{
		JobID:          req.JobID,
		SourceURL:      req.SourceURL,
		CallbackURL:    req.CallbackURL,
		CallbackSecret: req.Secret,
	}

	var resp parseSubmitResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&resp).
		Post("/v1/parse")

	if err != nil {
		return domain.Retryable("", "parse provider unreachable", err)
	}

	status := httpResp.StatusCode()
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return domain.Permanent("", "parse provider rejected the document",
			fmt.Errorf("parse submit status %d: %s", status, resp.Detail))
	default:
		return domain.Retryable("", "parse provider error",
			fmt.Errorf("parse submit status %d: %s", status, resp.Detail))
	}
}
