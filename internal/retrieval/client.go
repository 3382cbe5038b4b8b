// Package retrieval queries the backend retrieval service for relevant
// code chunks. Results are passed through with path and score intact so
// that provenance survives into packing and auditing.
package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/promptgate/internal/config"
	"github.com/promptgate/internal/retry"
	"github.com/promptgate/pkg/models"
)

// Client is an HTTP client for the retrieval backend. It implements the
// collector's Searcher interface.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxHits    int
	retryCfg   retry.RetryConfig
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.Retrieval.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.Retrieval.BaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxHits:    cfg.Retrieval.MaxHits,
		retryCfg:   retry.UpstreamRetryConfig(),
	}
}

type searchRequest struct {
	TenantID    string `json:"tenant_id"`
	ProjectID   string `json:"project_id"`
	WorkspaceID string `json:"workspace_id"`
	Query       string `json:"query"`
	Limit       int    `json:"limit"`
}

type searchResponse struct {
	Chunks []models.RetrievalChunk `json:"chunks"`
}

// Search queries the retrieval backend for chunks relevant to query. The
// request carries the tenant, project, and workspace identifiers so the
// backend can enforce its own scoping. Transient failures are retried
// once with backoff before the error surfaces.
func (c *Client) Search(ctx context.Context, scope models.WorkspaceScope, query string, limit int) ([]models.RetrievalChunk, error) {
	if c.baseURL == "" {
		return nil, nil
	}
	if limit <= 0 || (c.maxHits > 0 && limit > c.maxHits) {
		limit = c.maxHits
	}

	body, err := json.Marshal(searchRequest{
		TenantID:    scope.TenantID,
		ProjectID:   scope.ProjectID,
		WorkspaceID: scope.WorkspaceID,
		Query:       query,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	start := time.Now()

	var chunks []models.RetrievalChunk
	result := retry.RetryWithBackoff(ctx, c.retryCfg, func() error {
		var serr error
		chunks, serr = c.doSearch(ctx, body)
		return serr
	})
	if !result.Success {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, result.LastError
	}

	log.Debug().
		Str("workspace_id", scope.WorkspaceID).
		Int("hits", len(chunks)).
		Dur("latency", time.Since(start)).
		Msg("retrieval search completed")

	return chunks, nil
}

func (c *Client) doSearch(ctx context.Context, body []byte) ([]models.RetrievalChunk, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("retrieval returned status %d: %s", resp.StatusCode, string(snippet))
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return result.Chunks, nil
}
