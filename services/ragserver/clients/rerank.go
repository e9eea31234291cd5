// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// Rerank Client
// =============================================================================

// RerankClient re-scores candidate passages against a query.
type RerankClient interface {
	// Rerank returns one relevance score per document, aligned by index.
	Rerank(ctx context.Context, query string, documents []string) ([]float64, error)
}

// HTTPRerank implements RerankClient against a /rerank endpoint speaking
// the common cross-encoder wire shape (query + documents in, indexed
// relevance scores out). The inference servers we deploy against expose
// this next to their OpenAI-compatible surface.
type HTTPRerank struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewRerank builds the rerank adapter. The endpoint is the API base with
// any trailing slash and /v1 segment removed, followed by /v1/rerank.
func NewRerank(opts Options) *HTTPRerank {
	base := strings.TrimSuffix(opts.APIBase, "/")
	base = strings.TrimSuffix(base, "/v1")
	return &HTTPRerank{
		endpoint: base + "/v1/rerank",
		apiKey:   opts.APIKey,
		model:    opts.Model,
		client:   &http.Client{Timeout: opts.Timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank implements RerankClient.
func (r *HTTPRerank) Rerank(ctx context.Context, query string, documents []string) ([]float64, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("rerank marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("rerank: %w", datatypes.ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("rerank: %v: %w", err, datatypes.ErrUpstreamFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank: status %d: %w", resp.StatusCode, datatypes.ErrUpstreamFailure)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("rerank decode: %v: %w", err, datatypes.ErrUpstreamFailure)
	}

	scores := make([]float64, len(documents))
	for _, result := range parsed.Results {
		if result.Index < 0 || result.Index >= len(documents) {
			return nil, fmt.Errorf("rerank: index %d out of range: %w",
				result.Index, datatypes.ErrUpstreamFailure)
		}
		scores[result.Index] = result.RelevanceScore
	}
	return scores, nil
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

var _ RerankClient = (*HTTPRerank)(nil)
