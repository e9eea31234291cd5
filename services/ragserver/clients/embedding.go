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
	"context"
	"fmt"
	"net"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// Embedding Client
// =============================================================================

// EmbeddingClient turns text into vectors. Implementations must return
// vectors of exactly Dimension() floats; the ingest path fails loudly on
// mismatch rather than storing a ragged matrix.
type EmbeddingClient interface {
	// Embed returns one vector per input text, aligned by index.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension is the vector width this service produces.
	Dimension() int

	// Probe checks reachability cheaply (TCP dial, no inference).
	Probe(ctx context.Context) error
}

// OpenAIEmbedding implements EmbeddingClient over an OpenAI-compatible
// embeddings endpoint.
type OpenAIEmbedding struct {
	client    *openai.Client
	model     string
	dimension int
	timeout   time.Duration
	probeAddr string
}

// NewEmbedding builds the embedding adapter. dimension is the expected
// vector width from config; a service returning anything else is treated
// as an upstream failure.
func NewEmbedding(opts Options, dimension int, probeAddr string) *OpenAIEmbedding {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.APIBase != "" {
		cfg.BaseURL = opts.APIBase
	}
	return &OpenAIEmbedding{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: dimension,
		timeout:   opts.Timeout,
		probeAddr: probeAddr,
	}
}

// Embed implements EmbeddingClient.
func (e *OpenAIEmbedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, classify("embedding", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts: %w",
			len(resp.Data), len(texts), datatypes.ErrUpstreamFailure)
	}

	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embedding: index %d out of range: %w",
				item.Index, datatypes.ErrUpstreamFailure)
		}
		if len(item.Embedding) != e.dimension {
			return nil, fmt.Errorf("embedding: dimension %d, expected %d: %w",
				len(item.Embedding), e.dimension, datatypes.ErrUpstreamFailure)
		}
		out[item.Index] = item.Embedding
	}
	return out, nil
}

// EmbedOne is a convenience wrapper for single-text callers.
func (e *OpenAIEmbedding) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Dimension implements EmbeddingClient.
func (e *OpenAIEmbedding) Dimension() int { return e.dimension }

// Probe implements EmbeddingClient with a plain TCP dial. The health
// endpoint caches the outcome; one dial per probe interval is cheap enough
// for the 3-second health budget.
func (e *OpenAIEmbedding) Probe(ctx context.Context) error {
	if e.probeAddr == "" {
		return nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", e.probeAddr)
	if err != nil {
		return fmt.Errorf("embedding probe %s: %w", e.probeAddr, datatypes.ErrUpstreamFailure)
	}
	return conn.Close()
}

var _ EmbeddingClient = (*OpenAIEmbedding)(nil)
