// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clients adapts the external LLM, embedding, and rerank HTTP
// services to the narrow call contracts the pipeline needs.
//
// All adapters speak the OpenAI-compatible wire protocol through
// sashabaranov/go-openai against a configurable base URL, translate
// transport failures into the shared error taxonomy, and honor the
// per-service timeout budgets.
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// LLM Client
// =============================================================================

// LLMClient is the chat-completion contract used by the orchestrator and
// the intent engine.
type LLMClient interface {
	// Complete returns the full completion for the prompt pair.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	// Stream starts a streaming completion. The returned TokenStream
	// must be closed by the caller; closing cancels the outbound call.
	Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error)
}

// TokenStream is a pull-based sequence of completion fragments.
type TokenStream interface {
	// Next returns the next fragment. ok=false with err=nil marks clean
	// end of stream; ok=false with err!=nil marks mid-stream failure.
	Next() (fragment string, ok bool, err error)

	// Close releases the underlying connection. Idempotent.
	Close() error
}

// OpenAILLM implements LLMClient over an OpenAI-compatible endpoint.
type OpenAILLM struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// Options configures one upstream adapter.
type Options struct {
	APIBase string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// NewLLM builds the chat adapter.
func NewLLM(opts Options) *OpenAILLM {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.APIBase != "" {
		cfg.BaseURL = opts.APIBase
	}
	return &OpenAILLM{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
	}
}

// Complete implements LLMClient.
func (l *OpenAILLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := l.budget(ctx)
	defer cancel()

	resp, err := l.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    l.model,
		Messages: messages(systemPrompt, userPrompt),
	})
	if err != nil {
		return "", classify("llm completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm completion: empty choices: %w", datatypes.ErrUpstreamFailure)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements LLMClient. The stream inherits the caller's context so
// a client disconnect upstream cancels the outbound call promptly.
func (l *OpenAILLM) Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error) {
	ctx, cancel := l.budget(ctx)

	stream, err := l.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    l.model,
		Messages: messages(systemPrompt, userPrompt),
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, classify("llm stream", err)
	}
	return &openaiTokenStream{stream: stream, cancel: cancel}, nil
}

func (l *OpenAILLM) budget(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

func messages(systemPrompt, userPrompt string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	return append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userPrompt,
	})
}

// openaiTokenStream adapts the go-openai stream to TokenStream.
type openaiTokenStream struct {
	stream *openai.ChatCompletionStream
	cancel context.CancelFunc
	closed bool
}

func (s *openaiTokenStream) Next() (string, bool, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		if err != nil {
			return "", false, classify("llm stream recv", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		return delta, true, nil
	}
}

func (s *openaiTokenStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return s.stream.Close()
}

// =============================================================================
// Error Classification
// =============================================================================

// classify maps transport and API errors onto the shared taxonomy.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w", op, datatypes.ErrUpstreamTimeout)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, context.Canceled)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: status %d: %w", op, apiErr.HTTPStatusCode, datatypes.ErrUpstreamFailure)
	}
	if strings.Contains(err.Error(), "deadline exceeded") {
		return fmt.Errorf("%s: %w", op, datatypes.ErrUpstreamTimeout)
	}
	return fmt.Errorf("%s: %v: %w", op, err, datatypes.ErrUpstreamFailure)
}
