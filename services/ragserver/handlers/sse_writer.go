// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// SSE Writer
// =============================================================================

// SSEWriter writes the query stream's event grammar to an HTTP response:
// exactly one metadata event, any number of content events, then one
// terminal done or error event. Frames are `data: {json}\n\n`.
//
// Safe for concurrent use; each event flushes immediately so the client
// sees fragments as they are produced.
type SSEWriter interface {
	// WriteMetadata writes the leading metadata event.
	WriteMetadata(meta datatypes.StreamMetadata) error

	// WriteContent writes one answer fragment.
	WriteContent(fragment string) error

	// WriteDone writes the terminal done event with the total response
	// time in seconds.
	WriteDone(responseTime float64) error

	// WriteError writes the terminal error event. The message must
	// already be sanitized for the client.
	WriteError(message, errorCode string) error
}

// sseWriter implements SSEWriter over an http.ResponseWriter.
type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter wraps w, which must support http.Flusher. The caller sets
// the SSE headers first via SetSSEHeaders.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &sseWriter{writer: w, flusher: flusher}, nil
}

// SetSSEHeaders configures the response for event streaming. Must run
// before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func (w *sseWriter) writeEvent(event datatypes.StreamEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(w.writer, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

func (w *sseWriter) WriteMetadata(meta datatypes.StreamMetadata) error {
	return w.writeEvent(datatypes.StreamEvent{Type: datatypes.EventMetadata, Data: meta})
}

func (w *sseWriter) WriteContent(fragment string) error {
	return w.writeEvent(datatypes.StreamEvent{Type: datatypes.EventContent, Data: fragment})
}

func (w *sseWriter) WriteDone(responseTime float64) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type: datatypes.EventDone,
		Data: datatypes.StreamDone{ResponseTime: responseTime},
	})
}

func (w *sseWriter) WriteError(message, errorCode string) error {
	return w.writeEvent(datatypes.StreamEvent{
		Type: datatypes.EventError,
		Data: datatypes.StreamError{Message: message, ErrorCode: errorCode},
	})
}

var _ SSEWriter = (*sseWriter)(nil)
