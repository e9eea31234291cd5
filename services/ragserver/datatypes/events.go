// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// =============================================================================
// SSE Stream Events
// =============================================================================

// StreamEventType enumerates the SSE event kinds emitted by streaming
// queries. The wire sequence is exactly one metadata event, zero or more
// content events, then exactly one done or error event.
type StreamEventType string

const (
	EventMetadata StreamEventType = "metadata"
	EventContent  StreamEventType = "content"
	EventDone     StreamEventType = "done"
	EventError    StreamEventType = "error"
)

// StreamEvent is one SSE frame, serialized as
// `data: {"type":...,"data":...}\n\n`.
type StreamEvent struct {
	Type StreamEventType `json:"type"`
	Data any             `json:"data"`
}

// StreamMetadata is the payload of the leading metadata event.
type StreamMetadata struct {
	Mode          QueryMode `json:"mode"`
	KnowledgeBase string    `json:"knowledge_base"`
	Language      string    `json:"language,omitempty"`
	Streaming     bool      `json:"streaming"`
	TraceID       string    `json:"trace_id,omitempty"`
}

// StreamDone is the payload of the terminal done event.
type StreamDone struct {
	ResponseTime float64 `json:"response_time"`
}

// StreamError is the payload of the terminal error event.
type StreamError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}
