// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared request, response, and domain types
// for the RAG server.
//
// This package is dependency-free within the service: every other package
// imports it, and it imports none of them. Error taxonomy, the common HTTP
// envelope, and SSE stream events all live here so that handlers, the
// orchestrator, and storage layers agree on one vocabulary.
package datatypes

import (
	"errors"
	"fmt"
	"net/http"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// Sentinel errors for the service-wide failure taxonomy.
//
// Every component reports failures by wrapping one of these sentinels with
// fmt.Errorf("...: %w", Err*). The HTTP boundary resolves the sentinel via
// errors.Is and maps it to a status code and a machine-readable error_code.
// Anything that does not wrap a sentinel is classified as internal.
var (
	// ErrBadInput marks client errors: missing required fields,
	// out-of-range parameters, unsupported query modes.
	ErrBadInput = errors.New("bad input")

	// ErrNotFound marks lookups of unknown knowledge bases, QA pairs,
	// categories, or cache types.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks duplicate creation, e.g. a knowledge base
	// name that is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrRejectedBySafety marks queries the intent engine refused.
	ErrRejectedBySafety = errors.New("rejected by safety")

	// ErrRateLimited marks admission-control rejections, both quota
	// exhaustion and minimum-interval violations.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamTimeout marks LLM/embedding/rerank calls that did not
	// answer within their budget.
	ErrUpstreamTimeout = errors.New("upstream timeout")

	// ErrUpstreamFailure marks non-2xx or unparseable upstream replies.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrStorageFailure marks failed disk writes or corrupted files.
	ErrStorageFailure = errors.New("storage failure")

	// ErrLockTimeout marks a lock acquisition that exceeded its bound.
	// It maps to internal at the HTTP boundary but stays distinct so
	// callers can retry or shed load.
	ErrLockTimeout = errors.New("lock acquisition timeout")

	// ErrInternal marks everything unclassified.
	ErrInternal = errors.New("internal error")
)

// ErrorCode returns the wire-level error_code string for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrBadInput):
		return "bad-input"
	case errors.Is(err, ErrNotFound):
		return "not-found"
	case errors.Is(err, ErrAlreadyExists):
		return "already-exists"
	case errors.Is(err, ErrRejectedBySafety):
		return "rejected-by-safety"
	case errors.Is(err, ErrRateLimited):
		return "rate-limited"
	case errors.Is(err, ErrUpstreamTimeout):
		return "upstream-timeout"
	case errors.Is(err, ErrUpstreamFailure):
		return "upstream-failure"
	case errors.Is(err, ErrStorageFailure):
		return "storage-failure"
	default:
		return "internal"
	}
}

// HTTPStatus returns the HTTP status code for err.
//
// Safety rejections answer 200 with success=false in the envelope; no
// configuration option changes this to 403.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrBadInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrRejectedBySafety):
		return http.StatusOK
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrUpstreamFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// BadInputf builds an ErrBadInput with a formatted detail message.
func BadInputf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrBadInput)...)
}

// NotFoundf builds an ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}
