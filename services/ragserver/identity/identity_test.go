// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, warnings := New(Options{
		EnableProxyHeaders: true,
		TrustedProxyIPs:    []string{"10.0.0.0/8", "127.0.0.1"},
		Tiers:              map[string]int{"default": 100, "free": 10, "pro": 300},
	})
	require.Empty(t, warnings)
	return e
}

func TestUserHeaderHonoredFromTrustedPeer(t *testing.T) {
	e := newTestExtractor(t)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-User-Id", "u-42")

	id := e.FromRequest(r)
	assert.Equal(t, "u-42", id.UserID)
	assert.Equal(t, datatypes.IdentityFromUserHeader, id.Source)
	assert.Equal(t, "10.1.2.3", id.SourceIP)
}

func TestUserHeaderIgnoredFromUntrustedPeer(t *testing.T) {
	e := newTestExtractor(t)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("X-User-Id", "u-42")
	r.Header.Set("X-Forwarded-For", "198.51.100.1")

	id := e.FromRequest(r)
	assert.Equal(t, "203.0.113.9", id.UserID, "untrusted peer falls back to peer IP")
	assert.Equal(t, datatypes.IdentityFromIP, id.Source)
}

func TestClientHeaderFallback(t *testing.T) {
	e := newTestExtractor(t)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("X-Client-Id", "client-7")

	id := e.FromRequest(r)
	assert.Equal(t, "client-7", id.UserID)
	assert.Equal(t, datatypes.IdentityFromClientHeader, id.Source)
}

func TestAuthorizationHashFallback(t *testing.T) {
	e := newTestExtractor(t)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("Authorization", "Bearer secret-token")

	id := e.FromRequest(r)
	assert.Equal(t, datatypes.IdentityFromAPIKey, id.Source)
	assert.Contains(t, id.UserID, "key:")
	assert.NotContains(t, id.UserID, "secret-token", "raw credential never becomes the identity")

	// Same credential, same identity.
	again := e.FromRequest(r)
	assert.Equal(t, id.UserID, again.UserID)
}

func TestForwardedForHonoredOnlyWhenTrusted(t *testing.T) {
	e := newTestExtractor(t)

	trusted := httptest.NewRequest("GET", "/", nil)
	trusted.RemoteAddr = "10.0.0.1:1000"
	trusted.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	assert.Equal(t, "198.51.100.7", e.FromRequest(trusted).UserID)

	untrusted := httptest.NewRequest("GET", "/", nil)
	untrusted.RemoteAddr = "203.0.113.9:1000"
	untrusted.Header.Set("X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, "203.0.113.9", e.FromRequest(untrusted).UserID)
}

func TestTierDerivation(t *testing.T) {
	e := newTestExtractor(t)

	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "127.0.0.1:1000"

	assert.Equal(t, "default", e.FromRequest(r).Tier)

	r.Header.Set("X-User-Tier", "pro")
	assert.Equal(t, "pro", e.FromRequest(r).Tier)

	r.Header.Set("X-User-Tier", "made-up")
	assert.Equal(t, "default", e.FromRequest(r).Tier, "unknown tiers fall back to default")
}

func TestInvalidProxyEntriesWarn(t *testing.T) {
	_, warnings := New(Options{
		EnableProxyHeaders: true,
		TrustedProxyIPs:    []string{"not-a-cidr", "10.0.0.0/8"},
	})
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "not-a-cidr")
}
