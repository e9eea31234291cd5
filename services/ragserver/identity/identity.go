// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package identity derives a stable per-request user identity from trusted
// proxy headers.
//
// Derivation order, stopping at the first non-empty signal:
//
//  1. The configured user-id header, honored only when the peer address is
//     inside the trusted-proxy CIDR set.
//  2. The configured client-id header.
//  3. The Authorization credential, hashed.
//  4. The client IP. X-Forwarded-For is resolved only behind a trusted
//     proxy, otherwise the raw peer.
//
// Header parsing errors are never fatal; the fallback is always the peer
// IP. A malformed trusted-proxy configuration is reported once at
// construction so the operator sees it at startup.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// Extractor
// =============================================================================

// Options configures an Extractor.
type Options struct {
	// EnableProxyHeaders gates the user-id header and forwarded-address
	// handling. When false the identity comes from the client-id header,
	// the credential, or the raw peer.
	EnableProxyHeaders bool

	// TrustedProxyIPs is the CIDR set of peers whose forwarded headers
	// are honored. Invalid entries are skipped and reported.
	TrustedProxyIPs []string

	// Header names; empty strings fall back to the X-User-Id /
	// X-Client-Id / X-User-Tier defaults.
	UserIDHeader   string
	ClientIDHeader string
	UserTierHeader string

	// Tiers is the set of recognized tier names. Unknown header values
	// fall back to "default".
	Tiers map[string]int
}

// Extractor derives UserIdentity values from HTTP requests. It is immutable
// after construction and safe for concurrent use.
type Extractor struct {
	opts     Options
	trusted  []netip.Prefix
	warnings []string
}

// New builds an Extractor. The returned warnings name each rejected
// trusted-proxy entry; the caller logs them once at startup.
func New(opts Options) (*Extractor, []string) {
	if opts.UserIDHeader == "" {
		opts.UserIDHeader = "X-User-Id"
	}
	if opts.ClientIDHeader == "" {
		opts.ClientIDHeader = "X-Client-Id"
	}
	if opts.UserTierHeader == "" {
		opts.UserTierHeader = "X-User-Tier"
	}

	e := &Extractor{opts: opts}
	for _, cidr := range opts.TrustedProxyIPs {
		prefix, err := parsePrefix(cidr)
		if err != nil {
			e.warnings = append(e.warnings, "invalid trusted_proxy_ips entry "+cidr)
			continue
		}
		e.trusted = append(e.trusted, prefix)
	}
	return e, e.warnings
}

// parsePrefix accepts either CIDR notation or a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// FromRequest derives the identity for one request.
func (e *Extractor) FromRequest(r *http.Request) datatypes.UserIdentity {
	peer := peerAddr(r)
	trusted := e.isTrusted(peer)

	id := datatypes.UserIdentity{
		Tier:     e.tierFrom(r),
		SourceIP: peer,
	}

	// 1. User-id header, trusted peers only.
	if e.opts.EnableProxyHeaders && trusted {
		if v := strings.TrimSpace(r.Header.Get(e.opts.UserIDHeader)); v != "" {
			id.UserID = v
			id.Source = datatypes.IdentityFromUserHeader
			return id
		}
	}

	// 2. Client-id header.
	if v := strings.TrimSpace(r.Header.Get(e.opts.ClientIDHeader)); v != "" {
		id.UserID = v
		id.Source = datatypes.IdentityFromClientHeader
		return id
	}

	// 3. Hashed Authorization credential.
	if v := strings.TrimSpace(r.Header.Get("Authorization")); v != "" {
		sum := sha256.Sum256([]byte(v))
		id.UserID = "key:" + hex.EncodeToString(sum[:8])
		id.Source = datatypes.IdentityFromAPIKey
		return id
	}

	// 4. Client IP. Forwarded headers only behind a trusted proxy.
	ip := peer
	if e.opts.EnableProxyHeaders && trusted {
		if v := forwardedClient(r); v != "" {
			ip = v
		}
	}
	id.UserID = ip
	id.Source = datatypes.IdentityFromIP
	return id
}

// tierFrom resolves the tier header against the recognized tier set.
func (e *Extractor) tierFrom(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get(e.opts.UserTierHeader))
	if v == "" {
		return "default"
	}
	if _, ok := e.opts.Tiers[v]; ok {
		return v
	}
	return "default"
}

// isTrusted reports whether addr is inside the trusted-proxy set.
func (e *Extractor) isTrusted(addr string) bool {
	parsed, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	parsed = parsed.Unmap()
	for _, prefix := range e.trusted {
		if prefix.Contains(parsed) {
			return true
		}
	}
	return false
}

// peerAddr strips the port from RemoteAddr, tolerating bare addresses.
func peerAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// forwardedClient returns the first X-Forwarded-For hop, else X-Real-IP.
func forwardedClient(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if _, err := netip.ParseAddr(first); err == nil {
			return first
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		if _, err := netip.ParseAddr(real); err == nil {
			return real
		}
	}
	return ""
}
