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
// User Identity
// =============================================================================

// IdentitySource records which signal produced a UserIdentity.
type IdentitySource string

const (
	// IdentityFromUserHeader means the configured user-id header was
	// honored (peer inside the trusted-proxy set).
	IdentityFromUserHeader IdentitySource = "user_header"

	// IdentityFromClientHeader means the client-id header was used.
	IdentityFromClientHeader IdentitySource = "client_header"

	// IdentityFromAPIKey means a hashed Authorization credential was used.
	IdentityFromAPIKey IdentitySource = "api_key"

	// IdentityFromIP means the resolved client IP was used.
	IdentityFromIP IdentitySource = "ip"
)

// UserIdentity is the per-request identity derived by the gate middleware.
//
// UserID is stable for a given caller and is the rate-limit bucket key.
// SourceIP is the raw peer address; forwarded headers are folded into
// UserID only when the peer is a trusted proxy.
type UserIdentity struct {
	UserID   string         `json:"user_id"`
	Tier     string         `json:"tier"`
	Source   IdentitySource `json:"source"`
	SourceIP string         `json:"source_ip"`
}

// RateDecision is the admission-control outcome for one request.
type RateDecision int

const (
	// DecisionAccept admits the request.
	DecisionAccept RateDecision = iota

	// DecisionRejectRate rejects because the window quota is exhausted.
	DecisionRejectRate

	// DecisionRejectInterval rejects because the request arrived before
	// the per-user minimum interval elapsed.
	DecisionRejectInterval
)

// String returns the wire name of the decision.
func (d RateDecision) String() string {
	switch d {
	case DecisionAccept:
		return "accept"
	case DecisionRejectRate:
		return "reject-rate"
	case DecisionRejectInterval:
		return "reject-interval"
	default:
		return "unknown"
	}
}
