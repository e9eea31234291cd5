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
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// Intent Routes
// =============================================================================

// IntentAnalyze serves POST /intent/analyze.
func IntentAnalyze(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AnalyzeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		analysis, err := deps.Intent.Analyze(c.Request.Context(), req.Query, req.Context)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "intent analysis", analysis)
	}
}

// IntentSafetyCheck serves POST /intent/safety-check.
func IntentSafetyCheck(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SafetyCheckRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		result, err := deps.Intent.SafetyCheck(c.Request.Context(), req.Content)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "safety check", result)
	}
}

// IntentStatus serves POST /intent/status.
func IntentStatus(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, "intent engine status", deps.Intent.Status())
	}
}

// =============================================================================
// Intent Config Routes
// =============================================================================

// intentConfigUpdate is the body of POST /intent-config/update. Nil
// fields keep current values.
type intentConfigUpdate struct {
	EducationalPatterns []string          `json:"educational_patterns"`
	InstructivePatterns []string          `json:"instructive_patterns"`
	IllegalCategories   []string          `json:"illegal_categories"`
	Templates           map[string]string `json:"templates"`
	IntentTypes         []string          `json:"intent_types"`
}

// IntentConfigGet serves GET /intent-config.
func IntentConfigGet(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		respond(c, "intent configuration", deps.Intent.ConfigSnapshot())
	}
}

// IntentConfigUpdate serves POST /intent-config/update. Changes take
// effect atomically on the next analysis call.
func IntentConfigUpdate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req intentConfigUpdate
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		var illegal map[string]bool
		if req.IllegalCategories != nil {
			illegal = make(map[string]bool, len(req.IllegalCategories))
			for _, cat := range req.IllegalCategories {
				illegal[cat] = true
			}
		}
		deps.Intent.UpdateSafetyRules(req.EducationalPatterns, req.InstructivePatterns, illegal)

		for _, label := range req.IntentTypes {
			if err := deps.Intent.RegisterIntentType(label); err != nil {
				fail(c, deps, err, nil)
				return
			}
		}
		for intentType, template := range req.Templates {
			if err := deps.Intent.UpdateTemplate(datatypes.ParseIntentType(intentType), template); err != nil {
				fail(c, deps, err, gin.H{"intent_type": intentType})
				return
			}
		}
		respond(c, "intent configuration updated", deps.Intent.ConfigSnapshot())
	}
}
