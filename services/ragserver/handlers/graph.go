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
	"github.com/AleutianAI/AleutianRAG/services/ragserver/retrieval"
)

// =============================================================================
// Knowledge-Graph Routes
// =============================================================================

// graphStoreFor resolves the graph store of the requested KB (empty =
// current).
func graphStoreFor(deps *Deps, kbName string) *retrieval.GraphStore {
	if kbName == "" {
		kbName = deps.KB.CurrentName()
	}
	return retrieval.NewGraphStore(deps.KB, kbName, deps.Locks)
}

// GraphSubgraph serves POST /knowledge-graph.
func GraphSubgraph(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SubgraphRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		sub, err := graphStoreFor(deps, req.KnowledgeBase).Subgraph(
			c.Request.Context(), req.Label, req.MaxDepth)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "subgraph", sub)
	}
}

// GraphStats serves GET /knowledge-graph/stats.
func GraphStats(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := graphStoreFor(deps, c.Query("knowledge_base")).Stats(c.Request.Context())
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "graph statistics", stats)
	}
}

// GraphClear serves DELETE /knowledge-graph/clear.
func GraphClear(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := graphStoreFor(deps, c.Query("knowledge_base")).Clear(c.Request.Context()); err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "graph cleared", nil)
	}
}
