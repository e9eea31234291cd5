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
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/qa"
)

// =============================================================================
// QA Pair Routes
// =============================================================================

// QAAddPair serves POST /qa/pairs.
func QAAddPair(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QAPairRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		id, err := deps.QA.Add(c.Request.Context(), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa pair added", gin.H{"id": id})
	}
}

// QAAddBatch serves POST /qa/pairs/batch.
func QAAddBatch(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QABatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		outcome, err := deps.QA.AddBatch(c.Request.Context(), req.Pairs)
		if err != nil {
			fail(c, deps, err, outcome)
			return
		}
		respond(c, "qa batch processed", outcome)
	}
}

// QAListPairs serves GET /qa/pairs with category/min_confidence/offset/
// limit filters.
func QAListPairs(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		pairs, total, err := deps.QA.List(c.Request.Context(),
			c.Query("category"),
			floatQuery(c, "min_confidence", 0),
			intQuery(c, "offset", 0),
			intQuery(c, "limit", 100),
		)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa pairs", gin.H{"pairs": pairs, "total": total})
	}
}

// QAGetPair serves GET /qa/pairs/{id}.
func QAGetPair(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		pair, err := deps.QA.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa pair", pair)
	}
}

// QAUpdatePair serves PUT /qa/pairs/{id}.
func QAUpdatePair(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QAPairRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		pair, err := deps.QA.Update(c.Request.Context(), c.Param("id"), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa pair updated", pair)
	}
}

// QADeletePair serves DELETE /qa/pairs/{id}.
func QADeletePair(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := deps.QA.Delete(c.Request.Context(), c.Param("id")); err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa pair deleted", gin.H{"id": c.Param("id")})
	}
}

// =============================================================================
// QA Query Routes
// =============================================================================

// QAQuery serves POST /qa/query.
func QAQuery(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QAQueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		result, err := deps.QA.Query(c.Request.Context(), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa query completed", result)
	}
}

// QAQueryBatch serves POST /qa/query/batch.
func QAQueryBatch(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.QAQueryBatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		results, err := deps.QA.BatchQuery(c.Request.Context(), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa batch query completed", gin.H{"results": results})
	}
}

// =============================================================================
// QA Import / Export / Statistics
// =============================================================================

// QAImport serves POST /qa/import: a multipart "file" plus optional
// overwrite_existing text field. The format is sniffed from the filename.
func QAImport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			badRequest(c, fmt.Errorf("multipart field %q required: %w", "file", err))
			return
		}
		if tooLarge(c, deps, header.Size) {
			return
		}

		content, err := readUpload(header)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		overwrite, _ := strconv.ParseBool(c.PostForm("overwrite_existing"))

		format := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
		outcome, err := deps.QA.Import(c.Request.Context(), bytes.NewReader(content), qa.ImportOptions{
			Format:            format,
			OverwriteExisting: overwrite,
		})
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa import completed", outcome)
	}
}

// QAExport serves GET /qa/export?format=json|csv&category=....
func QAExport(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		format := c.DefaultQuery("format", "json")
		var buf bytes.Buffer
		count, err := deps.QA.Export(c.Request.Context(), &buf, format, c.Query("category"))
		if err != nil {
			fail(c, deps, err, nil)
			return
		}

		filename := "qa_export." + format
		c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		contentType := "application/json"
		if format == "csv" {
			contentType = "text/csv"
		}
		c.Header("X-Export-Count", strconv.Itoa(count))
		c.Data(200, contentType, buf.Bytes())
	}
}

// QAStatistics serves GET /qa/statistics.
func QAStatistics(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := deps.QA.Statistics(c.Request.Context())
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa statistics", stats)
	}
}

// QACategories serves GET /qa/categories.
func QACategories(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := deps.QA.Categories(c.Request.Context())
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa categories", gin.H{"categories": names})
	}
}

// QADeleteCategory serves DELETE /qa/categories/{category}.
func QADeleteCategory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		outcome, err := deps.QA.DeleteCategory(c.Request.Context(), c.Param("category"))
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "qa category deleted", outcome)
	}
}
