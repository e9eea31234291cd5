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
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// Ingest Routes
// =============================================================================

// InsertText serves POST /insert/text.
func InsertText(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.InsertTextRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		outcome, err := deps.Ingestor.InsertText(c.Request.Context(), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "text inserted", outcome)
	}
}

// InsertTexts serves POST /insert/texts.
func InsertTexts(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.InsertTextsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		outcome, err := deps.Ingestor.InsertTexts(c.Request.Context(), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "texts inserted", outcome)
	}
}

// InsertFile serves POST /insert/file: one multipart file in field
// "file", with optional knowledge_base/language/track_id text fields.
func InsertFile(deps *Deps) gin.HandlerFunc {
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
		outcome, err := deps.Ingestor.InsertFile(c.Request.Context(), header.Filename, content,
			insertReqFromForm(c))
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "file inserted", outcome)
	}
}

// InsertFiles serves POST /insert/files: repeated "files" fields. Each
// file is tried individually.
func InsertFiles(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			badRequest(c, err)
			return
		}
		files := form.File["files"]
		if len(files) == 0 {
			badRequest(c, fmt.Errorf("multipart field %q required", "files"))
			return
		}

		combined := &datatypes.InsertOutcome{}
		base := insertReqFromForm(c)
		for _, header := range files {
			if deps.Config.MaxFileSize > 0 && header.Size > deps.Config.MaxFileSize {
				combined.Rejected++
				combined.Messages = append(combined.Messages,
					fmt.Sprintf("%s: exceeds maximum upload size", header.Filename))
				continue
			}
			content, err := readUpload(header)
			if err == nil {
				var outcome *datatypes.InsertOutcome
				outcome, err = deps.Ingestor.InsertFile(c.Request.Context(), header.Filename, content, base)
				if err == nil {
					combined.Accepted++
					combined.DocumentIDs = append(combined.DocumentIDs, outcome.DocumentIDs...)
					combined.TrackID = outcome.TrackID
					continue
				}
			}
			combined.Rejected++
			combined.Messages = append(combined.Messages,
				fmt.Sprintf("%s: %v", header.Filename, err))
		}
		respond(c, "files processed", combined)
	}
}

// InsertDirectory serves POST /insert/directory: a server-local path walk.
func InsertDirectory(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.InsertDirectoryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		outcome, err := deps.Ingestor.InsertDirectory(c.Request.Context(), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "directory processed", outcome)
	}
}

// =============================================================================
// Helpers
// =============================================================================

// insertReqFromForm reads the optional multipart text fields.
func insertReqFromForm(c *gin.Context) datatypes.InsertTextRequest {
	return datatypes.InsertTextRequest{
		KnowledgeBase: c.PostForm("knowledge_base"),
		Language:      c.PostForm("language"),
		TrackID:       c.PostForm("track_id"),
	}
}

// tooLarge enforces the configured upload bound with a 413.
func tooLarge(c *gin.Context, deps *Deps, size int64) bool {
	if deps.Config.MaxFileSize > 0 && size > deps.Config.MaxFileSize {
		err := datatypes.BadInputf("upload exceeds %d bytes", deps.Config.MaxFileSize)
		c.JSON(http.StatusRequestEntityTooLarge, datatypes.Fail(err, nil))
		return true
	}
	return false
}

func readUpload(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload %s: %v: %w", header.Filename, err, datatypes.ErrBadInput)
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload %s: %v: %w", header.Filename, err, datatypes.ErrInternal)
	}
	return content, nil
}
