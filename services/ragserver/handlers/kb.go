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
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// Knowledge-Base Routes
// =============================================================================

// KBList serves GET /knowledge-bases.
func KBList(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := deps.KB.List(c.Request.Context())
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "knowledge bases", gin.H{"knowledge_bases": list, "current": deps.KB.CurrentName()})
	}
}

// KBCreate serves POST /knowledge-bases.
func KBCreate(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.KBCreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		info, err := deps.KB.Create(c.Request.Context(), req)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "knowledge base created", info)
	}
}

// KBDelete serves DELETE /knowledge-bases/{name}?force=true.
func KBDelete(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		force, _ := strconv.ParseBool(c.Query("force"))
		if err := deps.KB.Delete(c.Request.Context(), c.Param("name"), force); err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "knowledge base deleted", gin.H{"name": c.Param("name")})
	}
}

// KBSwitch serves POST /knowledge-bases/switch.
func KBSwitch(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.KBSwitchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := deps.KB.SwitchCurrent(c.Request.Context(), req.Name); err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "current knowledge base switched", gin.H{"current": req.Name})
	}
}

// KBCurrent serves GET /knowledge-bases/current.
func KBCurrent(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		info, err := deps.KB.Current(c.Request.Context())
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "current knowledge base", info)
	}
}

// KBUpdateConfig serves PUT /knowledge-bases/{name}/config.
func KBUpdateConfig(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var partial map[string]any
		if err := c.ShouldBindJSON(&partial); err != nil {
			badRequest(c, err)
			return
		}
		info, err := deps.KB.UpdateConfig(c.Request.Context(), c.Param("name"), partial)
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "knowledge base config updated", info)
	}
}

// KBBackup serves POST /knowledge-bases/{name}/backup.
func KBBackup(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		path, err := deps.KB.Backup(c.Request.Context(), c.Param("name"))
		if err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "knowledge base backed up", gin.H{"path": path})
	}
}

// KBRestore serves POST /knowledge-bases/{name}/restore.
func KBRestore(deps *Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.KBRestoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		if err := deps.KB.Restore(c.Request.Context(), c.Param("name"), req.Path); err != nil {
			fail(c, deps, err, nil)
			return
		}
		respond(c, "knowledge base restored", gin.H{"name": c.Param("name"), "from": req.Path})
	}
}
