// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package documents runs the ingest pipeline: chunking, embedding, KV
// bookkeeping, and asynchronous graph construction.
package documents

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
)

// =============================================================================
// JSON KV Files
// =============================================================================

// readKV loads a kv_store_*.json file into out (a pointer to a map).
// A missing file yields an empty map: the KB manager heals layouts, and
// readers must not fail on a KB created by an older version.
func readKV(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return json.Unmarshal([]byte("{}"), out)
		}
		return fmt.Errorf("read %s: %v: %w", filepath.Base(path), err, datatypes.ErrStorageFailure)
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %v: %w", filepath.Base(path), err, datatypes.ErrStorageFailure)
	}
	return nil
}

// writeKV persists a KV map atomically (temp + rename).
func writeKV(path string, in any) error {
	raw, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %v: %w", filepath.Base(path), err, datatypes.ErrStorageFailure)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp for %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	name := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("write %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("rename %s: %v: %w", path, err, datatypes.ErrStorageFailure)
	}
	return nil
}
