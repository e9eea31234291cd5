// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kb manages the per-tenant knowledge bases.
//
// Each knowledge base is a working directory with a fixed layout:
//
//	<working_dir>/<name>/
//	  meta.json
//	  kv_store_full_docs.json
//	  kv_store_text_chunks.json
//	  kv_store_doc_status.json
//	  graph_chunk_entity_relation.graphml
//	  vector_cache/
//
// A directory is either fully initialized or being initialized under the
// creation lock, never partially visible to readers. Exactly one KB is
// "current" at any moment; requests may override per call.
package kb

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
)

// Required files of an initialized working directory.
const (
	MetaFile       = "meta.json"
	FullDocsFile   = "kv_store_full_docs.json"
	TextChunksFile = "kv_store_text_chunks.json"
	DocStatusFile  = "kv_store_doc_status.json"
	GraphFile      = "graph_chunk_entity_relation.graphml"
	VectorCacheDir = "vector_cache"
)

var requiredFiles = []string{
	MetaFile, FullDocsFile, TextChunksFile, DocStatusFile, GraphFile,
}

// DefaultName is created on first startup so ambient queries always have
// a target.
const DefaultName = "default"

// =============================================================================
// Manager
// =============================================================================

// Manager owns the knowledge-base lifecycle. Only the manager mutates KB
// metadata; other components resolve working directories through it.
type Manager struct {
	rootDir string
	locks   *locks.KeyedTable
	log     *logging.Logger
	current atomic.Pointer[string]
}

// kbMeta is the persisted shape of a KB's meta.json.
type kbMeta struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Language    string             `json:"language,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Config      datatypes.KBConfig `json:"config"`
}

// NewManager opens the KB root, creating it and the default KB when
// absent. The lexicographically first existing KB (the default when it
// was just created) becomes current.
func NewManager(rootDir string, table *locks.KeyedTable, log *logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0o750); err != nil {
		return nil, fmt.Errorf("kb root %s: %v: %w", rootDir, err, datatypes.ErrStorageFailure)
	}
	m := &Manager{
		rootDir: rootDir,
		locks:   table,
		log:     log.With("component", "kb_manager"),
	}

	names, err := m.names()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		if _, err := m.Create(context.Background(), datatypes.KBCreateRequest{
			Name:        DefaultName,
			Description: "Default knowledge base",
		}); err != nil {
			return nil, err
		}
		names = []string{DefaultName}
	}

	first := names[0]
	m.current.Store(&first)
	return m, nil
}

// names lists KB directory names in sorted order.
func (m *Manager) names() ([]string, error) {
	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return nil, fmt.Errorf("read kb root: %v: %w", err, datatypes.ErrStorageFailure)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Dir returns the working directory of a KB name.
func (m *Manager) Dir(name string) string {
	return filepath.Join(m.rootDir, name)
}

// =============================================================================
// Lifecycle Operations
// =============================================================================

// List returns every KB's metadata in name order; IsCurrent marks the
// current one.
func (m *Manager) List(ctx context.Context) ([]datatypes.KnowledgeBase, error) {
	names, err := m.names()
	if err != nil {
		return nil, err
	}
	current := m.CurrentName()
	out := make([]datatypes.KnowledgeBase, 0, len(names))
	for _, name := range names {
		info, err := m.Info(ctx, name)
		if err != nil {
			m.log.Warn("skipping unreadable knowledge base", "name", name, "error", err.Error())
			continue
		}
		info.IsCurrent = name == current
		out = append(out, *info)
	}
	return out, nil
}

// Create lays out a new KB under the creation lock with double-checked
// existence. Duplicate names answer already-exists.
func (m *Manager) Create(ctx context.Context, req datatypes.KBCreateRequest) (*datatypes.KnowledgeBase, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, datatypes.BadInputf("knowledge base name must not be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, datatypes.BadInputf("knowledge base name %q is not a valid directory name", name)
	}

	h, err := m.locks.Acquire(ctx, "kb:"+name, "create")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	dir := m.Dir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, fmt.Errorf("knowledge base %q: %w", name, datatypes.ErrAlreadyExists)
	}

	meta := kbMeta{
		Name:        name,
		Description: req.Description,
		Language:    req.Language,
		CreatedAt:   time.Now().UTC(),
		Config:      configFromMap(req.Config),
	}

	if err := layoutWorkingDir(dir, meta); err != nil {
		// A partial layout must not become visible.
		os.RemoveAll(dir)
		return nil, err
	}

	m.log.Info("knowledge base created", "name", name, "dir", dir)
	return m.toPublic(name, meta), nil
}

// configFromMap folds the request's config map over the defaults.
func configFromMap(raw map[string]any) datatypes.KBConfig {
	cfg := datatypes.KBConfig{ChunkSize: 1200, ChunkOverlap: 100, AutoUpdate: true}
	if raw == nil {
		return cfg
	}
	if v, ok := numberAt(raw, "chunk_size"); ok {
		cfg.ChunkSize = v
	}
	if v, ok := numberAt(raw, "chunk_overlap"); ok {
		cfg.ChunkOverlap = v
	}
	if v, ok := raw["auto_update"].(bool); ok {
		cfg.AutoUpdate = v
	}
	return cfg
}

func numberAt(raw map[string]any, key string) (int, bool) {
	switch v := raw[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

// layoutWorkingDir writes every required file of a fresh KB.
func layoutWorkingDir(dir string, meta kbMeta) error {
	if err := os.MkdirAll(filepath.Join(dir, VectorCacheDir), 0o750); err != nil {
		return fmt.Errorf("layout %s: %v: %w", dir, err, datatypes.ErrStorageFailure)
	}

	rawMeta, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal kb meta: %v: %w", err, datatypes.ErrStorageFailure)
	}
	files := map[string][]byte{
		MetaFile:       rawMeta,
		FullDocsFile:   []byte("{}\n"),
		TextChunksFile: []byte("{}\n"),
		DocStatusFile:  []byte("{}\n"),
		GraphFile:      emptyGraphML(),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o640); err != nil {
			return fmt.Errorf("write %s: %v: %w", name, err, datatypes.ErrStorageFailure)
		}
	}
	return nil
}

// emptyGraphML is the empty-graph document written at creation.
func emptyGraphML() []byte {
	header := []byte(xml.Header)
	body := []byte(`<graphml xmlns="http://graphml.graphdrawing.org/xmlns">` + "\n" +
		`  <graph id="G" edgedefault="undirected">` + "\n" +
		`  </graph>` + "\n" +
		`</graphml>` + "\n")
	return append(header, body...)
}

// Delete removes a KB. Deleting the current KB requires force; the
// directory tree goes away and in-flight handles observe not-found on
// their next storage call.
func (m *Manager) Delete(ctx context.Context, name string, force bool) error {
	if name == m.CurrentName() && !force {
		return datatypes.BadInputf("knowledge base %q is current; pass force to delete", name)
	}

	h, err := m.locks.Acquire(ctx, "kb:"+name, "delete")
	if err != nil {
		return err
	}
	defer h.Release()

	dir := m.Dir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return datatypes.NotFoundf("knowledge base %q", name)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove %s: %v: %w", dir, err, datatypes.ErrStorageFailure)
	}

	// The creation fallback below re-enters the lock table, so this
	// name's lock must be gone first. Release is idempotent with the
	// deferred call.
	h.Release()

	if name == m.CurrentName() {
		// Fall back to any remaining KB, creating default when none left.
		names, err := m.names()
		if err != nil {
			return err
		}
		next := DefaultName
		if len(names) > 0 {
			next = names[0]
		} else {
			if _, err := m.Create(ctx, datatypes.KBCreateRequest{Name: DefaultName}); err != nil {
				return err
			}
		}
		m.current.Store(&next)
	}

	m.log.Info("knowledge base deleted", "name", name, "forced", force)
	return nil
}

// SwitchCurrent atomically repoints the ambient KB. In-flight queries
// keep their resolved KB.
func (m *Manager) SwitchCurrent(ctx context.Context, name string) error {
	if _, err := m.Info(ctx, name); err != nil {
		return err
	}
	m.current.Store(&name)
	m.log.Info("current knowledge base switched", "name", name)
	return nil
}

// CurrentName returns the ambient KB name.
func (m *Manager) CurrentName() string {
	if p := m.current.Load(); p != nil {
		return *p
	}
	return DefaultName
}

// Current returns the ambient KB's metadata.
func (m *Manager) Current(ctx context.Context) (*datatypes.KnowledgeBase, error) {
	info, err := m.Info(ctx, m.CurrentName())
	if err != nil {
		return nil, err
	}
	info.IsCurrent = true
	return info, nil
}

// Info reads one KB's metadata.
func (m *Manager) Info(_ context.Context, name string) (*datatypes.KnowledgeBase, error) {
	meta, err := m.readMeta(name)
	if err != nil {
		return nil, err
	}
	info := m.toPublic(name, *meta)
	info.IsCurrent = name == m.CurrentName()
	return info, nil
}

func (m *Manager) readMeta(name string) (*kbMeta, error) {
	raw, err := os.ReadFile(filepath.Join(m.Dir(name), MetaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, datatypes.NotFoundf("knowledge base %q", name)
		}
		return nil, fmt.Errorf("read kb meta: %v: %w", err, datatypes.ErrStorageFailure)
	}
	var meta kbMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parse kb meta: %v: %w", err, datatypes.ErrStorageFailure)
	}
	return &meta, nil
}

func (m *Manager) toPublic(name string, meta kbMeta) *datatypes.KnowledgeBase {
	return &datatypes.KnowledgeBase{
		Name:        name,
		Description: meta.Description,
		Language:    meta.Language,
		CreatedAt:   meta.CreatedAt,
		WorkingDir:  m.Dir(name),
		Config:      meta.Config,
	}
}

// UpdateConfig merges a partial config map into the stored metadata.
// Stored documents are untouched; only future ingest and retrieval see
// the change.
func (m *Manager) UpdateConfig(ctx context.Context, name string, partial map[string]any) (*datatypes.KnowledgeBase, error) {
	h, err := m.locks.Acquire(ctx, "kb:"+name, "update_config")
	if err != nil {
		return nil, err
	}
	defer h.Release()

	meta, err := m.readMeta(name)
	if err != nil {
		return nil, err
	}

	if v, ok := numberAt(partial, "chunk_size"); ok {
		meta.Config.ChunkSize = v
	}
	if v, ok := numberAt(partial, "chunk_overlap"); ok {
		meta.Config.ChunkOverlap = v
	}
	if v, ok := partial["auto_update"].(bool); ok {
		meta.Config.AutoUpdate = v
	}
	if v, ok := partial["language"].(string); ok {
		meta.Language = v
	}
	if v, ok := partial["description"].(string); ok {
		meta.Description = v
	}

	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal kb meta: %v: %w", err, datatypes.ErrStorageFailure)
	}
	if err := os.WriteFile(filepath.Join(m.Dir(name), MetaFile), raw, 0o640); err != nil {
		return nil, fmt.Errorf("write kb meta: %v: %w", err, datatypes.ErrStorageFailure)
	}
	return m.toPublic(name, *meta), nil
}

// =============================================================================
// Backup / Restore
// =============================================================================

// Backup copies the KB's working directory into a timestamped sibling
// under <root>/.backups and returns the backup path.
func (m *Manager) Backup(ctx context.Context, name string) (string, error) {
	h, err := m.locks.Acquire(ctx, "kb:"+name, "backup")
	if err != nil {
		return "", err
	}
	defer h.Release()

	if _, err := m.readMeta(name); err != nil {
		return "", err
	}

	stamp := time.Now().UTC().Format("20060102-150405")
	dst := filepath.Join(m.rootDir, ".backups", fmt.Sprintf("%s-%s", name, stamp))
	if err := copyTree(m.Dir(name), dst); err != nil {
		return "", err
	}
	m.log.Info("knowledge base backed up", "name", name, "path", dst)
	return dst, nil
}

// Restore replaces the KB's working directory with the backup at path.
func (m *Manager) Restore(ctx context.Context, name, path string) error {
	h, err := m.locks.Acquire(ctx, "kb:"+name, "restore")
	if err != nil {
		return err
	}
	defer h.Release()

	if _, err := os.Stat(filepath.Join(path, MetaFile)); err != nil {
		return datatypes.BadInputf("backup path %q is not a knowledge base snapshot", path)
	}

	dir := m.Dir(name)
	staging := dir + ".restoring"
	os.RemoveAll(staging)
	if err := copyTree(path, staging); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear %s: %v: %w", dir, err, datatypes.ErrStorageFailure)
	}
	if err := os.Rename(staging, dir); err != nil {
		return fmt.Errorf("activate restore: %v: %w", err, datatypes.ErrStorageFailure)
	}
	m.log.Info("knowledge base restored", "name", name, "from", path)
	return nil
}

// copyTree recursively copies src into dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walk %s: %v: %w", path, err, datatypes.ErrStorageFailure)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %v: %w", path, err, datatypes.ErrStorageFailure)
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
		if err != nil {
			return fmt.Errorf("create %s: %v: %w", target, err, datatypes.ErrStorageFailure)
		}
		defer out.Close()
		if _, err := io.Copy(out, in); err != nil {
			return fmt.Errorf("copy %s: %v: %w", target, err, datatypes.ErrStorageFailure)
		}
		return nil
	})
}

// =============================================================================
// Integrity
// =============================================================================

// EnsureInitialized verifies the working directory's required files,
// recreating any missing KV file with an empty store. Healing is logged as
// a warning: it indicates a partially created KB from an older version.
func (m *Manager) EnsureInitialized(ctx context.Context, name string) error {
	dir := m.Dir(name)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return datatypes.NotFoundf("knowledge base %q", name)
	}

	for _, file := range requiredFiles {
		path := filepath.Join(dir, file)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		var content []byte
		switch file {
		case GraphFile:
			content = emptyGraphML()
		case MetaFile:
			continue // missing meta is handled by readMeta's not-found
		default:
			content = []byte("{}\n")
		}
		m.log.Warn("auto-healing missing knowledge base file", "name", name, "file", file)
		if err := os.WriteFile(path, content, 0o640); err != nil {
			return fmt.Errorf("heal %s: %v: %w", path, err, datatypes.ErrStorageFailure)
		}
	}
	return os.MkdirAll(filepath.Join(dir, VectorCacheDir), 0o750)
}
