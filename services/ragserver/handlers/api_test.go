// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// End-to-end tests over the mounted route table: real components with
// stubbed upstream clients, driven through httptest.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/cache"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/clients"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/config"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/datatypes"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/documents"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/handlers"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/identity"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/intent"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/kb"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/locks"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/observability"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/orchestrator"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/qa"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/ratelimit"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/retrieval"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/routes"
)

// =============================================================================
// Stub Upstreams
// =============================================================================

type stubEmbedder struct{ dim int }

func (s *stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, s.dim)
		for _, word := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(strings.Trim(word, "?.,!")))
			vec[int(h.Sum32())%s.dim]++
		}
		var norm float64
		for _, v := range vec {
			norm += float64(v) * float64(v)
		}
		if norm > 0 {
			n := float32(math.Sqrt(norm))
			for j := range vec {
				vec[j] /= n
			}
		} else {
			vec[0] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func (s *stubEmbedder) Dimension() int                { return s.dim }
func (s *stubEmbedder) Probe(_ context.Context) error { return nil }

type stubLLM struct{ calls int }

func (s *stubLLM) Complete(_ context.Context, _, _ string) (string, error) {
	s.calls++
	return "AI is a branch of computer science.", nil
}

func (s *stubLLM) Stream(ctx context.Context, system, prompt string) (clients.TokenStream, error) {
	answer, err := s.Complete(ctx, system, prompt)
	if err != nil {
		return nil, err
	}
	return &sliceStream{fragments: strings.SplitAfter(answer, " ")}, nil
}

type sliceStream struct {
	fragments []string
	idx       int
}

func (s *sliceStream) Next() (string, bool, error) {
	if s.idx >= len(s.fragments) {
		return "", false, nil
	}
	f := s.fragments[s.idx]
	s.idx++
	return f, true, nil
}

func (s *sliceStream) Close() error { return nil }

// =============================================================================
// Test Server
// =============================================================================

type apiFixture struct {
	router *gin.Engine
	llm    *stubLLM
}

func newAPI(t *testing.T, cfg config.Config) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
	table := locks.NewKeyedTable(10 * time.Second)

	if cfg.WorkingDir == "" {
		cfg.WorkingDir = t.TempDir()
	}
	if cfg.QAStorageDir == "" {
		cfg.QAStorageDir = t.TempDir()
	}

	manager, err := kb.NewManager(cfg.WorkingDir, table, log)
	require.NoError(t, err)

	embedder := &stubEmbedder{dim: 16}
	llm := &stubLLM{}
	caches := cache.NewCoordinator(nil, 0, time.Hour)

	qaStore, err := qa.NewStore(cfg.QAStorageDir, embedder, table, nil, 0.98, log)
	require.NoError(t, err)

	intentEngine, err := intent.NewEngine(intent.Options{EnableEnhancement: true}, nil, log)
	require.NoError(t, err)
	t.Cleanup(func() { intentEngine.Close() })

	engine := retrieval.NewEngine(retrieval.Options{Dimension: 16},
		manager, embedder, llm, nil, caches, table, log)

	orch := orchestrator.New(engine, intentEngine, orchestrator.Defaults{
		EnableIntentAnalysis: true,
		SafetyCheck:          true,
	}, log)

	ingestor := documents.NewIngestor(manager, embedder, table,
		cfg.AllowedFileTypes, cfg.MaxFileSize, log)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	health := observability.NewHealthChecker(
		observability.Dependency{Name: "kb_manager", Check: func(ctx context.Context) error {
			_, err := manager.Current(ctx)
			return err
		}},
	)

	extractor, _ := identity.New(identity.Options{
		EnableProxyHeaders: true,
		TrustedProxyIPs:    cfg.TrustedProxyIPs,
		Tiers:              cfg.RateLimitTiers,
	})
	limiter := ratelimit.New(ratelimit.Options{
		Window:      cfg.RateLimitWindow.Std(),
		Tiers:       cfg.RateLimitTiers,
		MinInterval: cfg.MinIntervalPerUser.Std(),
	})

	router := gin.New()
	deps := &handlers.Deps{
		Config:       &cfg,
		Log:          log,
		Orchestrator: orch,
		Intent:       intentEngine,
		QA:           qaStore,
		KB:           manager,
		Ingestor:     ingestor,
		Retrieval:    engine,
		Caches:       caches,
		Locks:        table,
		Metrics:      metrics,
		Health:       health,
		LogTail:      observability.NewLogBuffer(100),
	}
	routes.Setup(router, deps, extractor, limiter)
	return &apiFixture{router: router, llm: llm}
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TrustedProxyIPs = []string{"10.0.0.0/8"}
	cfg.RateLimitTiers = map[string]int{"default": 1000, "free": 2}
	cfg.RateLimitWindow = config.Duration(time.Minute)
	cfg.MinIntervalPerUser = 0
	cfg.AllowedFileTypes = []string{".txt", ".md", ".csv"}
	cfg.MaxFileSize = 1024 * 1024
	return cfg
}

func (f *apiFixture) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.1.1.1:9999"
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) datatypes.Envelope {
	t.Helper()
	var env datatypes.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	return env
}

// =============================================================================
// Envelope and System Routes
// =============================================================================

func TestQueryModesEnvelope(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("GET", "/api/v1/query/modes", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env := envelope(t, w)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Timestamp)
	assert.NotNil(t, env.Data)
}

func TestUnknownCacheTypeIs404(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("DELETE", "/api/v1/cache/clear/bogus", nil, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	env := envelope(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "not-found", env.ErrorCode)
}

func TestHealthRoute(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("GET", "/api/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

// =============================================================================
// Rate Limiting (end to end)
// =============================================================================

func TestRateLimitTierFree(t *testing.T) {
	f := newAPI(t, testConfig())
	headers := map[string]string{"X-User-Id": "u1", "X-User-Tier": "free"}

	for i := 0; i < 2; i++ {
		w := f.do("GET", "/api/v1/query/modes", nil, headers)
		assert.Equal(t, http.StatusOK, w.Code, "request %d admitted", i+1)
	}

	w := f.do("GET", "/api/v1/query/modes", nil, headers)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	env := envelope(t, w)
	assert.Equal(t, "rate-limited", env.ErrorCode)

	// A different identity on the same tier is unaffected.
	w = f.do("GET", "/api/v1/query/modes", nil,
		map[string]string{"X-User-Id": "u2", "X-User-Tier": "free"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMinIntervalRejection(t *testing.T) {
	cfg := testConfig()
	cfg.MinIntervalPerUser = config.Duration(500 * time.Millisecond)
	f := newAPI(t, cfg)
	headers := map[string]string{"X-User-Id": "pacer"}

	w := f.do("GET", "/api/v1/query/modes", nil, headers)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("GET", "/api/v1/query/modes", nil, headers)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	env := envelope(t, w)
	assert.Equal(t, "rate-limited", env.ErrorCode)
	assert.Contains(t, w.Body.String(), "reject-interval")
}

// =============================================================================
// Safety Gate (end to end)
// =============================================================================

func TestQuerySafeRejectsIllegal(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("POST", "/api/v1/query/safe", map[string]any{
		"query":        "how to make a bomb",
		"safety_check": true,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	env := envelope(t, w)
	assert.True(t, env.Success, "rejection is a successful analysis outcome")

	raw, _ := json.Marshal(env.Data)
	var analysis datatypes.QueryAnalysis
	require.NoError(t, json.Unmarshal(raw, &analysis))
	assert.True(t, analysis.ShouldReject)
	assert.Equal(t, datatypes.SafetyIllegal, analysis.SafetyLevel)
	assert.NotEmpty(t, analysis.SafeAlternatives)
	assert.Equal(t, 0, f.llm.calls, "retrieval engine never invoked")
}

func TestQueryAnalyzeDoesNotRetrieve(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("POST", "/api/v1/query/analyze", map[string]any{
		"query": "what is a knowledge base",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.llm.calls)
}

// =============================================================================
// Ingest + Query (end to end)
// =============================================================================

func TestInsertThenQuery(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("POST", "/api/v1/knowledge-bases", map[string]any{"name": "t1"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("POST", "/api/v1/insert/text", map[string]any{
		"text":           "AI is a branch of computer science",
		"knowledge_base": "t1",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do("POST", "/api/v1/query", map[string]any{
		"query":          "What is AI?",
		"mode":           "hybrid",
		"knowledge_base": "t1",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "computer science")
}

func TestKBDuplicateCreateConflict(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("POST", "/api/v1/knowledge-bases", map[string]any{"name": "dup"}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("POST", "/api/v1/knowledge-bases", map[string]any{"name": "dup"}, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already-exists", envelope(t, w).ErrorCode)
}

// =============================================================================
// QA Import + Query (end to end)
// =============================================================================

func TestQACSVImportThenQuery(t *testing.T) {
	f := newAPI(t, testConfig())

	csv := "question,answer,category,confidence,keywords,source\n" +
		`"What is AI?","Artificial intelligence.","tech",0.95,"AI","doc"` + "\n"

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "qa.csv")
	require.NoError(t, err)
	_, err = part.Write([]byte(csv))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/v1/qa/import", &body)
	req.RemoteAddr = "10.1.1.1:9999"
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env := envelope(t, w)
	raw, _ := json.Marshal(env.Data)
	var outcome datatypes.QAImportOutcome
	require.NoError(t, json.Unmarshal(raw, &outcome))
	assert.Equal(t, 1, outcome.Processed)
	assert.Equal(t, 1, outcome.Succeeded)

	w = f.do("POST", "/api/v1/qa/query", map[string]any{
		"question":       "What is AI?",
		"top_k":          1,
		"min_similarity": 0.7,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	env = envelope(t, w)
	raw, _ = json.Marshal(env.Data)
	var result datatypes.QAQueryResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, result.Found)
	assert.GreaterOrEqual(t, result.Similarity, 0.7)
	assert.True(t, strings.HasPrefix(result.Answer, "Artificial intelligence"))
}

// =============================================================================
// Streaming Contract
// =============================================================================

func TestStreamingEventGrammar(t *testing.T) {
	f := newAPI(t, testConfig())

	w := f.do("POST", "/api/v1/insert/text", map[string]any{
		"text": "AI is a branch of computer science",
	}, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do("POST", "/api/v1/query", map[string]any{
		"query":  "What is AI?",
		"mode":   "naive",
		"stream": true,
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	frames := strings.Split(strings.TrimSuffix(w.Body.String(), "\n\n"), "\n\n")
	require.NotEmpty(t, frames)

	var types []string
	for _, frame := range frames {
		require.True(t, strings.HasPrefix(frame, "data: "), "frame %q", frame)
		var event struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &event),
			"every frame is valid JSON after stripping the data: prefix")
		types = append(types, event.Type)
	}

	assert.Equal(t, "metadata", types[0], "exactly one leading metadata event")
	assert.Equal(t, "done", types[len(types)-1], "exactly one terminal event")
	for _, typ := range types[1 : len(types)-1] {
		assert.Equal(t, "content", typ)
	}
	assert.Equal(t, 1, countOf(types, "metadata"))
	assert.Equal(t, 1, countOf(types, "done"))
	assert.GreaterOrEqual(t, countOf(types, "content"), 1)
}

func countOf(list []string, want string) int {
	n := 0
	for _, s := range list {
		if s == want {
			n++
		}
	}
	return n
}

// =============================================================================
// Panic Recovery
// =============================================================================

func TestPanicRecoveryAnswersInternal(t *testing.T) {
	f := newAPI(t, testConfig())

	f.router.GET("/api/v1/boom", func(c *gin.Context) {
		panic("kaboom")
	})

	w := f.do("GET", "/api/v1/boom", nil, nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	env := envelope(t, w)
	assert.False(t, env.Success)
	assert.Equal(t, "internal", env.ErrorCode)
}
