// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ragserver assembles and runs the retrieval-augmented QA
// service: the component graph is built once at startup and threaded
// through the handlers as an explicit dependency value.
package ragserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/AleutianAI/AleutianRAG/pkg/logging"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/cache"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/clients"
	"github.com/AleutianAI/AleutianRAG/services/ragserver/config"
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

// ErrPortBind distinguishes a port-bind failure so the CLI can exit 2.
var ErrPortBind = errors.New("port bind failed")

// =============================================================================
// Service
// =============================================================================

// Service is the assembled application.
type Service struct {
	cfg     config.Config
	log     *logging.Logger
	router  *gin.Engine
	limiter *ratelimit.Limiter
	table   *locks.KeyedTable
	intent  *intent.Engine
	stop    chan struct{}
}

// New builds the full component graph. Configuration warnings (unknown
// file keys, bad proxy CIDRs) are logged once here.
func New(cfg config.Config, configWarnings []string) (*Service, error) {
	logTail := observability.NewLogBuffer(2000)
	log := logging.New(logging.Config{
		Level:       logLevel(cfg.Debug),
		LogDir:      cfg.LogDir,
		Service:     "ragserver",
		JSON:        !cfg.Debug,
		ExtraWriter: logTail,
	})
	for _, w := range configWarnings {
		log.Warn(w)
	}

	table := locks.NewKeyedTable(locks.DefaultTimeout)

	caches := cache.NewCoordinator(cfg.PerCacheSizeLimits, 256*1024*1024, cfg.CacheTTL.Std())
	if !cfg.EnableCache {
		caches = cache.NewCoordinator(nil, 0, time.Millisecond)
	}

	llm := clients.NewLLM(clients.Options{
		APIBase: cfg.LLMAPIBase,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
		Timeout: cfg.LLMTimeout.Std(),
	})
	embedder := clients.NewEmbedding(clients.Options{
		APIBase: cfg.EmbeddingAPIBase,
		APIKey:  cfg.EmbeddingAPIKey,
		Model:   cfg.EmbeddingModel,
		Timeout: cfg.EmbeddingTimeout.Std(),
	}, cfg.EmbeddingDim, probeAddr(cfg.EmbeddingAPIBase))

	var reranker clients.RerankClient
	if cfg.RerankEnabled {
		reranker = clients.NewRerank(clients.Options{
			APIBase: cfg.LLMAPIBase,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.RerankModel,
			Timeout: cfg.RerankTimeout.Std(),
		})
	}

	manager, err := kb.NewManager(cfg.WorkingDir, table, log)
	if err != nil {
		return nil, err
	}

	qaStore, err := qa.NewStore(cfg.QAStorageDir, embedder, table, caches.Vector(),
		qa.DefaultSimilarityThreshold, log)
	if err != nil {
		return nil, err
	}

	intentEngine, err := intent.NewEngine(intent.Options{
		VocabularyPath:      cfg.IntentSensitiveVocabularyPath,
		EnableLLM:           cfg.IntentEnableLLM,
		ConfidenceThreshold: cfg.IntentConfidenceThreshold,
		EnableEnhancement:   true,
	}, llm, log)
	if err != nil {
		return nil, err
	}

	engine := retrieval.NewEngine(retrieval.Options{
		EnableRerank: cfg.RerankEnabled,
		Dimension:    cfg.EmbeddingDim,
	}, manager, embedder, llm, reranker, caches, table, log)

	orch := orchestrator.New(engine, intentEngine, orchestrator.Defaults{
		EnableIntentAnalysis:   true,
		EnableQueryEnhancement: false,
		SafetyCheck:            true,
	}, log)

	ingestor := documents.NewIngestor(manager, embedder, table,
		cfg.AllowedFileTypes, cfg.MaxFileSize, log)

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	health := observability.NewHealthChecker(
		observability.Dependency{
			Name: "kb_manager",
			Check: func(ctx context.Context) error {
				_, err := manager.Current(ctx)
				return err
			},
		},
		observability.Dependency{
			Name:  "embedding_service",
			Check: embedder.Probe,
		},
		observability.Dependency{
			Name: "cache_coordinator",
			Check: func(context.Context) error {
				caches.StatsAll()
				return nil
			},
		},
	)

	extractor, proxyWarnings := identity.New(identity.Options{
		EnableProxyHeaders: cfg.EnableProxyHeaders,
		TrustedProxyIPs:    cfg.TrustedProxyIPs,
		UserIDHeader:       cfg.UserIDHeader,
		ClientIDHeader:     cfg.ClientIDHeader,
		UserTierHeader:     cfg.UserTierHeader,
		Tiers:              cfg.RateLimitTiers,
	})
	for _, w := range proxyWarnings {
		log.Warn(w)
	}

	limiter := ratelimit.New(ratelimit.Options{
		Window:      cfg.RateLimitWindow.Std(),
		Tiers:       cfg.RateLimitTiers,
		MinInterval: cfg.MinIntervalPerUser.Std(),
	})

	// Tracing: spans are generated for propagation; exporting is the
	// collector's concern and stays off unless one is attached.
	otel.SetTracerProvider(sdktrace.NewTracerProvider())

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
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
		LogTail:      logTail,
	}
	routes.Setup(router, deps, extractor, limiter)

	return &Service{
		cfg:     cfg,
		log:     log,
		router:  router,
		limiter: limiter,
		table:   table,
		intent:  intentEngine,
		stop:    make(chan struct{}),
	}, nil
}

// Run binds the port and serves until ctx is cancelled, then shuts down
// gracefully. A bind failure wraps ErrPortBind.
func (s *Service) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %v: %w", addr, err, ErrPortBind)
	}

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.maintenance()

	s.log.Info("server listening", "addr", addr, "workers", s.cfg.Workers)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down")
	close(s.stop)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.intent.Close()
	return s.log.Close()
}

// Router exposes the gin engine for tests.
func (s *Service) Router() *gin.Engine { return s.router }

// maintenance sweeps the rate-limit buckets and lock table periodically.
func (s *Service) maintenance() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			buckets := s.limiter.Cleanup(time.Hour)
			entries := s.table.Cleanup()
			if buckets > 0 || entries > 0 {
				s.log.Debug("maintenance sweep", "buckets", buckets, "lock_entries", entries)
			}
		case <-s.stop:
			return
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func logLevel(debug bool) logging.Level {
	if debug {
		return logging.LevelDebug
	}
	return logging.LevelInfo
}

// probeAddr extracts host:port from the embedding API base for the TCP
// health probe.
func probeAddr(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return ""
	}
	host := u.Host
	if u.Port() == "" {
		if u.Scheme == "https" {
			host += ":443"
		} else {
			host += ":80"
		}
	}
	return host
}
