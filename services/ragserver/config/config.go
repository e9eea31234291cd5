// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the explicit configuration surface of the RAG
// server.
//
// The option set is closed: every recognized key is a struct field below.
// Configuration is resolved in three layers, later layers winning:
//
//  1. Compiled defaults (Default)
//  2. An optional YAML file (Load)
//  3. Environment variables (applyEnv), upper-snake with RAG_ prefix
//
// Unknown YAML keys are collected and logged once at startup, never
// silently accepted, never fatal.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Duration
// =============================================================================

// Duration is a time.Duration that unmarshals from YAML as either a Go
// duration string ("240s", "1h") or a bare number of seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Seconds returns the value in seconds.
func (d Duration) Seconds() float64 { return time.Duration(d).Seconds() }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if parsed, perr := time.ParseDuration(s); perr == nil {
			*d = Duration(parsed)
			return nil
		}
		if secs, perr := strconv.ParseFloat(s, 64); perr == nil {
			*d = Duration(secs * float64(time.Second))
			return nil
		}
		return fmt.Errorf("invalid duration %q", s)
	}
	var secs float64
	if err := value.Decode(&secs); err != nil {
		return fmt.Errorf("invalid duration node: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// =============================================================================
// Configuration Struct
// =============================================================================

// Config is the full recognized option set.
type Config struct {
	// Server
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Workers int    `yaml:"workers"`
	Debug   bool   `yaml:"debug"`

	// Paths
	WorkingDir   string `yaml:"working_dir"`
	QAStorageDir string `yaml:"qa_storage_dir"`
	LogDir       string `yaml:"log_dir"`
	UploadDir    string `yaml:"upload_dir"`

	// LLM upstream
	LLMAPIBase string        `yaml:"llm_api_base"`
	LLMAPIKey  string        `yaml:"llm_api_key"`
	LLMModel   string        `yaml:"llm_model"`
	LLMTimeout Duration `yaml:"llm_timeout"`

	// Embedding upstream
	EmbeddingAPIBase string        `yaml:"embedding_api_base"`
	EmbeddingAPIKey  string        `yaml:"embedding_api_key"`
	EmbeddingModel   string        `yaml:"embedding_model"`
	EmbeddingDim     int           `yaml:"embedding_dim"`
	EmbeddingTimeout Duration `yaml:"embedding_timeout"`

	// Reranker upstream
	RerankEnabled bool          `yaml:"rerank_enabled"`
	RerankModel   string        `yaml:"rerank_model"`
	RerankTimeout Duration `yaml:"rerank_timeout"`

	// Caching
	EnableCache        bool           `yaml:"enable_cache"`
	CacheTTL           Duration  `yaml:"cache_ttl"`
	PerCacheSizeLimits map[string]int `yaml:"per_cache_size_limits"`

	// Identity / proxy trust
	EnableProxyHeaders bool     `yaml:"enable_proxy_headers"`
	TrustedProxyIPs    []string `yaml:"trusted_proxy_ips"`
	UserIDHeader       string   `yaml:"user_id_header"`
	ClientIDHeader     string   `yaml:"client_id_header"`
	UserTierHeader     string   `yaml:"user_tier_header"`

	// Rate limiting
	RateLimitRequests  int            `yaml:"rate_limit_requests"`
	RateLimitWindow    Duration  `yaml:"rate_limit_window"`
	RateLimitTiers     map[string]int `yaml:"rate_limit_tiers"`
	MinIntervalPerUser Duration  `yaml:"min_interval_per_user"`

	// Uploads
	MaxFileSize      int64    `yaml:"max_file_size"`
	AllowedFileTypes []string `yaml:"allowed_file_types"`

	// Intent engine
	IntentConfidenceThreshold     float64 `yaml:"intent_confidence_threshold"`
	IntentEnableLLM               bool    `yaml:"intent_enable_llm"`
	IntentSensitiveVocabularyPath string  `yaml:"intent_sensitive_vocabulary_path"`
}

// Default returns the compiled defaults.
func Default() Config {
	return Config{
		Host:    "0.0.0.0",
		Port:    8200,
		Workers: 4,

		WorkingDir:   "./data/knowledge_bases",
		QAStorageDir: "./data/qa_storage",
		LogDir:       "./logs",
		UploadDir:    "./uploads",

		LLMAPIBase: "http://localhost:8100/v1",
		LLMModel:   "qwen2.5-14b-instruct",
		LLMTimeout: Duration(240 * time.Second),

		EmbeddingAPIBase: "http://localhost:8100/v1",
		EmbeddingModel:   "bge-m3",
		EmbeddingDim:     1024,
		EmbeddingTimeout: Duration(240 * time.Second),

		RerankTimeout: Duration(240 * time.Second),

		EnableCache: true,
		CacheTTL:    Duration(time.Hour),
		PerCacheSizeLimits: map[string]int{
			"llm_response":    256,
			"vector":          1024,
			"knowledge_graph": 256,
			"documents":       256,
			"queries":         512,
		},

		EnableProxyHeaders: true,
		TrustedProxyIPs:    []string{"127.0.0.1/32", "::1/128"},
		UserIDHeader:       "X-User-Id",
		ClientIDHeader:     "X-Client-Id",
		UserTierHeader:     "X-User-Tier",

		RateLimitRequests: 100,
		RateLimitWindow:   Duration(time.Minute),
		RateLimitTiers: map[string]int{
			"default":    100,
			"free":       30,
			"pro":        300,
			"enterprise": 1000,
		},

		MaxFileSize:      50 * 1024 * 1024,
		AllowedFileTypes: []string{".txt", ".md", ".json", ".csv"},

		IntentConfidenceThreshold: 0.6,
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load resolves the configuration from the optional YAML file at path plus
// environment overrides. An empty path skips the file layer. The returned
// warnings list unknown file keys; the caller logs them once.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	var warnings []string

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		warnings = append(warnings, unknownKeys(raw)...)
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, warnings, err
	}
	return cfg, warnings, nil
}

// Validate checks structural invariants. A failed validation is a startup
// failure (exit code 1).
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.EmbeddingDim <= 0 {
		return fmt.Errorf("embedding_dim must be positive, got %d", c.EmbeddingDim)
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate_limit_window must be positive")
	}
	if c.MinIntervalPerUser < 0 {
		return fmt.Errorf("min_interval_per_user must not be negative")
	}
	if _, ok := c.RateLimitTiers["default"]; !ok {
		if c.RateLimitTiers == nil {
			c.RateLimitTiers = map[string]int{}
		}
		c.RateLimitTiers["default"] = c.RateLimitRequests
	}
	return nil
}

// TierLimit returns the per-window quota for tier, falling back to the
// default tier for unknown names.
func (c *Config) TierLimit(tier string) int {
	if limit, ok := c.RateLimitTiers[tier]; ok {
		return limit
	}
	return c.RateLimitTiers["default"]
}

// unknownKeys diffs the YAML document's top-level keys against the
// recognized set.
func unknownKeys(raw []byte) []string {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	recognized := map[string]bool{}
	var probe Config
	t := yamlFieldNames(&probe)
	for _, name := range t {
		recognized[name] = true
	}
	var unknown []string
	for key := range doc {
		if !recognized[key] {
			unknown = append(unknown, fmt.Sprintf("unrecognized config option %q ignored", key))
		}
	}
	return unknown
}

// yamlFieldNames lists the yaml tags of Config via a marshal round trip.
// Cheaper than reflection given the struct marshals cleanly.
func yamlFieldNames(c *Config) []string {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil
	}
	names := make([]string, 0, len(doc))
	for k := range doc {
		names = append(names, k)
	}
	return names
}

// =============================================================================
// Environment Overrides
// =============================================================================

// applyEnv folds RAG_-prefixed environment variables over the current
// values. Durations accept Go syntax ("30s") or bare seconds ("30").
func (c *Config) applyEnv() {
	envString("RAG_HOST", &c.Host)
	envInt("RAG_PORT", &c.Port)
	envInt("RAG_WORKERS", &c.Workers)
	envBool("RAG_DEBUG", &c.Debug)

	envString("RAG_WORKING_DIR", &c.WorkingDir)
	envString("RAG_QA_STORAGE_DIR", &c.QAStorageDir)
	envString("RAG_LOG_DIR", &c.LogDir)
	envString("RAG_UPLOAD_DIR", &c.UploadDir)

	envString("RAG_LLM_API_BASE", &c.LLMAPIBase)
	envString("RAG_LLM_API_KEY", &c.LLMAPIKey)
	envString("RAG_LLM_MODEL", &c.LLMModel)
	envDuration("RAG_LLM_TIMEOUT", &c.LLMTimeout)

	envString("RAG_EMBEDDING_API_BASE", &c.EmbeddingAPIBase)
	envString("RAG_EMBEDDING_API_KEY", &c.EmbeddingAPIKey)
	envString("RAG_EMBEDDING_MODEL", &c.EmbeddingModel)
	envInt("RAG_EMBEDDING_DIM", &c.EmbeddingDim)
	envDuration("RAG_EMBEDDING_TIMEOUT", &c.EmbeddingTimeout)

	envBool("RAG_RERANK_ENABLED", &c.RerankEnabled)
	envString("RAG_RERANK_MODEL", &c.RerankModel)
	envDuration("RAG_RERANK_TIMEOUT", &c.RerankTimeout)

	envBool("RAG_ENABLE_CACHE", &c.EnableCache)
	envDuration("RAG_CACHE_TTL", &c.CacheTTL)

	envBool("RAG_ENABLE_PROXY_HEADERS", &c.EnableProxyHeaders)
	envStringList("RAG_TRUSTED_PROXY_IPS", &c.TrustedProxyIPs)
	envString("RAG_USER_ID_HEADER", &c.UserIDHeader)
	envString("RAG_CLIENT_ID_HEADER", &c.ClientIDHeader)
	envString("RAG_USER_TIER_HEADER", &c.UserTierHeader)

	envInt("RAG_RATE_LIMIT_REQUESTS", &c.RateLimitRequests)
	envDuration("RAG_RATE_LIMIT_WINDOW", &c.RateLimitWindow)
	envDuration("RAG_MIN_INTERVAL_PER_USER", &c.MinIntervalPerUser)

	envInt64("RAG_MAX_FILE_SIZE", &c.MaxFileSize)
	envStringList("RAG_ALLOWED_FILE_TYPES", &c.AllowedFileTypes)

	envFloat("RAG_INTENT_CONFIDENCE_THRESHOLD", &c.IntentConfidenceThreshold)
	envBool("RAG_INTENT_ENABLE_LLM", &c.IntentEnableLLM)
	envString("RAG_INTENT_SENSITIVE_VOCABULARY_PATH", &c.IntentSensitiveVocabularyPath)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envStringList(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = Duration(d)
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = Duration(secs * float64(time.Second))
	}
}
