// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, warnings, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, 8200, cfg.Port)
	assert.Equal(t, 240*time.Second, cfg.LLMTimeout.Std())
	assert.Equal(t, 1024, cfg.EmbeddingDim)
	assert.Equal(t, 100, cfg.TierLimit("default"))
	assert.Equal(t, 30, cfg.TierLimit("free"))
	assert.Equal(t, 100, cfg.TierLimit("unheard-of"), "unknown tiers use default")
}

func TestLoadYAMLOverrides(t *testing.T) {
	path := writeConfig(t, `
port: 9000
llm_model: test-model
llm_timeout: 30s
rate_limit_window: 120
rate_limit_tiers:
  default: 50
  vip: 500
trusted_proxy_ips:
  - 192.168.0.0/16
`)
	cfg, warnings, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "test-model", cfg.LLMModel)
	assert.Equal(t, 30*time.Second, cfg.LLMTimeout.Std())
	assert.Equal(t, 2*time.Minute, cfg.RateLimitWindow.Std(), "bare numbers parse as seconds")
	assert.Equal(t, 500, cfg.TierLimit("vip"))
	assert.Equal(t, []string{"192.168.0.0/16"}, cfg.TrustedProxyIPs)
}

func TestLoadWarnsOnUnknownKeys(t *testing.T) {
	path := writeConfig(t, "port: 9000\nmystery_option: true\n")
	cfg, warnings, err := Load(path)
	require.NoError(t, err, "unknown keys never fail startup")
	assert.Equal(t, 9000, cfg.Port)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "mystery_option")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 9000\n")
	t.Setenv("RAG_PORT", "9100")
	t.Setenv("RAG_MIN_INTERVAL_PER_USER", "0.5")
	t.Setenv("RAG_TRUSTED_PROXY_IPS", "10.0.0.0/8, 172.16.0.0/12")

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port, "environment wins over the file")
	assert.Equal(t, 500*time.Millisecond, cfg.MinIntervalPerUser.Std())
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, cfg.TrustedProxyIPs)
}

func TestValidateFailures(t *testing.T) {
	cfg := Default()
	cfg.Port = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.EmbeddingDim = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RateLimitWindow = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateBackfillsDefaultTier(t *testing.T) {
	cfg := Default()
	cfg.RateLimitTiers = map[string]int{"pro": 300}
	cfg.RateLimitRequests = 42
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 42, cfg.TierLimit("default"))
}

func TestLoadMissingFileFails(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
