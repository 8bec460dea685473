// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentflow/pkg/config"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_EmptyFileYieldsAllDefaults(t *testing.T) {
	path := writeFile(t, "")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultRetries, cfg.Retry.Retries)
	assert.Equal(t, config.DefaultDelay, cfg.Retry.Delay)
	assert.Equal(t, config.DefaultStrategy, cfg.Retry.Strategy)
	assert.Equal(t, config.DefaultMaxDelay, cfg.Retry.MaxDelay)
	assert.Equal(t, config.DefaultPerFieldChars, cfg.History.PerFieldChars)
	assert.Equal(t, config.DefaultTotalChars, cfg.History.TotalChars)
	assert.Equal(t, config.DefaultMaxToolResultsPerStep, cfg.History.MaxToolResultsPerStep)
	assert.Equal(t, config.DefaultCallTimeout, cfg.MCP.CallTimeout)
	assert.Equal(t, config.DefaultOTLPEndpoint, cfg.Telemetry.Endpoint)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_FileOverridesMergeOverDefaults(t *testing.T) {
	path := writeFile(t, `
retry:
  retries: 5
mcp:
  call_timeout: 10s
telemetry:
  enabled: true
  endpoint: collector.internal:4317
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Retry.Retries)
	assert.Equal(t, config.DefaultDelay, cfg.Retry.Delay)
	assert.Equal(t, 10*time.Second, cfg.MCP.CallTimeout)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "collector.internal:4317", cfg.Telemetry.Endpoint)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidStrategyFailsValidation(t *testing.T) {
	path := writeFile(t, `
retry:
  strategy: made_up_strategy
`)

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestRuntimeConfig_ValidateRejectsEnabledTelemetryWithoutEndpoint(t *testing.T) {
	cfg := &config.RuntimeConfig{Retry: config.RetryConfig{Strategy: "immediate"}, Telemetry: config.TelemetryConfig{Enabled: true}}
	assert.Error(t, cfg.Validate())
}

func TestRuntimeConfig_SetDefaultsIsIdempotent(t *testing.T) {
	cfg := &config.RuntimeConfig{}
	cfg.SetDefaults()
	first := *cfg
	cfg.SetDefaults()
	assert.Equal(t, first, *cfg)
}

func TestRuntimeConfig_ValidateRejectsNegativeRetries(t *testing.T) {
	cfg := &config.RuntimeConfig{Retry: config.RetryConfig{Retries: -1, Strategy: "immediate"}}
	assert.Error(t, cfg.Validate())
}
