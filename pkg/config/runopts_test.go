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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentflow/pkg/config"
	"github.com/kestrelai/agentflow/pkg/history"
	"github.com/kestrelai/agentflow/pkg/llm"
	"github.com/kestrelai/agentflow/pkg/pipeline"
	"github.com/kestrelai/agentflow/pkg/retry"
)

// echoHandle is the smallest llm.Handle that lets a RunOptions bridge test
// assert on what actually reached pipeline.Run, without depending on
// pkg/pipeline's own test doubles.
type echoHandle struct{}

func (echoHandle) Identity() string { return "echo" }
func (echoHandle) Model() string    { return "echo-model" }
func (echoHandle) Gen(ctx context.Context, prompt string) (string, error) {
	return "ok", nil
}
func (echoHandle) GenWithTools(ctx context.Context, prompt string, tools []llm.ToolDefinition) (llm.GenResult, error) {
	return llm.GenResult{Content: "ok"}, nil
}
func (echoHandle) GenStream(ctx context.Context, prompt string) (<-chan llm.StreamChunk, error) {
	return nil, nil
}

func TestRetryConfig_RetryPolicyMapsEachStrategy(t *testing.T) {
	cases := []struct {
		strategy string
		want     retry.Strategy
	}{
		{"immediate", retry.Immediate},
		{"fixed_delay", retry.FixedDelay},
		{"exponential_backoff", retry.ExponentialBackoff},
	}
	for _, c := range cases {
		rc := config.RetryConfig{Strategy: c.strategy, Retries: 3, Delay: 2 * time.Second, MaxDelay: time.Minute}
		policy := rc.RetryPolicy()
		assert.Equal(t, c.want, policy.Strategy)
		assert.Equal(t, 3, policy.Retries)
		assert.Equal(t, 2*time.Second, policy.Delay)
		assert.Equal(t, time.Minute, policy.MaxDelay)
	}
}

func TestHistoryConfig_HistoryBudgetMapsFields(t *testing.T) {
	hc := config.HistoryConfig{PerFieldChars: 100, TotalChars: 1000, MaxToolResultsPerStep: 2}
	want := history.Budget{PerFieldChars: 100, TotalChars: 1000, MaxToolResultsPerStep: 2}
	assert.Equal(t, want, hc.HistoryBudget())
}

// TestRuntimeConfig_ToRunOptionsDrivesARealRun proves the config -> RunOptions
// bridge end to end: a RuntimeConfig loaded from YAML is projected into
// RunOptions, only the LLM handle is filled in by the caller, and the
// resulting options actually drive a pipeline.Run.
func TestRuntimeConfig_ToRunOptionsDrivesARealRun(t *testing.T) {
	path := writeFile(t, `
retry:
  retries: 4
  strategy: fixed_delay
  delay: 1ms
history:
  per_field_chars: 200
  total_chars: 2000
mcp:
  call_timeout: 5s
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	opts := cfg.ToRunOptions()
	assert.Equal(t, 4, opts.RetryPolicy.Retries)
	assert.Equal(t, retry.FixedDelay, opts.RetryPolicy.Strategy)
	assert.Equal(t, 200, opts.HistoryBudget.PerFieldChars)
	assert.Equal(t, 5*time.Second, opts.ToolCallTimeout)

	opts.LLM = echoHandle{}

	p := pipeline.New("bridged", "").Then(pipeline.LLMStep{Prompt: "hi", LLM: opts.LLM})
	results, err := p.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, "ok", results.FinalText())
}
