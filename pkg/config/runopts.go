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

package config

import (
	"github.com/kestrelai/agentflow/pkg/history"
	"github.com/kestrelai/agentflow/pkg/pipeline"
	"github.com/kestrelai/agentflow/pkg/retry"
)

// RetryPolicy projects RetryConfig onto retry.Policy. Strategy strings are
// validated by RuntimeConfig.Validate before this is ever safe to call; an
// unrecognized value here (a RetryConfig built by hand, bypassing Load)
// falls back to retry.Immediate rather than panicking.
func (c RetryConfig) RetryPolicy() retry.Policy {
	policy := retry.Policy{Retries: c.Retries, Delay: c.Delay, MaxDelay: c.MaxDelay}
	switch c.Strategy {
	case "fixed_delay":
		policy.Strategy = retry.FixedDelay
	case "exponential_backoff":
		policy.Strategy = retry.ExponentialBackoff
	default:
		policy.Strategy = retry.Immediate
	}
	return policy
}

// HistoryBudget projects HistoryConfig onto history.Budget.
func (c HistoryConfig) HistoryBudget() history.Budget {
	return history.Budget{
		PerFieldChars:         c.PerFieldChars,
		TotalChars:            c.TotalChars,
		MaxToolResultsPerStep: c.MaxToolResultsPerStep,
	}
}

// ToRunOptions projects the loaded config onto the subset of
// pipeline.RunOptions it governs: retry policy, history budget, and the MCP
// per-call timeout. The caller still supplies LLM, Pool, Analyzer, and
// Telemetry themselves, since those are wired in Go, not declared in YAML.
// Meant to seed a RunOptions literal, not replace it:
//
//	opts := cfg.ToRunOptions()
//	opts.LLM = handle
//	opts.Pool = pool
//	results, err := p.Run(ctx, opts)
func (c RuntimeConfig) ToRunOptions() pipeline.RunOptions {
	return pipeline.RunOptions{
		RetryPolicy:     c.Retry.RetryPolicy(),
		HistoryBudget:   c.History.HistoryBudget(),
		ToolCallTimeout: c.MCP.CallTimeout,
	}
}
