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

// Package config loads the runtime's tunables from YAML. It covers only
// the knobs that have no other home: retry policy defaults, the history
// budget, the MCP per-call timeout, and the OTLP endpoint. Everything
// else a pipeline needs (models, tools, graph shape) is built in Go by
// the caller, not declared in a config file.
package config

import (
	"fmt"
	"time"
)

// RetryConfig mirrors retry.Policy's tunables for the defaults applied
// when a pipeline step doesn't set its own.
type RetryConfig struct {
	Retries  int           `yaml:"retries,omitempty"`
	Delay    time.Duration `yaml:"delay,omitempty"`
	Strategy string        `yaml:"strategy,omitempty"`
	MaxDelay time.Duration `yaml:"max_delay,omitempty"`
}

// HistoryConfig mirrors history.Budget.
type HistoryConfig struct {
	PerFieldChars         int `yaml:"per_field_chars,omitempty"`
	TotalChars            int `yaml:"total_chars,omitempty"`
	MaxToolResultsPerStep int `yaml:"max_tool_results_per_step,omitempty"`
}

// MCPConfig covers the tool-call harness.
type MCPConfig struct {
	CallTimeout time.Duration `yaml:"call_timeout,omitempty"`
}

// TelemetryConfig covers the OTLP exporter endpoint. Tracing.Enabled and
// the rest of the sampling/payload knobs live on telemetry.TracingConfig
// itself; this is just the part a deployment typically overrides per
// environment.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// RuntimeConfig is the root of everything loaded from YAML.
type RuntimeConfig struct {
	Retry     RetryConfig     `yaml:"retry,omitempty"`
	History   HistoryConfig   `yaml:"history,omitempty"`
	MCP       MCPConfig       `yaml:"mcp,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

const (
	DefaultRetries     = 2
	DefaultDelay       = 500 * time.Millisecond
	DefaultStrategy    = "exponential_backoff"
	DefaultMaxDelay    = 30 * time.Second
	DefaultCallTimeout = 30 * time.Second

	DefaultPerFieldChars         = 500
	DefaultTotalChars            = 8000
	DefaultMaxToolResultsPerStep = 5

	DefaultOTLPEndpoint = "localhost:4317"
)

// SetDefaults fills every zero-valued field with its package default.
// Called after the file is unmarshaled, so an explicit zero in YAML
// (e.g. "retries: 0") is indistinguishable from an absent key. A
// negative Retries count isn't meaningful, so this ambiguity is
// accepted rather than threading pointers through every field.
func (c *RuntimeConfig) SetDefaults() {
	if c.Retry.Retries == 0 {
		c.Retry.Retries = DefaultRetries
	}
	if c.Retry.Delay == 0 {
		c.Retry.Delay = DefaultDelay
	}
	if c.Retry.Strategy == "" {
		c.Retry.Strategy = DefaultStrategy
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = DefaultMaxDelay
	}

	if c.History.PerFieldChars == 0 {
		c.History.PerFieldChars = DefaultPerFieldChars
	}
	if c.History.TotalChars == 0 {
		c.History.TotalChars = DefaultTotalChars
	}
	if c.History.MaxToolResultsPerStep == 0 {
		c.History.MaxToolResultsPerStep = DefaultMaxToolResultsPerStep
	}

	if c.MCP.CallTimeout == 0 {
		c.MCP.CallTimeout = DefaultCallTimeout
	}

	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = DefaultOTLPEndpoint
	}
}

// Validate checks the loaded values for internal consistency. Load runs it
// after SetDefaults, so by then every defaulted field holds either the
// file's non-zero value or its package default.
func (c *RuntimeConfig) Validate() error {
	if c.Retry.Retries < 0 {
		return fmt.Errorf("config: retry.retries must be >= 0, got %d", c.Retry.Retries)
	}
	switch c.Retry.Strategy {
	case "immediate", "fixed_delay", "exponential_backoff":
	default:
		return fmt.Errorf("config: retry.strategy %q is not one of immediate, fixed_delay, exponential_backoff", c.Retry.Strategy)
	}
	if c.History.PerFieldChars < 0 || c.History.TotalChars < 0 || c.History.MaxToolResultsPerStep < 0 {
		return fmt.Errorf("config: history budget fields must be >= 0")
	}
	if c.MCP.CallTimeout < 0 {
		return fmt.Errorf("config: mcp.call_timeout must be >= 0, got %s", c.MCP.CallTimeout)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("config: telemetry.endpoint is required when telemetry.enabled is true")
	}
	return nil
}
