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

// Package telemetry is the runtime's telemetry emitter: OpenTelemetry
// spans around agent runs, step execution, LLM calls, and MCP operations,
// plus a small set of counters. When tracing is disabled, every component
// falls back to OpenTelemetry's no-op provider so callers never need to
// nil-check.
package telemetry

import (
	"fmt"
	"time"
)

const (
	// DefaultServiceName identifies this runtime in exported traces when
	// the caller doesn't supply one.
	DefaultServiceName = "agentflow"

	// DefaultSamplingRate samples every trace by default.
	DefaultSamplingRate = 1.0

	// DefaultOTLPEndpoint is the conventional local OTLP/gRPC collector
	// address.
	DefaultOTLPEndpoint = "localhost:4317"
)

// Config configures the telemetry emitter.
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
}

// TracingConfig configures OpenTelemetry tracing. Disabled by default; the
// emitter is a genuine no-op in that state, not a disabled-but-allocated
// one.
type TracingConfig struct {
	// Enabled turns on span export. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the OTLP/gRPC collector address.
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate controls what fraction of traces are sampled, 0..1.
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this process in exported traces.
	ServiceName string `yaml:"service_name,omitempty"`

	// Insecure disables TLS on the OTLP connection. Default: true, for
	// local collectors.
	Insecure *bool `yaml:"insecure,omitempty"`

	// CapturePayloads attaches full prompt/response text to spans.
	// Produces large spans; intended for local debugging only.
	CapturePayloads bool `yaml:"capture_payloads,omitempty"`

	// Timeout bounds exporter connection and flush operations.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SetDefaults fills in unset fields.
func (c *Config) SetDefaults() {
	c.Tracing.setDefaults()
}

// Validate checks the config for internal consistency.
func (c *Config) Validate() error {
	if err := c.Tracing.validate(); err != nil {
		return fmt.Errorf("telemetry: tracing: %w", err)
	}
	return nil
}

func (c *TracingConfig) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = DefaultSamplingRate
	}
	if c.Endpoint == "" {
		c.Endpoint = DefaultOTLPEndpoint
	}
	if c.Insecure == nil {
		insecure := true
		c.Insecure = &insecure
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *TracingConfig) validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required when tracing is enabled")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be between 0 and 1, got %f", c.SamplingRate)
	}
	return nil
}

// IsInsecure reports whether the OTLP connection should skip TLS.
func (c *TracingConfig) IsInsecure() bool {
	if c.Insecure == nil {
		return true
	}
	return *c.Insecure
}
