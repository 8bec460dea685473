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

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters and histograms emitted for one pipeline
// runtime. Its instruments are created on the meter passed to NewMetrics;
// a meter from a no-op provider makes every instrument a safe discard.
type Metrics struct {
	llmTokensInput  metric.Int64Counter
	llmTokensOutput metric.Int64Counter
	llmTokensTotal  metric.Int64Counter
	agentExecutions metric.Int64Counter
	agentErrors     metric.Int64Counter
	subAgentCalls   metric.Int64Counter
	toolCalls       metric.Int64Counter
	stepDuration    metric.Float64Histogram
}

// NewMetrics creates instruments on the given meter. Pass
// otel.GetMeterProvider().Meter(name) for a real setup, or any no-op meter
// for tests.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.llmTokensInput, err = meter.Int64Counter("agentflow.llm.tokens.input",
		metric.WithDescription("input tokens consumed by model calls")); err != nil {
		return nil, err
	}
	if m.llmTokensOutput, err = meter.Int64Counter("agentflow.llm.tokens.output",
		metric.WithDescription("output tokens produced by model calls")); err != nil {
		return nil, err
	}
	if m.llmTokensTotal, err = meter.Int64Counter("agentflow.llm.tokens.total",
		metric.WithDescription("total tokens consumed by model calls")); err != nil {
		return nil, err
	}
	if m.agentExecutions, err = meter.Int64Counter("agentflow.agent.executions",
		metric.WithDescription("completed pipeline runs")); err != nil {
		return nil, err
	}
	if m.agentErrors, err = meter.Int64Counter("agentflow.agent.errors",
		metric.WithDescription("pipeline runs that returned an error")); err != nil {
		return nil, err
	}
	if m.subAgentCalls, err = meter.Int64Counter("agentflow.agent.subagent_calls",
		metric.WithDescription("delegations to a sub-agent via RunAgent or a coordinator USE directive")); err != nil {
		return nil, err
	}
	if m.toolCalls, err = meter.Int64Counter("agentflow.tool.calls",
		metric.WithDescription("MCP and explicit tool invocations")); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("agentflow.step.duration_ms",
		metric.WithDescription("wall-clock duration of one interpreted step"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}

	return &m, nil
}

// RecordTokenUsage adds to the token counters for one LLM call.
func (m *Metrics) RecordTokenUsage(ctx context.Context, model string, input, output, total int) {
	opt := metric.WithAttributes(attribute.String("agentflow.llm.model", model))
	m.llmTokensInput.Add(ctx, int64(input), opt)
	m.llmTokensOutput.Add(ctx, int64(output), opt)
	m.llmTokensTotal.Add(ctx, int64(total), opt)
}

// RecordAgentRun adds one pipeline execution, tagging whether it failed.
func (m *Metrics) RecordAgentRun(ctx context.Context, pipelineName string, failed bool) {
	opt := metric.WithAttributes(attribute.String("agentflow.pipeline.name", pipelineName))
	m.agentExecutions.Add(ctx, 1, opt)
	if failed {
		m.agentErrors.Add(ctx, 1, opt)
	}
}

// RecordSubAgentCall adds one delegation to a named sub-agent.
func (m *Metrics) RecordSubAgentCall(ctx context.Context, agentName string) {
	m.subAgentCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("agentflow.agent.name", agentName)))
}

// RecordToolCall adds one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, toolName string, failed bool) {
	opt := metric.WithAttributes(
		attribute.String("agentflow.tool.name", toolName),
		attribute.Bool("agentflow.tool.failed", failed),
	)
	m.toolCalls.Add(ctx, 1, opt)
}

// RecordStepDuration records one step's wall-clock duration.
func (m *Metrics) RecordStepDuration(ctx context.Context, kind string, durationMs float64) {
	m.stepDuration.Record(ctx, durationMs, metric.WithAttributes(attribute.String("agentflow.step.kind", kind)))
}
