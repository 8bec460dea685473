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

	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

var noopTracer = nooptrace.NewTracerProvider().Tracer("")

// Emitter is the ambient telemetry surface that pkg/pipeline and pkg/mcp
// depend on. Callers accept an Emitter value directly, never a pointer that
// could be nil, so there is never a reason to guard a call site with a nil
// check.
type Emitter interface {
	StartAgentRun(ctx context.Context, pipelineName string) (context.Context, trace.Span)
	StartStep(ctx context.Context, index int, kind string) (context.Context, trace.Span)
	StartLLMGenerate(ctx context.Context, model string) (context.Context, trace.Span)
	StartMCPOperation(ctx context.Context, operation, endpoint string) (context.Context, trace.Span)

	RecordTokenUsage(ctx context.Context, model string, input, output, total int)
	RecordAgentRun(ctx context.Context, pipelineName string, failed bool)
	RecordSubAgentCall(ctx context.Context, agentName string)
	RecordToolCall(ctx context.Context, toolName string, failed bool)
	RecordStepDuration(ctx context.Context, kind string, durationMs float64)

	// AddPayload attaches prompt/response text to span, subject to the
	// emitter's CapturePayloads setting.
	AddPayload(span trace.Span, prompt, response string)

	Shutdown(ctx context.Context) error
}

// runtime bundles a Tracer and Metrics into the Emitter surface.
type runtime struct {
	tracer  *Tracer
	metrics *Metrics
}

// New builds an Emitter from cfg, wiring a real or no-op tracer depending on
// cfg.Tracing.Enabled, and metrics against meterProvider (otel's no-op
// meter provider when meterProvider is nil).
func New(ctx context.Context, cfg Config, meterProvider metric.MeterProvider) (Emitter, error) {
	cfg.SetDefaults()

	tracer, err := NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, err
	}

	if meterProvider == nil {
		meterProvider = noopmetric.NewMeterProvider()
	}
	metrics, err := NewMetrics(meterProvider.Meter(cfg.Tracing.ServiceName))
	if err != nil {
		return nil, err
	}

	return &runtime{tracer: tracer, metrics: metrics}, nil
}

func (r *runtime) StartAgentRun(ctx context.Context, pipelineName string) (context.Context, trace.Span) {
	return r.tracer.StartAgentRun(ctx, pipelineName)
}

func (r *runtime) StartStep(ctx context.Context, index int, kind string) (context.Context, trace.Span) {
	return r.tracer.StartStep(ctx, index, kind)
}

func (r *runtime) StartLLMGenerate(ctx context.Context, model string) (context.Context, trace.Span) {
	return r.tracer.StartLLMGenerate(ctx, model)
}

func (r *runtime) StartMCPOperation(ctx context.Context, operation, endpoint string) (context.Context, trace.Span) {
	return r.tracer.StartMCPOperation(ctx, operation, endpoint)
}

func (r *runtime) RecordTokenUsage(ctx context.Context, model string, input, output, total int) {
	r.metrics.RecordTokenUsage(ctx, model, input, output, total)
}

func (r *runtime) RecordAgentRun(ctx context.Context, pipelineName string, failed bool) {
	r.metrics.RecordAgentRun(ctx, pipelineName, failed)
}

func (r *runtime) RecordSubAgentCall(ctx context.Context, agentName string) {
	r.metrics.RecordSubAgentCall(ctx, agentName)
}

func (r *runtime) RecordToolCall(ctx context.Context, toolName string, failed bool) {
	r.metrics.RecordToolCall(ctx, toolName, failed)
}

func (r *runtime) RecordStepDuration(ctx context.Context, kind string, durationMs float64) {
	r.metrics.RecordStepDuration(ctx, kind, durationMs)
}

func (r *runtime) AddPayload(span trace.Span, prompt, response string) {
	r.tracer.AddPayload(span, "agentflow.llm.prompt", prompt)
	r.tracer.AddPayload(span, "agentflow.llm.response", response)
}

func (r *runtime) Shutdown(ctx context.Context) error {
	return r.tracer.Shutdown(ctx)
}

// noopEmitter satisfies Emitter with every method discarding its
// arguments. Used as the default when a caller doesn't configure
// telemetry at all.
type noopEmitter struct{}

// Noop returns an Emitter that does nothing: its spans come from
// OpenTelemetry's own no-op tracer and its Record methods discard their
// arguments.
func Noop() Emitter { return noopEmitter{} }

func (noopEmitter) StartAgentRun(ctx context.Context, pipelineName string) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "agent.run")
}

func (noopEmitter) StartStep(ctx context.Context, index int, kind string) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "step.execute")
}

func (noopEmitter) StartLLMGenerate(ctx context.Context, model string) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "llm.generate")
}

func (noopEmitter) StartMCPOperation(ctx context.Context, operation, endpoint string) (context.Context, trace.Span) {
	return noopTracer.Start(ctx, "mcp."+operation)
}

func (noopEmitter) RecordTokenUsage(ctx context.Context, model string, input, output, total int) {}
func (noopEmitter) RecordAgentRun(ctx context.Context, pipelineName string, failed bool)          {}
func (noopEmitter) RecordSubAgentCall(ctx context.Context, agentName string)                      {}
func (noopEmitter) RecordToolCall(ctx context.Context, toolName string, failed bool)              {}
func (noopEmitter) RecordStepDuration(ctx context.Context, kind string, durationMs float64)       {}
func (noopEmitter) AddPayload(span trace.Span, prompt, response string)                           {}
func (noopEmitter) Shutdown(ctx context.Context) error                                            { return nil }
