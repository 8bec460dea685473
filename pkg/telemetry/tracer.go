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
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps an OpenTelemetry tracer and provides named span helpers for
// every stage of a pipeline run. When tracing is disabled it wraps the
// library's own no-op provider, so every method remains safe to call.
type Tracer struct {
	tracer   trace.Tracer
	provider trace.TracerProvider
	cfg      TracingConfig
}

// NewTracer builds a Tracer from cfg. A disabled config yields a Tracer
// backed by OpenTelemetry's no-op TracerProvider; callers never need to
// branch on cfg.Enabled themselves.
func NewTracer(ctx context.Context, cfg TracingConfig) (*Tracer, error) {
	cfg.setDefaults()

	if !cfg.Enabled {
		provider := noop.NewTracerProvider()
		return &Tracer{tracer: provider.Tracer(cfg.ServiceName), provider: provider, cfg: cfg}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.IsInsecure() {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: building resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{tracer: provider.Tracer(cfg.ServiceName), provider: provider, cfg: cfg}, nil
}

// StartAgentRun opens the root span for one Pipeline.Run or Pipeline.Stream
// call.
func (t *Tracer) StartAgentRun(ctx context.Context, pipelineName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("agentflow.pipeline.name", pipelineName),
	))
}

// StartStep opens a span around one interpreted node.
func (t *Tracer) StartStep(ctx context.Context, index int, kind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.Int("agentflow.step.index", index),
		attribute.String("agentflow.step.kind", kind),
	))
}

// StartLLMGenerate opens a span around a single model call.
func (t *Tracer) StartLLMGenerate(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "llm.generate", trace.WithAttributes(
		attribute.String("agentflow.llm.model", model),
	))
}

// StartMCPOperation opens a span around an MCP client-facing operation
// (discover, call, list).
func (t *Tracer) StartMCPOperation(ctx context.Context, operation, endpoint string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "mcp."+operation, trace.WithAttributes(
		attribute.String("agentflow.mcp.endpoint", endpoint),
	))
}

// AddTokenUsage annotates span with token counts. Safe to call with zero
// values.
func AddTokenUsage(span trace.Span, input, output, total int) {
	span.SetAttributes(
		attribute.Int("agentflow.llm.tokens.input", input),
		attribute.Int("agentflow.llm.tokens.output", output),
		attribute.Int("agentflow.llm.tokens.total", total),
	)
}

// AddPayload attaches prompt/response text to span, gated by
// CapturePayloads so normal operation never ships model content to a
// collector.
func (t *Tracer) AddPayload(span trace.Span, key, value string) {
	if !t.cfg.CapturePayloads {
		return
	}
	span.SetAttributes(attribute.String(key, value))
}

// RecordError marks span as failed and attaches err.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes and releases exporter resources. Safe to call on a
// disabled (no-op) tracer.
func (t *Tracer) Shutdown(ctx context.Context) error {
	type shutdowner interface {
		Shutdown(context.Context) error
	}
	if s, ok := t.provider.(shutdowner); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
