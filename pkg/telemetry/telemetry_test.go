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

package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentflow/pkg/telemetry"
)

func TestNoop_AllMethodsAreCallSafe(t *testing.T) {
	e := telemetry.Noop()
	ctx := context.Background()

	_, span := e.StartAgentRun(ctx, "p")
	span.End()
	_, span = e.StartStep(ctx, 0, "llm")
	span.End()
	_, span = e.StartLLMGenerate(ctx, "model")
	span.End()
	_, span = e.StartMCPOperation(ctx, "call", "endpoint")
	span.End()

	e.RecordTokenUsage(ctx, "model", 1, 2, 3)
	e.RecordAgentRun(ctx, "p", false)
	e.RecordSubAgentCall(ctx, "sub")
	e.RecordToolCall(ctx, "tool", false)
	e.RecordStepDuration(ctx, "llm", 12.5)

	assert.NoError(t, e.Shutdown(ctx))
}

func TestNewTracer_DisabledConfigNeverDialsOut(t *testing.T) {
	ctx := context.Background()

	tracer, err := telemetry.NewTracer(ctx, telemetry.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.StartAgentRun(ctx, "disabled-pipeline")
	defer span.End()
	assert.False(t, span.IsRecording())

	require.NoError(t, tracer.Shutdown(ctx))
}

func TestNew_BuildsEmitterWithNilMeterProvider(t *testing.T) {
	ctx := context.Background()

	e, err := telemetry.New(ctx, telemetry.Config{}, nil)
	require.NoError(t, err)
	require.NotNil(t, e)

	_, span := e.StartAgentRun(ctx, "p")
	span.End()
	e.RecordAgentRun(ctx, "p", false)

	require.NoError(t, e.Shutdown(ctx))
}

func TestConfig_SetDefaultsFillsUnsetFields(t *testing.T) {
	cfg := telemetry.Config{}
	cfg.SetDefaults()

	assert.Equal(t, telemetry.DefaultServiceName, cfg.Tracing.ServiceName)
	assert.Equal(t, float64(telemetry.DefaultSamplingRate), cfg.Tracing.SamplingRate)
	assert.Equal(t, telemetry.DefaultOTLPEndpoint, cfg.Tracing.Endpoint)
	assert.True(t, cfg.Tracing.IsInsecure())
}

func TestConfig_ValidateRejectsOutOfRangeSamplingRate(t *testing.T) {
	cfg := telemetry.Config{Tracing: telemetry.TracingConfig{
		Enabled:      true,
		Endpoint:     "localhost:4317",
		SamplingRate: 1.5,
	}}

	err := cfg.Validate()
	assert.Error(t, err)
}

func TestConfig_ValidatePassesWhenDisabledRegardlessOfFields(t *testing.T) {
	cfg := telemetry.Config{Tracing: telemetry.TracingConfig{Enabled: false}}
	assert.NoError(t, cfg.Validate())
}
