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

package pipeline

import (
	"context"
	"fmt"

	"github.com/kestrelai/agentflow/pkg/history"
	"github.com/kestrelai/agentflow/pkg/llm"
)

// ToolCallRecord is one executed tool call attached to a step result.
type ToolCallRecord struct {
	Name      string
	Arguments map[string]any
	Endpoint  string
	Result    any
	Err       error
	ElapsedMs int64
}

// SubAgentCallRecord is one delegated sub-agent invocation attached to a
// coordinator step result.
type SubAgentCallRecord struct {
	Name        string
	Task        string
	TotalTokens int
	ElapsedMs   int64
}

// StepResult is the outcome of one node in the pipeline's traversal.
// Results are emitted in traversal (declaration) order even when the node
// that produced them executed children concurrently.
type StepResult struct {
	Index int
	// CorrelationID uniquely identifies this step result across an
	// AgentResults, for stitching a result back to its telemetry span or
	// an external log line.
	CorrelationID string
	Kind          NodeKind
	Prompt        string
	FinalText     string

	ToolCalls    []ToolCallRecord
	ExplicitCall *ToolCallRecord
	SubAgentCall *SubAgentCallRecord

	DurationMs int64
	LLMMs      int64
	ToolMs     int64

	Usage llm.Usage

	PreHookRan, PostHookRan bool

	Err error
}

// toRecord projects a StepResult into the compact shape the History
// Builder consumes.
func (r StepResult) toRecord() history.StepRecord {
	rec := history.StepRecord{Prompt: r.Prompt, Answer: r.FinalText, TotalTokens: r.Usage.TotalTokens}
	for _, tc := range r.ToolCalls {
		rec.ToolCalls = append(rec.ToolCalls, history.ToolCallRecord{Name: tc.Name, Arguments: tc.Arguments, Result: tc.Result})
	}
	if r.ExplicitCall != nil {
		rec.ExplicitCall = &history.ToolCallRecord{Name: r.ExplicitCall.Name, Arguments: r.ExplicitCall.Arguments, Result: r.ExplicitCall.Result}
	}
	if r.SubAgentCall != nil {
		rec.SubAgentCall = &history.SubAgentCallRecord{Name: r.SubAgentCall.Name, Task: r.SubAgentCall.Task}
	}
	return rec
}

// AgentResults is the ordered sequence of step results produced by one
// pipeline execution.
type AgentResults struct {
	Results []StepResult
}

// records projects every result into history.StepRecord, in order.
func (a AgentResults) records() []history.StepRecord {
	recs := make([]history.StepRecord, len(a.Results))
	for i, r := range a.Results {
		recs[i] = r.toRecord()
	}
	return recs
}

// Ask builds a summary prompt from every step result (reusing the History
// Builder's rendering so this reads identically to a step's own prior-step
// context) and issues a one-shot call against handle.
func (a AgentResults) Ask(ctx context.Context, handle llm.Handle, question string) (string, error) {
	prompt := history.Build("", a.records(), question, history.DefaultBudget)
	return handle.Gen(ctx, prompt)
}

// FinalText returns the last result's final text, or "" if there are no
// results.
func (a AgentResults) FinalText() string {
	if len(a.Results) == 0 {
		return ""
	}
	return a.Results[len(a.Results)-1].FinalText
}

func stepError(index int, err error) error {
	return fmt.Errorf("step %d: %w", index, err)
}
