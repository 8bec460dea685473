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

// Package autotool drives the iterative LLM<->tool exchange: call the
// model with a tool catalog, execute whatever it asks for, feed the
// results back, and repeat until the model stops asking or the iteration
// bound is hit.
package autotool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kestrelai/agentflow/pkg/llm"
	"github.com/kestrelai/agentflow/pkg/logging"
	"github.com/kestrelai/agentflow/pkg/mcp"
)

// DefaultMaxIterations is applied when Loop.MaxIterations is zero.
const DefaultMaxIterations = 4

// Call pairs a proposed tool call with its execution result, in the order
// the LLM proposed it — preserved across groups per the Analyzer's policy.
type Call struct {
	Proposed mcp.ProposedCall
	Result   mcp.ToolCallResult
}

// Outcome is what a completed loop produced.
type Outcome struct {
	Content string
	Calls   []Call
	// Iterations is the number of genWithTools turns actually taken.
	Iterations int
}

// ToolExecutor executes one proposed tool call. mcp.Executor satisfies
// this; tests supply a stub.
type ToolExecutor interface {
	Execute(ctx context.Context, call mcp.ProposedCall, catalog map[string]mcp.ToolDefinition) mcp.ToolCallResult
}

// Loop runs the auto-tool-selection algorithm for one LLM step.
type Loop struct {
	LLM           llm.Handle
	Catalog       map[string]mcp.ToolDefinition // sanitized name -> definition
	Tools         []llm.ToolDefinition          // the catalog projected for GenWithTools
	Executor      ToolExecutor
	Analyzer      mcp.Analyzer
	MaxIterations int
}

func (l Loop) maxIterations() int {
	if l.MaxIterations > 0 {
		return l.MaxIterations
	}
	return DefaultMaxIterations
}

// Run executes the loop against the given starting prompt. Content is
// either the final model reply with no further tool calls, or — if the
// iteration bound is hit first — the last content the model produced; the
// loop still returns successfully in that case. A non-retryable tool error
// aborts the loop and propagates to the caller; empty model content on a
// turn with no tool calls is treated as an implicit stop, not an error.
func (l Loop) Run(ctx context.Context, prompt string) (Outcome, error) {
	var acc []Call
	lastContent := ""

	for i := 1; i <= l.maxIterations(); i++ {
		reply, err := l.LLM.GenWithTools(ctx, prompt, l.Tools)
		if err != nil {
			return Outcome{}, err
		}
		lastContent = reply.Content

		if len(reply.ToolCalls) == 0 {
			return Outcome{Content: lastContent, Calls: acc, Iterations: i}, nil
		}

		proposed := make([]mcp.ProposedCall, len(reply.ToolCalls))
		for idx, tc := range reply.ToolCalls {
			proposed[idx] = mcp.ProposedCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
		}

		results, err := l.execute(ctx, proposed)
		for idx := 0; idx < len(results); idx++ {
			acc = append(acc, Call{Proposed: proposed[idx], Result: results[idx]})
		}
		if err != nil {
			return Outcome{Content: lastContent, Calls: acc, Iterations: i}, err
		}

		prompt = augment(prompt, proposed, results)

		if i == l.maxIterations() {
			return Outcome{Content: lastContent, Calls: acc, Iterations: i}, nil
		}
	}

	return Outcome{Content: lastContent, Calls: acc}, nil
}

// execute dispatches proposed in Analyzer-planned groups: groups run
// serially, calls within a group concurrently, preserving the LLM's
// original proposal order in the returned slice. A non-retryable error
// from one call never cancels its group peers — every call in the group
// that's already in flight runs to completion and its result is kept.
// Only once the whole group has finished does execute stop dispatching
// further groups, returning every result gathered so far (including the
// group that carried the failure) alongside the error.
func (l Loop) execute(ctx context.Context, proposed []mcp.ProposedCall) ([]mcp.ToolCallResult, error) {
	groups := l.Analyzer.Group(proposed)
	results := make([]mcp.ToolCallResult, len(proposed))

	offset := 0
	for _, group := range groups {
		groupResults := make([]mcp.ToolCallResult, len(group))

		var wg sync.WaitGroup
		for idx, call := range group {
			idx, call := idx, call
			wg.Add(1)
			go func() {
				defer wg.Done()
				groupResults[idx] = l.Executor.Execute(ctx, call, l.Catalog)
			}()
		}
		wg.Wait()

		var groupErr error
		for idx, r := range groupResults {
			results[offset+idx] = r
			if groupErr == nil && r.Err != nil {
				if nr, ok := r.Err.(interface{ IsRetryable() bool }); ok && !nr.IsRetryable() {
					groupErr = r.Err
				}
			}
		}
		offset += len(group)

		if groupErr != nil {
			logging.GetLogger().Warn("autotool: group aborted by non-retryable call error", "group_size", len(group), "error", groupErr)
			return results[:offset], groupErr
		}
	}

	return results, nil
}

// augment appends the tool-call batch and its results to the rolling
// prompt so the model sees outcomes on the next turn.
func augment(prompt string, calls []mcp.ProposedCall, results []mcp.ToolCallResult) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\n[Tool results]\n")
	for i, call := range calls {
		r := results[i]
		b.WriteString(fmt.Sprintf("%s(%s) -> %s\n", call.Name, toJSON(call.Arguments), toJSON(outcomeValue(r))))
	}
	return b.String()
}

func outcomeValue(r mcp.ToolCallResult) any {
	if r.Err != nil {
		return fmt.Sprintf("error: %v", r.Err)
	}
	return r.Result
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
