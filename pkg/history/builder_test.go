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

package history_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelai/agentflow/pkg/history"
)

func TestBuild_PassthroughWhenAllEmpty(t *testing.T) {
	out := history.Build("", nil, "", history.DefaultBudget)
	assert.Equal(t, "", out)
}

func TestBuild_PromptOnlyIsUnchanged(t *testing.T) {
	out := history.Build("", nil, "what's the weather?", history.DefaultBudget)
	assert.Equal(t, "what's the weather?", out)
}

func TestBuild_InstructionsPrecedePrompt(t *testing.T) {
	out := history.Build("be terse", nil, "hello", history.DefaultBudget)
	assert.True(t, strings.HasPrefix(out, "be terse\n\n"))
	assert.True(t, strings.HasSuffix(out, "hello"))
}

func TestBuild_ContextHeaderAppearsWithPriorRecords(t *testing.T) {
	prior := []history.StepRecord{{Prompt: "step1", Answer: "answer1"}}
	out := history.Build("", prior, "step2", history.DefaultBudget)
	assert.Contains(t, out, "[Context from previous steps]")
	assert.Contains(t, out, "Prompt: step1")
	assert.Contains(t, out, "Answer: answer1")
	assert.True(t, strings.HasSuffix(out, "step2"))
}

func TestBuild_OnlyLastFiveRecordsRendered(t *testing.T) {
	prior := make([]history.StepRecord, 8)
	for i := range prior {
		prior[i] = history.StepRecord{Prompt: "p", Answer: string(rune('a' + i))}
	}
	out := history.Build("", prior, "now", history.DefaultBudget)
	for i := 0; i < 3; i++ {
		assert.NotContains(t, out, "Answer: "+string(rune('a'+i)))
	}
	for i := 3; i < 8; i++ {
		assert.Contains(t, out, "Answer: "+string(rune('a'+i)))
	}
}

func TestBuild_TruncatesOverBudgetFields(t *testing.T) {
	budget := history.Budget{PerFieldChars: 10, TotalChars: 10000, MaxToolResultsPerStep: 5}
	prior := []history.StepRecord{{Answer: strings.Repeat("x", 100)}}
	out := history.Build("", prior, "p", budget)
	assert.Contains(t, out, "…")
	assert.NotContains(t, out, strings.Repeat("x", 100))
}

func TestBuild_DropsOldestRecordsWhenOverTotalBudget(t *testing.T) {
	budget := history.Budget{PerFieldChars: 1000, TotalChars: 50, MaxToolResultsPerStep: 5}
	prior := []history.StepRecord{
		{Answer: "first-record-content"},
		{Answer: "second-record-content"},
	}
	out := history.Build("", prior, "p", budget)
	assert.NotContains(t, out, "first-record-content")
	assert.Contains(t, out, "second-record-content")
}

func TestBuild_ToolCallsRenderedAndCappedPerStep(t *testing.T) {
	calls := make([]history.ToolCallRecord, 10)
	for i := range calls {
		calls[i] = history.ToolCallRecord{Name: "search", Arguments: map[string]any{"q": i}, Result: "ok"}
	}
	budget := history.Budget{PerFieldChars: 500, TotalChars: 50000, MaxToolResultsPerStep: 3}
	prior := []history.StepRecord{{ToolCalls: calls}}
	out := history.Build("", prior, "p", budget)
	assert.Equal(t, 3, strings.Count(out, "Tool search("))
}
