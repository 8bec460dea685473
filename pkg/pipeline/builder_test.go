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

package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelai/agentflow/pkg/pipeline"
)

func TestPipeline_ChainingDoesNotMutateReceiver(t *testing.T) {
	base := pipeline.New("base", "")
	assert.Equal(t, 0, base.Len())

	withOne := base.Then(pipeline.LLMStep{Prompt: "one"})
	assert.Equal(t, 0, base.Len(), "base must be unchanged after deriving withOne")
	assert.Equal(t, 1, withOne.Len())

	withTwo := withOne.Then(pipeline.LLMStep{Prompt: "two"})
	assert.Equal(t, 1, withOne.Len(), "withOne must be unchanged after deriving withTwo")
	assert.Equal(t, 2, withTwo.Len())
}

func TestPipeline_BranchingFromSameBuilderDoesNotAlias(t *testing.T) {
	shared := pipeline.New("shared", "").Then(pipeline.LLMStep{Prompt: "shared step"})

	left := shared.Then(pipeline.LLMStep{Prompt: "left"})
	right := shared.Then(pipeline.LLMStep{Prompt: "right"})

	assert.Equal(t, 1, shared.Len())
	assert.Equal(t, 2, left.Len())
	assert.Equal(t, 2, right.Len())
}

func TestPipeline_StepCountCountsForEachItemAndLoopBound(t *testing.T) {
	p := pipeline.New("counted", "").
		Then(pipeline.LLMStep{Prompt: "one"}).
		ForEach([]any{1, 2, 3}, func(item any, index int) *pipeline.Pipeline {
			return pipeline.New("item", "").Then(pipeline.LLMStep{Prompt: "x"})
		}).
		While(func(pipeline.AgentResults) bool { return true }, func() *pipeline.Pipeline {
			return pipeline.New("loop-body", "").Then(pipeline.LLMStep{Prompt: "y"})
		}, pipeline.WhileOptions{MaxIterations: 2})

	// 1 (Then) + 1 (ForEach node) + 3*1 (each ForEach item's one step) +
	// 1 (While node) + 2*1 (While body run twice) = 1+1+3+1+2 = 8
	assert.Equal(t, 8, p.StepCount())
}

func TestPipeline_NameAndDescriptionArePreservedAcrossChaining(t *testing.T) {
	p := pipeline.New("researcher", "finds facts").Then(pipeline.LLMStep{Prompt: "go"})
	assert.Equal(t, "researcher", p.Name())
	assert.Equal(t, "finds facts", p.Description())
}
