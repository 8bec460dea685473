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

// Package pipeline is the step execution engine: an immutable, chainable
// builder that assembles a tree of step nodes, and a depth-first
// interpreter that walks it, producing step results in traversal order
// even when branches of the tree execute concurrently.
package pipeline

import (
	"sync/atomic"
	"time"

	"github.com/kestrelai/agentflow/pkg/llm"
	"github.com/kestrelai/agentflow/pkg/mcp"
	"github.com/kestrelai/agentflow/pkg/retry"
)

// runState is the per-instance execution guard. It is never copied between
// Pipeline values produced by chaining — each new builder value gets its
// own, so concurrency is only rejected for the exact instance being
// re-entered, not its ancestors or descendants in the builder chain.
type runState struct {
	active atomic.Bool
}

// Pipeline is an immutable, persistent pipeline builder. Every chainable
// method returns a new *Pipeline with one additional node; the receiver is
// left unchanged, so a builder can be safely extended along multiple
// branches without the branches observing each other.
type Pipeline struct {
	name        string
	description string
	nodes       []Node
	state       *runState
}

// New creates an empty pipeline with the given identity metadata. Name and
// description are used when this pipeline is consumed as a sub-agent by
// another pipeline's coordinator step.
func New(name, description string) *Pipeline {
	return &Pipeline{name: name, description: description, state: &runState{}}
}

// Name returns the pipeline's identity name.
func (p *Pipeline) Name() string { return p.name }

// Description returns the pipeline's identity description.
func (p *Pipeline) Description() string { return p.description }

// Len returns the number of top-level nodes (not the fully expanded
// descendant count).
func (p *Pipeline) Len() int { return len(p.nodes) }

func (p *Pipeline) clone() *Pipeline {
	nodes := make([]Node, len(p.nodes)+1)
	copy(nodes, p.nodes)
	return &Pipeline{name: p.name, description: p.description, nodes: nodes, state: &runState{}}
}

func (p *Pipeline) appendNode(n Node) *Pipeline {
	next := p.clone()
	next.nodes[len(next.nodes)-1] = n
	return next
}

// LLMStep configures an Llm node appended by Then.
type LLMStep struct {
	Name              string
	Prompt            string
	LLM               llm.Handle
	MCPs              []mcp.Handle
	ExplicitTools     []ExplicitTool
	Agents            []*Pipeline
	Instructions      string
	MaxToolIterations int
	Timeout           time.Duration
	Retry             *retry.Policy
	Hooks             Hooks
}

// Then appends an Llm step.
func (p *Pipeline) Then(step LLMStep) *Pipeline {
	return p.appendNode(llmNode{
		name:          step.Name,
		prompt:        step.Prompt,
		llmOverride:   step.LLM,
		mcps:          step.MCPs,
		explicitTools: step.ExplicitTools,
		agents:        step.Agents,
		instructions:  step.Instructions,
		maxIterations: step.MaxToolIterations,
		timeout:       step.Timeout,
		retry:         step.Retry,
		hooks:         step.Hooks,
	})
}

// ToolStep configures an ExplicitTool node appended by ThenTool: a direct
// MCP tool invocation with no LLM call.
type ToolStep struct {
	Handle    mcp.Handle
	ToolName  string
	Arguments map[string]any
	Hooks     Hooks
}

// ThenTool appends an ExplicitTool node.
func (p *Pipeline) ThenTool(step ToolStep) *Pipeline {
	return p.appendNode(explicitToolNode{
		handle:    step.Handle,
		toolName:  step.ToolName,
		arguments: step.Arguments,
		hooks:     step.Hooks,
	})
}

// Parallel appends a node whose children execute concurrently; results are
// emitted in declaration order regardless of completion order.
func (p *Pipeline) Parallel(children []*Pipeline, hooks ...Hooks) *Pipeline {
	return p.appendNode(parallelNode{children: children, hooks: firstHooks(hooks)})
}

// Branch appends a two-way conditional on the accumulated results so far.
func (p *Pipeline) Branch(predicate Predicate, onTrue, onFalse *Pipeline, hooks ...Hooks) *Pipeline {
	return p.appendNode(branchNode{predicate: predicate, onTrue: onTrue, onFalse: onFalse, hooks: firstHooks(hooks)})
}

// Switch appends a key-based conditional; cases not present in the map
// fall back to defaultCase (which may be nil, producing no contribution).
func (p *Pipeline) Switch(key KeyFunc, cases map[string]*Pipeline, defaultCase *Pipeline, hooks ...Hooks) *Pipeline {
	return p.appendNode(switchNode{key: key, cases: cases, defaultCase: defaultCase, hooks: firstHooks(hooks)})
}

// WhileOptions bounds a While node.
type WhileOptions struct {
	MaxIterations int
	Hooks         Hooks
}

// While appends a loop: while predicate holds, build and run body, hard
// bounded by opts.MaxIterations.
func (p *Pipeline) While(predicate Predicate, body func() *Pipeline, opts WhileOptions) *Pipeline {
	return p.appendNode(whileNode{predicate: predicate, body: body, maxIterations: opts.MaxIterations, hooks: opts.Hooks})
}

// ForEach appends a node that builds and runs one subpipeline per item via
// factory, over a finite items list.
func (p *Pipeline) ForEach(items []any, factory func(item any, index int) *Pipeline, hooks ...Hooks) *Pipeline {
	return p.appendNode(forEachNode{items: items, factory: factory, hooks: firstHooks(hooks)})
}

// RetryUntilOptions bounds a RetryUntil node.
type RetryUntilOptions struct {
	MaxAttempts int
	Hooks       Hooks
}

// RetryUntil appends a node that rebuilds and reruns a subpipeline (via
// factory) up to opts.MaxAttempts times until satisfied accepts its final
// step result.
func (p *Pipeline) RetryUntil(factory func(attempt int) *Pipeline, satisfied func(StepResult) bool, opts RetryUntilOptions) *Pipeline {
	return p.appendNode(retryUntilNode{factory: factory, satisfied: satisfied, maxAttempts: opts.MaxAttempts, hooks: opts.Hooks})
}

// RunAgent appends a node that executes other as an inlined sub-pipeline,
// seeded with this pipeline's accumulated history up to this point.
func (p *Pipeline) RunAgent(other *Pipeline, hooks ...Hooks) *Pipeline {
	return p.appendNode(runAgentNode{other: other, hooks: firstHooks(hooks)})
}

func firstHooks(hooks []Hooks) Hooks {
	if len(hooks) == 0 {
		return Hooks{}
	}
	return hooks[0]
}

// StepCount returns the fully expanded step count used for progress
// display: it recurses into RunAgent references and (non-adaptive) loop
// bodies, counting While/RetryUntil bodies once per their configured
// bound and ForEach once per item.
func (p *Pipeline) StepCount() int {
	total := 0
	for _, n := range p.nodes {
		total += 1 + expandedChildCount(n)
	}
	return total
}

func expandedChildCount(n Node) int {
	switch v := n.(type) {
	case parallelNode:
		sum := 0
		for _, c := range v.children {
			sum += c.StepCount()
		}
		return sum
	case branchNode:
		c := 0
		if v.onTrue != nil {
			c += v.onTrue.StepCount()
		}
		if v.onFalse != nil {
			c += v.onFalse.StepCount()
		}
		return c
	case switchNode:
		c := 0
		for _, sub := range v.cases {
			c += sub.StepCount()
		}
		if v.defaultCase != nil {
			c += v.defaultCase.StepCount()
		}
		return c
	case whileNode:
		if v.body == nil || v.maxIterations <= 0 {
			return 0
		}
		return v.body().StepCount() * v.maxIterations
	case forEachNode:
		total := 0
		for i, item := range v.items {
			total += v.factory(item, i).StepCount()
		}
		return total
	case retryUntilNode:
		if v.factory == nil || v.maxAttempts <= 0 {
			return 0
		}
		return v.factory(1).StepCount() * v.maxAttempts
	case runAgentNode:
		if v.other == nil {
			return 0
		}
		return v.other.StepCount()
	default:
		return 0
	}
}
