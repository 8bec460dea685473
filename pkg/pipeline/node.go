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
	"time"

	"github.com/kestrelai/agentflow/pkg/llm"
	"github.com/kestrelai/agentflow/pkg/mcp"
	"github.com/kestrelai/agentflow/pkg/retry"
)

// NodeKind discriminates the closed set of step-node variants.
type NodeKind int

const (
	KindLLM NodeKind = iota
	KindExplicitTool
	KindParallel
	KindBranch
	KindSwitch
	KindWhile
	KindForEach
	KindRetryUntil
	KindRunAgent
)

func (k NodeKind) String() string {
	switch k {
	case KindLLM:
		return "llm"
	case KindExplicitTool:
		return "explicit_tool"
	case KindParallel:
		return "parallel"
	case KindBranch:
		return "branch"
	case KindSwitch:
		return "switch"
	case KindWhile:
		return "while"
	case KindForEach:
		return "for_each"
	case KindRetryUntil:
		return "retry_until"
	case KindRunAgent:
		return "run_agent"
	default:
		return "unknown"
	}
}

// Node is the closed sum type of step-node variants. Only this package can
// implement it; callers build nodes exclusively through Pipeline's
// chainable methods.
type Node interface {
	Kind() NodeKind
	sealed()
}

// Hooks are invoked around a node's execution. Either may be nil.
type Hooks struct {
	Pre  Hook
	Post Hook
}

// Hook observes a node immediately before or after it runs.
type Hook func(ctx context.Context, index int, kind NodeKind)

// Predicate decides control flow from the results accumulated so far.
type Predicate func(results AgentResults) bool

// KeyFunc extracts a switch key from the results accumulated so far.
type KeyFunc func(results AgentResults) string

// ExplicitTool is a caller-supplied, in-process tool: a definition plus
// the function that executes it. Unlike an MCP tool it involves no
// network round-trip.
type ExplicitTool struct {
	Definition llm.ToolDefinition
	Call       func(ctx context.Context, args map[string]any) (any, error)
}

// --- Llm ---

type llmNode struct {
	name          string
	prompt        string
	llmOverride   llm.Handle
	mcps          []mcp.Handle
	explicitTools []ExplicitTool
	agents        []*Pipeline
	instructions  string
	maxIterations int
	timeout       time.Duration
	retry         *retry.Policy
	hooks         Hooks
}

func (llmNode) Kind() NodeKind { return KindLLM }
func (llmNode) sealed()        {}

// --- ExplicitTool (node) ---

type explicitToolNode struct {
	handle    mcp.Handle
	toolName  string
	arguments map[string]any
	hooks     Hooks
}

func (explicitToolNode) Kind() NodeKind { return KindExplicitTool }
func (explicitToolNode) sealed()        {}

// --- Parallel ---

type parallelNode struct {
	children []*Pipeline
	hooks    Hooks
}

func (parallelNode) Kind() NodeKind { return KindParallel }
func (parallelNode) sealed()        {}

// --- Branch ---

type branchNode struct {
	predicate Predicate
	onTrue    *Pipeline
	onFalse   *Pipeline
	hooks     Hooks
}

func (branchNode) Kind() NodeKind { return KindBranch }
func (branchNode) sealed()        {}

// --- Switch ---

type switchNode struct {
	key         KeyFunc
	cases       map[string]*Pipeline
	defaultCase *Pipeline
	hooks       Hooks
}

func (switchNode) Kind() NodeKind { return KindSwitch }
func (switchNode) sealed()        {}

// --- While ---

type whileNode struct {
	predicate     Predicate
	body          func() *Pipeline
	maxIterations int
	hooks         Hooks
}

func (whileNode) Kind() NodeKind { return KindWhile }
func (whileNode) sealed()        {}

// --- ForEach ---

type forEachNode struct {
	items   []any
	factory func(item any, index int) *Pipeline
	hooks   Hooks
}

func (forEachNode) Kind() NodeKind { return KindForEach }
func (forEachNode) sealed()        {}

// --- RetryUntil ---

type retryUntilNode struct {
	factory     func(attempt int) *Pipeline
	satisfied   func(StepResult) bool
	maxAttempts int
	hooks       Hooks
}

func (retryUntilNode) Kind() NodeKind { return KindRetryUntil }
func (retryUntilNode) sealed()        {}

// --- RunAgent ---

type runAgentNode struct {
	other *Pipeline
	hooks Hooks
}

func (runAgentNode) Kind() NodeKind { return KindRunAgent }
func (runAgentNode) sealed()        {}
