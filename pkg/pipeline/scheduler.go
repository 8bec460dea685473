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
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kestrelai/agentflow/pkg/autotool"
	"github.com/kestrelai/agentflow/pkg/coordinator"
	"github.com/kestrelai/agentflow/pkg/history"
	"github.com/kestrelai/agentflow/pkg/llm"
	"github.com/kestrelai/agentflow/pkg/logging"
	"github.com/kestrelai/agentflow/pkg/mcp"
	"github.com/kestrelai/agentflow/pkg/retry"
	"github.com/kestrelai/agentflow/pkg/telemetry"
)

// maxCoordinatorTurns bounds the embedded multi-agent coordinator's
// USE/DONE exchange so a confused model can never loop forever.
const maxCoordinatorTurns = 10

// RunOptions supplies everything a pipeline needs at execution time that
// the builder deliberately does not own: the default LLM handle, the MCP
// pool, tool-grouping policy, retry policy, and history budget. Keeping
// these out of Pipeline itself is what makes the builder free of shared
// mutable state.
type RunOptions struct {
	LLM             llm.Handle
	Pool            *mcp.Pool
	Analyzer        mcp.Analyzer
	RetryPolicy     retry.Policy
	HistoryBudget   history.Budget
	ToolCallTimeout time.Duration
	SeedHistory     []history.StepRecord
	OnStep          func(result StepResult, index int)
	Telemetry       telemetry.Emitter

	// TaskPrompt, when non-empty, is the task a delegating caller (the
	// multi-agent coordinator's USE directive) is feeding this run. It is
	// prepended to the own prompt of the step at index 0 when that step is
	// an LLM step, so a sub-agent built with no static prompt of its own
	// still receives the delegated task as its entry prompt. When the
	// step at index 0 is not an LLM step, the task text is not used.
	TaskPrompt string
}

// execState is the mutable scratchpad threaded through one Run/Stream
// call. It is never shared between concurrently executing Parallel
// children — each gets its own, seeded with a snapshot of the results
// accumulated so far.
type execState struct {
	opts    RunOptions
	results *AgentResults
	sink    func(StepResult) bool
	halted  bool
}

func (st *execState) deliver(r StepResult) {
	if st.opts.OnStep != nil {
		st.opts.OnStep(r, r.Index)
	}
	if st.sink != nil && !st.sink(r) {
		st.halted = true
	}
}

func (st *execState) historyRecords() []history.StepRecord {
	if len(st.opts.SeedHistory) == 0 {
		return st.results.records()
	}
	combined := make([]history.StepRecord, 0, len(st.opts.SeedHistory)+len(st.results.Results))
	combined = append(combined, st.opts.SeedHistory...)
	combined = append(combined, st.results.records()...)
	return combined
}

func (st *execState) budget() history.Budget {
	if st.opts.HistoryBudget == (history.Budget{}) {
		return history.DefaultBudget
	}
	return st.opts.HistoryBudget
}

func (st *execState) retryPolicy(override *retry.Policy) retry.Policy {
	if override != nil {
		return *override
	}
	return st.opts.RetryPolicy
}

func (st *execState) telemetry() telemetry.Emitter {
	if st.opts.Telemetry == nil {
		return telemetry.Noop()
	}
	return st.opts.Telemetry
}

func (st *execState) callTimeout() time.Duration {
	if st.opts.ToolCallTimeout > 0 {
		return st.opts.ToolCallTimeout
	}
	return mcp.DefaultCallTimeout
}

// subOptions returns the RunOptions a delegated sub-agent (RunAgent, or a
// coordinator's USE target) should execute with: the same runtime wiring,
// seeded with everything accumulated by the parent so far so the
// sub-agent's own history window includes the parent's context, plus the
// task text (if any) the delegating caller is feeding into this run.
func (st *execState) subOptions(task string) RunOptions {
	opts := st.opts
	opts.SeedHistory = st.historyRecords()
	opts.OnStep = nil
	opts.TaskPrompt = task
	return opts
}

// Run executes the pipeline to completion and returns every step result in
// traversal order. Only one Run or Stream may be active on a given
// Pipeline instance at a time.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*AgentResults, error) {
	if !p.state.active.CompareAndSwap(false, true) {
		return nil, &ConcurrencyError{Name: p.name}
	}
	defer p.state.active.Store(false)

	st := &execState{opts: opts, results: &AgentResults{}}
	emitter := st.telemetry()
	ctx, span := emitter.StartAgentRun(ctx, p.name)
	defer span.End()

	err := p.runWith(ctx, st)
	if err != nil {
		telemetry.RecordError(span, err)
	}
	emitter.RecordAgentRun(ctx, p.name, err != nil)
	return st.results, err
}

// Stream executes the pipeline like Run but yields each step result as it
// is produced, for callers that want to render progress incrementally.
// Results nested inside a control-flow node (Parallel, Branch, ...) are
// yielded once that node's subpipeline has finished, in declaration order.
func (p *Pipeline) Stream(ctx context.Context, opts RunOptions) iter.Seq2[StepResult, error] {
	return func(yield func(StepResult, error) bool) {
		if !p.state.active.CompareAndSwap(false, true) {
			yield(StepResult{}, &ConcurrencyError{Name: p.name})
			return
		}
		defer p.state.active.Store(false)

		st := &execState{opts: opts, results: &AgentResults{}, sink: func(r StepResult) bool {
			return yield(r, nil)
		}}
		emitter := st.telemetry()
		ctx, span := emitter.StartAgentRun(ctx, p.name)
		defer span.End()

		err := p.runWith(ctx, st)
		if err != nil {
			telemetry.RecordError(span, err)
		}
		emitter.RecordAgentRun(ctx, p.name, err != nil)
	}
}

func (p *Pipeline) runWith(ctx context.Context, st *execState) error {
	for _, n := range p.nodes {
		if st.halted {
			return nil
		}
		if err := st.run(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (st *execState) run(ctx context.Context, n Node) error {
	switch v := n.(type) {
	case llmNode:
		return st.runLLM(ctx, v)
	case explicitToolNode:
		return st.runExplicitTool(ctx, v)
	case parallelNode:
		return st.runParallel(ctx, v)
	case branchNode:
		return st.runBranch(ctx, v)
	case switchNode:
		return st.runSwitch(ctx, v)
	case whileNode:
		return st.runWhile(ctx, v)
	case forEachNode:
		return st.runForEach(ctx, v)
	case retryUntilNode:
		return st.runRetryUntil(ctx, v)
	case runAgentNode:
		return st.runRunAgent(ctx, v)
	default:
		return fmt.Errorf("pipeline: unknown node kind %T", n)
	}
}

// record runs fn as a single leaf step: it assigns the step its index,
// fires hooks, appends the result, and delivers it to OnStep/Stream. A
// non-nil res.Err halts the enclosing walk.
func (st *execState) record(ctx context.Context, kind NodeKind, hooks Hooks, fn func(index int) StepResult) error {
	index := len(st.results.Results)
	ctx, span := st.telemetry().StartStep(ctx, index, kind.String())
	defer span.End()

	if hooks.Pre != nil {
		hooks.Pre(ctx, index, kind)
	}

	res := fn(index)
	res.Index = index
	res.CorrelationID = uuid.NewString()
	res.Kind = kind
	res.PreHookRan = hooks.Pre != nil

	if hooks.Post != nil {
		hooks.Post(ctx, index, kind)
		res.PostHookRan = true
	}

	st.results.Results = append(st.results.Results, res)
	st.deliver(res)
	st.telemetry().RecordStepDuration(ctx, kind.String(), float64(res.DurationMs))

	if res.Err != nil {
		telemetry.RecordError(span, res.Err)
		logging.GetLogger().Warn("pipeline: step failed", "index", index, "kind", kind.String(), "error", res.Err)
		return stepError(index, res.Err)
	}
	return nil
}

// runChildPipeline executes child in isolation, seeded with a snapshot of
// the parent's accumulated results, and returns only the new results it
// produced (not yet appended to the parent). The caller is responsible for
// appendAll-ing them once it knows the declaration-order position to put
// them in — this is what lets Parallel run children concurrently while
// still emitting results in declared order.
func (st *execState) runChildPipeline(ctx context.Context, child *Pipeline) ([]StepResult, error) {
	if child == nil {
		return nil, nil
	}
	seedLen := len(st.results.Results)
	seeded := make([]StepResult, seedLen)
	copy(seeded, st.results.Results)

	childOpts := st.opts
	childOpts.OnStep = nil
	childSt := &execState{opts: childOpts, results: &AgentResults{Results: seeded}}

	err := child.runWith(ctx, childSt)
	return childSt.results.Results[seedLen:], err
}

func (st *execState) appendAll(rs []StepResult) {
	for _, r := range rs {
		r.Index = len(st.results.Results)
		st.results.Results = append(st.results.Results, r)
		st.deliver(r)
	}
}

// --- Llm ---

func (st *execState) runLLM(ctx context.Context, n llmNode) error {
	return st.record(ctx, KindLLM, n.hooks, func(index int) StepResult {
		start := time.Now()

		handle := n.llmOverride
		if handle == nil {
			handle = st.opts.LLM
		}
		if handle == nil {
			return StepResult{Prompt: n.prompt, Err: fmt.Errorf("pipeline: step has no llm handle configured")}
		}

		stepPrompt := n.prompt
		if index == 0 && st.opts.TaskPrompt != "" {
			if stepPrompt == "" {
				stepPrompt = st.opts.TaskPrompt
			} else {
				stepPrompt = st.opts.TaskPrompt + "\n\n" + stepPrompt
			}
		}

		prompt := history.Build(n.instructions, st.historyRecords(), stepPrompt, st.budget())
		res := StepResult{Prompt: prompt}

		stepCtx := ctx
		if n.timeout > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, n.timeout)
			defer cancel()
		}

		policy := st.retryPolicy(n.retry)

		switch {
		case len(n.agents) > 0:
			st.runCoordinator(stepCtx, handle, n.agents, prompt, &res)
		case len(n.mcps) > 0 || len(n.explicitTools) > 0:
			st.runAutoTool(stepCtx, n, handle, prompt, policy, &res)
		default:
			genCtx, genSpan := st.telemetry().StartLLMGenerate(stepCtx, handle.Model())
			llmStart := time.Now()
			text, err := retry.Do(genCtx, policy, func(c context.Context) (string, error) {
				return handle.Gen(c, prompt)
			})
			res.LLMMs = time.Since(llmStart).Milliseconds()
			res.FinalText = text
			res.Err = err
			st.telemetry().AddPayload(genSpan, prompt, text)
			if err != nil {
				telemetry.RecordError(genSpan, err)
			}
			genSpan.End()
		}

		if ur, ok := handle.(llm.UsageReporter); ok {
			if u := ur.GetUsage(); u != nil {
				res.Usage = *u
				st.telemetry().RecordTokenUsage(ctx, handle.Model(), u.InputTokens, u.OutputTokens, u.TotalTokens)
			}
		}

		res.DurationMs = time.Since(start).Milliseconds()
		return res
	})
}

var unsafeToolNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func sanitizeToolName(name string) string {
	return unsafeToolNameChars.ReplaceAllString(name, "_")
}

// blendedExecutor serves tool calls from both MCP-discovered tools and
// caller-supplied in-process ExplicitTools through the one
// autotool.ToolExecutor interface, so the auto-tool-selection loop never
// needs to know which kind of tool it is driving.
type blendedExecutor struct {
	mcpExecutor mcp.Executor
	explicit    map[string]ExplicitTool
}

func (b *blendedExecutor) Execute(ctx context.Context, call mcp.ProposedCall, catalog map[string]mcp.ToolDefinition) mcp.ToolCallResult {
	if tool, ok := b.explicit[call.Name]; ok {
		start := time.Now()
		result, err := tool.Call(ctx, call.Arguments)
		return mcp.ToolCallResult{Call: call, Endpoint: "explicit", Result: result, Err: err, ElapsedMs: time.Since(start).Milliseconds()}
	}
	return b.mcpExecutor.Execute(ctx, call, catalog)
}

func (st *execState) buildCatalog(ctx context.Context, n llmNode) (map[string]mcp.ToolDefinition, []llm.ToolDefinition, autotool.ToolExecutor, error) {
	catalog := make(map[string]mcp.ToolDefinition)
	var toolDefs []llm.ToolDefinition

	if len(n.mcps) > 0 {
		defs, _, err := mcp.Discover(ctx, st.opts.Pool, n.mcps)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, d := range defs {
			catalog[d.Name] = d
			toolDefs = append(toolDefs, llm.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters})
		}
	}

	explicitByName := make(map[string]ExplicitTool, len(n.explicitTools))
	for _, tool := range n.explicitTools {
		name := sanitizeToolName(tool.Definition.Name)
		catalog[name] = mcp.ToolDefinition{
			Name: name, DottedName: "explicit." + tool.Definition.Name,
			Description: tool.Definition.Description, Parameters: tool.Definition.Parameters,
		}
		explicitByName[name] = tool
		toolDefs = append(toolDefs, llm.ToolDefinition{Name: name, Description: tool.Definition.Description, Parameters: tool.Definition.Parameters})
	}

	executor := &blendedExecutor{
		mcpExecutor: mcp.Executor{Pool: st.opts.Pool, Timeout: st.callTimeout(), Emitter: st.telemetry()},
		explicit:    explicitByName,
	}
	return catalog, toolDefs, executor, nil
}

// runAutoTool drives the iterative tool-selection exchange for one Llm
// step and folds the outcome into res. The elapsed time spent inside tool
// calls is subtracted out of the measured wall time so LLMMs and ToolMs
// never together exceed DurationMs.
func (st *execState) runAutoTool(ctx context.Context, n llmNode, handle llm.Handle, prompt string, policy retry.Policy, res *StepResult) {
	catalog, toolDefs, executor, err := st.buildCatalog(ctx, n)
	if err != nil {
		res.Err = err
		return
	}

	loop := autotool.Loop{
		LLM: handle, Catalog: catalog, Tools: toolDefs, Executor: executor,
		Analyzer: st.opts.Analyzer, MaxIterations: n.maxIterations,
	}

	wallStart := time.Now()
	outcome, err := retry.Do(ctx, policy, func(c context.Context) (autotool.Outcome, error) {
		return loop.Run(c, prompt)
	})
	wall := time.Since(wallStart).Milliseconds()

	if err != nil {
		res.Err = err
		res.LLMMs = wall
		return
	}

	res.FinalText = outcome.Content

	var toolMs int64
	for _, c := range outcome.Calls {
		toolMs += c.Result.ElapsedMs
		res.ToolCalls = append(res.ToolCalls, ToolCallRecord{
			Name: c.Proposed.Name, Arguments: c.Proposed.Arguments,
			Endpoint: c.Result.Endpoint, Result: c.Result.Result, Err: c.Result.Err, ElapsedMs: c.Result.ElapsedMs,
		})
		st.telemetry().RecordToolCall(ctx, c.Proposed.Name, c.Result.Err != nil)
	}
	if toolMs > wall {
		toolMs = wall
	}
	res.ToolMs = toolMs
	res.LLMMs = wall - toolMs
	if res.LLMMs < 0 {
		res.LLMMs = 0
	}
}

// runCoordinator implements the embedded multi-agent delegation protocol:
// the model is shown a directory of named sub-agents and must reply with
// "USE <agent>: <task>" to delegate or "DONE: <final>" to finish, parsed
// through coordinator.ParseDirective rather than prefix matching.
func (st *execState) runCoordinator(ctx context.Context, handle llm.Handle, agents []*Pipeline, prompt string, res *StepResult) {
	directory := make(map[string]*Pipeline)
	var listing strings.Builder
	for _, a := range agents {
		if a == nil || a.Name() == "" || a.Description() == "" {
			continue
		}
		directory[a.Name()] = a
		fmt.Fprintf(&listing, "- %s: %s\n", a.Name(), a.Description())
	}

	if len(directory) == 0 {
		res.FinalText = "No agents available or agents missing name/description"
		return
	}

	transcript := prompt + "\n\nAvailable agents:\n" + listing.String() +
		"\nRespond with \"USE <agent>: <task>\" to delegate, or \"DONE: <final answer>\" to finish.\n"

	var lastCall *SubAgentCallRecord

	for turn := 1; turn <= maxCoordinatorTurns; turn++ {
		reply, err := handle.Gen(ctx, transcript)
		if err != nil {
			res.Err = err
			return
		}

		switch d := coordinator.ParseDirective(reply).(type) {
		case coordinator.Done:
			res.FinalText = d.Text
			res.SubAgentCall = lastCall
			return

		case coordinator.Use:
			agent, ok := directory[d.Name]
			if !ok {
				transcript += fmt.Sprintf("\nUnknown agent %q. Choose one of the agents listed above.\n", d.Name)
				continue
			}

			start := time.Now()
			logging.GetLogger().Debug("pipeline: coordinator delegating", "agent", d.Name, "task", d.Task)
			sub, err := agent.Run(ctx, st.subOptions(d.Task))
			elapsed := time.Since(start).Milliseconds()
			if err != nil {
				logging.GetLogger().Warn("pipeline: sub-agent run failed", "agent", d.Name, "error", err)
				transcript += fmt.Sprintf("\nAgent %q failed: %v\n", d.Name, err)
				continue
			}

			answer := sub.FinalText()
			lastCall = &SubAgentCallRecord{Name: d.Name, Task: d.Task, TotalTokens: sumTokens(sub), ElapsedMs: elapsed}
			st.telemetry().RecordSubAgentCall(ctx, d.Name)
			transcript += fmt.Sprintf("\n%s replied: %s\n", d.Name, answer)

		case coordinator.Unparsed:
			transcript += "\nReply did not match the expected USE/DONE protocol. Use \"USE <agent>: <task>\" or \"DONE: <final answer>\".\n"
		}
	}

	res.SubAgentCall = lastCall
	res.FinalText = "coordinator reached its turn limit without a DONE reply"
}

func sumTokens(results *AgentResults) int {
	total := 0
	for _, r := range results.Results {
		total += r.Usage.TotalTokens
	}
	return total
}

// --- ExplicitTool (node) ---

func (st *execState) runExplicitTool(ctx context.Context, n explicitToolNode) error {
	return st.record(ctx, KindExplicitTool, n.hooks, func(index int) StepResult {
		start := time.Now()

		dotted := n.handle.EndpointID() + "." + n.toolName
		name := sanitizeToolName(dotted)
		call := mcp.ProposedCall{Name: name, Arguments: n.arguments}
		catalog := map[string]mcp.ToolDefinition{name: {Name: name, DottedName: dotted, Handle: n.handle}}

		executor := mcp.Executor{Pool: st.opts.Pool, Timeout: st.callTimeout(), Emitter: st.telemetry()}
		result := executor.Execute(ctx, call, catalog)
		st.telemetry().RecordToolCall(ctx, n.toolName, result.Err != nil)

		return StepResult{
			ExplicitCall: &ToolCallRecord{
				Name: n.toolName, Arguments: n.arguments, Endpoint: result.Endpoint,
				Result: result.Result, Err: result.Err, ElapsedMs: result.ElapsedMs,
			},
			ToolMs:     result.ElapsedMs,
			Err:        result.Err,
			DurationMs: time.Since(start).Milliseconds(),
		}
	})
}

// --- Parallel ---

func (st *execState) runParallel(ctx context.Context, n parallelNode) error {
	if n.hooks.Pre != nil {
		n.hooks.Pre(ctx, len(st.results.Results), KindParallel)
	}

	outcomes := make([][]StepResult, len(n.children))
	errs := make([]error, len(n.children))

	eg, groupCtx := errgroup.WithContext(ctx)
	for i, child := range n.children {
		i, child := i, child
		eg.Go(func() error {
			rs, err := st.runChildPipeline(groupCtx, child)
			outcomes[i] = rs
			errs[i] = err
			if err != nil && !retry.IsRetryable(err) {
				return err
			}
			return nil
		})
	}
	cancelErr := eg.Wait()

	firstErr := cancelErr
	for i := range n.children {
		st.appendAll(outcomes[i])
		if firstErr == nil && errs[i] != nil {
			firstErr = errs[i]
		}
	}

	if n.hooks.Post != nil {
		n.hooks.Post(ctx, len(st.results.Results), KindParallel)
	}
	return firstErr
}

// --- Branch ---

func (st *execState) runBranch(ctx context.Context, n branchNode) error {
	if n.hooks.Pre != nil {
		n.hooks.Pre(ctx, len(st.results.Results), KindBranch)
	}

	target := n.onFalse
	if n.predicate != nil && n.predicate(*st.results) {
		target = n.onTrue
	}

	var err error
	if target != nil {
		var rs []StepResult
		rs, err = st.runChildPipeline(ctx, target)
		st.appendAll(rs)
	}

	if n.hooks.Post != nil {
		n.hooks.Post(ctx, len(st.results.Results), KindBranch)
	}
	return err
}

// --- Switch ---

func (st *execState) runSwitch(ctx context.Context, n switchNode) error {
	if n.hooks.Pre != nil {
		n.hooks.Pre(ctx, len(st.results.Results), KindSwitch)
	}

	var target *Pipeline
	if n.key != nil {
		key := n.key(*st.results)
		if sub, ok := n.cases[key]; ok {
			target = sub
		}
	}
	if target == nil {
		target = n.defaultCase
	}

	var err error
	if target != nil {
		var rs []StepResult
		rs, err = st.runChildPipeline(ctx, target)
		st.appendAll(rs)
	}

	if n.hooks.Post != nil {
		n.hooks.Post(ctx, len(st.results.Results), KindSwitch)
	}
	return err
}

// --- While ---

func (st *execState) runWhile(ctx context.Context, n whileNode) error {
	if n.hooks.Pre != nil {
		n.hooks.Pre(ctx, len(st.results.Results), KindWhile)
	}

	max := n.maxIterations
	if max <= 0 {
		max = 1
	}

	var err error
	for i := 0; i < max && n.body != nil; i++ {
		if n.predicate != nil && !n.predicate(*st.results) {
			break
		}
		var rs []StepResult
		rs, err = st.runChildPipeline(ctx, n.body())
		st.appendAll(rs)
		if err != nil {
			break
		}
	}

	if n.hooks.Post != nil {
		n.hooks.Post(ctx, len(st.results.Results), KindWhile)
	}
	return err
}

// --- ForEach ---

func (st *execState) runForEach(ctx context.Context, n forEachNode) error {
	if n.hooks.Pre != nil {
		n.hooks.Pre(ctx, len(st.results.Results), KindForEach)
	}

	var err error
	for i, item := range n.items {
		if n.factory == nil {
			continue
		}
		var rs []StepResult
		rs, err = st.runChildPipeline(ctx, n.factory(item, i))
		st.appendAll(rs)
		if err != nil {
			break
		}
	}

	if n.hooks.Post != nil {
		n.hooks.Post(ctx, len(st.results.Results), KindForEach)
	}
	return err
}

// --- RetryUntil ---

func (st *execState) runRetryUntil(ctx context.Context, n retryUntilNode) error {
	if n.hooks.Pre != nil {
		n.hooks.Pre(ctx, len(st.results.Results), KindRetryUntil)
	}

	max := n.maxAttempts
	if max <= 0 {
		max = 1
	}

	var finalErr error
	for attempt := 1; attempt <= max; attempt++ {
		if n.factory == nil {
			break
		}
		rs, err := st.runChildPipeline(ctx, n.factory(attempt))
		st.appendAll(rs)
		finalErr = err

		if err == nil && (len(rs) == 0 || n.satisfied == nil || n.satisfied(rs[len(rs)-1])) {
			finalErr = nil
			break
		}
	}

	if n.hooks.Post != nil {
		n.hooks.Post(ctx, len(st.results.Results), KindRetryUntil)
	}
	return finalErr
}

// --- RunAgent ---

func (st *execState) runRunAgent(ctx context.Context, n runAgentNode) error {
	return st.record(ctx, KindRunAgent, n.hooks, func(index int) StepResult {
		start := time.Now()

		if n.other == nil {
			return StepResult{Err: fmt.Errorf("pipeline: run_agent has no target pipeline")}
		}

		sub, err := n.other.Run(ctx, st.subOptions(""))
		elapsed := time.Since(start).Milliseconds()
		if err != nil {
			return StepResult{Err: err, DurationMs: elapsed}
		}
		st.telemetry().RecordSubAgentCall(ctx, n.other.Name())

		return StepResult{
			FinalText:    sub.FinalText(),
			SubAgentCall: &SubAgentCallRecord{Name: n.other.Name(), ElapsedMs: elapsed, TotalTokens: sumTokens(sub)},
			DurationMs:   elapsed,
		}
	})
}
