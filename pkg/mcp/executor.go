// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	mcpsdk "github.com/mark3labs/mcp-go/mcp"

	"github.com/kestrelai/agentflow/pkg/telemetry"
)

// DefaultCallTimeout is the per-call timeout applied when Executor.Timeout
// is zero.
const DefaultCallTimeout = 30 * time.Second

// Executor validates and invokes tool calls against the pool. A Catalog
// (as returned by Discover) maps each sanitized tool name to its
// definition, letting the executor find the owning handle recorded on that
// definition.
type Executor struct {
	Pool    *Pool
	Timeout time.Duration
	Emitter telemetry.Emitter
}

func (e Executor) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return DefaultCallTimeout
}

func (e Executor) emitter() telemetry.Emitter {
	if e.Emitter == nil {
		return telemetry.Noop()
	}
	return e.Emitter
}

// Execute runs one proposed call: (1) look up its ToolDefinition in
// catalog, (2) validate arguments against the tool's JSON Schema, (3)
// acquire the owning session, (4) invoke tools/call under a per-call timeout,
// (5) normalize the response, (6) return a ToolCallResult (error set on
// failure, never both panics nor silent drops).
func (e Executor) Execute(ctx context.Context, call ProposedCall, catalog map[string]ToolDefinition) ToolCallResult {
	start := time.Now()

	def, ok := catalog[call.Name]
	if !ok {
		return ToolCallResult{Call: call, Err: fmt.Errorf("mcp: unknown tool %q", call.Name)}
	}

	if err := validateArguments(def, call.Arguments); err != nil {
		return ToolCallResult{
			Call:      call,
			Endpoint:  def.Handle.EndpointID(),
			Err:       &ValidationError{Tool: def.DottedName, Err: err},
			ElapsedMs: time.Since(start).Milliseconds(),
		}
	}

	sess, err := e.Pool.Acquire(ctx, def.Handle)
	if err != nil {
		return ToolCallResult{Call: call, Endpoint: def.Handle.EndpointID(), Err: err, ElapsedMs: time.Since(start).Milliseconds()}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout())
	defer cancel()

	spanCtx, span := e.emitter().StartMCPOperation(callCtx, "call", def.Handle.EndpointID())
	toolName := def.DottedName[strings.LastIndex(def.DottedName, ".")+1:]
	raw, err := e.Pool.Call(spanCtx, sess, "tools/call", map[string]any{
		"name":      toolName,
		"arguments": call.Arguments,
	})
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		retryable := false
		if c, ok := err.(interface{ IsRetryable() bool }); ok {
			retryable = c.IsRetryable()
		}
		return ToolCallResult{
			Call:      call,
			Endpoint:  def.Handle.EndpointID(),
			Err:       &ToolError{Provider: def.Handle.EndpointID(), Retryable: retryable, Err: err},
			ElapsedMs: elapsed,
		}
	}
	span.End()

	return ToolCallResult{
		Call:      call,
		Endpoint:  def.Handle.EndpointID(),
		Result:    normalizeResult(raw),
		ElapsedMs: elapsed,
	}
}

func validateArguments(def ToolDefinition, args map[string]any) error {
	if len(def.Parameters) == 0 {
		return nil
	}

	schemaBytes, err := json.Marshal(def.Parameters)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(def.Name+".json", strings.NewReader(string(schemaBytes))); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	schema, err := compiler.Compile(def.Name + ".json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	argBytes, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(argBytes, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}

	return schema.Validate(decoded)
}

// normalizeResult unwraps an MCP tools/call response into a plain value:
// {content: [{type:"text", text:"…"}]} becomes the text, parsed as JSON
// when possible, else the raw string.
func normalizeResult(raw any) any {
	switch v := raw.(type) {
	case *mcpsdk.CallToolResult:
		return normalizeContent(contentToText(v))
	case map[string]any:
		content, ok := v["content"].([]any)
		if !ok {
			return v
		}
		return normalizeContent(rawContentToText(content))
	default:
		return raw
	}
}

func contentToText(result *mcpsdk.CallToolResult) string {
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(mcpsdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func rawContentToText(content []any) string {
	var b strings.Builder
	for _, item := range content {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t == "text" {
			if text, ok := m["text"].(string); ok {
				b.WriteString(text)
			}
		}
	}
	return b.String()
}

func normalizeContent(text string) any {
	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed
	}
	return text
}
