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
	"regexp"

	mcpsdk "github.com/mark3labs/mcp-go/mcp"
)

var unsafeIdentifierChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitize replaces any character outside [A-Za-z0-9_-] with "_", producing
// a provider-safe tool name from a dotted name.
func sanitize(dotted string) string {
	return unsafeIdentifierChars.ReplaceAllString(dotted, "_")
}

var nonPortableSchemaKeys = []string{"$schema", "$id", "$ref"}

// cleanSchema strips JSON-Schema keys that some LLM providers reject,
// returning a shallow copy so the caller's schema map is untouched.
func cleanSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	cleaned := make(map[string]any, len(schema))
	for k, v := range schema {
		cleaned[k] = v
	}
	for _, key := range nonPortableSchemaKeys {
		delete(cleaned, key)
	}
	return cleaned
}

// Discover lists tools for each handle's session, memoized for the life of
// the session, and projects each into a ToolDefinition with a fully
// qualified dotted name and a sanitized, provider-safe Name. It returns the
// combined catalog and the sanitized->dotted mapping needed to interpret
// the LLM's tool-call responses.
func Discover(ctx context.Context, pool *Pool, handles []Handle) ([]ToolDefinition, map[string]string, error) {
	var defs []ToolDefinition
	toDotted := make(map[string]string)

	for _, h := range handles {
		sess, err := pool.Acquire(ctx, h)
		if err != nil {
			return nil, nil, err
		}

		tools, err := discoverSession(ctx, pool, sess)
		if err != nil {
			return nil, nil, err
		}

		for _, t := range tools {
			defs = append(defs, t)
			toDotted[t.Name] = t.DottedName
		}
	}

	return defs, toDotted, nil
}

func discoverSession(ctx context.Context, pool *Pool, sess *Session) ([]ToolDefinition, error) {
	sess.toolsMu.Lock()
	defer sess.toolsMu.Unlock()

	if sess.toolsCached {
		return sess.toolsCache, nil
	}

	endpointID := sess.handle.EndpointID()

	result, err := pool.Call(ctx, sess, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	raw, err := listedTools(result)
	if err != nil {
		return nil, err
	}

	defs := make([]ToolDefinition, 0, len(raw))
	for _, t := range raw {
		dotted := endpointID + "." + t.name
		defs = append(defs, ToolDefinition{
			Name:        sanitize(dotted),
			DottedName:  dotted,
			Description: t.description,
			Parameters:  cleanSchema(t.schema),
			Handle:      sess.handle,
		})
	}

	sess.toolsCache = defs
	sess.toolsCached = true
	return defs, nil
}

// invalidate drops a session's discovery cache; called when a session is
// closed so a subsequent reconnect re-lists tools.
func invalidate(sess *Session) {
	sess.toolsMu.Lock()
	defer sess.toolsMu.Unlock()
	sess.toolsCache = nil
	sess.toolsCached = false
}

type rawTool struct {
	name        string
	description string
	schema      map[string]any
}

// listedTools normalizes a tools/list result from either transport: the
// stdio client returns a typed *mcp.ListToolsResult, the HTTP path returns
// the raw decoded JSON-RPC result value.
func listedTools(result any) ([]rawTool, error) {
	switch v := result.(type) {
	case *mcpsdk.ListToolsResult:
		out := make([]rawTool, 0, len(v.Tools))
		for _, t := range v.Tools {
			out = append(out, rawTool{name: t.Name, description: t.Description, schema: schemaToMap(t.InputSchema)})
		}
		return out, nil
	case map[string]any:
		rawList, ok := v["tools"].([]any)
		if !ok {
			return nil, fmt.Errorf("mcp: tools/list response missing tools array")
		}
		out := make([]rawTool, 0, len(rawList))
		for _, item := range rawList {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			name, _ := m["name"].(string)
			desc, _ := m["description"].(string)
			schema, _ := m["inputSchema"].(map[string]any)
			out = append(out, rawTool{name: name, description: desc, schema: schema})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("mcp: unexpected tools/list result type %T", result)
	}
}

// schemaToMap round-trips the stdio client's typed schema through JSON so
// it is represented the same way as the HTTP path's decoded map.
func schemaToMap(schema mcpsdk.ToolInputSchema) map[string]any {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}
