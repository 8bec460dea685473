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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcpsdk "github.com/mark3labs/mcp-go/mcp"
)

func TestValidateArguments_NoSchemaAlwaysPasses(t *testing.T) {
	def := ToolDefinition{Name: "svc.noop"}
	assert.NoError(t, validateArguments(def, map[string]any{"anything": 1}))
}

func TestValidateArguments_RejectsMissingRequiredProperty(t *testing.T) {
	def := ToolDefinition{
		Name: "svc.get_sign",
		Parameters: map[string]any{
			"type":     "object",
			"required": []any{"birthdate"},
			"properties": map[string]any{
				"birthdate": map[string]any{"type": "string"},
			},
		},
	}

	err := validateArguments(def, map[string]any{})
	require.Error(t, err)

	assert.NoError(t, validateArguments(def, map[string]any{"birthdate": "1993-07-11"}))
}

func TestValidateArguments_RejectsWrongType(t *testing.T) {
	def := ToolDefinition{
		Name: "svc.mark_item",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"itemId": map[string]any{"type": "string"},
			},
		},
	}

	err := validateArguments(def, map[string]any{"itemId": 42})
	assert.Error(t, err)
}

func TestNormalizeResult_CallToolResultTextContentParsedAsJSON(t *testing.T) {
	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			mcpsdk.TextContent{Type: "text", Text: `{"sign":"Cancer"}`},
		},
	}

	got := normalizeResult(result)
	assert.Equal(t, map[string]any{"sign": "Cancer"}, got)
}

func TestNormalizeResult_CallToolResultPlainTextFallsBackToString(t *testing.T) {
	result := &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			mcpsdk.TextContent{Type: "text", Text: "Cancer"},
		},
	}

	assert.Equal(t, "Cancer", normalizeResult(result))
}

func TestNormalizeResult_RawMapWithoutContentPassesThrough(t *testing.T) {
	raw := map[string]any{"ok": true}
	assert.Equal(t, raw, normalizeResult(raw))
}

func TestNormalizeResult_RawMapContentArrayExtractsText(t *testing.T) {
	raw := map[string]any{
		"content": []any{
			map[string]any{"type": "text", "text": "42"},
		},
	}
	assert.Equal(t, float64(42), normalizeResult(raw))
}

func TestNormalizeResult_UnrecognizedShapePassesThrough(t *testing.T) {
	assert.Equal(t, 7, normalizeResult(7))
}
