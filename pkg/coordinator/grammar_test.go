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

package coordinator_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelai/agentflow/pkg/coordinator"
)

func TestParseDirective_Use(t *testing.T) {
	d := coordinator.ParseDirective("USE researcher: find the population of Mars colonies")
	use, ok := d.(coordinator.Use)
	require.True(t, ok)
	assert.Equal(t, "researcher", use.Name)
	assert.Equal(t, "find the population of Mars colonies", use.Task)
}

func TestParseDirective_Done(t *testing.T) {
	d := coordinator.ParseDirective("DONE: the answer is 42")
	done, ok := d.(coordinator.Done)
	require.True(t, ok)
	assert.Equal(t, "the answer is 42", done.Text)
}

func TestParseDirective_UnparsedOnParaphrase(t *testing.T) {
	d := coordinator.ParseDirective("I think we should ask the researcher about this.")
	_, ok := d.(coordinator.Unparsed)
	assert.True(t, ok)
}

func TestParseDirective_ScansMultipleLinesForFirstMatch(t *testing.T) {
	d := coordinator.ParseDirective("Let me think...\nUSE writer: draft the summary\nmore text")
	use, ok := d.(coordinator.Use)
	require.True(t, ok)
	assert.Equal(t, "writer", use.Name)
	assert.Equal(t, "draft the summary", use.Task)
}

func TestParseDirective_UseRequiresNonEmptyName(t *testing.T) {
	d := coordinator.ParseDirective("USE : do something")
	_, ok := d.(coordinator.Unparsed)
	assert.True(t, ok)
}
