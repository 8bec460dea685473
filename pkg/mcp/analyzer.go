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

import "strings"

// ResourceKeyPredicate reports whether an argument key names a resource
// identifier for the purposes of grouping same-tool calls. The zero value
// of Analyzer uses DefaultResourceKeyPredicate.
type ResourceKeyPredicate func(argKey string) bool

// DefaultResourceKeyPredicate matches "id", "Id", or any key ending in
// "Id", "ID", or "_id" — the heuristic spec.md's Open Question flags as a
// pragmatic shortcut. Callers with non-conforming tool schemas should
// supply their own predicate via Analyzer.Predicate.
func DefaultResourceKeyPredicate(argKey string) bool {
	if argKey == "id" || argKey == "Id" || argKey == "ID" {
		return true
	}
	return strings.HasSuffix(argKey, "Id") || strings.HasSuffix(argKey, "ID") || strings.HasSuffix(argKey, "_id")
}

// Analyzer groups a batch of proposed tool calls into an ordered schedule
// of concurrently-executable groups.
type Analyzer struct {
	// Predicate overrides DefaultResourceKeyPredicate when non-nil.
	Predicate ResourceKeyPredicate
}

func (a Analyzer) predicate() ResourceKeyPredicate {
	if a.Predicate != nil {
		return a.Predicate
	}
	return DefaultResourceKeyPredicate
}

// Group schedules calls per spec.md §4.E:
//  1. Calls to distinct tools are never grouped together.
//  2. Among same-tool calls, if a resource-identifier argument key exists
//     and every call supplies a distinct value for it, group them
//     together; otherwise each call is its own (serial) group.
//
// Relative order of groups, and of calls within a group, mirrors the order
// calls appear in the input batch.
func (a Analyzer) Group(calls []ProposedCall) [][]ProposedCall {
	var groups [][]ProposedCall

	i := 0
	for i < len(calls) {
		j := i
		for j < len(calls) && calls[j].Name == calls[i].Name {
			j++
		}
		groups = append(groups, a.groupSameTool(calls[i:j])...)
		i = j
	}

	return groups
}

func (a Analyzer) groupSameTool(calls []ProposedCall) [][]ProposedCall {
	if len(calls) <= 1 {
		return [][]ProposedCall{calls}
	}

	key := a.sharedResourceKey(calls)
	if key == "" {
		serial := make([][]ProposedCall, 0, len(calls))
		for _, c := range calls {
			serial = append(serial, []ProposedCall{c})
		}
		return serial
	}

	return [][]ProposedCall{calls}
}

// sharedResourceKey returns the argument key every call supplies, whose
// name matches the predicate, with distinct values across all calls — or
// "" if no such key exists.
func (a Analyzer) sharedResourceKey(calls []ProposedCall) string {
	pred := a.predicate()

	candidateKeys := make(map[string]bool)
	for k := range calls[0].Arguments {
		if pred(k) {
			candidateKeys[k] = true
		}
	}

	for key := range candidateKeys {
		seen := make(map[any]bool, len(calls))
		ok := true
		for _, c := range calls {
			v, present := c.Arguments[key]
			if !present || seen[v] {
				ok = false
				break
			}
			seen[v] = true
		}
		if ok {
			return key
		}
	}
	return ""
}
