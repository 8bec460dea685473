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

// Package coordinator parses the multi-agent coordinator's textual
// delegation protocol. Earlier generations of this idea matched the
// literal tokens USE/DONE: with strings.HasPrefix, which silently hangs on
// any paraphrase; ParseDirective gives that protocol an explicit grammar
// so a malformed reply surfaces as a typed Unparsed value instead.
package coordinator

import "strings"

// Directive is the sealed result of parsing one coordinator reply.
type Directive interface {
	isDirective()
}

// Use requests delegating Task to the sub-agent named Name.
type Use struct {
	Name string
	Task string
}

func (Use) isDirective() {}

// Done carries the coordinator's final answer.
type Done struct {
	Text string
}

func (Done) isDirective() {}

// Unparsed is returned when a reply matches neither USE nor DONE: — a
// coordinator-transcript error, not a silent hang.
type Unparsed struct {
	Raw string
}

func (Unparsed) isDirective() {}

// ParseDirective scans reply line by line for the first line beginning
// "USE <name>: <task>" or "DONE: <final>" (case-sensitive on the keyword,
// matching spec's literal-token protocol). Leading/trailing whitespace on
// the matched line is ignored. If no line matches either form, the whole
// reply is returned as Unparsed.
func ParseDirective(reply string) Directive {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if rest, ok := strings.CutPrefix(line, "DONE:"); ok {
			return Done{Text: strings.TrimSpace(rest)}
		}

		if rest, ok := strings.CutPrefix(line, "USE "); ok {
			name, task, found := strings.Cut(rest, ":")
			if !found {
				continue
			}
			name = strings.TrimSpace(name)
			task = strings.TrimSpace(task)
			if name == "" {
				continue
			}
			return Use{Name: name, Task: task}
		}
	}

	return Unparsed{Raw: reply}
}
