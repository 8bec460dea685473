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

// ConcurrencyError is returned when a second run/stream is attempted on a
// pipeline instance that is already executing.
type ConcurrencyError struct {
	Name string
}

func (e *ConcurrencyError) Error() string {
	name := e.Name
	if name == "" {
		name = "(unnamed)"
	}
	return "pipeline " + name + " is already executing"
}
