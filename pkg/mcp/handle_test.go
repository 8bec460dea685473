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

package mcp_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kestrelai/agentflow/pkg/mcp"
)

func TestHandle_KeyIdentifiesEquivalentHandles(t *testing.T) {
	a := mcp.Handle{URL: "https://tools.example.com/mcp", Transport: mcp.TransportHTTP, Auth: mcp.Auth{Bearer: "t"}}
	b := mcp.Handle{URL: "https://tools.example.com/mcp", Transport: mcp.TransportHTTP, Auth: mcp.Auth{Bearer: "t"}}
	c := mcp.Handle{URL: "https://tools.example.com/mcp", Transport: mcp.TransportHTTP, Auth: mcp.Auth{Bearer: "other"}}

	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestHandle_EndpointIDSanitizesURL(t *testing.T) {
	h := mcp.Handle{URL: "https://tools.example.com:8443/v1/mcp", Transport: mcp.TransportHTTP}
	id := h.EndpointID()
	assert.NotContains(t, id, ":")
	assert.NotContains(t, id, "/")
	assert.Contains(t, id, "tools_example_com")
}

func TestHandle_EndpointIDStableAcrossEquivalentHandles(t *testing.T) {
	a := mcp.Handle{URL: "https://x.example.com/a", Transport: mcp.TransportHTTP}
	b := mcp.Handle{URL: "https://x.example.com/a", Transport: mcp.TransportHTTP}
	assert.Equal(t, a.EndpointID(), b.EndpointID())
}
