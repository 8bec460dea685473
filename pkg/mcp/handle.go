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

// Package mcp implements the Model Context Protocol client side: a
// process-wide session pool, tool discovery and naming, a parallelization
// analyzer for batches of proposed tool calls, and the executor that
// validates and issues tools/call requests.
package mcp

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Transport selects how a Handle's session is established.
type Transport int

const (
	// TransportHTTP speaks JSON-RPC 2.0 over HTTP-streamable.
	TransportHTTP Transport = iota
	// TransportStdio speaks MCP over a subprocess's stdio.
	TransportStdio
)

func (t Transport) String() string {
	if t == TransportStdio {
		return "stdio"
	}
	return "http"
}

// BasicAuth is username/password HTTP basic authentication.
type BasicAuth struct {
	Username string
	Password string
}

// OAuthConfig describes refresh-on-401 credentials for an HTTP handle.
type OAuthConfig struct {
	AccessToken  string
	RefreshToken string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Auth is the authentication a Handle presents. At most one of Bearer,
// Basic, or OAuth should be set.
type Auth struct {
	Bearer string
	Basic  *BasicAuth
	OAuth  *OAuthConfig
}

func (a Auth) identity() string {
	switch {
	case a.OAuth != nil:
		return "oauth:" + a.OAuth.ClientID + "@" + a.OAuth.TokenURL
	case a.Basic != nil:
		return "basic:" + a.Basic.Username
	case a.Bearer != "":
		return fmt.Sprintf("bearer:%x", sha256.Sum256([]byte(a.Bearer)))
	default:
		return "none"
	}
}

// Handle is a value-identity descriptor for an MCP endpoint. Two handles
// with the same endpoint, transport, auth identity (the scheme plus the
// bearer token, basic-auth username, or OAuth client id and token URL), and
// headers are equivalent and share one pooled session. A Handle never owns
// a live connection.
type Handle struct {
	// URL is the MCP server endpoint for TransportHTTP.
	URL string
	// Command/Args/Env configure a TransportStdio subprocess.
	Command string
	Args    []string
	Env     map[string]string

	Transport Transport
	Auth      Auth
	Headers   map[string]string
}

// Key returns the endpoint key this handle's session is pooled under: the
// tuple (normalized URL or command, transport kind, auth identity,
// custom-headers hash).
func (h Handle) Key() string {
	endpoint := h.normalizedEndpoint()
	return fmt.Sprintf("%s|%s|%s|%s", endpoint, h.Transport, h.Auth.identity(), headersHash(h.Headers))
}

func (h Handle) normalizedEndpoint() string {
	if h.Transport == TransportStdio {
		return h.Command + " " + strings.Join(h.Args, " ")
	}
	u, err := url.Parse(h.URL)
	if err != nil {
		return h.URL
	}
	u.Fragment = ""
	return u.String()
}

func headersHash(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(headers[k])
		b.WriteByte(';')
	}
	return b.String()
}

var nonIdentifierChars = regexp.MustCompile(`[^A-Za-z0-9_]`)

// EndpointID derives the stable identifier used as the dotted tool-name
// prefix: the URL's host+port+path (or, for stdio, the command) with every
// non-identifier character replaced by "_".
func (h Handle) EndpointID() string {
	var raw string
	if h.Transport == TransportStdio {
		raw = h.Command
	} else {
		u, err := url.Parse(h.URL)
		if err != nil {
			raw = h.URL
		} else {
			raw = u.Host + u.Path
		}
	}
	return nonIdentifierChars.ReplaceAllString(raw, "_")
}
