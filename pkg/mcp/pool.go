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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpsdk "github.com/mark3labs/mcp-go/mcp"

	"github.com/kestrelai/agentflow/pkg/logging"
)

const protocolVersion = "2024-11-05"

var clientInfo = mcpsdk.Implementation{Name: "agentflow", Version: "0.1.0"}

// Session is one live, initialized MCP connection, pooled by endpoint key.
type Session struct {
	key    string
	handle Handle

	mu          sync.Mutex
	stdioClient *mcpclient.Client
	httpClient  *http.Client
	sessionID   string
	bearer      string

	toolsMu     sync.Mutex
	toolsCache  []ToolDefinition
	toolsCached bool
}

// Pool is the process-wide MCP Transport Pool: a map of endpointKey to
// Session, with single-flighted session creation and OAuth refresh.
type Pool struct {
	mu       sync.Mutex
	sessions map[string]*Session

	acquireGroup singleflight.Group
	refreshGroup singleflight.Group
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{sessions: make(map[string]*Session)}
}

// Acquire returns the pooled, initialized session for h, opening one if
// none exists. Concurrent acquirers of the same endpoint key are
// deduplicated via single-flight so exactly one session is opened.
func (p *Pool) Acquire(ctx context.Context, h Handle) (*Session, error) {
	key := h.Key()

	p.mu.Lock()
	if s, ok := p.sessions[key]; ok {
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	v, err, _ := p.acquireGroup.Do(key, func() (any, error) {
		p.mu.Lock()
		if s, ok := p.sessions[key]; ok {
			p.mu.Unlock()
			return s, nil
		}
		p.mu.Unlock()

		sess, err := p.open(ctx, h)
		if err != nil {
			logging.GetLogger().Warn("mcp: session open failed", "endpoint", h.EndpointID(), "transport", h.Transport.String(), "error", err)
			return nil, err
		}
		logging.GetLogger().Debug("mcp: session opened", "endpoint", h.EndpointID(), "transport", h.Transport.String())
		p.mu.Lock()
		p.sessions[key] = sess
		p.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

func (p *Pool) open(ctx context.Context, h Handle) (*Session, error) {
	if h.Transport == TransportStdio {
		return p.openStdio(ctx, h)
	}
	return p.openHTTP(ctx, h)
}

func (p *Pool) openStdio(ctx context.Context, h Handle) (*Session, error) {
	env := make([]string, 0, len(h.Env))
	for k, v := range h.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	c, err := mcpclient.NewStdioMCPClient(h.Command, env, h.Args...)
	if err != nil {
		return nil, &ConnectionError{Provider: h.EndpointID(), Retryable: false, Err: fmt.Errorf("create stdio client: %w", err)}
	}
	if err := c.Start(ctx); err != nil {
		return nil, &ConnectionError{Provider: h.EndpointID(), Retryable: true, Err: fmt.Errorf("start stdio client: %w", err)}
	}

	initReq := mcpsdk.InitializeRequest{}
	initReq.Params.ClientInfo = clientInfo
	initReq.Params.ProtocolVersion = protocolVersion
	if _, err := c.Initialize(ctx, initReq); err != nil {
		c.Close()
		return nil, &ConnectionError{Provider: h.EndpointID(), Retryable: true, Err: fmt.Errorf("initialize: %w", err)}
	}

	return &Session{key: h.Key(), handle: h, stdioClient: c}, nil
}

func (p *Pool) openHTTP(ctx context.Context, h Handle) (*Session, error) {
	sess := &Session{
		key:        h.Key(),
		handle:     h,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		bearer:     h.Auth.Bearer,
	}
	if h.Auth.OAuth != nil {
		sess.bearer = h.Auth.OAuth.AccessToken
	}

	resp, status, err := p.doJSONRPC(ctx, sess, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": clientInfo.Name, "version": clientInfo.Version},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return nil, &ConnectionError{Provider: h.EndpointID(), Retryable: true, Err: err}
	}
	if status == http.StatusUnauthorized {
		if err := p.refreshAndRetryInit(ctx, sess); err != nil {
			return nil, &ConnectionError{Provider: h.EndpointID(), Retryable: false, Err: err}
		}
	} else if resp.Error != nil {
		return nil, &ConnectionError{Provider: h.EndpointID(), Retryable: status >= 500, Err: fmt.Errorf("%s", resp.Error.Message)}
	}

	return sess, nil
}

func (p *Pool) refreshAndRetryInit(ctx context.Context, sess *Session) error {
	if err := p.refresh(ctx, sess); err != nil {
		return err
	}
	resp, status, err := p.doJSONRPC(ctx, sess, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"clientInfo":      map[string]any{"name": clientInfo.Name, "version": clientInfo.Version},
		"capabilities":    map[string]any{},
	})
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("initialize still unauthorized after token refresh")
	}
	if resp.Error != nil {
		return fmt.Errorf("%s", resp.Error.Message)
	}
	return nil
}

// Call issues method/params over sess. On HTTP 401, if the handle carries
// OAuth refresh credentials, the pool refreshes the bearer exactly once
// (single-flighted per endpoint+client id) and retries the request exactly
// once.
func (p *Pool) Call(ctx context.Context, sess *Session, method string, params any) (any, error) {
	if sess.handle.Transport == TransportStdio {
		return p.callStdio(ctx, sess, method, params)
	}
	return p.callHTTP(ctx, sess, method, params)
}

func (p *Pool) callStdio(ctx context.Context, sess *Session, method string, params any) (any, error) {
	switch method {
	case "tools/list":
		resp, err := sess.stdioClient.ListTools(ctx, mcpsdk.ListToolsRequest{})
		if err != nil {
			return nil, &ConnectionError{Provider: sess.handle.EndpointID(), Retryable: true, Err: err}
		}
		return resp, nil
	case "tools/call":
		callParams, _ := params.(map[string]any)
		req := mcpsdk.CallToolRequest{}
		req.Params.Name, _ = callParams["name"].(string)
		if args, ok := callParams["arguments"].(map[string]any); ok {
			req.Params.Arguments = args
		}
		resp, err := sess.stdioClient.CallTool(ctx, req)
		if err != nil {
			return nil, &ConnectionError{Provider: sess.handle.EndpointID(), Retryable: true, Err: err}
		}
		return resp, nil
	default:
		return nil, fmt.Errorf("mcp: unsupported stdio method %q", method)
	}
}

func (p *Pool) callHTTP(ctx context.Context, sess *Session, method string, params any) (any, error) {
	resp, status, err := p.doJSONRPC(ctx, sess, method, params)
	if err != nil {
		return nil, &ConnectionError{Provider: sess.handle.EndpointID(), Retryable: true, Err: err}
	}

	if status == http.StatusUnauthorized {
		if refreshErr := p.refresh(ctx, sess); refreshErr != nil {
			return nil, &ConnectionError{Provider: sess.handle.EndpointID(), Retryable: false, Err: refreshErr}
		}
		resp, status, err = p.doJSONRPC(ctx, sess, method, params)
		if err != nil {
			return nil, &ConnectionError{Provider: sess.handle.EndpointID(), Retryable: true, Err: err}
		}
		if status == http.StatusUnauthorized {
			return nil, &ConnectionError{Provider: sess.handle.EndpointID(), Retryable: false, Err: fmt.Errorf("%s still unauthorized after token refresh", method)}
		}
	}

	if resp.Error != nil {
		return nil, &ConnectionError{Provider: sess.handle.EndpointID(), Retryable: status >= 500, Err: fmt.Errorf("%s", resp.Error.Message)}
	}
	return resp.Result, nil
}

// refresh exchanges sess's refresh token for a new access token, replacing
// the cached bearer. Concurrent refreshes for the same (endpoint,
// client_id) are deduplicated so only one refresh is in flight.
func (p *Pool) refresh(ctx context.Context, sess *Session) error {
	oauthCfg := sess.handle.Auth.OAuth
	if oauthCfg == nil {
		return fmt.Errorf("mcp: 401 received and handle has no refresh credentials")
	}

	refreshKey := oauthCfg.TokenURL + "|" + oauthCfg.ClientID
	v, err, _ := p.refreshGroup.Do(refreshKey, func() (any, error) {
		conf := &oauth2.Config{
			ClientID:     oauthCfg.ClientID,
			ClientSecret: oauthCfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: oauthCfg.TokenURL},
		}
		tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: oauthCfg.RefreshToken}).Token()
		if err != nil {
			logging.GetLogger().Warn("mcp: oauth refresh failed", "endpoint", sess.handle.EndpointID(), "client_id", oauthCfg.ClientID, "error", err)
			return nil, fmt.Errorf("oauth refresh: %w", err)
		}

		logging.GetLogger().Debug("mcp: oauth token refreshed", "endpoint", sess.handle.EndpointID(), "client_id", oauthCfg.ClientID)
		return tok, nil
	})
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.bearer = v.(*oauth2.Token).AccessToken
	sess.mu.Unlock()
	return nil
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *jsonRPCError `json:"error,omitempty"`
}

// doJSONRPC sends one JSON-RPC request, applying the header construction
// policy: Content-Type always, the session id when present, user headers
// overlaid, then the auth header last so it cannot be shadowed.
func (p *Pool) doJSONRPC(ctx context.Context, sess *Session, method string, params any) (*jsonRPCResponse, int, error) {
	body, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.handle.URL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	sess.mu.Lock()
	sessionID := sess.sessionID
	bearer := sess.bearer
	sess.mu.Unlock()
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	for k, v := range sess.handle.Headers {
		req.Header.Set(k, v)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	httpResp, err := sess.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("do request: %w", err)
	}
	defer httpResp.Body.Close()

	if sid := httpResp.Header.Get("Mcp-Session-Id"); sid != "" {
		sess.mu.Lock()
		sess.sessionID = sid
		sess.mu.Unlock()
	}

	if httpResp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, httpResp.Body)
		return &jsonRPCResponse{}, httpResp.StatusCode, nil
	}

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, httpResp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return &resp, httpResp.StatusCode, nil
}

// Close tears down and forgets the session for key, if any.
func (p *Pool) Close(key string) error {
	p.mu.Lock()
	sess, ok := p.sessions[key]
	if ok {
		delete(p.sessions, key)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return closeSession(sess)
}

// CloseAll tears down every pooled session.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	sessions := p.sessions
	p.sessions = make(map[string]*Session)
	p.mu.Unlock()

	var firstErr error
	for _, sess := range sessions {
		if err := closeSession(sess); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func closeSession(sess *Session) error {
	invalidate(sess)
	if sess.stdioClient != nil {
		return sess.stdioClient.Close()
	}
	return nil
}
