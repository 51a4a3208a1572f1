package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/version"
)

// MCPServer is one MCP tool server configured in the runtime.
type MCPServer struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Args        []string          `json:"args"`
	Env         map[string]string `json:"env"`
	Enabled     bool              `json:"enabled"`
	Description string            `json:"description,omitempty"`
	IsCustom    bool              `json:"isCustom"`
}

// Validate checks an MCP server definition before it is sent to the runtime.
func (m MCPServer) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("%w: mcp id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(m.Command) == "" {
		return fmt.Errorf("%w: mcp command is required", domain.ErrValidation)
	}
	return nil
}

// MCPAdmin manages the runtime's MCP server list. The runtime owns the
// configuration; callers only forward changes.
type MCPAdmin interface {
	ListMCPs(ctx context.Context) ([]MCPServer, error)
	ToggleMCP(ctx context.Context, id string, enabled bool) error
	AddMCP(ctx context.Context, server MCPServer) error
	DeleteMCP(ctx context.Context, id string) error
}

// mcpEnvelope is the runtime's reply shape for MCP calls.
type mcpEnvelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	MCPs    []MCPServer `json:"mcps"`
}

// ListMCPs fetches GET /agent/mcp/list.
func (c *HTTPClient) ListMCPs(ctx context.Context) ([]MCPServer, error) {
	env, err := c.mcpCall(ctx, http.MethodGet, "/agent/mcp/list", nil)
	if err != nil {
		return nil, err
	}
	if env.MCPs == nil {
		return []MCPServer{}, nil
	}
	return env.MCPs, nil
}

// ToggleMCP posts to /agent/mcp/toggle.
func (c *HTTPClient) ToggleMCP(ctx context.Context, id string, enabled bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: mcp id is required", domain.ErrValidation)
	}
	_, err := c.mcpCall(ctx, http.MethodPost, "/agent/mcp/toggle", map[string]any{
		"mcp_id":  id,
		"enabled": enabled,
	})
	return err
}

// AddMCP posts a custom server definition to /agent/mcp/add.
func (c *HTTPClient) AddMCP(ctx context.Context, server MCPServer) error {
	if err := server.Validate(); err != nil {
		return err
	}
	if server.Args == nil {
		server.Args = []string{}
	}
	if server.Env == nil {
		server.Env = map[string]string{}
	}
	_, err := c.mcpCall(ctx, http.MethodPost, "/agent/mcp/add", map[string]any{
		"id":          server.ID,
		"name":        server.Name,
		"command":     server.Command,
		"args":        server.Args,
		"env":         server.Env,
		"description": server.Description,
	})
	return err
}

// DeleteMCP removes a custom server via DELETE /agent/mcp/{id}.
func (c *HTTPClient) DeleteMCP(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: mcp id is required", domain.ErrValidation)
	}
	_, err := c.mcpCall(ctx, http.MethodDelete, "/agent/mcp/"+url.PathEscape(id), nil)
	return err
}

// mcpCall performs one bounded MCP request and maps the runtime's error
// envelope. A "not found" message becomes domain.ErrNotFound.
func (c *HTTPClient) mcpCall(ctx context.Context, method, path string, body any) (*mcpEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.adminTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, upstreamErr("mcp request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDispatchBody))
	if err != nil {
		return nil, upstreamErr("reading mcp response", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: runtime has no such mcp server", domain.ErrNotFound)
	}
	if resp.StatusCode/100 != 2 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var env mcpEnvelope
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, upstreamErr("decoding mcp response", err)
		}
	}
	if strings.EqualFold(env.Status, "error") {
		if strings.Contains(strings.ToLower(env.Message), "not found") {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, env.Message)
		}
		return nil, upstreamErr(method+" "+path, errors.New(env.Message))
	}

	c.log.Debug().Str("method", method).Str("path", path).Msg("runtime mcp call complete")
	return &env, nil
}
