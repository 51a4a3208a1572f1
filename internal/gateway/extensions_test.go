package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/runtime"
)

func TestMCPEndpoints(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/api/v1/agent/mcp/add", map[string]any{
		"id": "fetch", "name": "Fetch", "command": "uvx", "args": []string{"mcp-server-fetch"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/agent/mcp/toggle", map[string]any{"mcp_id": "fetch", "enabled": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodGet, "/api/v1/agent/mcp/list", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		MCPs []runtime.MCPServer `json:"mcps"`
	}
	decodeEnvelope(t, resp, &list)
	require.Len(t, list.MCPs, 1)
	assert.Equal(t, "fetch", list.MCPs[0].ID)
	assert.False(t, list.MCPs[0].Enabled)
	assert.Equal(t, []string{"mcp-server-fetch"}, list.MCPs[0].Args)

	resp = h.do(t, http.MethodDelete, "/api/v1/agent/mcp/fetch", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = h.do(t, http.MethodDelete, "/api/v1/agent/mcp/fetch", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "NOT_FOUND", decodeEnvelope(t, resp, nil).ErrorCode)
}

func TestMCPEndpointsValidation(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/api/v1/agent/mcp/toggle", map[string]any{"mcpId": "fetch"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/agent/mcp/add", map[string]any{"id": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION_ERROR", decodeEnvelope(t, resp, nil).ErrorCode)
}

// TestMCPForwardedToRuntime runs the MCP routes against an HTTP runtime.
func TestMCPForwardedToRuntime(t *testing.T) {
	var toggled map[string]any
	rt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/agent/mcp/list":
			_, _ = io.WriteString(w, `{"mcps":[{"id":"git","name":"Git","command":"uvx","args":["mcp-server-git"],"env":{},"enabled":true,"isCustom":false}]}`)
		case "/agent/mcp/toggle":
			_ = json.NewDecoder(r.Body).Decode(&toggled)
			if toggled["mcp_id"] != "git" {
				_, _ = io.WriteString(w, `{"status":"error","message":"MCP not found"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"success"}`)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer rt.Close()

	log := logging.New(nil, "silent")
	hc := runtime.NewPooledHTTPClient(time.Second, time.Second, 2)
	admin := runtime.NewHTTPClient(runtime.Options{BaseURL: rt.URL, AdminTimeout: time.Second}, hc, log)

	cfg := config.Defaults()
	cfg.Gateway.Auth = config.GatewayAuth{Mode: AuthModeNone}
	srv := New(cfg, Services{MCP: admin, Hooks: hooks.NewManager(log)}, log)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/v1/agent/mcp/list")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		MCPs []runtime.MCPServer `json:"mcps"`
	}
	decodeEnvelope(t, resp, &list)
	require.Len(t, list.MCPs, 1)
	assert.Equal(t, "git", list.MCPs[0].ID)

	post := func(body string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/agent/mcp/toggle", strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp = post(`{"mcpId":"git","enabled":false}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, toggled["enabled"])

	resp = post(`{"mcpId":"ghost","enabled":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/agent/mcp/git", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, "UPSTREAM_ERROR", decodeEnvelope(t, resp, nil).ErrorCode)
}

func TestExtensionsUnavailable(t *testing.T) {
	log := logging.New(nil, "silent")
	cfg := config.Defaults()
	cfg.Gateway.Auth = config.GatewayAuth{Mode: AuthModeNone}
	srv := New(cfg, Services{}, log)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agent/mcp/list", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/plugins/list", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/plugins/execute", strings.NewReader(`{"pluginId":"stats","action":"summary"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPluginEndpoints(t *testing.T) {
	var calls atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = io.WriteString(w, "echo:"+body["action"].(string))
	}))
	defer hook.Close()

	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/api/v1/plugins/register", map[string]any{
		"id": "echo", "name": "Echo", "version": "0.1", "endpoint": hook.URL,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var registered domain.Plugin
	decodeEnvelope(t, resp, &registered)
	assert.True(t, registered.Enabled)
	assert.False(t, registered.RegisteredAt.IsZero())

	resp = h.do(t, http.MethodGet, "/api/v1/plugins/list", nil)
	var plugins []domain.Plugin
	decodeEnvelope(t, resp, &plugins)
	require.Len(t, plugins, 2)
	assert.Equal(t, "stats", plugins[0].ID)
	assert.True(t, plugins[0].Builtin)
	assert.Equal(t, "echo", plugins[1].ID)

	resp = h.do(t, http.MethodPost, "/api/v1/plugins/execute", map[string]any{"pluginId": "echo", "action": "ping"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Result string `json:"result"`
	}
	decodeEnvelope(t, resp, &out)
	assert.Equal(t, "echo:ping", out.Result)
	assert.Equal(t, int32(1), calls.Load())

	resp = h.do(t, http.MethodPost, "/api/v1/plugins/execute", map[string]any{"pluginId": "nope", "action": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/plugins/register", map[string]any{"id": "stats", "name": "S", "endpoint": hook.URL})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = h.do(t, http.MethodPost, "/api/v1/plugins/register", map[string]any{"id": "bad", "name": "B"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsPluginSeesTasks(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodPost, "/api/v1/agent/execute", domain.TaskDescriptor{Task: "list files", Tools: []string{"shell"}})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		out, err := h.plugins.Execute(context.Background(), "stats", "summary", nil)
		return err == nil && out == `{"tasks":{"SUCCESS":1},"turns":{}}`
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRPCMCPAndPlugins(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dialWS(t, testToken)

	add, _ := rpc(t, conn, "1", "agent.mcp.add", map[string]any{"id": "notes", "name": "Notes", "command": "notes-mcp"})
	require.True(t, *add.OK)

	toggle, _ := rpc(t, conn, "2", "agent.mcp.toggle", map[string]any{"mcpId": "notes", "enabled": false})
	require.True(t, *toggle.OK)

	list, _ := rpc(t, conn, "3", "agent.mcp.list", nil)
	var mcps struct {
		MCPs []runtime.MCPServer `json:"mcps"`
	}
	require.NoError(t, json.Unmarshal(list.Payload, &mcps))
	require.Len(t, mcps.MCPs, 1)
	assert.False(t, mcps.MCPs[0].Enabled)

	del, _ := rpc(t, conn, "4", "agent.mcp.delete", map[string]any{"mcpId": "missing"})
	require.NotNil(t, del.Error)
	assert.Equal(t, "NOT_FOUND", del.Error.Code)

	plugins, _ := rpc(t, conn, "5", "plugin.list", nil)
	var pl struct {
		Plugins []domain.Plugin `json:"plugins"`
	}
	require.NoError(t, json.Unmarshal(plugins.Payload, &pl))
	require.Len(t, pl.Plugins, 1)
	assert.Equal(t, "stats", pl.Plugins[0].ID)

	exec, _ := rpc(t, conn, "6", "plugin.execute", map[string]any{"pluginId": "stats", "action": "reset"})
	require.True(t, *exec.OK)
	assert.JSONEq(t, `{"pluginId":"stats","action":"reset","result":"ok"}`, string(exec.Payload))

	reg, _ := rpc(t, conn, "7", "plugin.register", map[string]any{"id": "x", "name": "X", "endpoint": "not a url"})
	require.NotNil(t, reg.Error)
	assert.Equal(t, "VALIDATION_ERROR", reg.Error.Code)
}
