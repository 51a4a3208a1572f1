package gateway

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/relay"
)

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	resp, err := http.Get(h.ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	// Public endpoint only returns status.
	assert.Empty(t, health.Version)
}

func TestNotFoundEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	resp := h.do(t, http.MethodGet, "/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	env := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "NOT_FOUND", env.ErrorCode)
}

func TestWebSocketHandshakeSuccess(t *testing.T) {
	h := newHarness(t, nil)
	_, hello := h.dialWS(t, testToken)

	assert.Equal(t, FrameTypeResponse, hello.Type)
	assert.Equal(t, "c1", hello.ID)
	require.NotNil(t, hello.OK)
	assert.True(t, *hello.OK)

	var payload HelloOK
	require.NoError(t, json.Unmarshal(hello.Payload, &payload))
	assert.Equal(t, ProtocolVersion, payload.Protocol)
	assert.NotEmpty(t, payload.Server.ConnID)
	assert.Contains(t, payload.Features.Methods, "chat.send")
	assert.Contains(t, payload.Features.Methods, "agent.execute")
	assert.Contains(t, payload.Features.Events, EventChatDelta)
	assert.Equal(t, 60000, payload.Policy.TurnTimeoutMs)

	assert.Eventually(t, func() bool { return h.srv.clients.Count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebSocketHandshakeBadToken(t *testing.T) {
	h := newHarness(t, nil)
	_, hello := h.dialWS(t, "wrong")

	require.NotNil(t, hello.OK)
	assert.False(t, *hello.OK)
	require.NotNil(t, hello.Error)
	assert.Equal(t, "UNAUTHORIZED", hello.Error.Code)
	assert.Equal(t, "token_mismatch", hello.Error.Message)
	assert.Equal(t, 0, h.srv.clients.Count())
}

func TestWebSocketHandshakeWrongFirstFrame(t *testing.T) {
	h := newHarness(t, nil)
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))

	req, err := NewRequest("x", "health", nil)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var res Frame
	require.NoError(t, conn.ReadJSON(&res))
	require.NotNil(t, res.Error)
	assert.Equal(t, "PROTOCOL_ERROR", res.Error.Code)
}

func TestWebSocketNoAuthMode(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.Gateway.Auth = config.GatewayAuth{Mode: AuthModeNone} })
	_, hello := h.dialWS(t, "")
	require.NotNil(t, hello.OK)
	assert.True(t, *hello.OK)
}

// rpc sends one request and collects chat deltas until its response arrives.
func rpc(t *testing.T, conn *websocket.Conn, id, method string, params any) (Frame, []Frame) {
	t.Helper()
	req, err := NewRequest(id, method, params)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(req))

	var events []Frame
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Type == FrameTypeEvent {
			if f.Event == EventChatDelta {
				events = append(events, f)
			}
			continue
		}
		if f.ID == id {
			return f, events
		}
	}
}

func TestRPCHealth(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dialWS(t, testToken)

	res, _ := rpc(t, conn, "1", "health", nil)
	require.True(t, *res.OK)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(res.Payload, &health))
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Version)
	assert.Equal(t, 1, health.Clients)
}

func TestRPCUnknownMethod(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dialWS(t, testToken)

	res, _ := rpc(t, conn, "1", "nope", nil)
	require.NotNil(t, res.Error)
	assert.Equal(t, "METHOD_NOT_FOUND", res.Error.Code)
}

func TestRPCChatSendStreamsDeltas(t *testing.T) {
	h := newHarness(t, nil)
	sid := h.session(t)
	conn, _ := h.dialWS(t, testToken)

	res, events := rpc(t, conn, "7", "chat.send", relay.TurnRequest{SessionID: sid, Text: "Hello"})
	require.True(t, *res.OK, "error: %+v", res.Error)

	var content strings.Builder
	var lastSeq int64
	for _, ev := range events {
		assert.Equal(t, EventChatDelta, ev.Event)
		assert.Greater(t, ev.Seq, lastSeq)
		lastSeq = ev.Seq
		var delta struct {
			RequestID string `json:"requestId"`
			SessionID string `json:"sessionId"`
			Content   string `json:"content"`
		}
		require.NoError(t, json.Unmarshal(ev.Payload, &delta))
		assert.Equal(t, "7", delta.RequestID)
		assert.Equal(t, sid, delta.SessionID)
		content.WriteString(delta.Content)
	}
	assert.Equal(t, "mock reply", content.String())

	var out struct {
		MessageID string `json:"messageId"`
		Content   string `json:"content"`
		Degraded  bool   `json:"degraded"`
	}
	require.NoError(t, json.Unmarshal(res.Payload, &out))
	assert.NotEmpty(t, out.MessageID)
	assert.Equal(t, "mock reply", out.Content)
	assert.False(t, out.Degraded)

	hist, _ := rpc(t, conn, "8", "chat.history", map[string]string{"sessionId": sid})
	require.True(t, *hist.OK)
	var msgs struct {
		Messages []json.RawMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(hist.Payload, &msgs))
	assert.Len(t, msgs.Messages, 2)
}

func TestRPCChatSendValidation(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dialWS(t, testToken)

	res, events := rpc(t, conn, "1", "chat.send", relay.TurnRequest{SessionID: "missing", Text: "hi"})
	assert.Empty(t, events)
	require.NotNil(t, res.Error)
	assert.Equal(t, "VALIDATION_ERROR", res.Error.Code)
}

func TestRPCInvalidParams(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dialWS(t, testToken)

	res, _ := rpc(t, conn, "1", "agent.execute", "not an object")
	require.NotNil(t, res.Error)
	assert.Equal(t, "VALIDATION_ERROR", res.Error.Code)
}

func TestRPCSessionsAndPermissions(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dialWS(t, testToken)

	created, _ := rpc(t, conn, "1", "session.create", map[string]string{"title": "  Plans \t"})
	require.True(t, *created.OK)

	list, _ := rpc(t, conn, "2", "session.list", nil)
	var sessions struct {
		Sessions []struct {
			Title   string `json:"title"`
			ModelID string `json:"modelId"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(list.Payload, &sessions))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, "Plans", sessions.Sessions[0].Title)
	assert.Equal(t, "Llama-3-8B-Instruct", sessions.Sessions[0].ModelID)

	set, _ := rpc(t, conn, "3", "permission.set", map[string]string{"toolName": "shell", "status": "blocked"})
	require.True(t, *set.OK)

	get, _ := rpc(t, conn, "4", "permission.get", map[string]string{"toolName": "shell"})
	assert.JSONEq(t, `{"toolName":"shell","status":"BLOCKED"}`, string(get.Payload))

	exec, _ := rpc(t, conn, "5", "agent.execute", map[string]any{"task": "rm -rf", "tools": []string{"shell"}})
	require.True(t, *exec.OK)
	var outcome struct {
		Result  string `json:"result"`
		Summary string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(exec.Payload, &outcome))
	assert.Equal(t, "FAILED", outcome.Result)
	assert.Contains(t, outcome.Summary, "shell")
}

func TestMethodsSorted(t *testing.T) {
	h := newHarness(t, nil)
	methods := h.srv.Methods()
	assert.IsIncreasing(t, methods)
	assert.Contains(t, methods, "permission.list")
}

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GatewayConfig
		want string
	}{
		{"loopback", config.GatewayConfig{Bind: "loopback", Port: 1}, "127.0.0.1:1"},
		{"default", config.GatewayConfig{Port: 2}, "127.0.0.1:2"},
		{"lan", config.GatewayConfig{Bind: "lan", Port: 3}, "0.0.0.0:3"},
		{"custom", config.GatewayConfig{Bind: "custom", CustomBindHost: "10.0.0.5", Port: 4}, "10.0.0.5:4"},
		{"custom without host", config.GatewayConfig{Bind: "custom", Port: 5}, "0.0.0.0:5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveBindAddr(tt.cfg))
		})
	}
}

func TestLifecycleEventsBroadcast(t *testing.T) {
	h := newHarness(t, nil)
	conn, _ := h.dialWS(t, testToken)
	require.Eventually(t, func() bool { return h.srv.clients.Count() == 1 }, time.Second, 10*time.Millisecond)

	resp := h.do(t, http.MethodPut, "/api/v1/agent/permissions/shell", map[string]string{"status": "ALLOWED"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event != "permission.changed" {
			continue
		}
		assert.JSONEq(t, `{"toolName":"shell","status":"ALLOWED"}`, string(f.Payload))
		assert.Positive(t, f.Seq)
		return
	}
}
