package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/plugin"
	"github.com/soyeahso/parley/internal/relay"
	"github.com/soyeahso/parley/internal/runtime"
	"github.com/soyeahso/parley/internal/store"
	"github.com/soyeahso/parley/internal/tasks"
	"github.com/soyeahso/parley/internal/telemetry"
)

const testToken = "test-token-123"

type harness struct {
	srv      *Server
	ts       *httptest.Server
	mem      *store.Memory
	upstream *runtime.MockClient
	plugins  *plugin.Registry
}

// newHarness wires a gateway over the in-memory store and a mock runtime.
// The gateway requires testToken unless mutate says otherwise.
func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.Gateway.Auth = config.GatewayAuth{Mode: AuthModeToken, Token: testToken}
	if mutate != nil {
		mutate(&cfg)
	}

	log := logging.New(nil, "silent")
	mem := store.NewMemory()
	upstream := &runtime.MockClient{}
	bus := hooks.NewManager(log)
	t.Cleanup(bus.Wait)

	rl := relay.New(relay.Config{
		DefaultModel:  cfg.Relay.DefaultModel,
		TurnTimeout:   2 * time.Second,
		MaxConcurrent: 4,
	}, mem, upstream, relay.NewFallbackGenerator(config.DefaultFallbackNotice, -1), log, relay.WithNotifier(bus))

	rec := telemetry.NewRecorder(telemetry.RecorderConfig{}, mem, log)
	t.Cleanup(func() { _ = rec.Close(context.Background()) })

	gate := tasks.NewGate(mem, domain.PermissionAsk, log)
	exec := tasks.NewExecutor(tasks.Config{}, gate, mem, upstream, rec, log, tasks.WithNotifier(bus))

	plugins := plugin.NewRegistry(bus, mem, log)
	require.NoError(t, plugins.Register(plugin.NewStats()))
	require.NoError(t, plugins.InitAll(context.Background()))
	t.Cleanup(plugins.CloseAll)

	srv := New(cfg, Services{
		Sessions: mem,
		Relay:    rl,
		Tasks:    exec,
		Metrics:  mem,
		Hooks:    bus,
		MCP:      upstream,
		Plugins:  plugins,
	}, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &harness{srv: srv, ts: ts, mem: mem, upstream: upstream, plugins: plugins}
}

func (h *harness) session(t *testing.T) string {
	t.Helper()
	sess, err := h.mem.CreateSession(context.Background(), domain.Session{Title: "New Chat", ModelID: "m", OwnerID: "local"})
	require.NoError(t, err)
	return sess.ID
}

// do sends an authenticated request with an optional JSON body.
func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rdr)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type testEnvelope struct {
	Status    string          `json:"status"`
	Data      json.RawMessage `json:"data"`
	Message   string          `json:"message"`
	ErrorCode string          `json:"errorCode"`
}

func decodeEnvelope(t *testing.T, resp *http.Response, data any) testEnvelope {
	t.Helper()
	var env testEnvelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

type sseEvent struct {
	Name string
	Data string
}

func readSSE(t *testing.T, r io.Reader) []sseEvent {
	t.Helper()
	raw, err := io.ReadAll(r)
	require.NoError(t, err)

	var events []sseEvent
	for _, block := range strings.Split(string(raw), "\n\n") {
		if strings.TrimSpace(block) == "" {
			continue
		}
		var ev sseEvent
		var data []string
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.Name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = append(data, strings.TrimPrefix(line, "data: "))
			}
		}
		ev.Data = strings.Join(data, "\n")
		events = append(events, ev)
	}
	return events
}

// dialWS connects and completes the handshake with token.
func (h *harness) dialWS(t *testing.T, token string) (*websocket.Conn, Frame) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var challenge Frame
	require.NoError(t, conn.ReadJSON(&challenge))
	require.Equal(t, EventChallenge, challenge.Event)

	connect, err := NewRequest("c1", "connect", ConnectParams{
		MinProtocol: 1,
		MaxProtocol: 1,
		Client:      ClientInfo{ID: "test", Version: "1.0.0"},
		Auth:        &ConnectAuth{Token: token},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(connect))

	var hello Frame
	require.NoError(t, conn.ReadJSON(&hello))
	return conn, hello
}
