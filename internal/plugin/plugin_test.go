package plugin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/store"
)

type testPlugin struct {
	id         string
	name       string
	version    string
	initErr    error
	closeErr   error
	initCalls  int
	closeCalls int
	lastAction string
}

func (p *testPlugin) ID() string      { return p.id }
func (p *testPlugin) Name() string    { return p.name }
func (p *testPlugin) Version() string { return p.version }
func (p *testPlugin) Init(_ context.Context, _ API) error {
	p.initCalls++
	return p.initErr
}
func (p *testPlugin) Execute(_ context.Context, action string, _ map[string]any) (string, error) {
	p.lastAction = action
	return p.id + ":" + action, nil
}
func (p *testPlugin) Close() error {
	p.closeCalls++
	return p.closeErr
}

func testRegistry(opts ...Option) (*Registry, *hooks.Manager, *store.Memory) {
	log := logging.New(nil, "silent")
	hm := hooks.NewManager(log)
	mem := store.NewMemory()
	return NewRegistry(hm, mem, log, opts...), hm, mem
}

func TestRegistry_Register(t *testing.T) {
	reg, _, _ := testRegistry()
	p := &testPlugin{id: "test", name: "Test Plugin", version: "1.0"}

	err := reg.Register(p)
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Register_Duplicate(t *testing.T) {
	reg, _, _ := testRegistry()
	p := &testPlugin{id: "test", name: "Test", version: "1.0"}

	require.NoError(t, reg.Register(p))
	err := reg.Register(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_Get(t *testing.T) {
	reg, _, _ := testRegistry()
	require.NoError(t, reg.Register(&testPlugin{id: "test", name: "Test", version: "1.0"}))

	got := reg.Get("test")
	assert.Equal(t, "test", got.ID())

	assert.Nil(t, reg.Get("nonexistent"))
}

func TestRegistry_IDs(t *testing.T) {
	reg, _, _ := testRegistry()
	require.NoError(t, reg.Register(&testPlugin{id: "a", name: "A", version: "1"}))
	require.NoError(t, reg.Register(&testPlugin{id: "b", name: "B", version: "1"}))

	assert.Equal(t, []string{"a", "b"}, reg.IDs())
}

func TestRegistry_InitAll(t *testing.T) {
	reg, _, _ := testRegistry()
	p1 := &testPlugin{id: "a", name: "A", version: "1"}
	p2 := &testPlugin{id: "b", name: "B", version: "1"}
	require.NoError(t, reg.Register(p1))
	require.NoError(t, reg.Register(p2))

	require.NoError(t, reg.InitAll(context.Background()))
	assert.Equal(t, 1, p1.initCalls)
	assert.Equal(t, 1, p2.initCalls)
}

func TestRegistry_InitAll_Error(t *testing.T) {
	reg, _, _ := testRegistry()
	require.NoError(t, reg.Register(&testPlugin{id: "bad", name: "Bad", version: "1", initErr: assert.AnError}))

	err := reg.InitAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestRegistry_CloseAll(t *testing.T) {
	reg, _, _ := testRegistry()
	p1 := &testPlugin{id: "a", name: "A", version: "1"}
	p2 := &testPlugin{id: "b", name: "B", version: "1", closeErr: assert.AnError}
	require.NoError(t, reg.Register(p1))
	require.NoError(t, reg.Register(p2))

	reg.CloseAll()
	assert.Equal(t, 1, p1.closeCalls)
	assert.Equal(t, 1, p2.closeCalls)
}

func TestRegistry_ExecuteBuiltin(t *testing.T) {
	reg, _, _ := testRegistry()
	p := &testPlugin{id: "echo", name: "Echo", version: "1"}
	require.NoError(t, reg.Register(p))

	out, err := reg.Execute(context.Background(), " echo ", " ping ", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", out)
	assert.Equal(t, "ping", p.lastAction)
}

func TestRegistry_ExecuteValidation(t *testing.T) {
	reg, _, _ := testRegistry()
	ctx := context.Background()

	_, err := reg.Execute(ctx, "", "x", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = reg.Execute(ctx, "x", "  ", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	_, err = reg.Execute(ctx, "ghost", "x", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistry_RegisterExternal(t *testing.T) {
	reg, _, mem := testRegistry()
	require.NoError(t, reg.Register(&testPlugin{id: "stats", name: "Stats", version: "1"}))
	ctx := context.Background()

	p, err := reg.RegisterExternal(ctx, domain.Plugin{ID: " jira ", Name: "Jira", Endpoint: "http://localhost:9999/hook"})
	require.NoError(t, err)
	assert.Equal(t, "jira", p.ID)
	assert.True(t, p.Enabled)
	assert.False(t, p.Builtin)
	assert.False(t, p.RegisteredAt.IsZero())

	stored, err := mem.GetPlugin(ctx, "jira")
	require.NoError(t, err)
	assert.Equal(t, "Jira", stored.Name)

	_, err = reg.RegisterExternal(ctx, domain.Plugin{ID: "stats", Name: "Mine", Endpoint: "http://x"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	for _, bad := range []domain.Plugin{
		{Name: "n", Endpoint: "http://x"},
		{ID: "a b", Name: "n", Endpoint: "http://x"},
		{ID: "a", Endpoint: "http://x"},
		{ID: "a", Name: "n", Endpoint: "ftp://x"},
		{ID: "a", Name: "n"},
	} {
		_, err := reg.RegisterExternal(ctx, bad)
		assert.ErrorIs(t, err, domain.ErrValidation, "%+v", bad)
	}

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "stats", list[0].ID)
	assert.True(t, list[0].Builtin)
	assert.Equal(t, "jira", list[1].ID)
}

func TestRegistry_ExecuteExternal(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, "created PROJ-1")
	}))
	defer srv.Close()

	reg, _, _ := testRegistry()
	ctx := context.Background()
	_, err := reg.RegisterExternal(ctx, domain.Plugin{ID: "jira", Name: "Jira", Endpoint: srv.URL})
	require.NoError(t, err)

	out, err := reg.Execute(ctx, "jira", "create", map[string]any{"title": "bug"})
	require.NoError(t, err)
	assert.Equal(t, "created PROJ-1", out)
	assert.Equal(t, "jira", got["pluginId"])
	assert.Equal(t, "create", got["action"])
	assert.Equal(t, map[string]any{"title": "bug"}, got["arguments"])
}

func TestRegistry_ExecuteExternalFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	reg, _, mem := testRegistry()
	ctx := context.Background()
	_, err := reg.RegisterExternal(ctx, domain.Plugin{ID: "broken", Name: "Broken", Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = reg.Execute(ctx, "broken", "run", nil)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Contains(t, err.Error(), "502")

	require.NoError(t, mem.UpsertPlugin(ctx, domain.Plugin{ID: "off", Name: "Off", Endpoint: srv.URL}))
	_, err = reg.Execute(ctx, "off", "run", nil)
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestRegistry_ExecuteExternalTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	reg, _, _ := testRegistry(WithCallTimeout(100 * time.Millisecond))
	ctx := context.Background()
	_, err := reg.RegisterExternal(ctx, domain.Plugin{ID: "slow", Name: "Slow", Endpoint: srv.URL})
	require.NoError(t, err)

	start := time.Now()
	_, err = reg.Execute(ctx, "slow", "run", nil)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStats_CountsLifecycleEvents(t *testing.T) {
	reg, hm, _ := testRegistry()
	require.NoError(t, reg.Register(NewStats()))
	require.NoError(t, reg.InitAll(context.Background()))
	ctx := context.Background()

	hm.Emit(ctx, hooks.EventTurnCompleted, map[string]any{"outcome": "complete"})
	hm.Emit(ctx, hooks.EventTurnCompleted, map[string]any{"outcome": "degraded"})
	hm.Emit(ctx, hooks.EventTurnCompleted, map[string]any{"outcome": "complete"})
	hm.Emit(ctx, hooks.EventTaskCompleted, map[string]any{"result": "SUCCESS"})
	hm.Emit(ctx, hooks.EventTaskCompleted, map[string]any{})

	out, err := reg.Execute(ctx, "stats", "summary", nil)
	require.NoError(t, err)
	var summary map[string]map[string]int
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, map[string]int{"complete": 2, "degraded": 1}, summary["turns"])
	assert.Equal(t, map[string]int{"SUCCESS": 1, "unknown": 1}, summary["tasks"])

	out, err = reg.Execute(ctx, "stats", "reset", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, err = reg.Execute(ctx, "stats", "explode", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	reg.CloseAll()
	assert.Zero(t, hm.Count(hooks.EventTurnCompleted))
	assert.Zero(t, hm.Count(hooks.EventTaskCompleted))
}
