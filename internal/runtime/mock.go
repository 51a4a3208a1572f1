package runtime

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/soyeahso/parley/internal/domain"
)

// MockClient is a test double for Client and MCPAdmin. MCP servers live in
// an in-memory table.
type MockClient struct {
	StreamFunc   func(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)
	DispatchFunc func(ctx context.Context, req DispatchRequest) (*DispatchResponse, error)

	mu   sync.Mutex
	mcps map[string]MCPServer
}

func (m *MockClient) Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error) {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return ChunkStream(ctx, "mock ", "reply"), nil
}

func (m *MockClient) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error) {
	if m.DispatchFunc != nil {
		return m.DispatchFunc(ctx, req)
	}
	return &DispatchResponse{Task: req.Task, Result: "ok", Status: "success"}, nil
}

func (m *MockClient) ListMCPs(_ context.Context) ([]MCPServer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MCPServer, 0, len(m.mcps))
	for _, s := range m.mcps {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockClient) ToggleMCP(_ context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.mcps[id]
	if !ok {
		return fmt.Errorf("%w: mcp %q", domain.ErrNotFound, id)
	}
	s.Enabled = enabled
	m.mcps[id] = s
	return nil
}

func (m *MockClient) AddMCP(_ context.Context, server MCPServer) error {
	if err := server.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mcps == nil {
		m.mcps = make(map[string]MCPServer)
	}
	server.IsCustom = true
	server.Enabled = true
	m.mcps[server.ID] = server
	return nil
}

func (m *MockClient) DeleteMCP(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mcps[id]; !ok {
		return fmt.Errorf("%w: mcp %q", domain.ErrNotFound, id)
	}
	delete(m.mcps, id)
	return nil
}

// ChunkStream returns a stream that yields chunks followed by EventDone.
func ChunkStream(ctx context.Context, chunks ...string) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- StreamEvent{Type: EventChunk, Content: c}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- StreamEvent{Type: EventDone}:
		case <-ctx.Done():
		}
	}()
	return ch
}
