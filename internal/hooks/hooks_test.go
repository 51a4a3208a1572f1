package hooks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soyeahso/parley/internal/logging"
)

func testManager() *Manager {
	return NewManager(logging.New(nil, "silent"))
}

func TestManager_EmitRunsHandlersInOrder(t *testing.T) {
	m := testManager()

	var order []string
	m.On(EventTaskCompleted, "first", func(_ context.Context, p Payload) error {
		order = append(order, "first")
		assert.Equal(t, EventTaskCompleted, p.Event)
		assert.Equal(t, "t-1", p.Data["taskId"])
		assert.False(t, p.At.IsZero())
		return nil
	})
	m.On(EventTaskCompleted, "second", func(_ context.Context, _ Payload) error {
		order = append(order, "second")
		return nil
	})

	m.Emit(context.Background(), EventTaskCompleted, map[string]any{"taskId": "t-1"})
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestManager_FailingHandlerDoesNotStopOthers(t *testing.T) {
	m := testManager()

	var reached bool
	m.On(EventTurnCompleted, "error", func(context.Context, Payload) error { return errors.New("broken") })
	m.On(EventTurnCompleted, "panic", func(context.Context, Payload) error { panic("boom") })
	m.On(EventTurnCompleted, "last", func(context.Context, Payload) error {
		reached = true
		return nil
	})

	m.Emit(context.Background(), EventTurnCompleted, nil)
	assert.True(t, reached)
}

func TestManager_EmitWithoutHandlers(t *testing.T) {
	m := testManager()
	m.Emit(context.Background(), EventGatewayStop, nil)
	m.EmitAsync(context.Background(), EventGatewayStop, nil)
	m.Wait()
}

func TestManager_Off(t *testing.T) {
	m := testManager()

	var kept atomic.Int32
	m.On(EventGatewayStart, "remove-me", func(context.Context, Payload) error {
		t.Error("removed handler ran")
		return nil
	})
	m.On(EventGatewayStart, "keep-me", func(context.Context, Payload) error {
		kept.Add(1)
		return nil
	})

	assert.True(t, m.Off(EventGatewayStart, "remove-me"))
	assert.False(t, m.Off(EventGatewayStart, "remove-me"))
	m.Emit(context.Background(), EventGatewayStart, nil)
	assert.Equal(t, int32(1), kept.Load())

	assert.True(t, m.Off(EventGatewayStart, "keep-me"))
	assert.Empty(t, m.Events())
}

func TestManager_EmitAsyncSurvivesCancel(t *testing.T) {
	m := testManager()

	var mu sync.Mutex
	var errs []error
	for _, name := range []string{"a", "b", "c"} {
		m.On(EventPermissionChanged, name, func(ctx context.Context, _ Payload) error {
			mu.Lock()
			defer mu.Unlock()
			errs = append(errs, ctx.Err())
			return nil
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.EmitAsync(ctx, EventPermissionChanged, map[string]any{"toolName": "shell"})
	cancel()
	m.Wait()

	assert.Equal(t, []error{nil, nil, nil}, errs)
}

func TestManager_EmitAsyncAfterWaitIsDropped(t *testing.T) {
	m := testManager()

	var calls atomic.Int32
	m.On(EventTaskCompleted, "count", func(context.Context, Payload) error {
		calls.Add(1)
		return nil
	})

	m.EmitAsync(context.Background(), EventTaskCompleted, nil)
	m.Wait()
	m.EmitAsync(context.Background(), EventTaskCompleted, nil)
	m.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestManager_EmitAsyncConcurrentWithWait(t *testing.T) {
	m := testManager()
	m.On(EventTurnCompleted, "noop", func(context.Context, Payload) error { return nil })

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				m.EmitAsync(context.Background(), EventTurnCompleted, nil)
			}
		}()
	}
	m.Wait()
	wg.Wait()
	m.Wait()
}

func TestManager_CountAndEvents(t *testing.T) {
	m := testManager()
	assert.Equal(t, 0, m.Count(EventTaskCompleted))

	noop := func(context.Context, Payload) error { return nil }
	m.On(EventTaskCompleted, "h1", noop)
	m.On(EventTaskCompleted, "h2", noop)
	m.On(EventGatewayStart, "h3", noop)

	assert.Equal(t, 2, m.Count(EventTaskCompleted))
	assert.Equal(t, []string{EventGatewayStart, EventTaskCompleted}, m.Events())
}

func TestAllEvents(t *testing.T) {
	assert.Len(t, AllEvents, 5)
	assert.Contains(t, AllEvents, EventTurnCompleted)
}
