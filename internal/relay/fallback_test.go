package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testNotice = "AI runtime is currently unavailable. Please ensure the AI service is running on port 8000."

func TestFallback_ChunksReassembleNotice(t *testing.T) {
	tests := []struct {
		name   string
		notice string
		want   []string
	}{
		{"default notice", testNotice, nil},
		{"single word", "unavailable", []string{"unavailable"}},
		{"double space", "a  b", []string{"a ", " ", "b"}},
		{"trailing space", "down ", []string{"down "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewFallbackGenerator(tt.notice, -1)
			chunks := g.Chunks()
			assert.Equal(t, tt.notice, strings.Join(chunks, ""))
			if tt.want != nil {
				assert.Equal(t, tt.want, chunks)
			}
		})
	}
}

func TestFallback_EmitIsDeterministic(t *testing.T) {
	g := NewFallbackGenerator(testNotice, -1)
	var first, second []string
	require.NoError(t, g.Emit(context.Background(), func(c string) error { first = append(first, c); return nil }))
	require.NoError(t, g.Emit(context.Background(), func(c string) error { second = append(second, c); return nil }))
	assert.Equal(t, first, second)
	assert.Len(t, first, 15)
}

func TestFallback_PacingBetweenChunks(t *testing.T) {
	g := NewFallbackGenerator("one two three", 20*time.Millisecond)
	start := time.Now()
	require.NoError(t, g.Emit(context.Background(), func(string) error { return nil }))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestFallback_StopsOnCancel(t *testing.T) {
	g := NewFallbackGenerator(testNotice, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Emit(ctx, func(c string) error { got = append(got, c); return nil })
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, []string{"AI "}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("Emit did not stop on cancel")
	}
}

func TestFallback_EmitErrorStops(t *testing.T) {
	g := NewFallbackGenerator("a b c", -1)
	boom := errors.New("client gone")
	calls := 0
	err := g.Emit(context.Background(), func(string) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}
