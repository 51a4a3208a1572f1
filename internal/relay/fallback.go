package relay

import (
	"context"
	"strings"
	"time"
)

// DefaultPacing is the delay between fallback chunks.
const DefaultPacing = 100 * time.Millisecond

// FallbackGenerator produces the canned reply streamed when the runtime is
// unreachable. Output is deterministic: the same notice is always split the
// same way and the chunks concatenate back to the notice exactly.
type FallbackGenerator struct {
	notice string
	pacing time.Duration
}

// NewFallbackGenerator creates a generator. A negative pacing disables delays.
func NewFallbackGenerator(notice string, pacing time.Duration) *FallbackGenerator {
	if pacing == 0 {
		pacing = DefaultPacing
	}
	return &FallbackGenerator{notice: notice, pacing: pacing}
}

// Notice returns the full fallback text.
func (g *FallbackGenerator) Notice() string { return g.notice }

// Chunks splits the notice into word chunks, each keeping its trailing space.
func (g *FallbackGenerator) Chunks() []string {
	parts := strings.SplitAfter(g.notice, " ")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Emit hands each chunk to emit, pausing between chunks. It stops at the
// first emit error or when ctx ends.
func (g *FallbackGenerator) Emit(ctx context.Context, emit func(string) error) error {
	for i, chunk := range g.Chunks() {
		if i > 0 && g.pacing > 0 {
			t := time.NewTimer(g.pacing)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}
