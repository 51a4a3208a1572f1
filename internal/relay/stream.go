package relay

import (
	"context"

	"github.com/soyeahso/parley/internal/domain"
)

// TurnRequest is one user chat turn.
type TurnRequest struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"message"`
	Model     string `json:"model,omitempty"`
}

// TurnResult describes a completed turn.
type TurnResult struct {
	User      domain.Message `json:"user"`
	Assistant domain.Message `json:"assistant"`
	Model     string         `json:"model"`
	Degraded  bool           `json:"degraded"`
	Chunks    int            `json:"chunks"`
}

// Stream is the caller's handle on an in-flight turn. Chunks must be drained
// (or the turn cancelled); the turn does not buffer past a small window.
type Stream struct {
	user   domain.Message
	chunks chan string
	done   chan struct{}
	cancel context.CancelFunc

	result *TurnResult
	err    error
}

func newStream(user domain.Message, cancel context.CancelFunc) *Stream {
	return &Stream{
		user:   user,
		chunks: make(chan string, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// UserMessage returns the persisted user message that opened the turn.
func (s *Stream) UserMessage() domain.Message { return s.user }

// Chunks yields assistant text in order. It is closed before Done.
func (s *Stream) Chunks() <-chan string { return s.chunks }

// Done is closed once the turn reached its terminal state.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Cancel aborts the turn. The terminal becomes domain.ErrCanceled unless the
// turn already finished.
func (s *Stream) Cancel() { s.cancel() }

// Wait blocks until the turn ends and returns its terminal.
func (s *Stream) Wait() (*TurnResult, error) {
	<-s.done
	return s.result, s.err
}

func (s *Stream) finish(result *TurnResult, err error) {
	s.result, s.err = result, err
	close(s.chunks)
	close(s.done)
}
