// Package runtime is the client for the external inference/execution runtime.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/soyeahso/parley/internal/domain"
)

// Client talks to the runtime. Implementations must honor ctx cancellation
// on every blocking call, including reads of an open stream.
type Client interface {
	// Stream opens a streaming completion. Connection and status failures are
	// returned directly; failures after the stream opened arrive as EventError.
	Stream(ctx context.Context, req StreamRequest) (<-chan StreamEvent, error)

	// Dispatch sends one agent task and waits for the runtime's verdict.
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResponse, error)
}

// StreamRequest is the body of a streaming completion call.
type StreamRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// EventType discriminates stream events.
type EventType string

const (
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// StreamEvent is one item read from an open stream.
type StreamEvent struct {
	Type    EventType
	Content string
	Err     error
}

// DispatchRequest is the body of an agent task dispatch.
type DispatchRequest struct {
	Task  string   `json:"task"`
	Tools []string `json:"tools"`
}

// DispatchResponse is the runtime's reply to a dispatch.
type DispatchResponse struct {
	Task   string `json:"task"`
	Result string `json:"result"`
	Status string `json:"status"`
	Tokens int    `json:"tokens,omitempty"`
}

// Succeeded reports whether the runtime accepted and completed the task.
// A missing status on a 2xx reply counts as success.
func (r DispatchResponse) Succeeded() bool {
	return r.Status == "" || strings.EqualFold(r.Status, "success")
}

// ErrReadTimeout is reported when an open stream stays silent too long.
var ErrReadTimeout = errors.New("runtime stream idle timeout")

// StatusError is returned for non-2xx runtime replies.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("runtime error (%d): %s", e.Code, e.Body)
}

// Unwrap classifies every status error as an upstream fault.
func (e *StatusError) Unwrap() error { return domain.ErrUpstream }

func upstreamErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstream, op, err)
}
