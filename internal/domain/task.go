package domain

import (
	"fmt"
	"strings"
	"time"
)

// ActionExecuteTask is the action recorded for every dispatched agent task.
const ActionExecuteTask = "EXECUTE_TASK"

// DefaultTaskSession groups tasks that were not started from a chat session.
const DefaultTaskSession = "manual-execution"

// TaskResult is the lifecycle state of an agent task.
// PENDING is the only non-terminal state.
type TaskResult string

const (
	TaskPending TaskResult = "PENDING"
	TaskSuccess TaskResult = "SUCCESS"
	TaskFailed  TaskResult = "FAILED"
)

// Terminal reports whether no further transition may follow r.
func (r TaskResult) Terminal() bool {
	return r == TaskSuccess || r == TaskFailed
}

// PermissionFlag records the gate decision taken for a task.
type PermissionFlag string

const (
	PermissionApproved PermissionFlag = "APPROVED"
	PermissionDenied   PermissionFlag = "DENIED"
)

// TaskDescriptor is a request to run an agent task on the runtime.
type TaskDescriptor struct {
	SessionID string   `json:"sessionId,omitempty"`
	Task      string   `json:"task"`
	Tools     []string `json:"tools"`
}

// Normalized returns a copy with surrounding whitespace trimmed from the
// session, task and tool names.
func (d TaskDescriptor) Normalized() TaskDescriptor {
	out := TaskDescriptor{
		SessionID: strings.TrimSpace(d.SessionID),
		Task:      strings.TrimSpace(d.Task),
	}
	if d.Tools != nil {
		out.Tools = make([]string, len(d.Tools))
		for i, tool := range d.Tools {
			out.Tools[i] = strings.TrimSpace(tool)
		}
	}
	return out
}

// Validate checks that the descriptor can be dispatched.
func (d TaskDescriptor) Validate() error {
	if strings.TrimSpace(d.Task) == "" {
		return fmt.Errorf("%w: task is required", ErrValidation)
	}
	for i, tool := range d.Tools {
		if strings.TrimSpace(tool) == "" {
			return fmt.Errorf("%w: tool %d has an empty name", ErrValidation, i)
		}
	}
	return nil
}

// AgentLog is the durable lifecycle record of one task.
type AgentLog struct {
	ID             int64          `json:"id"`
	TaskID         string         `json:"taskId"`
	SessionID      string         `json:"sessionId"`
	Action         string         `json:"action"`
	Tool           string         `json:"tool"`
	Content        string         `json:"content"`
	Result         TaskResult     `json:"result"`
	PermissionFlag PermissionFlag `json:"permissionFlag"`
	Timestamp      time.Time      `json:"timestamp"`
}

// MetricStatus is the outcome reported in an AgentMetric.
type MetricStatus string

const (
	MetricSuccess MetricStatus = "SUCCESS"
	MetricFailed  MetricStatus = "FAILED"
	MetricTimeout MetricStatus = "TIMEOUT"
)

// AgentMetric is the completion telemetry for one task.
type AgentMetric struct {
	TaskID       string         `json:"taskId"`
	AgentName    string         `json:"agentName"`
	DurationMs   int64          `json:"durationMs"`
	ToolUsage    map[string]int `json:"toolUsage"`
	TokenCount   int            `json:"tokenCount"`
	Status       MetricStatus   `json:"status"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// ToolHistogram counts how many times each tool name appears in tools.
func ToolHistogram(tools []string) map[string]int {
	usage := make(map[string]int, len(tools))
	for _, t := range tools {
		usage[t]++
	}
	return usage
}
