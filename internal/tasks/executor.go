package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/runtime"
	"github.com/soyeahso/parley/internal/telemetry"
)

// LogStore persists task lifecycle records.
type LogStore interface {
	InsertLog(ctx context.Context, entry *domain.AgentLog) error
	CompleteLog(ctx context.Context, taskID string, result domain.TaskResult) error
	LogsBySession(ctx context.Context, sessionID string) ([]domain.AgentLog, error)
}

// Scheduler accepts metrics for off-path recording.
type Scheduler interface {
	Schedule(m domain.AgentMetric) bool
}

// AskPolicy decides what happens to tools whose permission is ASK.
type AskPolicy string

const (
	AskAllow AskPolicy = "allow"
	AskDeny  AskPolicy = "deny"
)

// Notifier receives lifecycle events.
type Notifier interface {
	EmitAsync(ctx context.Context, event string, data map[string]any)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithNotifier publishes task.completed and permission.changed events.
func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notify = n }
}

// Config controls task execution.
type Config struct {
	AgentName        string
	DefaultSessionID string
	AskPolicy        AskPolicy
	DispatchTimeout  time.Duration
}

// Outcome is what the caller learns about a finished task.
type Outcome struct {
	TaskID  string            `json:"taskId"`
	Result  domain.TaskResult `json:"result"`
	Summary string            `json:"summary"`
}

// Executor runs agent tasks on the runtime.
type Executor struct {
	cfg      Config
	gate     *Gate
	logs     LogStore
	upstream runtime.Client
	metrics  Scheduler
	notify   Notifier
	log      *logging.Logger
	tracer   trace.Tracer
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config, gate *Gate, logs LogStore, upstream runtime.Client, metrics Scheduler, log *logging.Logger, opts ...Option) *Executor {
	if cfg.AgentName == "" {
		cfg.AgentName = "GeneralAgent"
	}
	if cfg.DefaultSessionID == "" {
		cfg.DefaultSessionID = domain.DefaultTaskSession
	}
	if cfg.AskPolicy == "" {
		cfg.AskPolicy = AskAllow
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 60 * time.Second
	}
	e := &Executor{
		cfg:      cfg,
		gate:     gate,
		logs:     logs,
		upstream: upstream,
		metrics:  metrics,
		log:      log.Sub("tasks"),
		tracer:   telemetry.Tracer("parley/tasks"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Gate exposes the permission gate.
func (e *Executor) Gate() *Gate { return e.gate }

// Execute validates, gates, logs and dispatches one task. Runtime failures
// are reported through the Outcome; only validation and persistence faults
// are returned as errors.
func (e *Executor) Execute(ctx context.Context, desc domain.TaskDescriptor) (*Outcome, error) {
	desc = desc.Normalized()
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	sessionID := desc.SessionID
	if sessionID == "" {
		sessionID = e.cfg.DefaultSessionID
	}
	taskID := uuid.New().String()

	ctx, span := e.tracer.Start(ctx, "tasks.execute", trace.WithAttributes(
		attribute.String("parley.task_id", taskID),
		attribute.String("parley.session_id", sessionID),
		attribute.StringSlice("parley.tools", desc.Tools),
	))
	defer span.End()

	verdict, err := e.gate.Evaluate(ctx, desc.Tools)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	flag := e.decide(taskID, verdict)

	entry := &domain.AgentLog{
		TaskID:         taskID,
		SessionID:      sessionID,
		Action:         domain.ActionExecuteTask,
		Tool:           strings.Join(desc.Tools, ","),
		Content:        "Starting task: " + desc.Task,
		Result:         domain.TaskPending,
		PermissionFlag: flag,
		Timestamp:      time.Now().UTC(),
	}
	if err := e.logs.InsertLog(ctx, entry); err != nil {
		span.SetStatus(codes.Error, err.Error())
		e.log.Error().Err(err).Str("taskId", taskID).Msg("failed to write task log")
		return nil, err
	}

	start := time.Now()
	metric := domain.AgentMetric{
		TaskID:    taskID,
		AgentName: e.cfg.AgentName,
		ToolUsage: domain.ToolHistogram(desc.Tools),
		Status:    domain.MetricFailed,
	}
	defer func() {
		metric.DurationMs = time.Since(start).Milliseconds()
		metric.Timestamp = time.Now().UTC()
		if !e.metrics.Schedule(metric) {
			e.log.Debug().Str("taskId", taskID).Msg("task metric not scheduled")
		}
	}()

	out := &Outcome{TaskID: taskID}
	var (
		result string
		tokens int
	)
	if flag == domain.PermissionDenied {
		out.Result = domain.TaskFailed
		out.Summary = fmt.Sprintf("Task rejected: blocked tools [%s]", strings.Join(rejected(verdict, e.cfg.AskPolicy), ", "))
		metric.ErrorMessage = out.Summary
	} else {
		result, tokens, err = e.dispatch(ctx, desc)
		switch {
		case err == nil:
			out.Result = domain.TaskSuccess
			out.Summary = "Agent task sent to runtime: " + desc.Task
			if result != "" {
				out.Summary += "\n" + result
			}
			metric.Status = domain.MetricSuccess
		case errors.Is(err, context.DeadlineExceeded):
			out.Result = domain.TaskFailed
			out.Summary = "Agent task failed: " + err.Error()
			metric.Status = domain.MetricTimeout
			metric.ErrorMessage = err.Error()
		default:
			out.Result = domain.TaskFailed
			out.Summary = "Agent task failed: " + err.Error()
			metric.ErrorMessage = err.Error()
		}
	}
	metric.TokenCount = tokens
	if tokens <= 0 {
		metric.TokenCount = estimateTokens(desc.Task, result)
	}

	if err := e.complete(ctx, taskID, out.Result); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("parley.result", string(out.Result)))
	e.emit(ctx, hooks.EventTaskCompleted, map[string]any{
		"taskId":     taskID,
		"sessionId":  sessionID,
		"result":     string(out.Result),
		"permission": string(flag),
		"status":     string(metric.Status),
	})
	e.log.Info().
		Str("taskId", taskID).
		Str("sessionId", sessionID).
		Str("result", string(out.Result)).
		Str("permission", string(flag)).
		Dur("duration", time.Since(start)).
		Msg("task finished")
	return out, nil
}

// Logs returns a session's task records in write order.
func (e *Executor) Logs(ctx context.Context, sessionID string) ([]domain.AgentLog, error) {
	if strings.TrimSpace(sessionID) == "" {
		sessionID = e.cfg.DefaultSessionID
	}
	return e.logs.LogsBySession(ctx, sessionID)
}

// UpdatePermission sets the permission for one tool.
func (e *Executor) UpdatePermission(ctx context.Context, tool, status string) (*domain.ToolPermission, error) {
	p, err := e.gate.Set(ctx, tool, status)
	if err != nil {
		return nil, err
	}
	e.emit(ctx, hooks.EventPermissionChanged, map[string]any{
		"toolName": p.ToolName,
		"status":   string(p.Status),
	})
	return p, nil
}

func (e *Executor) emit(ctx context.Context, event string, data map[string]any) {
	if e.notify != nil {
		e.notify.EmitAsync(ctx, event, data)
	}
}

func (e *Executor) decide(taskID string, v Verdict) domain.PermissionFlag {
	if v.Denied() {
		e.log.Warn().Str("taskId", taskID).Strs("blocked", v.Blocked).Msg("task uses blocked tools")
		return domain.PermissionDenied
	}
	if len(v.Ask) > 0 {
		if e.cfg.AskPolicy == AskDeny {
			e.log.Warn().Str("taskId", taskID).Strs("ask", v.Ask).Msg("tools require approval, denying")
			return domain.PermissionDenied
		}
		e.log.Warn().Str("taskId", taskID).Strs("ask", v.Ask).Msg("tools require approval, allowing")
	}
	return domain.PermissionApproved
}

// rejected lists the tools that caused a denial.
func rejected(v Verdict, policy AskPolicy) []string {
	if v.Denied() || policy != AskDeny {
		return v.Blocked
	}
	return v.Ask
}

// dispatch calls the runtime and returns its result text and token count.
func (e *Executor) dispatch(ctx context.Context, desc domain.TaskDescriptor) (string, int, error) {
	dctx, cancel := context.WithTimeout(ctx, e.cfg.DispatchTimeout)
	defer cancel()

	resp, err := e.upstream.Dispatch(dctx, runtime.DispatchRequest{Task: desc.Task, Tools: desc.Tools})
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		e.log.Warn().Err(err).Msg("runtime dispatch failed")
		return "", 0, err
	}
	if !resp.Succeeded() {
		msg := resp.Result
		if msg == "" {
			msg = "no details"
		}
		return resp.Result, resp.Tokens, fmt.Errorf("%w: runtime reported %s: %s", domain.ErrUpstream, resp.Status, msg)
	}
	return resp.Result, resp.Tokens, nil
}

// complete moves the log to its terminal state, retrying once on a context
// that outlives the caller.
func (e *Executor) complete(ctx context.Context, taskID string, result domain.TaskResult) error {
	err := e.logs.CompleteLog(ctx, taskID, result)
	if err == nil || errors.Is(err, domain.ErrConflict) {
		return nil
	}
	e.log.Warn().Err(err).Str("taskId", taskID).Msg("failed to complete task log, retrying")

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err = e.logs.CompleteLog(rctx, taskID, result)
	if err == nil || errors.Is(err, domain.ErrConflict) {
		return nil
	}
	e.log.Error().Err(err).Str("taskId", taskID).Msg("failed to complete task log")
	if !errors.Is(err, domain.ErrPersistence) {
		err = fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return goerr.Wrap(err, "failed to complete task log", goerr.V("task_id", taskID))
}

// estimateTokens approximates usage by whitespace-separated words.
func estimateTokens(task, result string) int {
	return len(strings.Fields(task)) + len(strings.Fields(result))
}
