package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/soyeahso/parley/internal/domain"
)

// Memory is an in-process implementation of every store contract. Data is
// lost when the process exits.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[string]domain.Session
	messages    map[string][]domain.Message // session id → append order
	logs        []domain.AgentLog
	logByTask   map[string]int // task id → index into logs
	metrics     map[string]domain.AgentMetric
	permissions map[string]domain.PermissionStatus
	plugins     map[string]domain.Plugin
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]domain.Session),
		messages:    make(map[string][]domain.Message),
		logByTask:   make(map[string]int),
		metrics:     make(map[string]domain.AgentMetric),
		permissions: make(map[string]domain.PermissionStatus),
		plugins:     make(map[string]domain.Plugin),
	}
}

// --- sessions and messages ---

func (m *Memory) CreateSession(_ context.Context, sess domain.Session) (*domain.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[sess.ID]; exists {
		return nil, goerr.Wrap(domain.ErrConflict, "session already exists", goerr.V("session_id", sess.ID))
	}
	m.sessions[sess.ID] = sess
	return &sess, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, goerr.Wrap(domain.ErrNotFound, "session not found", goerr.V("session_id", id))
	}
	return &sess, nil
}

func (m *Memory) ListSessions(_ context.Context, ownerID string) ([]domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Session
	for _, s := range m.sessions {
		if ownerID == "" || s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) RenameSession(_ context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	if !ok {
		return goerr.Wrap(domain.ErrNotFound, "session not found", goerr.V("session_id", id))
	}
	sess.Title = title
	m.sessions[id] = sess
	return nil
}

func (m *Memory) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return goerr.Wrap(domain.ErrNotFound, "session not found", goerr.V("session_id", id))
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg *domain.Message) error {
	if !msg.Role.Valid() {
		return goerr.Wrap(domain.ErrValidation, "invalid message role", goerr.V("role", msg.Role))
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return goerr.Wrap(domain.ErrNotFound, "session not found", goerr.V("session_id", msg.SessionID))
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return nil
}

func (m *Memory) History(_ context.Context, sessionID string) ([]domain.Message, error) {
	m.mu.RLock()
	out := slices.Clone(m.messages[sessionID])
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// --- agent logs ---

func (m *Memory) InsertLog(_ context.Context, entry *domain.AgentLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.logByTask[entry.TaskID]; exists {
		return goerr.Wrap(domain.ErrConflict, "task already logged", goerr.V("task_id", entry.TaskID))
	}
	entry.ID = int64(len(m.logs) + 1)
	m.logByTask[entry.TaskID] = len(m.logs)
	m.logs = append(m.logs, *entry)
	return nil
}

func (m *Memory) CompleteLog(_ context.Context, taskID string, result domain.TaskResult) error {
	if !result.Terminal() {
		return goerr.Wrap(domain.ErrValidation, "result must be terminal", goerr.V("result", result))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.logByTask[taskID]
	if !ok {
		return goerr.Wrap(domain.ErrNotFound, "agent log not found", goerr.V("task_id", taskID))
	}
	if m.logs[idx].Result != domain.TaskPending {
		return goerr.Wrap(domain.ErrConflict, "agent log already terminal", goerr.V("task_id", taskID))
	}
	m.logs[idx].Result = result
	return nil
}

func (m *Memory) LogByTask(_ context.Context, taskID string) (*domain.AgentLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.logByTask[taskID]
	if !ok {
		return nil, goerr.Wrap(domain.ErrNotFound, "agent log not found", goerr.V("task_id", taskID))
	}
	entry := m.logs[idx]
	return &entry, nil
}

func (m *Memory) LogsBySession(_ context.Context, sessionID string) ([]domain.AgentLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.AgentLog
	for _, e := range m.logs {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- metrics ---

func (m *Memory) InsertMetric(_ context.Context, metric domain.AgentMetric) error {
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now().UTC()
	}
	metric.ToolUsage = maps.Clone(metric.ToolUsage)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.metrics[metric.TaskID]; exists {
		return goerr.Wrap(domain.ErrConflict, "metric already recorded", goerr.V("task_id", metric.TaskID))
	}
	m.metrics[metric.TaskID] = metric
	return nil
}

func (m *Memory) MetricByTask(_ context.Context, taskID string) (*domain.AgentMetric, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metric, ok := m.metrics[taskID]
	if !ok {
		return nil, goerr.Wrap(domain.ErrNotFound, "metric not found", goerr.V("task_id", taskID))
	}
	metric.ToolUsage = maps.Clone(metric.ToolUsage)
	return &metric, nil
}

// --- permissions ---

func (m *Memory) GetPermission(_ context.Context, tool string) (*domain.ToolPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.permissions[tool]
	if !ok {
		return nil, goerr.Wrap(domain.ErrNotFound, "permission not set", goerr.V("tool", tool))
	}
	return &domain.ToolPermission{ToolName: tool, Status: status}, nil
}

func (m *Memory) UpsertPermission(_ context.Context, p domain.ToolPermission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permissions[p.ToolName] = p.Status
	return nil
}

func (m *Memory) ListPermissions(_ context.Context) ([]domain.ToolPermission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.ToolPermission, 0, len(m.permissions))
	for _, name := range slices.Sorted(maps.Keys(m.permissions)) {
		out = append(out, domain.ToolPermission{ToolName: name, Status: m.permissions[name]})
	}
	return out, nil
}

// --- plugins ---

func (m *Memory) UpsertPlugin(_ context.Context, p domain.Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plugins[p.ID] = p
	return nil
}

func (m *Memory) GetPlugin(_ context.Context, id string) (*domain.Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plugins[id]
	if !ok {
		return nil, goerr.Wrap(domain.ErrNotFound, "plugin not registered", goerr.V("plugin_id", id))
	}
	return &p, nil
}

func (m *Memory) ListPlugins(_ context.Context) ([]domain.Plugin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Plugin, 0, len(m.plugins))
	for _, id := range slices.Sorted(maps.Keys(m.plugins)) {
		out = append(out, m.plugins[id])
	}
	return out, nil
}
