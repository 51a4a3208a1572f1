package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/soyeahso/parley/internal/domain"
)

// SQLiteMetricStore persists task completion metrics, one row per task.
type SQLiteMetricStore struct {
	db *DB
}

// NewSQLiteMetricStore creates a metric store using the given database.
func NewSQLiteMetricStore(db *DB) *SQLiteMetricStore {
	return &SQLiteMetricStore{db: db}
}

// InsertMetric stores m. A second metric for the same task yields domain.ErrConflict.
func (s *SQLiteMetricStore) InsertMetric(ctx context.Context, m domain.AgentMetric) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	usage, err := json.Marshal(m.ToolUsage)
	if err != nil {
		return goerr.Wrap(err, "failed to encode tool usage", goerr.V("task_id", m.TaskID))
	}

	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO agent_metrics (task_id, agent_name, duration_ms, tool_usage, token_count, status, error_message, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO NOTHING`,
		m.TaskID, m.AgentName, m.DurationMs, string(usage), m.TokenCount,
		string(m.Status), m.ErrorMessage, formatTime(m.Timestamp),
	)
	if err != nil {
		return persistErr(err, "failed to insert metric", "task_id", m.TaskID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return goerr.Wrap(domain.ErrConflict, "metric already recorded", goerr.V("task_id", m.TaskID))
	}
	return nil
}

// MetricByTask returns the metric recorded for a task.
func (s *SQLiteMetricStore) MetricByTask(ctx context.Context, taskID string) (*domain.AgentMetric, error) {
	var m domain.AgentMetric
	var usage, status, ts string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT task_id, agent_name, duration_ms, tool_usage, token_count, status, error_message, timestamp
		 FROM agent_metrics WHERE task_id = ?`, taskID,
	).Scan(&m.TaskID, &m.AgentName, &m.DurationMs, &usage, &m.TokenCount, &status, &m.ErrorMessage, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(domain.ErrNotFound, "metric not found", goerr.V("task_id", taskID))
	}
	if err != nil {
		return nil, persistErr(err, "failed to get metric", "task_id", taskID)
	}
	if err := json.Unmarshal([]byte(usage), &m.ToolUsage); err != nil {
		return nil, goerr.Wrap(err, "failed to decode tool usage", goerr.V("task_id", taskID))
	}
	m.Status = domain.MetricStatus(status)
	m.Timestamp = parseTime(ts)
	return &m, nil
}
