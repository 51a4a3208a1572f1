package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/soyeahso/parley/internal/domain"
)

// SQLiteAgentLogStore persists task lifecycle records.
type SQLiteAgentLogStore struct {
	db *DB
}

// NewSQLiteAgentLogStore creates an agent log store using the given database.
func NewSQLiteAgentLogStore(db *DB) *SQLiteAgentLogStore {
	return &SQLiteAgentLogStore{db: db}
}

// InsertLog writes a new log row and sets entry.ID.
func (s *SQLiteAgentLogStore) InsertLog(ctx context.Context, entry *domain.AgentLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	res, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO agent_logs (task_id, session_id, action, tool, content, result, permission_flag, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID, entry.SessionID, entry.Action, entry.Tool, entry.Content,
		string(entry.Result), string(entry.PermissionFlag), formatTime(entry.Timestamp),
	)
	if err != nil {
		s.db.log.Error().Err(err).Str("taskId", entry.TaskID).Msg("failed to insert agent log")
		return persistErr(err, "failed to insert agent log", "task_id", entry.TaskID)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// CompleteLog moves a PENDING log to a terminal result. A task that already
// left PENDING yields domain.ErrConflict; an unknown task yields domain.ErrNotFound.
func (s *SQLiteAgentLogStore) CompleteLog(ctx context.Context, taskID string, result domain.TaskResult) error {
	if !result.Terminal() {
		return goerr.Wrap(domain.ErrValidation, "result must be terminal", goerr.V("result", result))
	}

	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE agent_logs SET result = ? WHERE task_id = ? AND result = ?`,
		string(result), taskID, string(domain.TaskPending),
	)
	if err != nil {
		return persistErr(err, "failed to complete agent log", "task_id", taskID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr(err, "failed to read affected rows", "task_id", taskID)
	}
	if n == 1 {
		return nil
	}

	if _, err := s.LogByTask(ctx, taskID); err != nil {
		return err
	}
	return goerr.Wrap(domain.ErrConflict, "agent log already terminal", goerr.V("task_id", taskID))
}

// LogByTask returns the log row for a task.
func (s *SQLiteAgentLogStore) LogByTask(ctx context.Context, taskID string) (*domain.AgentLog, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT id, task_id, session_id, action, tool, content, result, permission_flag, timestamp
		 FROM agent_logs WHERE task_id = ?`, taskID)
	entry, err := scanAgentLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(domain.ErrNotFound, "agent log not found", goerr.V("task_id", taskID))
	}
	if err != nil {
		return nil, persistErr(err, "failed to get agent log", "task_id", taskID)
	}
	return entry, nil
}

// LogsBySession returns the session's logs in write order.
func (s *SQLiteAgentLogStore) LogsBySession(ctx context.Context, sessionID string) ([]domain.AgentLog, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, task_id, session_id, action, tool, content, result, permission_flag, timestamp
		 FROM agent_logs WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, persistErr(err, "failed to list agent logs", "session_id", sessionID)
	}
	defer rows.Close()

	var logs []domain.AgentLog
	for rows.Next() {
		entry, err := scanAgentLog(rows)
		if err != nil {
			return nil, persistErr(err, "failed to scan agent log", "session_id", sessionID)
		}
		logs = append(logs, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(err, "failed to iterate agent logs", "session_id", sessionID)
	}
	return logs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentLog(row rowScanner) (*domain.AgentLog, error) {
	var e domain.AgentLog
	var result, flag, ts string
	if err := row.Scan(&e.ID, &e.TaskID, &e.SessionID, &e.Action, &e.Tool, &e.Content, &result, &flag, &ts); err != nil {
		return nil, err
	}
	e.Result = domain.TaskResult(result)
	e.PermissionFlag = domain.PermissionFlag(flag)
	e.Timestamp = parseTime(ts)
	return &e, nil
}
