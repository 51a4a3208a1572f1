package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/soyeahso/parley/internal/domain"
)

// SQLiteTranscriptStore persists sessions and their ordered messages.
type SQLiteTranscriptStore struct {
	db *DB
}

// NewSQLiteTranscriptStore creates a transcript store using the given database.
func NewSQLiteTranscriptStore(db *DB) *SQLiteTranscriptStore {
	return &SQLiteTranscriptStore{db: db}
}

// CreateSession inserts a new session. Missing ID and CreatedAt are generated.
func (s *SQLiteTranscriptStore) CreateSession(ctx context.Context, sess domain.Session) (*domain.Session, error) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, model_id, title, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, sess.ModelID, sess.Title, formatTime(sess.CreatedAt),
	)
	if err != nil {
		s.db.log.Error().Err(err).Str("sessionId", sess.ID).Msg("failed to create session")
		return nil, persistErr(err, "failed to create session", "session_id", sess.ID)
	}
	return &sess, nil
}

// GetSession returns a session by ID. Unknown IDs yield domain.ErrNotFound.
func (s *SQLiteTranscriptStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess domain.Session
	var createdAt string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, owner_id, model_id, title, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.OwnerID, &sess.ModelID, &sess.Title, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(domain.ErrNotFound, "session not found", goerr.V("session_id", id))
	}
	if err != nil {
		return nil, persistErr(err, "failed to get session", "session_id", id)
	}
	sess.CreatedAt = parseTime(createdAt)
	return &sess, nil
}

// ListSessions returns the owner's sessions, newest first. An empty owner lists all.
func (s *SQLiteTranscriptStore) ListSessions(ctx context.Context, ownerID string) ([]domain.Session, error) {
	query := `SELECT id, owner_id, model_id, title, created_at FROM sessions`
	var args []any
	if ownerID != "" {
		query += ` WHERE owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr(err, "failed to list sessions", "owner_id", ownerID)
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var sess domain.Session
		var createdAt string
		if err := rows.Scan(&sess.ID, &sess.OwnerID, &sess.ModelID, &sess.Title, &createdAt); err != nil {
			return nil, persistErr(err, "failed to scan session", "owner_id", ownerID)
		}
		sess.CreatedAt = parseTime(createdAt)
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(err, "failed to iterate sessions", "owner_id", ownerID)
	}
	return sessions, nil
}

// RenameSession replaces the session title.
func (s *SQLiteTranscriptStore) RenameSession(ctx context.Context, id, title string) error {
	res, err := s.db.sql.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return persistErr(err, "failed to rename session", "session_id", id)
	}
	return requireAffected(res, id)
}

// DeleteSession removes a session and, by cascade, its messages.
func (s *SQLiteTranscriptStore) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return persistErr(err, "failed to delete session", "session_id", id)
	}
	return requireAffected(res, id)
}

// AppendMessage appends msg to its session. ID and Timestamp are filled in
// when empty, and the stored values are written back to msg.
func (s *SQLiteTranscriptStore) AppendMessage(ctx context.Context, msg *domain.Message) error {
	if !msg.Role.Valid() {
		return goerr.Wrap(domain.ErrValidation, "invalid message role", goerr.V("role", msg.Role))
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, string(msg.Role), msg.Content, formatTime(msg.Timestamp),
	)
	if err != nil {
		s.db.log.Error().Err(err).Str("sessionId", msg.SessionID).Str("role", string(msg.Role)).Msg("failed to append message")
		return persistErr(err, "failed to append message", "session_id", msg.SessionID)
	}
	return nil
}

// History returns the session's messages ordered by timestamp, then write order.
func (s *SQLiteTranscriptStore) History(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, session_id, role, content, timestamp FROM messages
		 WHERE session_id = ? ORDER BY timestamp ASC, seq ASC`, sessionID,
	)
	if err != nil {
		return nil, persistErr(err, "failed to load history", "session_id", sessionID)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		var role, ts string
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &ts); err != nil {
			return nil, persistErr(err, "failed to scan message", "session_id", sessionID)
		}
		m.Role = domain.Role(role)
		m.Timestamp = parseTime(ts)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr(err, "failed to iterate messages", "session_id", sessionID)
	}
	return msgs, nil
}

func requireAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr(err, "failed to read affected rows", "id", id)
	}
	if n == 0 {
		return goerr.Wrap(domain.ErrNotFound, fmt.Sprintf("no row for %s", id), goerr.V("id", id))
	}
	return nil
}
