package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/soyeahso/parley/internal/domain"
)

// SQLitePermissionStore persists per-tool permissions keyed by tool name.
type SQLitePermissionStore struct {
	db *DB
}

// NewSQLitePermissionStore creates a permission store using the given database.
func NewSQLitePermissionStore(db *DB) *SQLitePermissionStore {
	return &SQLitePermissionStore{db: db}
}

// GetPermission returns the stored permission, or domain.ErrNotFound.
func (s *SQLitePermissionStore) GetPermission(ctx context.Context, tool string) (*domain.ToolPermission, error) {
	var p domain.ToolPermission
	var status string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT tool_name, status FROM tool_permissions WHERE tool_name = ?`, tool,
	).Scan(&p.ToolName, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(domain.ErrNotFound, "permission not set", goerr.V("tool", tool))
	}
	if err != nil {
		return nil, persistErr(err, "failed to get permission", "tool", tool)
	}
	p.Status = domain.PermissionStatus(status)
	return &p, nil
}

// UpsertPermission inserts or replaces the permission for p.ToolName.
func (s *SQLitePermissionStore) UpsertPermission(ctx context.Context, p domain.ToolPermission) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO tool_permissions (tool_name, status, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tool_name) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		p.ToolName, string(p.Status), formatTime(time.Now()),
	)
	if err != nil {
		return persistErr(err, "failed to upsert permission", "tool", p.ToolName)
	}
	return nil
}

// ListPermissions returns all stored permissions ordered by tool name.
func (s *SQLitePermissionStore) ListPermissions(ctx context.Context) ([]domain.ToolPermission, error) {
	rows, err := s.db.sql.QueryContext(ctx, `SELECT tool_name, status FROM tool_permissions ORDER BY tool_name`)
	if err != nil {
		return nil, persistErr(err, "failed to list permissions", "table", "tool_permissions")
	}
	defer rows.Close()

	var perms []domain.ToolPermission
	for rows.Next() {
		var p domain.ToolPermission
		var status string
		if err := rows.Scan(&p.ToolName, &status); err != nil {
			return nil, persistErr(err, "failed to scan permission", "table", "tool_permissions")
		}
		p.Status = domain.PermissionStatus(status)
		perms = append(perms, p)
	}
	return perms, rows.Err()
}
