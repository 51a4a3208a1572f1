package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m-mizutani/goerr/v2"

	"github.com/soyeahso/parley/internal/domain"
)

// SQLitePluginStore persists externally registered plugins.
type SQLitePluginStore struct {
	db *DB
}

// NewSQLitePluginStore creates a plugin store using the given database.
func NewSQLitePluginStore(db *DB) *SQLitePluginStore {
	return &SQLitePluginStore{db: db}
}

// UpsertPlugin inserts p or replaces the registration with the same id.
func (s *SQLitePluginStore) UpsertPlugin(ctx context.Context, p domain.Plugin) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO plugins (id, name, version, description, endpoint, enabled, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name, version = excluded.version, description = excluded.description,
		   endpoint = excluded.endpoint, enabled = excluded.enabled, registered_at = excluded.registered_at`,
		p.ID, p.Name, p.Version, p.Description, p.Endpoint, p.Enabled, formatTime(p.RegisteredAt),
	)
	if err != nil {
		return persistErr(err, "failed to upsert plugin", "plugin_id", p.ID)
	}
	return nil
}

// GetPlugin returns a registered plugin, or domain.ErrNotFound.
func (s *SQLitePluginStore) GetPlugin(ctx context.Context, id string) (*domain.Plugin, error) {
	row := s.db.sql.QueryRowContext(ctx,
		`SELECT id, name, version, description, endpoint, enabled, registered_at FROM plugins WHERE id = ?`, id)
	p, err := scanPlugin(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(domain.ErrNotFound, "plugin not registered", goerr.V("plugin_id", id))
	}
	if err != nil {
		return nil, persistErr(err, "failed to get plugin", "plugin_id", id)
	}
	return p, nil
}

// ListPlugins returns every registered plugin ordered by id.
func (s *SQLitePluginStore) ListPlugins(ctx context.Context) ([]domain.Plugin, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, name, version, description, endpoint, enabled, registered_at FROM plugins ORDER BY id`)
	if err != nil {
		return nil, persistErr(err, "failed to list plugins", "table", "plugins")
	}
	defer rows.Close()

	var out []domain.Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, persistErr(err, "failed to scan plugin", "table", "plugins")
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPlugin(r rowScanner) (*domain.Plugin, error) {
	var p domain.Plugin
	var registeredAt string
	if err := r.Scan(&p.ID, &p.Name, &p.Version, &p.Description, &p.Endpoint, &p.Enabled, &registeredAt); err != nil {
		return nil, err
	}
	p.RegisteredAt = parseTime(registeredAt)
	return &p, nil
}
