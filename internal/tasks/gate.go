// Package tasks dispatches agent tasks to the runtime behind a per-tool
// permission gate and records their lifecycle.
package tasks

import (
	"context"
	"errors"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

// PermissionStore persists tool permissions.
type PermissionStore interface {
	GetPermission(ctx context.Context, tool string) (*domain.ToolPermission, error)
	UpsertPermission(ctx context.Context, p domain.ToolPermission) error
	ListPermissions(ctx context.Context) ([]domain.ToolPermission, error)
}

// Verdict is the gate's decision over a tool list.
type Verdict struct {
	Blocked []string
	Ask     []string
}

// Denied reports whether any tool is blocked outright.
func (v Verdict) Denied() bool { return len(v.Blocked) > 0 }

// Gate answers whether tools may be used. Tools without a stored permission
// get the configured default.
type Gate struct {
	store PermissionStore
	def   domain.PermissionStatus
	log   *logging.Logger
}

// NewGate creates a Gate. An empty default means ASK.
func NewGate(store PermissionStore, def domain.PermissionStatus, log *logging.Logger) *Gate {
	if def == "" {
		def = domain.PermissionAsk
	}
	return &Gate{store: store, def: def, log: log.Sub("permissions")}
}

// Default returns the status applied to unknown tools.
func (g *Gate) Default() domain.PermissionStatus { return g.def }

// Get returns the effective permission for tool.
func (g *Gate) Get(ctx context.Context, tool string) (*domain.ToolPermission, error) {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil, goerr.Wrap(domain.ErrValidation, "tool name is required")
	}
	p, err := g.store.GetPermission(ctx, tool)
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.ToolPermission{ToolName: tool, Status: g.def}, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Set stores a permission; the last write wins.
func (g *Gate) Set(ctx context.Context, tool, status string) (*domain.ToolPermission, error) {
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil, goerr.Wrap(domain.ErrValidation, "tool name is required")
	}
	st, err := domain.ParsePermissionStatus(strings.ToUpper(strings.TrimSpace(status)))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid permission", goerr.V("tool", tool))
	}

	p := domain.ToolPermission{ToolName: tool, Status: st}
	if err := g.store.UpsertPermission(ctx, p); err != nil {
		return nil, err
	}
	g.log.Info().Str("tool", tool).Str("status", string(st)).Msg("permission updated")
	return &p, nil
}

// List returns every stored permission.
func (g *Gate) List(ctx context.Context) ([]domain.ToolPermission, error) {
	return g.store.ListPermissions(ctx)
}

// Evaluate classifies tools by their effective permission.
func (g *Gate) Evaluate(ctx context.Context, tools []string) (Verdict, error) {
	var v Verdict
	seen := make(map[string]bool, len(tools))
	for _, tool := range tools {
		if seen[tool] {
			continue
		}
		seen[tool] = true

		p, err := g.Get(ctx, tool)
		if err != nil {
			return Verdict{}, err
		}
		switch p.Status {
		case domain.PermissionBlocked:
			v.Blocked = append(v.Blocked, tool)
		case domain.PermissionAsk:
			v.Ask = append(v.Ask, tool)
		}
	}
	return v, nil
}
