package tasks

import (
	"context"
	"testing"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestGate_DefaultForUnknownTool(t *testing.T) {
	g := NewGate(store.NewMemory(), "", silentLog())
	p, err := g.Get(context.Background(), "shell")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionAsk, p.Status)
	assert.Equal(t, "shell", p.ToolName)

	g = NewGate(store.NewMemory(), domain.PermissionBlocked, silentLog())
	p, err = g.Get(context.Background(), "shell")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionBlocked, p.Status)
}

func TestGate_SetThenGet(t *testing.T) {
	g := NewGate(store.NewMemory(), domain.PermissionAsk, silentLog())
	ctx := context.Background()

	p, err := g.Set(ctx, "fs", "allowed")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionAllowed, p.Status)

	got, err := g.Get(ctx, "fs")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionAllowed, got.Status)

	_, err = g.Set(ctx, "fs", "BLOCKED")
	require.NoError(t, err)
	got, err = g.Get(ctx, "fs")
	require.NoError(t, err)
	assert.Equal(t, domain.PermissionBlocked, got.Status)

	all, err := g.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.ToolPermission{{ToolName: "fs", Status: domain.PermissionBlocked}}, all)
}

func TestGate_SetRejectsInvalidInput(t *testing.T) {
	g := NewGate(store.NewMemory(), domain.PermissionAsk, silentLog())
	tests := []struct {
		name   string
		tool   string
		status string
	}{
		{"unknown status", "fs", "MAYBE"},
		{"empty status", "fs", ""},
		{"empty tool", " ", "ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Set(context.Background(), tt.tool, tt.status)
			assert.ErrorIs(t, err, domain.ErrValidation)
		})
	}
}

func TestGate_Evaluate(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.UpsertPermission(ctx, domain.ToolPermission{ToolName: "shell", Status: domain.PermissionBlocked}))
	require.NoError(t, mem.UpsertPermission(ctx, domain.ToolPermission{ToolName: "fs", Status: domain.PermissionAllowed}))
	g := NewGate(mem, domain.PermissionAsk, silentLog())

	v, err := g.Evaluate(ctx, []string{"fs", "shell", "web", "web"})
	require.NoError(t, err)
	assert.Equal(t, []string{"shell"}, v.Blocked)
	assert.Equal(t, []string{"web"}, v.Ask)
	assert.True(t, v.Denied())

	v, err = g.Evaluate(ctx, nil)
	require.NoError(t, err)
	assert.False(t, v.Denied())
	assert.Empty(t, v.Ask)
}
