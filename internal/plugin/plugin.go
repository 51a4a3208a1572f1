// Package plugin manages parley extensions. Builtin plugins are compiled in
// and subscribe to lifecycle events; external plugins are registered at
// runtime and invoked over HTTP.
package plugin

import (
	"context"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
)

// Plugin is the interface every builtin plugin implements.
type Plugin interface {
	// ID returns a unique identifier for the plugin (e.g., "stats").
	ID() string

	// Name returns a human-readable name.
	Name() string

	// Version returns the plugin version string.
	Version() string

	// Init sets the plugin up. Plugins register hooks here.
	Init(ctx context.Context, api API) error

	// Execute runs one named action and returns its textual result.
	Execute(ctx context.Context, action string, args map[string]any) (string, error)

	// Close shuts down the plugin and releases resources.
	Close() error
}

// API is what a plugin receives at Init.
type API struct {
	Hooks *hooks.Manager
	Log   *logging.Logger
}

// Store persists external plugin registrations.
type Store interface {
	UpsertPlugin(ctx context.Context, p domain.Plugin) error
	GetPlugin(ctx context.Context, id string) (*domain.Plugin, error)
	ListPlugins(ctx context.Context) ([]domain.Plugin, error)
}
