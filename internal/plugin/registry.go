package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/version"
)

const maxResultBody = 1 << 20

// Registry manages plugin lifecycle and dispatches actions to builtin and
// external plugins.
type Registry struct {
	mu           sync.RWMutex
	plugins      map[string]Plugin
	registeredAt map[string]time.Time
	order        []string // insertion order for deterministic lifecycle
	hooks        *hooks.Manager
	store        Store
	http         *http.Client
	callTimeout  time.Duration
	log          *logging.Logger
}

// Option customizes a Registry.
type Option func(*Registry)

// WithHTTPClient sets the client used to call external plugins.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Registry) { r.http = hc }
}

// WithCallTimeout bounds each external plugin call.
func WithCallTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.callTimeout = d
		}
	}
}

// NewRegistry creates a plugin registry backed by st.
func NewRegistry(hm *hooks.Manager, st Store, log *logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		plugins:      make(map[string]Plugin),
		registeredAt: make(map[string]time.Time),
		hooks:        hm,
		store:        st,
		http:         &http.Client{},
		callTimeout:  10 * time.Second,
		log:          log.Sub("plugins"),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Register adds a builtin plugin to the registry without initializing it.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.ID()]; exists {
		return fmt.Errorf("%w: plugin already registered: %s", domain.ErrConflict, p.ID())
	}

	r.plugins[p.ID()] = p
	r.registeredAt[p.ID()] = time.Now().UTC()
	r.order = append(r.order, p.ID())

	r.log.Info().
		Str("id", p.ID()).
		Str("name", p.Name()).
		Str("version", p.Version()).
		Msg("plugin registered")

	return nil
}

// InitAll initializes all builtin plugins in registration order.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		p := r.plugins[id]
		api := API{
			Hooks: r.hooks,
			Log:   r.log.Sub(id),
		}

		r.log.Info().Str("id", id).Msg("initializing plugin")
		if err := p.Init(ctx, api); err != nil {
			return fmt.Errorf("init plugin %s: %w", id, err)
		}
	}
	return nil
}

// CloseAll shuts down all builtin plugins in reverse registration order.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.order) - 1; i >= 0; i-- {
		id := r.order[i]
		r.log.Info().Str("id", id).Msg("closing plugin")
		if err := r.plugins[id].Close(); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("plugin close error")
		}
	}
}

// Get returns a builtin plugin by ID, or nil if not found.
func (r *Registry) Get(id string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[id]
}

// IDs returns builtin plugin IDs in registration order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of builtin plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// RegisterExternal validates and stores an external plugin. Registering an
// existing ID replaces it; builtin IDs are reserved.
func (r *Registry) RegisterExternal(ctx context.Context, p domain.Plugin) (*domain.Plugin, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Name = strings.TrimSpace(p.Name)
	p.Endpoint = strings.TrimSpace(p.Endpoint)
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if r.Get(p.ID) != nil {
		return nil, fmt.Errorf("%w: plugin id %q is reserved by a builtin plugin", domain.ErrConflict, p.ID)
	}

	p.Enabled = true
	p.Builtin = false
	p.RegisteredAt = time.Now().UTC()
	if err := r.store.UpsertPlugin(ctx, p); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("id", p.ID).
		Str("name", p.Name).
		Str("endpoint", p.Endpoint).
		Msg("external plugin registered")
	return &p, nil
}

// List returns builtin plugins first, then external registrations.
func (r *Registry) List(ctx context.Context) ([]domain.Plugin, error) {
	r.mu.RLock()
	out := make([]domain.Plugin, 0, len(r.order))
	for _, id := range r.order {
		p := r.plugins[id]
		out = append(out, domain.Plugin{
			ID:           id,
			Name:         p.Name(),
			Version:      p.Version(),
			Enabled:      true,
			Builtin:      true,
			RegisteredAt: r.registeredAt[id],
		})
	}
	r.mu.RUnlock()

	stored, err := r.store.ListPlugins(ctx)
	if err != nil {
		return nil, err
	}
	return append(out, stored...), nil
}

// Execute runs action on the plugin with the given id.
func (r *Registry) Execute(ctx context.Context, id, action string, args map[string]any) (string, error) {
	id = strings.TrimSpace(id)
	action = strings.TrimSpace(action)
	if id == "" {
		return "", fmt.Errorf("%w: pluginId is required", domain.ErrValidation)
	}
	if action == "" {
		return "", fmt.Errorf("%w: action is required", domain.ErrValidation)
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	var (
		result string
		err    error
	)
	if p := r.Get(id); p != nil {
		result, err = p.Execute(ctx, action, args)
	} else {
		result, err = r.callExternal(ctx, id, action, args)
	}

	ev := r.log.Debug()
	if err != nil {
		ev = r.log.Warn().Err(err)
	}
	ev.Str("id", id).Str("action", action).Dur("duration", time.Since(start)).Msg("plugin action")
	return result, err
}

// callExternal posts {pluginId, action, arguments} to the plugin endpoint and
// returns the response body.
func (r *Registry) callExternal(ctx context.Context, id, action string, args map[string]any) (string, error) {
	p, err := r.store.GetPlugin(ctx, id)
	if err != nil {
		return "", err
	}
	if !p.Enabled {
		return "", fmt.Errorf("%w: plugin %q is disabled", domain.ErrConflict, id)
	}

	payload, err := json.Marshal(map[string]any{
		"pluginId":  id,
		"action":    action,
		"arguments": args,
	})
	if err != nil {
		return "", fmt.Errorf("%w: arguments are not serializable: %v", domain.ErrValidation, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := r.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: plugin %s: %w", domain.ErrUpstream, id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBody))
	if err != nil {
		return "", fmt.Errorf("%w: reading plugin %s response: %w", domain.ErrUpstream, id, err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: plugin %s returned %d: %s", domain.ErrUpstream, id, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}
