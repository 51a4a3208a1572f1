package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/gateway"
	"github.com/soyeahso/parley/internal/hooks"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/plugin"
	"github.com/soyeahso/parley/internal/relay"
	"github.com/soyeahso/parley/internal/runtime"
	"github.com/soyeahso/parley/internal/store"
	"github.com/soyeahso/parley/internal/tasks"
	"github.com/soyeahso/parley/internal/telemetry"
)

// backingStore is everything the components need from persistence.
type backingStore interface {
	gateway.SessionStore
	relay.TranscriptStore
	tasks.LogStore
	tasks.PermissionStore
	telemetry.MetricStore
	gateway.MetricReader
	plugin.Store
}

// sqliteStore joins the per-table SQLite stores over one database.
type sqliteStore struct {
	*store.SQLiteTranscriptStore
	*store.SQLiteAgentLogStore
	*store.SQLitePermissionStore
	*store.SQLiteMetricStore
	*store.SQLitePluginStore
}

// app holds the wired components for one process.
type app struct {
	cfg      config.Config
	store    backingStore
	relay    *relay.Relay
	tasks    *tasks.Executor
	recorder *telemetry.Recorder
	hooks    *hooks.Manager
	upstream *runtime.HTTPClient
	plugins  *plugin.Registry

	closers []func(context.Context) error
}

// newApp opens the store and builds the relay and task pipeline from cfg.
func newApp(cfg config.Config, log *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, hooks: hooks.NewManager(log)}

	switch cfg.Store.Driver {
	case "memory":
		a.store = store.NewMemory()
		log.Info().Msg("using in-memory store")
	case "sqlite", "":
		dbPath := paths.DatabasePath(cfg.Store)
		db, err := store.Open(dbPath, log)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		a.store = sqliteStore{
			SQLiteTranscriptStore: store.NewSQLiteTranscriptStore(db),
			SQLiteAgentLogStore:   store.NewSQLiteAgentLogStore(db),
			SQLitePermissionStore: store.NewSQLitePermissionStore(db),
			SQLiteMetricStore:     store.NewSQLiteMetricStore(db),
			SQLitePluginStore:     store.NewSQLitePluginStore(db),
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	// Event handlers finish before the store closes.
	a.closers = append(a.closers, func(context.Context) error {
		a.hooks.Wait()
		return nil
	})

	hc := runtime.NewPooledHTTPClient(cfg.Runtime.ConnectTimeout(), cfg.Runtime.ReadTimeout(), cfg.Runtime.MaxIdleConns)
	upstream := runtime.NewHTTPClient(runtime.Options{
		BaseURL:      cfg.Runtime.BaseURL,
		ReadTimeout:  cfg.Runtime.ReadTimeout(),
		AdminTimeout: cfg.Runtime.AdminTimeout(),
	}, hc, log)
	a.upstream = upstream

	a.relay = relay.New(relay.Config{
		DefaultModel:   cfg.Relay.DefaultModel,
		TurnTimeout:    cfg.Relay.TurnTimeout(),
		MaxConcurrent:  cfg.Relay.MaxConcurrent,
		PersistPartial: cfg.Relay.PersistPartial,
	}, a.store, upstream, relay.NewFallbackGenerator(cfg.Relay.FallbackNotice, cfg.Relay.FallbackPacing()), log, relay.WithNotifier(a.hooks))

	a.recorder = telemetry.NewRecorder(telemetry.RecorderConfig{
		QueueSize: cfg.Tasks.TelemetryQueue,
		Workers:   cfg.Tasks.TelemetryWorkers,
	}, a.store, log)
	a.closers = append(a.closers, a.recorder.Close)

	def, err := domain.ParsePermissionStatus(cfg.Tasks.DefaultPermission)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	gate := tasks.NewGate(a.store, def, log)
	a.tasks = tasks.NewExecutor(tasks.Config{
		AgentName:        cfg.Tasks.AgentName,
		DefaultSessionID: cfg.Tasks.DefaultSessionID,
		AskPolicy:        tasks.AskPolicy(cfg.Tasks.AskPolicy),
		DispatchTimeout:  cfg.Tasks.DispatchTimeout(),
	}, gate, a.store, upstream, a.recorder, log, tasks.WithNotifier(a.hooks))

	a.plugins = plugin.NewRegistry(a.hooks, a.store, log,
		plugin.WithHTTPClient(hc),
		plugin.WithCallTimeout(cfg.Plugins.CallTimeout()),
	)
	if err := a.plugins.Register(plugin.NewStats()); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	if err := a.plugins.InitAll(context.Background()); err != nil {
		_ = a.Close(context.Background())
		return nil, fmt.Errorf("initializing plugins: %w", err)
	}
	// Plugins unsubscribe before the hook bus drains.
	a.closers = append(a.closers, func(context.Context) error {
		a.plugins.CloseAll()
		return nil
	})

	return a, nil
}

// services exposes the components to the gateway.
func (a *app) services() gateway.Services {
	return gateway.Services{
		Sessions: a.store,
		Relay:    a.relay,
		Tasks:    a.tasks,
		Metrics:  a.store,
		Hooks:    a.hooks,
		MCP:      a.upstream,
		Plugins:  a.plugins,
	}
}

// Close releases resources in reverse order of acquisition. The telemetry
// queue drains before the database closes.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
