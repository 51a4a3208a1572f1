package config

import (
	"time"

	"github.com/soyeahso/parley/internal/domain"
)

// Config is the root configuration for parley.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Runtime   RuntimeConfig   `yaml:"runtime,omitempty"`
	Relay     RelayConfig     `yaml:"relay,omitempty"`
	Sessions  SessionsConfig  `yaml:"sessions,omitempty"`
	Tasks     TasksConfig     `yaml:"tasks,omitempty"`
	Plugins   PluginsConfig   `yaml:"plugins,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket gateway.
type GatewayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	Auth           GatewayAuth `yaml:"auth,omitempty"`
	TLS            GatewayTLS  `yaml:"tls,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
}

// GatewayAuth configures gateway authentication.
type GatewayAuth struct {
	Mode  string `yaml:"mode,omitempty"` // "token" | "none"
	Token string `yaml:"token,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// RuntimeConfig points at the external inference/execution runtime.
type RuntimeConfig struct {
	BaseURL          string `yaml:"baseUrl,omitempty"`
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs,omitempty"`
	ReadTimeoutMs    int    `yaml:"readTimeoutMs,omitempty"` // max silence between streamed lines
	AdminTimeoutMs   int    `yaml:"adminTimeoutMs,omitempty"` // per MCP management call
	MaxIdleConns     int    `yaml:"maxIdleConns,omitempty"`
}

// ConnectTimeout returns the dial timeout.
func (c RuntimeConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the streaming idle timeout.
func (c RuntimeConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutMs) * time.Millisecond
}

// AdminTimeout returns the bound on one MCP management call.
func (c RuntimeConfig) AdminTimeout() time.Duration {
	return time.Duration(c.AdminTimeoutMs) * time.Millisecond
}

// RelayConfig controls chat turn streaming.
type RelayConfig struct {
	DefaultModel     string `yaml:"defaultModel,omitempty"`
	TurnTimeoutMs    int    `yaml:"turnTimeoutMs,omitempty"`
	MaxConcurrent    int    `yaml:"maxConcurrent,omitempty"`
	PersistPartial   bool   `yaml:"persistPartial,omitempty"`
	FallbackNotice   string `yaml:"fallbackNotice,omitempty"`
	FallbackPacingMs int    `yaml:"fallbackPacingMs,omitempty"`
}

// TurnTimeout returns the hard bound on one chat turn.
func (c RelayConfig) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutMs) * time.Millisecond
}

// FallbackPacing returns the delay between degraded-mode chunks.
func (c RelayConfig) FallbackPacing() time.Duration {
	return time.Duration(c.FallbackPacingMs) * time.Millisecond
}

// SessionsConfig holds defaults for newly created sessions.
type SessionsConfig struct {
	DefaultTitle string `yaml:"defaultTitle,omitempty"`
	DefaultModel string `yaml:"defaultModel,omitempty"`
	DefaultOwner string `yaml:"defaultOwner,omitempty"`
}

// TasksConfig controls agent task dispatch and its telemetry.
type TasksConfig struct {
	AgentName         string `yaml:"agentName,omitempty"`
	DefaultSessionID  string `yaml:"defaultSessionId,omitempty"`
	DefaultPermission string `yaml:"defaultPermission,omitempty"` // "ALLOWED" | "BLOCKED" | "ASK"
	AskPolicy         string `yaml:"askPolicy,omitempty"`         // "allow" | "deny"
	DispatchTimeoutMs int    `yaml:"dispatchTimeoutMs,omitempty"`
	TelemetryQueue    int    `yaml:"telemetryQueue,omitempty"`
	TelemetryWorkers  int    `yaml:"telemetryWorkers,omitempty"`
}

// DispatchTimeout returns the bound on one runtime dispatch round trip.
func (c TasksConfig) DispatchTimeout() time.Duration {
	return time.Duration(c.DispatchTimeoutMs) * time.Millisecond
}

// PluginsConfig controls the plugin registry.
type PluginsConfig struct {
	CallTimeoutMs int `yaml:"callTimeoutMs,omitempty"` // per external plugin call
}

// CallTimeout returns the bound on one external plugin call.
func (c PluginsConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMs) * time.Millisecond
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" | "memory"
	Path   string `yaml:"path,omitempty"`   // defaults to <data>/parley.db
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// TelemetryConfig configures OTLP export. An empty endpoint disables export.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	Insecure    bool   `yaml:"insecure,omitempty"`
	ServiceName string `yaml:"serviceName,omitempty"`
}

// NewSession builds a session, filling empty fields from the defaults.
func (c SessionsConfig) NewSession(title, model, owner string) domain.Session {
	s := domain.Session{Title: title, ModelID: model, OwnerID: owner}
	s.ApplyDefaults(c.DefaultTitle, c.DefaultModel, c.DefaultOwner)
	return s
}
