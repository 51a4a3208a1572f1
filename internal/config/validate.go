package config

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/logging"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway validation
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	validAuthModes := []string{"token", "none"}
	if !slices.Contains(validAuthModes, cfg.Gateway.Auth.Mode) {
		add("gateway.auth.mode", "must be one of %v, got %q", validAuthModes, cfg.Gateway.Auth.Mode)
	}
	if cfg.Gateway.Auth.Mode == "token" && cfg.Gateway.Auth.Token == "" {
		add("gateway.auth.token", "required when auth mode is token")
	}
	if cfg.Gateway.Auth.Mode == "none" && cfg.Gateway.Bind != "loopback" {
		add("gateway.auth.mode", "auth mode none is only allowed with loopback bind")
	}
	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		add("gateway.tls", "certPath and keyPath are required when TLS is enabled")
	}

	// Runtime validation
	if u, err := url.Parse(cfg.Runtime.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("runtime.baseUrl", "must be an absolute URL, got %q", cfg.Runtime.BaseURL)
	}
	if cfg.Runtime.ConnectTimeoutMs <= 0 {
		add("runtime.connectTimeoutMs", "must be positive")
	}
	if cfg.Runtime.ReadTimeoutMs <= 0 {
		add("runtime.readTimeoutMs", "must be positive")
	}
	if cfg.Runtime.AdminTimeoutMs <= 0 {
		add("runtime.adminTimeoutMs", "must be positive")
	}
	if cfg.Plugins.CallTimeoutMs <= 0 {
		add("plugins.callTimeoutMs", "must be positive")
	}

	// Relay validation
	if cfg.Relay.TurnTimeoutMs <= 0 {
		add("relay.turnTimeoutMs", "must be positive")
	}
	if cfg.Relay.MaxConcurrent <= 0 {
		add("relay.maxConcurrent", "must be positive")
	}
	if cfg.Relay.FallbackPacingMs < 0 {
		add("relay.fallbackPacingMs", "must not be negative")
	}

	// Tasks validation
	if _, err := domain.ParsePermissionStatus(cfg.Tasks.DefaultPermission); err != nil {
		add("tasks.defaultPermission", "must be one of ALLOWED, BLOCKED, ASK, got %q", cfg.Tasks.DefaultPermission)
	}
	validAskPolicies := []string{"allow", "deny"}
	if !slices.Contains(validAskPolicies, cfg.Tasks.AskPolicy) {
		add("tasks.askPolicy", "must be one of %v, got %q", validAskPolicies, cfg.Tasks.AskPolicy)
	}
	if cfg.Tasks.DispatchTimeoutMs <= 0 {
		add("tasks.dispatchTimeoutMs", "must be positive")
	}
	if cfg.Tasks.TelemetryQueue <= 0 {
		add("tasks.telemetryQueue", "must be positive")
	}
	if cfg.Tasks.TelemetryWorkers <= 0 {
		add("tasks.telemetryWorkers", "must be positive")
	}

	// Store validation
	validDrivers := []string{"sqlite", "memory"}
	if !slices.Contains(validDrivers, cfg.Store.Driver) {
		add("store.driver", "must be one of %v, got %q", validDrivers, cfg.Store.Driver)
	}

	// Logging validation
	if cfg.Logging.Level != "" && !slices.Contains(logging.Levels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", logging.Levels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
