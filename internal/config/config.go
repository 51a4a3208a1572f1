package config

import (
	"fmt"

	"github.com/soyeahso/parley/internal/domain"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultFallbackNotice is streamed to the caller when the runtime is unreachable.
const DefaultFallbackNotice = "AI runtime is currently unavailable. Please ensure the AI service is running on port 8000."

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
			Auth: GatewayAuth{Mode: "none"},
		},
		Runtime: RuntimeConfig{
			BaseURL:          "http://localhost:8000",
			ConnectTimeoutMs: 5000,
			ReadTimeoutMs:    30000,
			AdminTimeoutMs:   10000,
			MaxIdleConns:     32,
		},
		Relay: RelayConfig{
			DefaultModel:     "default",
			TurnTimeoutMs:    60000,
			MaxConcurrent:    64,
			FallbackNotice:   DefaultFallbackNotice,
			FallbackPacingMs: 100,
		},
		Sessions: SessionsConfig{
			DefaultTitle: domain.DefaultSessionTitle,
			DefaultModel: domain.DefaultSessionModel,
			DefaultOwner: domain.DefaultSessionOwner,
		},
		Tasks: TasksConfig{
			AgentName:         "GeneralAgent",
			DefaultSessionID:  domain.DefaultTaskSession,
			DefaultPermission: string(domain.PermissionAsk),
			AskPolicy:         "allow",
			DispatchTimeoutMs: 60000,
			TelemetryQueue:    256,
			TelemetryWorkers:  2,
		},
		Plugins: PluginsConfig{
			CallTimeoutMs: 10000,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "parley",
		},
	}
}
