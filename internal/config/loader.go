package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
//
// A .env file next to the config file is loaded first; it never overrides
// variables already present in the process environment.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return cfg, &ConfigError{Message: "failed to load .env: " + err.Error()}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	cfg.Gateway.Auth.Token = expandEnvVars(cfg.Gateway.Auth.Token)
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Marshal renders cfg as YAML.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	d := Defaults()

	setString(&cfg.Gateway.Bind, d.Gateway.Bind)
	setString(&cfg.Gateway.Auth.Mode, d.Gateway.Auth.Mode)
	setInt(&cfg.Gateway.Port, d.Gateway.Port)

	setString(&cfg.Runtime.BaseURL, d.Runtime.BaseURL)
	setInt(&cfg.Runtime.ConnectTimeoutMs, d.Runtime.ConnectTimeoutMs)
	setInt(&cfg.Runtime.ReadTimeoutMs, d.Runtime.ReadTimeoutMs)
	setInt(&cfg.Runtime.AdminTimeoutMs, d.Runtime.AdminTimeoutMs)
	setInt(&cfg.Runtime.MaxIdleConns, d.Runtime.MaxIdleConns)

	setString(&cfg.Relay.DefaultModel, d.Relay.DefaultModel)
	setString(&cfg.Relay.FallbackNotice, d.Relay.FallbackNotice)
	setInt(&cfg.Relay.TurnTimeoutMs, d.Relay.TurnTimeoutMs)
	setInt(&cfg.Relay.MaxConcurrent, d.Relay.MaxConcurrent)
	setInt(&cfg.Relay.FallbackPacingMs, d.Relay.FallbackPacingMs)

	setString(&cfg.Sessions.DefaultTitle, d.Sessions.DefaultTitle)
	setString(&cfg.Sessions.DefaultModel, d.Sessions.DefaultModel)
	setString(&cfg.Sessions.DefaultOwner, d.Sessions.DefaultOwner)

	setString(&cfg.Tasks.AgentName, d.Tasks.AgentName)
	setString(&cfg.Tasks.DefaultSessionID, d.Tasks.DefaultSessionID)
	setString(&cfg.Tasks.DefaultPermission, d.Tasks.DefaultPermission)
	setString(&cfg.Tasks.AskPolicy, d.Tasks.AskPolicy)
	setInt(&cfg.Tasks.DispatchTimeoutMs, d.Tasks.DispatchTimeoutMs)
	setInt(&cfg.Tasks.TelemetryQueue, d.Tasks.TelemetryQueue)
	setInt(&cfg.Tasks.TelemetryWorkers, d.Tasks.TelemetryWorkers)

	setInt(&cfg.Plugins.CallTimeoutMs, d.Plugins.CallTimeoutMs)

	setString(&cfg.Store.Driver, d.Store.Driver)
	setString(&cfg.Logging.Level, d.Logging.Level)
	setString(&cfg.Logging.ConsoleStyle, d.Logging.ConsoleStyle)
	setString(&cfg.Telemetry.ServiceName, d.Telemetry.ServiceName)
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

// applyEnvOverrides reads PARLEY_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("PARLEY_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("PARLEY_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Token = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PARLEY_RUNTIME_URL"); v != "" {
		cfg.Runtime.BaseURL = v
	}
	if v := os.Getenv("PARLEY_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = strings.ToLower(v)
	}
	if v := os.Getenv("PARLEY_OTEL_ENDPOINT"); v != "" {
		cfg.Telemetry.Endpoint = v
	}
}
