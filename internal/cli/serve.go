package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/gateway"
	"github.com/soyeahso/parley/internal/logging"
	"github.com/soyeahso/parley/internal/telemetry"
	"github.com/soyeahso/parley/internal/version"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Start the parley gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			runLog, closeLog, err := logging.Open(logging.Options{
				Level: cfg.Logging.Level,
				Style: cfg.Logging.ConsoleStyle,
				File:  cfg.Logging.File,
			})
			if err != nil {
				return fmt.Errorf("opening log: %w", err)
			}
			defer closeLog()

			if issues := config.Validate(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					runLog.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}
			if err := paths.EnsureDirs(); err != nil {
				return fmt.Errorf("creating parley directories: %w", err)
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, version.Version)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, runLog)
			if err != nil {
				return err
			}

			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					runLog.Warn().Err(err).Msg("shutdown incomplete")
				}
				if err := shutdownTelemetry(closeCtx); err != nil {
					runLog.Warn().Err(err).Msg("telemetry flush failed")
				}
			}()

			runLog.Info().
				Str("version", version.Version).
				Str("runtime", cfg.Runtime.BaseURL).
				Str("store", cfg.Store.Driver).
				Msg("starting parley")

			return gateway.New(cfg, a.services(), runLog).Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (loopback, lan, custom)")

	return cmd
}
