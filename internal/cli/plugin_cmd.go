package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "List and run plugins",
	}
	cmd.AddCommand(newPluginListCmd())
	cmd.AddCommand(newPluginExecCmd())
	return cmd
}

func newPluginListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List builtin and registered plugins",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			plugins, err := a.plugins.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range plugins {
				kind := p.Endpoint
				if p.Builtin {
					kind = "builtin"
				}
				fmt.Printf("  %-20s  %-8s  %s\n", p.ID, p.Version, kind)
			}
			return nil
		},
	}
}

func newPluginExecCmd() *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "exec [plugin-id] [action]",
		Short: "Run one plugin action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var arguments map[string]any
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &arguments); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			out, err := a.plugins.Execute(cmd.Context(), args[0], args[1], arguments)
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "action arguments as a JSON object")
	return cmd
}
