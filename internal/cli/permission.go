package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newPermissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "permission",
		Aliases: []string{"perm"},
		Short:   "Manage tool permissions",
	}

	cmd.AddCommand(newPermissionGetCmd())
	cmd.AddCommand(newPermissionSetCmd())
	cmd.AddCommand(newPermissionListCmd())
	return cmd
}

func newPermissionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <tool>",
		Short: "Show the effective permission of a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			p, err := a.tasks.Gate().Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n", p.ToolName, p.Status)
			return nil
		},
	}
}

func newPermissionSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <tool> <ALLOWED|BLOCKED|ASK>",
		Short: "Set the permission of a tool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			p, err := a.tasks.UpdatePermission(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Set %s = %s\n", p.ToolName, p.Status)
			return nil
		},
	}
}

func newPermissionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored tool permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			gate := a.tasks.Gate()
			perms, err := gate.List(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("  default  %s\n", gate.Default())
			for _, p := range perms {
				fmt.Printf("  %-20s %s\n", p.ToolName, p.Status)
			}
			return nil
		},
	}
}
