package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/soyeahso/parley/internal/domain"
	"github.com/soyeahso/parley/internal/runtime"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Dispatch agent tasks and inspect their logs",
	}

	cmd.AddCommand(newAgentExecCmd())
	cmd.AddCommand(newAgentLogsCmd())
	cmd.AddCommand(newAgentMCPCmd())
	return cmd
}

func newAgentExecCmd() *cobra.Command {
	var (
		sessionID string
		tools     []string
	)
	cmd := &cobra.Command{
		Use:   "exec [task]",
		Short: "Run one agent task on the runtime",
		Args:  cobra.MinimumNArgs(1),
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

			out, err := a.tasks.Execute(cmd.Context(), domain.TaskDescriptor{
				SessionID: sessionID,
				Task:      strings.Join(args, " "),
				Tools:     tools,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s  %s\n%s\n", out.TaskID, out.Result, out.Summary)
			if out.Result != domain.TaskSuccess {
				return fmt.Errorf("task %s did not succeed", out.TaskID)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session the task belongs to")
	cmd.Flags().StringSliceVarP(&tools, "tool", "t", nil, "tool the task may use (repeatable)")
	return cmd
}

func newAgentLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logs [session-id]",
		Short: "Show task logs for a session",
		Args:  cobra.MaximumNArgs(1),
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

			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			}
			logs, err := a.tasks.Logs(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			for _, l := range logs {
				fmt.Printf("  %s  %-36s  %-7s  %-8s  tools=%s\n",
					l.Timestamp.Local().Format("2006-01-02 15:04:05"), l.TaskID, l.Result, l.PermissionFlag, l.Tool)
			}
			return nil
		},
	}
}

func newAgentMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage the runtime's MCP servers",
	}

	// withRuntime runs fn against the configured runtime.
	withRuntime := func(fn func(ctx context.Context, rt *runtime.HTTPClient, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			return fn(cmd.Context(), a.upstream, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List MCP servers",
		RunE: withRuntime(func(ctx context.Context, rt *runtime.HTTPClient, _ []string) error {
			mcps, err := rt.ListMCPs(ctx)
			if err != nil {
				return err
			}
			for _, m := range mcps {
				state := "off"
				if m.Enabled {
					state = "on"
				}
				fmt.Printf("  %-20s  %-3s  %s %s\n", m.ID, state, m.Command, strings.Join(m.Args, " "))
			}
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "enable [id]",
		Short: "Enable an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime.HTTPClient, args []string) error {
			return rt.ToggleMCP(ctx, args[0], true)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "disable [id]",
		Short: "Disable an MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime.HTTPClient, args []string) error {
			return rt.ToggleMCP(ctx, args[0], false)
		}),
	})

	var server runtime.MCPServer
	add := &cobra.Command{
		Use:   "add [id] [command] [args...]",
		Short: "Add a custom MCP server",
		Args:  cobra.MinimumNArgs(2),
		RunE: withRuntime(func(ctx context.Context, rt *runtime.HTTPClient, args []string) error {
			server.ID, server.Command, server.Args = args[0], args[1], args[2:]
			if server.Name == "" {
				server.Name = server.ID
			}
			return rt.AddMCP(ctx, server)
		}),
	}
	add.Flags().StringVar(&server.Name, "name", "", "display name")
	add.Flags().StringVar(&server.Description, "description", "", "description")
	add.Flags().StringToStringVar(&server.Env, "env", nil, "environment variable KEY=VALUE (repeatable)")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a custom MCP server",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, rt *runtime.HTTPClient, args []string) error {
			return rt.DeleteMCP(ctx, args[0])
		}),
	})
	return cmd
}
