package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"sessions"},
		Short:   "Manage chat sessions",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionRenameCmd())
	cmd.AddCommand(newSessionDeleteCmd())
	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	var (
		model string
		owner string
	)
	cmd := &cobra.Command{
		Use:   "create [title]",
		Short: "Create a session",
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

			sess, err := a.store.CreateSession(cmd.Context(), cfg.Sessions.NewSession(strings.Join(args, " "), model, owner))
			if err != nil {
				return err
			}
			fmt.Println(sess.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model for the session")
	cmd.Flags().StringVar(&owner, "owner", "", "owning user")
	return cmd
}

func newSessionListCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
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

			sessions, err := a.store.ListSessions(cmd.Context(), owner)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("(no sessions)")
				return nil
			}
			for _, s := range sessions {
				fmt.Printf("  %-36s  %-20s  model=%s  %s\n", s.ID, s.Title, s.ModelID, s.CreatedAt.Local().Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only sessions of this user")
	return cmd
}

func newSessionRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <session-id> <title>",
		Short: "Rename a session",
		Args:  cobra.MinimumNArgs(2),
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

			title := strings.TrimSpace(strings.Join(args[1:], " "))
			if title == "" {
				return fmt.Errorf("title must not be blank")
			}
			return a.store.RenameSession(cmd.Context(), args[0], title)
		},
	}
}

func newSessionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session and its transcript",
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

			if err := a.store.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", args[0])
			return nil
		},
	}
}
