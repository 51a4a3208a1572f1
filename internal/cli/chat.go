package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/parley/internal/relay"
)

func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Send chat turns and read transcripts",
	}

	cmd.AddCommand(newChatSendCmd())
	cmd.AddCommand(newChatHistoryCmd())
	return cmd
}

func newChatSendCmd() *cobra.Command {
	var (
		sessionID string
		model     string
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one turn and stream the reply to stdout",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Without --session a fresh session is opened for this turn.
			if sessionID == "" {
				sess, err := a.store.CreateSession(ctx, cfg.Sessions.NewSession("", model, ""))
				if err != nil {
					return err
				}
				sessionID = sess.ID
				fmt.Fprintf(os.Stderr, "session %s\n", sessionID)
			}

			res, err := a.relay.Send(ctx, relay.TurnRequest{
				SessionID: sessionID,
				Text:      strings.Join(args, " "),
				Model:     model,
			}, func(chunk string) error {
				_, err := fmt.Print(chunk)
				return err
			})
			fmt.Println()
			if err != nil {
				return err
			}
			if res.Degraded {
				fmt.Fprintln(os.Stderr, "(runtime unavailable, fallback reply)")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "session to continue")
	cmd.Flags().StringVarP(&model, "model", "m", "", "model override for this turn")
	return cmd
}

func newChatHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session transcript",
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

			msgs, err := a.relay.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("[%s] %-9s %s\n", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Content)
			}
			return nil
		},
	}
}
