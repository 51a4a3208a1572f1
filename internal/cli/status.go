package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/soyeahso/parley/internal/config"
	"github.com/soyeahso/parley/internal/version"
)

var (
	okMark   = color.New(color.FgGreen).SprintFunc()
	failMark = color.New(color.FgRed).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show parley configuration and probe the gateway and runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("parley %s %s\n\n", version.Version, dim("(commit "+version.Commit+")"))

			fmt.Printf("Config:  %s\n", paths.Config)
			fmt.Printf("Data:    %s\n", paths.Data)
			fmt.Println()

			cfg, err := loadConfig()
			if err != nil {
				fmt.Printf("Config:  %s %v\n", failMark("error"), err)
				return nil
			}
			if _, err := os.Stat(paths.Config); os.IsNotExist(err) {
				fmt.Println(dim("Config file not found, using defaults"))
			}

			fmt.Printf("Gateway: port=%d bind=%s auth=%s tls=%v\n",
				cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)
			fmt.Printf("Runtime: %s %s\n", cfg.Runtime.BaseURL, dim(fmt.Sprintf("(read timeout %s)", cfg.Runtime.ReadTimeout())))
			fmt.Printf("Relay:   model=%s turnTimeout=%s maxConcurrent=%d\n",
				cfg.Relay.DefaultModel, cfg.Relay.TurnTimeout(), cfg.Relay.MaxConcurrent)
			fmt.Printf("Tasks:   agent=%s default=%s ask=%s\n",
				cfg.Tasks.AgentName, cfg.Tasks.DefaultPermission, cfg.Tasks.AskPolicy)
			fmt.Printf("Store:   %s %s\n", cfg.Store.Driver, dim(paths.DatabasePath(cfg.Store)))
			fmt.Println()

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			probe(ctx, "Gateway", gatewayURL(cfg)+"/health")
			probe(ctx, "Runtime", cfg.Runtime.BaseURL)

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Printf("\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Printf("  - %s: %s\n", issue.Path, issue.Message)
				}
			}
			return nil
		},
	}
}

// gatewayURL is where a local client reaches the configured gateway.
func gatewayURL(cfg config.Config) string {
	scheme := "http"
	if cfg.Gateway.TLS.Enabled {
		scheme = "https"
	}
	host := "127.0.0.1"
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost != "" {
		host = cfg.Gateway.CustomBindHost
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, cfg.Gateway.Port)
}

// probe reports whether url answers at all; any HTTP response counts as up.
func probe(ctx context.Context, name, url string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		fmt.Printf("%-8s %s %v\n", name+":", failMark("invalid"), err)
		return
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("%-8s %s %s\n", name+":", failMark("unreachable"), dim(url))
		return
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	detail := resp.Status
	if json.NewDecoder(resp.Body).Decode(&health) == nil && health.Status != "" {
		detail = health.Status
	}
	fmt.Printf("%-8s %s %s\n", name+":", okMark("up"), dim(detail))
}
