package cmd

import (
	"context"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/joescharf/debthunt/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for Claude Code integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client scan local checkouts and inspect claims. Configure
it with:

  {
    "mcpServers": {
      "debthunt": { "command": "debthunt", "args": ["mcp"] }
    }
  }

Available tools: debthunt_scan, debthunt_list_claims, debthunt_get_claim,
debthunt_stale_claims, debthunt_list_repositories`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals()...)
		defer stop()

		srv := mcp.NewServer(s, newProtocol(s), mcp.ScanConfig{
			Defaults:   repoDefaults(),
			Thresholds: thresholds(),
		}, buildVersion)
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
