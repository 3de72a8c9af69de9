package main

import (
	"github.com/spf13/cobra"

	"github.com/michaelbrown/jsbox/internal/mcptool"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the run_js tool over MCP on stdin/stdout",
	Long: `Serve an MCP server named "jsbox" with a single run_js tool on stdio, for
use by MCP-capable clients.

Examples:
  jsbox mcp
  jsbox mcp --url http://localhost:8081/run_js`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return mcptool.ServeStdio(sandboxFor(cfg, urlFlag), version)
	},
}

func init() {
	mcpCmd.Flags().StringVar(&urlFlag, "url", "", "Forward calls to a remote /run_js endpoint")
	rootCmd.AddCommand(mcpCmd)
}
