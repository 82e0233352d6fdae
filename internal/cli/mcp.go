// mcp.go implements "tinymem mcp", the MCP stdio bridge agents launch to
// reach a running tinymem server.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinymem-dev/tinymem/internal/coordinator"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the tinymem MCP tools over stdio",
	Long: `Serve the tinymem_* MCP tools on stdin/stdout. Each tool call is
forwarded to the tinymem HTTP server at bridge.host:bridge.port
(TINYMEM_HOST and TINYMEM_PORT), authenticated with TINYMEM_TOKEN.`,
	RunE: runMCP,
}

var (
	mcpURL   string
	mcpToken string
)

func init() {
	mcpCmd.Flags().StringVar(&mcpURL, "url", "", "Server base URL (default from bridge config)")
	mcpCmd.Flags().StringVar(&mcpToken, "token", "", "Bearer token (overrides TINYMEM_TOKEN)")
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	base := cfg.BridgeURL()
	if mcpURL != "" {
		base = mcpURL
	}
	token := cfg.Server.Token
	if cmd.Flags().Changed("token") {
		token = mcpToken
	}

	bridge := coordinator.NewBridge(coordinator.BridgeOptions{
		BaseURL: base,
		Token:   token,
		Version: version,
	})
	if err := bridge.Serve(cmd.Context(), os.Stdin, os.Stdout); err != nil {
		return fmt.Errorf("mcp bridge: %w", err)
	}
	return nil
}
