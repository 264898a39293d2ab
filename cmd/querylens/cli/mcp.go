package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	qmcp "github.com/querylens/querylens/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes query explanation
and fingerprinting as tools for AI agents. Supports stdio (default) and
Streamable HTTP transports.

In stdio mode, the server communicates over stdin/stdout using JSON-RPC,
suitable for MCP clients that launch it as a subprocess.`,
		Example: `  querylens mcp                              # stdio mode
  querylens mcp --transport http --port 3001  # Streamable HTTP mode`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(transport, port)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")

	return cmd
}

func runMCP(transport string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	svc, _, coll := buildService(ctx, cfg, st, logger)
	if coll != nil {
		defer coll.Close()
	}
	defer svc.Wait()

	mcpSrv := qmcp.NewMCPServer(svc, logger)

	switch transport {
	case "stdio":
		return mcpSrv.ServeStdio()
	case "http":
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	default:
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
}
