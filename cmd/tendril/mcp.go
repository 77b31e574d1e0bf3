package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/aretw0/tendril"
	"github.com/aretw0/tendril/internal/cli"
	"github.com/aretw0/tendril/pkg/adapters/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp [dir]",
	Short: "Run the Model Context Protocol (MCP) server",
	Long: `Exposes the assistant as MCP tools, so other agents can hold conversations with it.

Supported Transports:
- stdio (default): Uses Standard Input/Output. Ideal for local process integration.
- sse: Uses Server-Sent Events over HTTP. Ideal for remote agents or debuggers.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transport, _ := cmd.Flags().GetString("transport")
		port, _ := cmd.Flags().GetInt("port")

		sigCtx := cli.NewSignalContext(cmd.Context())
		defer sigCtx.Cancel()

		// logs go to stderr so they never corrupt JSON-RPC on stdout
		stack, err := cli.Build(sigCtx, cli.Options{
			ProjectPath: projectDir(cmd, args),
			ConfigPath:  configPath(cmd),
			Debug:       debugEnabled(cmd),
		})
		if err != nil {
			return err
		}
		defer stack.Close()
		if err := stack.Agent.Start(sigCtx); err != nil {
			return err
		}

		srv := mcp.NewServer(stack.Agent, tendril.Version, mcp.WithLogger(stack.Logger))
		switch transport {
		case "stdio":
			stack.Logger.Info("starting MCP server", "transport", transport)
			return srv.ServeStdio()
		case "sse":
			stack.Logger.Info("starting MCP server", "transport", transport, "port", port)
			if err := srv.ServeSSE(sigCtx, port); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			stack.Logger.Info("MCP server stopped gracefully")
			return nil
		default:
			return fmt.Errorf("unknown transport: %s. Supported: stdio, sse", transport)
		}
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)

	mcpCmd.Flags().String("transport", "stdio", "Transport protocol to use: 'stdio' or 'sse'")
	mcpCmd.Flags().Int("port", 8080, "Port to listen on (only for SSE)")
}
