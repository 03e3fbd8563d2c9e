package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"visitnote/internal/mcpserver"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve analyze_visit and generate_supplement as MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			// stdout carries the protocol.
			services, err := opts.build(ctx, nil, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			services.Logger.Info("MCP server starting", slog.String("version", version))
			return mcpserver.ServeStdio(mcpserver.New(services.Analysis, version, services.Logger))
		},
	}
}
