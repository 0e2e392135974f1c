package main

import (
	"context"

	"github.com/flemzord/apmd/internal/mcpserver"
	"github.com/flemzord/apmd/pkg/app"
	"github.com/spf13/cobra"
)

func mcpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the job queue tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withRuntime(cmd.Context(), flags, func(_ context.Context, rt *app.Runtime) error {
				return mcpserver.New(rt.Manager, version, rt.Logger).ServeStdio()
			})
		},
	}
}
