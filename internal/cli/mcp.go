package cli

import (
	"context"
	"time"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/engine"
	"github.com/ankittk/agentorch/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd(version string) *cobra.Command {
	var (
		ef          engineFlags
		projectRoot string
		runID       string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the orchestration tools over MCP on stdin/stdout",
		Long: `Serve the orchestration tools over MCP on stdin/stdout.

Register it with a coordinating agent, e.g. in .mcp.json:
  {"mcpServers": {"agentorch": {"command": "agentorch", "args": ["mcp"]}}}

Inside a worker run AGENTORCH_RUN_ID is set, and becomes the default sender
and inbox for the messaging tools.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ef.loadConfig(cmd)
			if err != nil {
				return err
			}
			if projectRoot == "" {
				projectRoot = mustGetwd()
			}
			eng, err := engine.Open(cmd.Context(), engine.Options{Home: config.MustHomeFrom(cmd.Context()), Config: cfg})
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				_ = eng.Close(ctx)
			}()
			srv := mcp.New(eng, mcp.Options{
				ProjectRoot: projectRoot,
				RunID:       currentRunID(runID),
				Version:     version,
			})
			return srv.ServeStdio()
		},
	}
	ef.register(cmd)
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "Default project root for spawn calls (default: current directory)")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id this server acts as (default: AGENTORCH_RUN_ID)")
	return cmd
}
