package cli

import (
	"fmt"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/daemon"
	"github.com/ankittk/agentorch/pkg/client"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show agentorch daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			st, err := daemon.Status(cmd.Context(), home)
			if err != nil {
				return err
			}
			if !st.Running {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "agentorch not running")
				return nil
			}
			health := "unreachable"
			if ok, err := client.New("http://"+st.Addr, config.FromEnv(home).APIKey).Health(cmd.Context()); err == nil && ok {
				health = "healthy"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "agentorch running (pid %d, addr %s, %s)\n", st.PID, st.Addr, health)
			return nil
		},
	}
	return cmd
}
