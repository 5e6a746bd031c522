package cli

import (
	"github.com/ankittk/agentorch/internal/daemon"
	"github.com/spf13/cobra"
)

// newDaemonCmd is what StartBackground re-executes. The engine settings
// arrive through the environment.
func newDaemonCmd(version string) *cobra.Command {
	var sf serverFlags
	cmd := &cobra.Command{
		Use:         "daemon",
		Short:       "Internal: run daemon process",
		Hidden:      true,
		Annotations: map[string]string{jsonLogs: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := sf.options(cmd, version)
			if err != nil {
				return err
			}
			return daemon.StartForeground(cmd.Context(), opts)
		},
	}
	sf.register(cmd)
	return cmd
}
