package cli

import (
	"log/slog"
	"os"
	"strings"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/spf13/cobra"
)

// jsonLogs marks commands that run as a server and log JSON.
const jsonLogs = "json-logs"

func NewRootCmd(version string) *cobra.Command {
	var (
		homeOverride string
		logLevel     string
		envFiles     []string
	)
	if version == "" {
		version = "dev"
	}

	cmd := &cobra.Command{
		Use:          "agentorch",
		Short:        "agentorch: spawn sandboxed worker agents and route messages between them",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFiles(envFiles...); err != nil {
				return err
			}
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			setupLogger(cmd, logLevel)
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override agentorch home directory (default: ~/.agentorch, env: AGENTORCH_HOME)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (env: AGENTORCH_LOG_LEVEL)")
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "Load env vars from these files (default: ./.env if present)")

	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newStartCmd(version))
	cmd.AddCommand(newServeCmd(version))
	cmd.AddCommand(newStopCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSpawnCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newInboxCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newMCPCmd(version))
	cmd.AddCommand(newApikeyCmd())

	// Hidden internal subcommand used by `agentorch start` for background mode.
	cmd.AddCommand(newDaemonCmd(version))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.Version = version
	return cmd
}

// setupLogger installs the default logger on stderr. Server commands log
// JSON; interactive commands log text at warn unless a level is given.
func setupLogger(cmd *cobra.Command, flagLevel string) {
	server := cmd.Annotations[jsonLogs] == "true"
	level := flagLevel
	if level == "" {
		level = os.Getenv("AGENTORCH_LOG_LEVEL")
	}
	if level == "" && !server {
		level = "warn"
	}
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var h slog.Handler
	if server {
		h = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	} else {
		h = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
