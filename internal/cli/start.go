package cli

import (
	"fmt"
	"os"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/daemon"
	"github.com/spf13/cobra"
)

// serverFlags are shared by start, serve and the hidden daemon command.
type serverFlags struct {
	engineFlags
	host        string
	port        int
	dev         bool
	pprofAddr   string
	projectRoot string
	enableOtel  bool
}

func (f *serverFlags) register(cmd *cobra.Command) {
	f.engineFlags.register(cmd)
	cmd.Flags().StringVar(&f.host, "host", "127.0.0.1", "Listen host")
	cmd.Flags().IntVar(&f.port, "port", 0, "Listen port (default 3548, env: AGENTORCH_PORT)")
	cmd.Flags().BoolVar(&f.dev, "dev", false, "Enable dev mode (permissive CORS)")
	cmd.Flags().StringVar(&f.pprofAddr, "pprof", "", "Enable pprof on address (e.g. 127.0.0.1:6060)")
	cmd.Flags().StringVar(&f.projectRoot, "project-root", "", "Default project root for MCP spawn calls")
	cmd.Flags().BoolVar(&f.enableOtel, "otel", true, "Enable OpenTelemetry metrics on /metrics (env: AGENTORCH_OTEL)")
}

func (f *serverFlags) options(cmd *cobra.Command, version string) (daemon.StartOptions, error) {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return daemon.StartOptions{}, err
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = f.port
	}
	if cmd.Flags().Changed("otel") {
		cfg.Metrics = f.enableOtel
	}
	return daemon.StartOptions{
		Home:        config.MustHomeFrom(cmd.Context()),
		Host:        f.host,
		Port:        cfg.Port,
		Dev:         f.dev,
		PprofAddr:   f.pprofAddr,
		EnableOtel:  cfg.Metrics,
		ProjectRoot: f.projectRoot,
		Version:     version,
		Config:      cfg,
	}, nil
}

func newStartCmd(version string) *cobra.Command {
	var (
		sf         serverFlags
		foreground bool
	)
	cmd := &cobra.Command{
		Use:         "start",
		Short:       "Start the agentorch server in the background",
		Annotations: map[string]string{jsonLogs: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := sf.options(cmd, version)
			if err != nil {
				return err
			}
			if foreground {
				return daemon.StartForeground(cmd.Context(), opts)
			}
			pid, err := daemon.StartBackground(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "agentorch started (pid %d)\n", pid)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API: http://%s:%d\n", displayHost(opts.Host), opts.Port)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Log: %s\n", daemon.LogPath(opts.Home))
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in foreground (same as serve)")
	return cmd
}

func newServeCmd(version string) *cobra.Command {
	var sf serverFlags
	cmd := &cobra.Command{
		Use:         "serve",
		Short:       "Run the agentorch server in the foreground",
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

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
