package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/internal/config"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	var ef engineFlags
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Verify the worker binary, sandbox and catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			home := config.MustHomeFrom(cmd.Context())
			out := cmd.OutOrStdout()
			var problems []string

			cfg, err := ef.loadConfig(cmd)
			if err != nil {
				return err
			}

			if path, err := exec.LookPath(cfg.WorkerBinary); err != nil {
				problems = append(problems, fmt.Sprintf("missing dependency: worker binary %q (not found on PATH)", cfg.WorkerBinary))
			} else {
				_, _ = fmt.Fprintf(out, "worker:  %s\n", path)
			}

			if cfg.Bubblewrap {
				if runtime.GOOS != "linux" {
					problems = append(problems, "sandbox: bubblewrap is Linux only; workers run unwrapped on "+runtime.GOOS)
				} else if _, err := exec.LookPath("bwrap"); err != nil {
					problems = append(problems, "missing dependency: bwrap (AGENTORCH_SANDBOX is on)")
				} else {
					_, _ = fmt.Fprintln(out, "sandbox: bwrap")
				}
			}

			if c, err := catalog.Load(cfg.Catalog); err != nil {
				problems = append(problems, err.Error())
			} else {
				_, _ = fmt.Fprintf(out, "catalog: %s (%d agent types)\n", cfg.Catalog, c.Len())
			}

			if err := os.MkdirAll(home, 0o755); err != nil {
				problems = append(problems, fmt.Sprintf("home %s: %v", home, err))
			} else {
				_, _ = fmt.Fprintf(out, "home:    %s\n", home)
			}

			if len(problems) > 0 {
				for _, p := range problems {
					_, _ = fmt.Fprintln(cmd.ErrOrStderr(), p)
				}
				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(out, "ok")
			return nil
		},
	}
	ef.register(cmd)
	return cmd
}
