package cli

import (
	"time"

	"github.com/ankittk/agentorch/internal/config"
	"github.com/spf13/cobra"
)

// engineFlags override environment configuration for commands that run an
// engine in-process.
type engineFlags struct {
	catalog       string
	workerBin     string
	maxConcurrent int
	grace         time.Duration
	sandbox       bool
	dbDriver      string
	dbURL         string
}

func (f *engineFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.catalog, "catalog", "", "Worker type catalog file (default: <home>/agent_types.yaml, env: AGENTORCH_CATALOG)")
	fs.StringVar(&f.workerBin, "worker-bin", "", "Worker CLI binary (default: claude, env: AGENTORCH_WORKER_BIN)")
	fs.IntVar(&f.maxConcurrent, "max-concurrent", 0, "Max concurrent worker runs (env: AGENTORCH_MAX_CONCURRENT)")
	fs.DurationVar(&f.grace, "grace", 0, "Grace period between terminate and kill (env: AGENTORCH_GRACE_PERIOD)")
	fs.BoolVar(&f.sandbox, "sandbox", false, "Wrap workers in bubblewrap on Linux (env: AGENTORCH_SANDBOX)")
	fs.StringVar(&f.dbDriver, "db-driver", "", "Store driver: sqlite or postgres (env: AGENTORCH_DB_DRIVER)")
	fs.StringVar(&f.dbURL, "db-url", "", "Postgres connection string (env: DATABASE_URL)")
}

// loadConfig reads the environment and applies the flags the user set.
func (f *engineFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	home := config.MustHomeFrom(cmd.Context())
	cfg := config.FromEnv(home)
	fs := cmd.Flags()
	if fs.Changed("catalog") {
		cfg.Catalog = f.catalog
	}
	if fs.Changed("worker-bin") {
		cfg.WorkerBinary = f.workerBin
	}
	if fs.Changed("max-concurrent") {
		cfg.MaxConcurrent = f.maxConcurrent
	}
	if fs.Changed("grace") {
		cfg.GracePeriod = f.grace
	}
	if fs.Changed("sandbox") {
		cfg.Bubblewrap = f.sandbox
	}
	if fs.Changed("db-driver") {
		cfg.DBDriver = f.dbDriver
	}
	if fs.Changed("db-url") {
		cfg.DatabaseURL = f.dbURL
	}
	return cfg, cfg.Validate()
}
