package daemon

import "github.com/ankittk/agentorch/internal/config"

// StartOptions configures the daemon. Config carries the engine settings;
// Port overrides Config.Port when non-zero.
type StartOptions struct {
	Home        string
	Host        string // listen host, 127.0.0.1 when empty
	Port        int
	Dev         bool
	PprofAddr   string
	EnableOtel  bool // Prometheus exporter on /metrics plus otelhttp request metrics
	ProjectRoot string
	Version     string
	Config      config.Config
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
