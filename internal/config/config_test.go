package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWithHome_HomeFrom(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if _, ok := HomeFrom(ctx); ok {
		t.Fatal("expected no home in empty context")
	}
	ctx = WithHome(ctx, "/foo/bar")
	got, ok := HomeFrom(ctx)
	if !ok || got != "/foo/bar" {
		t.Fatalf("HomeFrom: got %q, ok=%v; want /foo/bar, true", got, ok)
	}
}

func TestMustHomeFrom(t *testing.T) {
	t.Parallel()
	ctx := WithHome(context.Background(), "/agentorch")
	if got := MustHomeFrom(ctx); got != "/agentorch" {
		t.Fatalf("MustHomeFrom: got %q", got)
	}
}

func TestMustHomeFrom_panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic when home missing")
		}
	}()
	MustHomeFrom(context.Background())
}

func TestResolveHome_override(t *testing.T) {
	t.Parallel()
	got, err := ResolveHome("/custom/home")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/custom/home") {
		t.Fatalf("ResolveHome: got %q", got)
	}
}

func TestResolveHome_env(t *testing.T) {
	t.Setenv("AGENTORCH_HOME", "/env/home")
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean("/env/home") {
		t.Fatalf("ResolveHome from env: got %q", got)
	}
}

func TestResolveHome_default(t *testing.T) {
	t.Setenv("AGENTORCH_HOME", "")
	// Override empty so we use UserHomeDir
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("UserHomeDir: %v", err)
	}
	got, err := ResolveHome("")
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	want := filepath.Join(home, ".agentorch")
	if got != want {
		t.Fatalf("ResolveHome default: got %q, want %q", got, want)
	}
}

func clearEnv(t *testing.T) {
	for _, kv := range os.Environ() {
		if k, _, _ := strings.Cut(kv, "="); strings.HasPrefix(k, "AGENTORCH_") || k == "DATABASE_URL" {
			t.Setenv(k, "")
		}
	}
}

func TestLoad_defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/h")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Catalog != filepath.Join("/h", "agent_types.yaml") {
		t.Errorf("Catalog = %q", cfg.Catalog)
	}
	if cfg.WorkerBinary != "claude" || cfg.MaxConcurrent != 8 || cfg.GracePeriod != 5*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.DBDriver != DriverSQLite || cfg.CallbackGroup != "coordinator" || !cfg.Metrics {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoad_env(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTORCH_CATALOG", "/etc/types.yaml")
	t.Setenv("AGENTORCH_MAX_CONCURRENT", "2")
	t.Setenv("AGENTORCH_GRACE_PERIOD", "10")
	t.Setenv("AGENTORCH_SANDBOX", "true")
	t.Setenv("AGENTORCH_DB_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/agentorch")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Catalog != "/etc/types.yaml" || cfg.MaxConcurrent != 2 || cfg.GracePeriod != 10*time.Second {
		t.Errorf("env not applied: %+v", cfg)
	}
	if !cfg.Bubblewrap || cfg.DBDriver != DriverPostgres {
		t.Errorf("env not applied: %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"ok", func(*Config) {}, ""},
		{"no catalog", func(c *Config) { c.Catalog = "" }, "AGENTORCH_CATALOG"},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }, "AGENTORCH_MAX_CONCURRENT"},
		{"postgres without url", func(c *Config) { c.DBDriver = DriverPostgres }, "DATABASE_URL"},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "mysql"},
		{"bad port", func(c *Config) { c.Port = 70000 }, "AGENTORCH_PORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{Catalog: "c.yaml", WorkerBinary: "claude", MaxConcurrent: 1, GracePeriod: time.Second, DBDriver: DriverSQLite}
			tt.mut(&c)
			err := c.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate: got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestLoadEnvFiles(t *testing.T) {
	// godotenv never overrides a variable that is already set, even to "".
	const key = "AGENTORCH_TEST_ENV_FILE"
	_ = os.Unsetenv(key)
	t.Cleanup(func() { _ = os.Unsetenv(key) })
	dir := t.TempDir()
	path := filepath.Join(dir, "agentorch.env")
	if err := os.WriteFile(path, []byte(key+"=/opt/worker\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFiles(path); err != nil {
		t.Fatalf("LoadEnvFiles: %v", err)
	}
	if got := os.Getenv(key); got != "/opt/worker" {
		t.Fatalf("%s = %q", key, got)
	}
	if err := LoadEnvFiles(filepath.Join(dir, "missing.env")); err == nil {
		t.Fatal("expected error for a missing named file")
	}
}

func TestEnviron_roundTrip(t *testing.T) {
	clearEnv(t)
	want := Config{
		Catalog: "/c.yaml", WorkerBinary: "/bin/w", MaxConcurrent: 3, GracePeriod: 2 * time.Second,
		Bubblewrap: true, DBDriver: DriverSQLite, Port: 9000, APIKey: "k", LogLevel: "debug",
		Metrics: false, CallbackGroup: "lead",
	}
	for _, kv := range want.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		t.Setenv(k, v)
	}
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != want {
		t.Fatalf("round trip:\n got %+v\nwant %+v", got, want)
	}
}
