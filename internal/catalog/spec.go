package catalog

import (
	"time"
)

// WorkerSpec describes one worker type: which model it runs, what it may
// touch, and how long it may run. Specs are values; once loaded they are
// never modified.
type WorkerSpec struct {
	Name            string        `yaml:"-" json:"name"`
	Model           string        `yaml:"model" json:"model"`
	Description     string        `yaml:"description" json:"description"`
	UseCases        []string      `yaml:"use_cases" json:"use_cases,omitempty"`
	AllowedTools    []ToolPattern `yaml:"allowed_tools" json:"allowed_tools,omitempty"`
	DisallowedTools []ToolPattern `yaml:"disallowed_tools" json:"disallowed_tools,omitempty"`
	SandboxTemplate string        `yaml:"sandbox_template" json:"sandbox_template"`
	ReadOnly        bool          `yaml:"read_only" json:"read_only"`
	PermissionMode  string        `yaml:"permission_mode" json:"permission_mode,omitempty"`
	MCPConfig       string        `yaml:"mcp_config" json:"mcp_config,omitempty"`
	SystemPrompt    string        `yaml:"system_prompt" json:"system_prompt,omitempty"`
	MaxTurns        int           `yaml:"max_turns" json:"max_turns,omitempty"`
	TimeoutSeconds  int           `yaml:"recommended_timeout_seconds" json:"recommended_timeout_seconds"`
	Cost            CostProfile   `yaml:"cost_profile" json:"cost_profile"`
}

// CostProfile holds the per-run token averages and prices used for cost
// estimates. Prices are USD per million tokens.
type CostProfile struct {
	AvgInputTokens  int     `yaml:"avg_input_tokens" json:"avg_input_tokens,omitempty"`
	AvgOutputTokens int     `yaml:"avg_output_tokens" json:"avg_output_tokens,omitempty"`
	InputPerMTok    float64 `yaml:"input_cost_per_mtok" json:"input_cost_per_mtok,omitempty"`
	OutputPerMTok   float64 `yaml:"output_cost_per_mtok" json:"output_cost_per_mtok,omitempty"`
	PerTask         float64 `yaml:"cost_per_task" json:"cost_per_task"`
}

// Timeout returns the recommended run timeout.
func (s WorkerSpec) Timeout() time.Duration {
	return TimeoutFromSeconds(s.TimeoutSeconds)
}

// TimeoutFromSeconds converts n to a duration, clamped to
// [0, MaxTimeoutSeconds] so it never overflows.
func TimeoutFromSeconds(n int) time.Duration {
	switch {
	case n <= 0:
		return 0
	case n > MaxTimeoutSeconds:
		n = MaxTimeoutSeconds
	}
	return time.Duration(n) * time.Second
}

// Policy returns the spec's tool policy.
func (s WorkerSpec) Policy() ToolPolicy {
	return ToolPolicy{Allow: s.AllowedTools, Deny: s.DisallowedTools}
}

// Priced reports whether per-token prices are configured.
func (c CostProfile) Priced() bool {
	return c.InputPerMTok > 0 || c.OutputPerMTok > 0
}

// Estimate returns the cost of a run with the given token counts.
func (c CostProfile) Estimate(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*c.InputPerMTok/1e6 + float64(outputTokens)*c.OutputPerMTok/1e6
}

// derive fills PerTask from the averages when it was not given explicitly.
func (c CostProfile) derive() CostProfile {
	if c.PerTask == 0 && c.Priced() {
		c.PerTask = c.Estimate(c.AvgInputTokens, c.AvgOutputTokens)
	}
	return c
}
