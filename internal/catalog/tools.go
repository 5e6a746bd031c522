package catalog

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolPattern names a tool and optionally restricts the argument it may be
// invoked with. Written as "Read" or "Bash(git push:*)" in catalog files.
// An Arg ending in ":*" or "*" matches any argument with that prefix.
type ToolPattern struct {
	Tool string `json:"tool"`
	Arg  string `json:"arg,omitempty"`
}

// ParseToolPattern parses the textual form "Tool" or "Tool(arg)".
func ParseToolPattern(s string) (ToolPattern, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ToolPattern{}, fmt.Errorf("empty tool pattern")
	}
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if strings.ContainsAny(s, ") ") {
			return ToolPattern{}, fmt.Errorf("malformed tool pattern %q", s)
		}
		return ToolPattern{Tool: s}, nil
	}
	if !strings.HasSuffix(s, ")") || open == 0 {
		return ToolPattern{}, fmt.Errorf("malformed tool pattern %q", s)
	}
	arg := strings.TrimSpace(s[open+1 : len(s)-1])
	if arg == "" {
		return ToolPattern{}, fmt.Errorf("empty argument in tool pattern %q", s)
	}
	return ToolPattern{Tool: strings.TrimSpace(s[:open]), Arg: arg}, nil
}

func (p ToolPattern) String() string {
	if p.Arg == "" {
		return p.Tool
	}
	return p.Tool + "(" + p.Arg + ")"
}

// Matches reports whether a call of tool with argument arg falls under p.
func (p ToolPattern) Matches(tool, arg string) bool {
	if p.Tool != tool {
		return false
	}
	if p.Arg == "" {
		return true
	}
	switch {
	case strings.HasSuffix(p.Arg, ":*"):
		return strings.HasPrefix(arg, strings.TrimSuffix(p.Arg, ":*"))
	case strings.HasSuffix(p.Arg, "*"):
		return strings.HasPrefix(arg, strings.TrimSuffix(p.Arg, "*"))
	default:
		return arg == p.Arg
	}
}

// UnmarshalYAML accepts either the textual form or a {tool, arg} mapping.
func (p *ToolPattern) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		parsed, err := ParseToolPattern(n.Value)
		if err != nil {
			return fmt.Errorf("line %d: %w", n.Line, err)
		}
		*p = parsed
		return nil
	}
	var raw struct {
		Tool string `yaml:"tool"`
		Arg  string `yaml:"arg"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.Tool == "" {
		return fmt.Errorf("line %d: tool pattern without tool", n.Line)
	}
	*p = ToolPattern{Tool: raw.Tool, Arg: raw.Arg}
	return nil
}

// MarshalYAML writes the textual form.
func (p ToolPattern) MarshalYAML() (any, error) {
	return p.String(), nil
}

// ToolPolicy evaluates allow and deny lists. Deny always wins; an empty
// allow list permits every tool not denied.
type ToolPolicy struct {
	Allow []ToolPattern
	Deny  []ToolPattern
}

// Permits reports whether the policy lets tool run with arg.
func (tp ToolPolicy) Permits(tool, arg string) bool {
	for _, d := range tp.Deny {
		if d.Matches(tool, arg) {
			return false
		}
	}
	if len(tp.Allow) == 0 {
		return true
	}
	for _, a := range tp.Allow {
		if a.Matches(tool, arg) {
			return true
		}
	}
	return false
}

// FormatTools renders patterns as a comma separated list for the worker CLI.
func FormatTools(patterns []ToolPattern) string {
	parts := make([]string, len(patterns))
	for i, p := range patterns {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}
