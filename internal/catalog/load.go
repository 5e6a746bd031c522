package catalog

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

const rootPlaceholder = "{root}"

// MaxTimeoutSeconds bounds recommended_timeout_seconds to one week.
const MaxTimeoutSeconds = 7 * 24 * 60 * 60

// ConfigError reports every problem found in a catalog file.
type ConfigError struct {
	Path     string
	Problems []string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "catalog: invalid: " + strings.Join(e.Problems, "; ")
	}
	return fmt.Sprintf("catalog %s: invalid: %s", e.Path, strings.Join(e.Problems, "; "))
}

// Load reads and validates the catalog at path. The file is YAML; JSON is
// accepted as well. Worker types live under the top-level "agent_types" key
// and keep their declaration order.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return nil, err
	}
	c.path = path
	return c, nil
}

// Parse builds a catalog from raw YAML or JSON bytes.
func Parse(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Problems: []string{err.Error()}}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, &ConfigError{Problems: []string{"document must be a mapping with an agent_types key"}}
	}
	types := mappingValue(doc.Content[0], "agent_types")
	if types == nil {
		return nil, &ConfigError{Problems: []string{"missing agent_types"}}
	}
	if types.Kind != yaml.MappingNode {
		return nil, &ConfigError{Problems: []string{"agent_types must be a mapping keyed by type name"}}
	}

	var problems []string
	specs := make([]WorkerSpec, 0, len(types.Content)/2)
	seen := make(map[string]bool, len(types.Content)/2)
	for i := 0; i+1 < len(types.Content); i += 2 {
		name := strings.TrimSpace(types.Content[i].Value)
		if name == "" {
			problems = append(problems, fmt.Sprintf("line %d: empty type name", types.Content[i].Line))
			continue
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("%s: duplicate type name", name))
			continue
		}
		seen[name] = true
		var s WorkerSpec
		if err := types.Content[i+1].Decode(&s); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		s.Name = name
		s.Cost = s.Cost.derive()
		problems = append(problems, validate(s)...)
		specs = append(specs, s)
	}
	if len(specs) == 0 && len(problems) == 0 {
		problems = append(problems, "agent_types is empty")
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return newCatalog(specs), nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

var permissionModes = map[string]bool{
	"default":           true,
	"acceptEdits":       true,
	"plan":              true,
	"bypassPermissions": true,
}

// escapesRoot reports whether tmpl climbs above the project root with "..".
func escapesRoot(tmpl string) bool {
	rel := strings.TrimPrefix(tmpl, rootPlaceholder)
	rel = strings.TrimLeft(strings.ReplaceAll(rel, `\`, "/"), "/")
	if rel == "" {
		return false
	}
	rel = path.Clean(rel)
	return rel == ".." || strings.HasPrefix(rel, "../")
}

func validate(s WorkerSpec) []string {
	var out []string
	bad := func(format string, args ...any) {
		out = append(out, s.Name+": "+fmt.Sprintf(format, args...))
	}
	if strings.TrimSpace(s.Model) == "" {
		bad("model is required")
	}
	if s.TimeoutSeconds <= 0 {
		bad("recommended_timeout_seconds must be > 0")
	} else if s.TimeoutSeconds > MaxTimeoutSeconds {
		bad("recommended_timeout_seconds must be <= %d", MaxTimeoutSeconds)
	}
	tmpl := strings.TrimSpace(s.SandboxTemplate)
	switch {
	case tmpl == "":
		bad("sandbox_template is required")
	case strings.Contains(tmpl, rootPlaceholder) && !strings.HasPrefix(tmpl, rootPlaceholder):
		bad("sandbox_template must start with %s", rootPlaceholder)
	case !strings.HasPrefix(tmpl, rootPlaceholder) && (strings.HasPrefix(tmpl, "/") || strings.HasPrefix(tmpl, `\`) || (len(tmpl) > 1 && tmpl[1] == ':')):
		bad("sandbox_template must be relative to the project root")
	case escapesRoot(tmpl):
		bad("sandbox_template must stay inside %s", rootPlaceholder)
	}
	if s.PermissionMode != "" && !permissionModes[s.PermissionMode] {
		bad("unknown permission_mode %q", s.PermissionMode)
	}
	if s.ReadOnly && s.PermissionMode == "bypassPermissions" {
		bad("read_only conflicts with permission_mode bypassPermissions")
	}
	if s.MaxTurns < 0 {
		bad("max_turns must be >= 0")
	}
	if s.Cost.PerTask < 0 || s.Cost.InputPerMTok < 0 || s.Cost.OutputPerMTok < 0 {
		bad("cost_profile values must be >= 0")
	}
	return out
}
