package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ErrNotFound is wrapped by NotFoundError.
var ErrNotFound = errors.New("unknown worker type")

// NotFoundError is returned by Lookup for a type name not in the catalog.
type NotFoundError struct {
	Name      string
	Available []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown worker type %q (available: %v)", e.Name, e.Available)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// Catalog is an immutable snapshot of worker specs in declaration order.
type Catalog struct {
	path   string
	specs  []WorkerSpec
	byName map[string]int
}

func newCatalog(specs []WorkerSpec) *Catalog {
	c := &Catalog{specs: specs, byName: make(map[string]int, len(specs))}
	for i, s := range specs {
		c.byName[s.Name] = i
	}
	return c
}

// New builds a catalog from specs after validating them.
func New(specs ...WorkerSpec) (*Catalog, error) {
	var problems []string
	seen := make(map[string]bool, len(specs))
	out := make([]WorkerSpec, 0, len(specs))
	for _, s := range specs {
		if s.Name == "" {
			problems = append(problems, "spec without name")
			continue
		}
		if seen[s.Name] {
			problems = append(problems, s.Name+": duplicate type name")
			continue
		}
		seen[s.Name] = true
		s.Cost = s.Cost.derive()
		problems = append(problems, validate(s)...)
		out = append(out, s)
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return newCatalog(out), nil
}

// Path returns the file the catalog was loaded from, if any.
func (c *Catalog) Path() string { return c.path }

// Len returns the number of worker types.
func (c *Catalog) Len() int { return len(c.specs) }

// Names returns type names in declaration order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.specs))
	for i, s := range c.specs {
		names[i] = s.Name
	}
	return names
}

// Specs returns a copy of all specs in declaration order.
func (c *Catalog) Specs() []WorkerSpec {
	out := make([]WorkerSpec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Lookup returns the spec for name or a *NotFoundError.
func (c *Catalog) Lookup(name string) (WorkerSpec, error) {
	i, ok := c.byName[name]
	if !ok {
		return WorkerSpec{}, &NotFoundError{Name: name, Available: c.Names()}
	}
	return c.specs[i], nil
}

// Registry holds the current catalog and swaps it atomically on reload.
// Readers never block; a run keeps the WorkerSpec value it looked up.
type Registry struct {
	path    string
	current atomic.Pointer[Catalog]
	log     *slog.Logger
}

// NewRegistry loads path and returns a registry serving it.
func NewRegistry(path string, log *slog.Logger) (*Registry, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{path: path, log: log}
	r.current.Store(c)
	return r, nil
}

// Static returns a registry that always serves c. Reload is a no-op.
func Static(c *Catalog) *Registry {
	r := &Registry{log: slog.Default()}
	r.current.Store(c)
	return r
}

// Current returns the catalog snapshot in effect.
func (r *Registry) Current() *Catalog {
	return r.current.Load()
}

// Reload re-reads the catalog file. On error the previous snapshot stays.
func (r *Registry) Reload() (*Catalog, error) {
	if r.path == "" {
		return r.Current(), nil
	}
	c, err := Load(r.path)
	if err != nil {
		r.log.Warn("catalog reload failed, keeping previous", "path", r.path, "err", err)
		return r.Current(), err
	}
	r.current.Store(c)
	r.log.Info("catalog reloaded", "path", r.path, "types", c.Len())
	return c, nil
}
