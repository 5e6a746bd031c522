package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ankittk/agentorch/internal/catalog"
)

var (
	ErrEscape  = errors.New("sandbox escapes project root")
	ErrMissing = errors.New("sandbox directory does not exist")
	ErrNotDir  = errors.New("sandbox path is not a directory")
)

// PathError reports why a spec's sandbox could not be resolved.
type PathError struct {
	Type string
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("sandbox for %s: %s: %v", e.Type, e.Path, e.Err)
}

func (e *PathError) Unwrap() error { return e.Err }

// Resolve expands spec's sandbox template against projectRoot and returns the
// canonical workspace directory. The result is projectRoot or a descendant of
// it after symlinks are evaluated on both sides; anything else is ErrEscape.
// Resolve only stats the filesystem; it never creates directories.
func Resolve(spec catalog.WorkerSpec, projectRoot string) (string, error) {
	if projectRoot == "" {
		return "", &PathError{Type: spec.Name, Path: projectRoot, Err: ErrMissing}
	}
	root, err := canonical(projectRoot)
	if err != nil {
		return "", &PathError{Type: spec.Name, Path: projectRoot, Err: classify(err)}
	}

	tmpl := strings.TrimSpace(spec.SandboxTemplate)
	var rel string
	if strings.HasPrefix(tmpl, "{root}") {
		rel = strings.TrimLeft(strings.TrimPrefix(tmpl, "{root}"), `/\`)
	} else {
		rel = tmpl
	}
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", &PathError{Type: spec.Name, Path: tmpl, Err: ErrEscape}
	}
	joined := filepath.Join(root, filepath.FromSlash(rel))
	// Reject lexical escapes before touching the filesystem.
	if !within(root, joined) {
		return "", &PathError{Type: spec.Name, Path: joined, Err: ErrEscape}
	}
	target, err := canonical(joined)
	if err != nil {
		return "", &PathError{Type: spec.Name, Path: joined, Err: classify(err)}
	}
	if !within(root, target) {
		return "", &PathError{Type: spec.Name, Path: target, Err: ErrEscape}
	}
	fi, err := os.Stat(target)
	if err != nil {
		return "", &PathError{Type: spec.Name, Path: target, Err: classify(err)}
	}
	if !fi.IsDir() {
		return "", &PathError{Type: spec.Name, Path: target, Err: ErrNotDir}
	}
	return target, nil
}

func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

func classify(err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return ErrMissing
	}
	return err
}

// within reports whether path is dir or below it. Both must be clean.
func within(dir, path string) bool {
	if path == dir {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}
