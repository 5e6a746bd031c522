package sandbox

import (
	"github.com/ankittk/agentorch/internal/catalog"
)

// shellDenyList holds command prefixes no worker may run through Bash.
var shellDenyList = []string{
	"sqlite3",
	"psql",
	"rm -rf /",
	"rm -rf .git",
	"chmod 777",
	"curl",
	"wget",
	"eval",
	"mkfs",
	"dd",
	"shutdown",
	"reboot",
	"sudo",
}

// gitDenyList holds git subcommands that change branch topology or remotes.
// Workers may commit inside their workspace but never move branches.
var gitDenyList = []string{
	"git rebase",
	"git merge",
	"git pull",
	"git push",
	"git fetch",
	"git checkout",
	"git switch",
	"git reset --hard",
	"git worktree",
	"git branch",
	"git remote",
	"git filter-branch",
	"git reflog expire",
	"git clean",
}

// mutatingTools are the built-in tools that modify files.
var mutatingTools = []string{"Write", "Edit", "MultiEdit", "NotebookEdit"}

// DefaultDeny returns the Bash patterns appended to every worker's
// disallowed tools.
func DefaultDeny() []catalog.ToolPattern {
	out := make([]catalog.ToolPattern, 0, len(shellDenyList)+len(gitDenyList))
	for _, c := range shellDenyList {
		out = append(out, catalog.ToolPattern{Tool: "Bash", Arg: c + ":*"})
	}
	for _, c := range gitDenyList {
		out = append(out, catalog.ToolPattern{Tool: "Bash", Arg: c + ":*"})
	}
	return out
}

// ReadOnlyDeny returns the patterns that keep a read-only worker from
// modifying files.
func ReadOnlyDeny() []catalog.ToolPattern {
	out := make([]catalog.ToolPattern, len(mutatingTools))
	for i, t := range mutatingTools {
		out[i] = catalog.ToolPattern{Tool: t}
	}
	return out
}

// DenyFor returns spec's disallowed tools merged with the built-in lists,
// without duplicates, spec entries first.
func DenyFor(spec catalog.WorkerSpec) []catalog.ToolPattern {
	seen := make(map[catalog.ToolPattern]bool)
	var out []catalog.ToolPattern
	add := func(ps []catalog.ToolPattern) {
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	add(spec.DisallowedTools)
	if spec.ReadOnly {
		add(ReadOnlyDeny())
	}
	add(DefaultDeny())
	return out
}

// Effective returns the tool policy a worker of spec runs under: its own
// allow list with DenyFor as the deny list.
func Effective(spec catalog.WorkerSpec) catalog.ToolPolicy {
	p := spec.Policy()
	p.Deny = DenyFor(spec)
	return p
}

// Shadowed returns the allow entries of spec that a deny pattern fully
// covers. Such entries grant nothing.
func Shadowed(spec catalog.WorkerSpec) []catalog.ToolPattern {
	denyOnly := catalog.ToolPolicy{Deny: Effective(spec).Deny}
	var out []catalog.ToolPattern
	for _, a := range spec.AllowedTools {
		if !denyOnly.Permits(a.Tool, a.Arg) {
			out = append(out, a)
		}
	}
	return out
}
