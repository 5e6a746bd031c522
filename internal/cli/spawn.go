package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ankittk/agentorch/pkg/models"
	"github.com/spf13/cobra"
)

func newSpawnCmd() *cobra.Command {
	var (
		bf            backendFlags
		projectRoot   string
		timeoutSec    int
		async         bool
		callbackGroup string
		parallel      []string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "spawn [agent-type] [task...]",
		Short: "Run a worker agent on a task and print its result",
		Long: `Run a worker agent on a task and print its result.

Use --parallel type:task (repeatable) to run several workers at once; results
are printed in the order given. --async returns the run id immediately and
the completion arrives as a message to --callback-group.`,
		Example: `  agentorch spawn coder "add a --verbose flag to the CLI"
  agentorch spawn --parallel "reviewer:review the diff" --parallel "docs:update the README"
  agentorch spawn --async --callback-group lead coder "fix the flaky test"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectRoot == "" {
				wd, err := os.Getwd()
				if err != nil {
					return err
				}
				projectRoot = wd
			}
			var reqs []models.SpawnRequest
			switch {
			case len(parallel) > 0:
				if len(args) > 0 {
					return errors.New("use either positional arguments or --parallel, not both")
				}
				for _, p := range parallel {
					typ, task, ok := strings.Cut(p, ":")
					if !ok || strings.TrimSpace(typ) == "" || strings.TrimSpace(task) == "" {
						return fmt.Errorf("--parallel %q: want agent-type:task", p)
					}
					reqs = append(reqs, models.SpawnRequest{AgentType: strings.TrimSpace(typ), Task: strings.TrimSpace(task)})
				}
			case len(args) >= 2:
				reqs = []models.SpawnRequest{{AgentType: args[0], Task: strings.Join(args[1:], " ")}}
			default:
				return errors.New("need an agent type and a task (or --parallel)")
			}
			for i := range reqs {
				reqs[i].ProjectRoot = projectRoot
				reqs[i].TimeoutSeconds = timeoutSec
				reqs[i].CallbackGroup = callbackGroup
			}

			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			out := cmd.OutOrStdout()

			if async {
				for _, req := range reqs {
					acc, err := b.SpawnAsync(cmd.Context(), req)
					if err != nil {
						return err
					}
					if asJSON {
						if err := writeJSON(out, acc); err != nil {
							return err
						}
						continue
					}
					_, _ = fmt.Fprintf(out, "%s %s (completion goes to group %q)\n", acc.RunID, acc.AgentType, acc.CallbackGroup)
				}
				return nil
			}

			var results []models.Result
			if len(reqs) == 1 {
				res, err := b.Spawn(cmd.Context(), reqs[0])
				if err != nil {
					return err
				}
				results = []models.Result{res}
			} else if results, err = b.SpawnBatch(cmd.Context(), reqs); err != nil {
				return err
			}
			if asJSON {
				if len(results) == 1 {
					err = writeJSON(out, results[0])
				} else {
					err = writeJSON(out, results)
				}
				if err != nil {
					return err
				}
			} else {
				printResults(out, cmd.ErrOrStderr(), results)
			}
			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(results))
			}
			return nil
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "Project root the worker's sandbox is resolved against (default: current directory)")
	cmd.Flags().IntVar(&timeoutSec, "timeout", 0, "Timeout in seconds (default: the agent type's recommended timeout)")
	cmd.Flags().BoolVar(&async, "async", false, "Return the run id immediately; needs a running server")
	cmd.Flags().StringVar(&callbackGroup, "callback-group", "", "Group that receives the async completion message")
	cmd.Flags().StringArrayVar(&parallel, "parallel", nil, "Run agent-type:task concurrently (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")
	return cmd
}

func printResults(out, errOut io.Writer, results []models.Result) {
	for i, r := range results {
		if len(results) > 1 {
			if i > 0 {
				_, _ = fmt.Fprintln(out)
			}
			_, _ = fmt.Fprintf(out, "=== %s %s (%s, %.1fs) ===\n", r.TypeName, r.RunID, r.Status, r.ExecutionTimeSeconds)
		}
		if r.Success && r.Output != nil {
			_, _ = fmt.Fprintln(out, strings.TrimRight(*r.Output, "\n"))
			continue
		}
		if r.Error != nil {
			_, _ = fmt.Fprintf(errOut, "%s %s: %s\n", r.TypeName, r.Status, *r.Error)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
