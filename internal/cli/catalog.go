package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ankittk/agentorch/internal/catalog"
	"github.com/ankittk/agentorch/internal/config"
	"github.com/ankittk/agentorch/internal/sandbox"
	"github.com/spf13/cobra"
)

func newCatalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the worker type catalog",
	}
	cmd.AddCommand(newCatalogSearchCmd())
	cmd.AddCommand(newCatalogTypesCmd())
	cmd.AddCommand(newCatalogRecommendCmd())
	cmd.AddCommand(newCatalogValidateCmd())
	return cmd
}

// catalogPath is --catalog, else AGENTORCH_CATALOG, else <home>/agent_types.yaml.
func catalogPath(cmd *cobra.Command, flag string) string {
	if flag != "" {
		return flag
	}
	return config.FromEnv(config.MustHomeFrom(cmd.Context())).Catalog
}

func loadDiscovery(cmd *cobra.Command, path string) (catalog.Discovery, error) {
	c, err := catalog.Load(catalogPath(cmd, path))
	if err != nil {
		return catalog.Discovery{}, err
	}
	return catalog.Discovery{Registry: catalog.Static(c)}, nil
}

func newCatalogSearchCmd() *cobra.Command {
	var (
		path   string
		detail string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search [keywords...]",
		Short: "Rank worker types by keyword match",
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := catalog.ParseDetailLevel(detail)
			if err != nil {
				return err
			}
			d, err := loadDiscovery(cmd, path)
			if err != nil {
				return err
			}
			hits := d.Search(strings.Join(args, " "), level)
			out := cmd.OutOrStdout()
			if asJSON || level == catalog.DetailFull {
				return writeJSON(out, hits)
			}
			if len(hits) == 0 {
				_, _ = fmt.Fprintln(out, "No matching agent types")
				return nil
			}
			for _, h := range hits {
				if level == catalog.DetailName {
					_, _ = fmt.Fprintln(out, h.Name)
					continue
				}
				_, _ = fmt.Fprintf(out, "%-20s %-8s %s\n", h.Name, h.Model, h.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "catalog", "", "Catalog file (default: configured catalog)")
	cmd.Flags().StringVar(&detail, "detail", "summary", "Detail level: name, summary or full")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newCatalogTypesCmd() *cobra.Command {
	var (
		path   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List every worker type",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDiscovery(cmd, path)
			if err != nil {
				return err
			}
			types := d.Types()
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, types)
			}
			for _, t := range types {
				mode := "rw"
				if t.ReadOnly {
					mode = "ro"
				}
				_, _ = fmt.Fprintf(out, "%-20s %-8s %s  $%.2f  %4ds  %s\n", t.Name, t.Model, mode, t.CostPerTask, t.Timeout, t.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "catalog", "", "Catalog file (default: configured catalog)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newCatalogRecommendCmd() *cobra.Command {
	var (
		path   string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "recommend <task...>",
		Short: "Suggest the best worker type for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := loadDiscovery(cmd, path)
			if err != nil {
				return err
			}
			rec, ok := d.Recommend(strings.Join(args, " "))
			if !ok {
				return errors.New("no agent type matches the task")
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, rec)
			}
			_, _ = fmt.Fprintf(out, "%s (%s, $%.2f per task)\n", rec.Name, rec.Model, rec.CostPerTask)
			if rec.Reason != "" {
				_, _ = fmt.Fprintf(out, "  %s\n", rec.Reason)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "catalog", "", "Catalog file (default: configured catalog)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newCatalogValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a catalog file and report every problem",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			path = catalogPath(cmd, path)
			c, err := catalog.Load(path)
			if err != nil {
				var ce *catalog.ConfigError
				if errors.As(err, &ce) {
					for _, p := range ce.Problems {
						_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "  "+p)
					}
					return fmt.Errorf("%s: %d problem(s)", path, len(ce.Problems))
				}
				return err
			}
			for _, spec := range c.Specs() {
				for _, p := range sandbox.Shadowed(spec) {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "  warning: %s: allowed tool %s is always denied\n", spec.Name, p)
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok, %d agent types (%s)\n", path, c.Len(), strings.Join(c.Names(), ", "))
			return nil
		},
	}
	return cmd
}
