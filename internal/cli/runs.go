package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect worker runs",
	}
	cmd.AddCommand(newRunsListCmd())
	cmd.AddCommand(newRunsShowCmd())
	cmd.AddCommand(newRunsStatsCmd())
	return cmd
}

func newRunsListCmd() *cobra.Command {
	var (
		bf        backendFlags
		agentType string
		status    string
		limit     int
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			runs, err := b.ListRuns(cmd.Context(), agentType, status, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(out, "No runs")
				return nil
			}
			for _, r := range runs {
				_, _ = fmt.Fprintf(out, "%s  %-16s %-10s %6.1fs  $%.4f  %s\n",
					r.RunID, r.TypeName, r.Status, r.ExecutionSeconds, r.EstimatedCost, oneLine(r.Task, 60))
			}
			return nil
		},
	}
	bf.register(cmd)
	cmd.Flags().StringVar(&agentType, "type", "", "Only runs of this agent type")
	cmd.Flags().StringVar(&status, "status", "", "Only runs in this status (spawning, running, succeeded, failed, timed_out)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	var bf backendFlags
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			run, err := b.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), run)
		},
	}
	bf.register(cmd)
	return cmd
}

func newRunsStatsCmd() *cobra.Command {
	var (
		bf     backendFlags
		days   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Per agent type totals over the last --days days",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := bf.open(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = b.Close(cmd.Context()) }()
			stats, err := b.Stats(cmd.Context(), days)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, stats)
			}
			if len(stats) == 0 {
				_, _ = fmt.Fprintln(out, "No runs")
				return nil
			}
			_, _ = fmt.Fprintf(out, "%-16s %6s %6s %6s %8s %8s %10s\n", "TYPE", "TOTAL", "OK", "FAIL", "TIMEOUT", "AVG", "COST")
			for _, s := range stats {
				_, _ = fmt.Fprintf(out, "%-16s %6d %6d %6d %8d %7.1fs %10.4f\n",
					s.TypeName, s.Total, s.Succeeded, s.Failed, s.TimedOut, s.AvgExecSeconds, s.TotalCost)
			}
			return nil
		},
	}
	bf.register(cmd)
	cmd.Flags().IntVar(&days, "days", 7, "Window in days (0 for all time)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func oneLine(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > width {
		return s[:width-3] + "..."
	}
	return s
}
