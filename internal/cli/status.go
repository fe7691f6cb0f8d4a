package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuemill/internal/config"
	"github.com/lucasnoah/issuemill/internal/tracker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the work queue, or past runs with --history",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if history, _ := cmd.Flags().GetBool("history"); history {
			limit, _ := cmd.Flags().GetInt("limit")
			return showHistory(cmd, cfg, limit)
		}

		trk := tracker.NewClient(&tracker.ExecRunner{Command: cfg.Tracker.Command})
		ready, err := trk.ListReady()
		if err != nil {
			return fmt.Errorf("listing ready items: %w", err)
		}
		inProgress, err := trk.GetByStatus(tracker.StatusInProgress)
		if err != nil {
			return fmt.Errorf("listing in-progress items: %w", err)
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd, map[string][]tracker.WorkItem{
				"ready":       ready,
				"in_progress": inProgress,
			})
		}

		if len(ready) == 0 && len(inProgress) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tTITLE")
		for _, it := range inProgress {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Status, it.Type, truncateTitle(it.Title))
		}
		for _, it := range ready {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", it.ID, it.Status, it.Type, truncateTitle(it.Title))
		}
		return w.Flush()
	},
}

func showHistory(cmd *cobra.Command, cfg *config.Config, limit int) error {
	history, cleanup, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	runs, err := history.RecentRuns(limit)
	if err != nil {
		return fmt.Errorf("reading run history: %w", err)
	}

	format, _ := cmd.Flags().GetString("format")
	if format == "json" {
		return writeJSON(cmd, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No recorded runs.")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tITER\tDONE\tFAILED\tGATE FAILS")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\n",
			shortID(r.RunID), r.StartedAt, r.Iterations, r.Completed, r.Failed, r.GateFailures)
	}
	return w.Flush()
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func truncateTitle(s string) string {
	if len(s) > 60 {
		return s[:57] + "..."
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	statusCmd.Flags().Bool("history", false, "show past runs from the history database")
	statusCmd.Flags().Int("limit", 20, "number of runs to show with --history")
	statusCmd.Flags().String("format", "text", "Output format: text or json")
}
