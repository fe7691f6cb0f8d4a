package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/issuemill/internal/tracker"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Inspect or release items left in progress by a previous run",
	Long: `Lists tracker items stuck in the in_progress status. These are items a
previous run claimed but never closed: an interrupted run, an abandoned
item, or a failed fix round.

'mill run' resumes them automatically. Use --release to put them back to
open instead, so the work restarts from scratch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		trk := tracker.NewClient(&tracker.ExecRunner{Command: cfg.Tracker.Command})

		items, err := trk.GetByStatus(tracker.StatusInProgress)
		if err != nil {
			return fmt.Errorf("listing in-progress items: %w", err)
		}
		if len(items) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No in-progress items.")
			return nil
		}

		release, _ := cmd.Flags().GetBool("release")
		if !release {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTITLE")
			for _, it := range items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", it.ID, it.Type, it.Title)
			}
			return w.Flush()
		}

		var failed int
		for _, it := range items {
			if _, err := trk.SetStatus(it.ID, tracker.StatusOpen); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "failed to release %s: %v\n", it.ID, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", it.ID)
		}
		if failed > 0 {
			return fmt.Errorf("%d item(s) could not be released", failed)
		}
		return nil
	},
}

func init() {
	resumeCmd.Flags().Bool("release", false, "set in-progress items back to open")
}
