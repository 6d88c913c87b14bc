package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/youthservices/svcreg/internal/deduplication"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Find and merge duplicate groups among active services",
	Long: `Group the most recent active services into duplicate groups and merge each group
into its most complete record. Absorbed records are deactivated and the merge is
recorded in the history.

Use --dry-run to list the groups without merging anything.

Examples:
  svcreg sweep --dry-run
  svcreg sweep --limit 5000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOut, _ := cmd.Flags().GetBool("json")

		engine, err := deduplication.NewEngine(rt.store, rt.cfg.Dedup, rt.logger, rt.metrics)
		if err != nil {
			return err
		}
		result, err := engine.Sweep(cmd.Context(), deduplication.SweepOptions{DryRun: dryRun, Limit: limit})
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}

		if jsonOut {
			return printJSON(cmd.OutOrStdout(), result)
		}

		out := cmd.OutOrStdout()
		title := "Duplicate sweep"
		if dryRun {
			title += " (dry run)"
		}
		fmt.Fprintf(out, "\n%s\n\n", cyan(title))
		fmt.Fprintf(out, "  Records scanned:   %d\n", result.Stats.RecordsScanned)
		fmt.Fprintf(out, "  Candidates scored: %d\n", result.Stats.CandidatesScored)
		fmt.Fprintf(out, "  Groups found:      %d\n", len(result.Groups))
		fmt.Fprintf(out, "  Duration:          %dms\n\n", result.Stats.DurationMs)

		for _, o := range result.Outcomes {
			mark := green("✓")
			switch o.Status {
			case deduplication.OutcomeSkipped:
				mark = gray("-")
			case deduplication.OutcomeFailed:
				mark = red("✗")
			}
			fmt.Fprintf(out, "  %s %s score %s: %s", mark, o.Status, pct(o.Group.Score), strings.Join(o.Group.MemberIDs, ", "))
			if o.PrimaryID != "" {
				fmt.Fprintf(out, " -> %s", cyan(o.PrimaryID))
			}
			if o.Error != "" {
				fmt.Fprintf(out, " (%s)", o.Error)
			}
			fmt.Fprintln(out)
		}
		if len(result.Outcomes) > 0 {
			fmt.Fprintln(out)
		}

		fmt.Fprintf(out, "Merged: %d  Skipped: %d  Failed: %d\n", result.Merged, result.Skipped, result.Failed)
		if result.Stats.RetrievalErrors > 0 {
			fmt.Fprintf(out, "%s %d candidate lookup(s) failed\n", yellow("⚠"), result.Stats.RetrievalErrors)
		}
		if result.Canceled {
			fmt.Fprintf(out, "%s Sweep canceled before every group was processed\n", yellow("⚠"))
		}
		return nil
	},
}

func init() {
	sweepCmd.Flags().Bool("dry-run", false, "form groups without merging them")
	sweepCmd.Flags().Int("limit", 0, "maximum number of recent records to scan (default from config)")
	sweepCmd.Flags().Bool("json", false, "print the sweep result as JSON")
	rootCmd.AddCommand(sweepCmd)
}
