package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history SERVICE_ID",
	Short: "Show the merge history of a service",
	Long: `Show every merge a service took part in, either as the primary record or as an
absorbed one, oldest first.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		entries, err := rt.store.GetMergeHistory(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get merge history: %w", err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), entries)
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintf(out, "No merges recorded for %s\n", args[0])
			return nil
		}
		fmt.Fprintf(out, "\n%s %s\n\n", cyan("Merge history:"), args[0])
		for _, e := range entries {
			fmt.Fprintf(out, "  %s  %s -> %s  score %s",
				e.MergedAt.Local().Format("2006-01-02 15:04"), e.AbsorbedID, e.PrimaryID, pct(e.Score))
			if e.MergedBy != "" {
				fmt.Fprintf(out, "  by %s", e.MergedBy)
			}
			fmt.Fprintln(out)
			if e.Reason != "" {
				fmt.Fprintf(out, "    %s\n", gray(e.Reason))
			}
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	historyCmd.Flags().Bool("json", false, "print the history as JSON")
	rootCmd.AddCommand(historyCmd)
}
