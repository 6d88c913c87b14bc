package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/youthservices/svcreg/internal/config"
	"github.com/youthservices/svcreg/internal/monitoring"
	"github.com/youthservices/svcreg/internal/types"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Record and list collection run metrics",
}

var runsSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Record one collection run and evaluate alert rules",
	Long: `Record the outcome of one collection run and print the alerts it raised.

Examples:
  svcreg runs submit --source qld-directory --found 120 --processed 114 --errors 6 --duration-ms 4200 --success`,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		source, _ := flags.GetString("source")
		found, _ := flags.GetInt("found")
		processed, _ := flags.GetInt("processed")
		errs, _ := flags.GetInt("errors")
		durationMs, _ := flags.GetInt64("duration-ms")
		success, _ := flags.GetBool("success")
		jsonOut, _ := flags.GetBool("json")

		monitor, err := monitoring.NewMonitor(rt.store, rt.cfg.Monitor, rt.logger, rt.metrics)
		if err != nil {
			return err
		}
		run := &types.RunMetric{
			Source:            source,
			Success:           success,
			ServicesFound:     found,
			ServicesProcessed: processed,
			Errors:            errs,
			DurationMs:        durationMs,
		}
		alerts, err := monitor.Submit(cmd.Context(), run)
		if err != nil {
			// alerts are still raised when only the store write failed
			printAlerts(cmd, alerts)
			return fmt.Errorf("failed to record run: %w", err)
		}

		if jsonOut {
			return printJSON(cmd.OutOrStdout(), struct {
				Run    *types.RunMetric   `json:"run"`
				Alerts []monitoring.Alert `json:"alerts"`
			}{run, alerts})
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Recorded run %s for %s (success rate %s)\n",
			green("✓"), run.ID, cyan(run.Source), pct(run.SuccessRate()))
		printAlerts(cmd, alerts)
		return nil
	},
}

func printAlerts(cmd *cobra.Command, alerts []monitoring.Alert) {
	out := cmd.OutOrStdout()
	for _, a := range alerts {
		fmt.Fprintf(out, "  %s [%s] %s: %s\n", yellow("⚠"), severityColor(string(a.Severity)), a.Type, a.Message)
	}
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded runs",
	Long: `List the recorded runs in a trailing window, oldest first, followed by per-source totals.

Examples:
  svcreg runs list
  svcreg runs list --since 30d`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceStr, _ := cmd.Flags().GetString("since")
		jsonOut, _ := cmd.Flags().GetBool("json")

		window, err := config.ParseDuration(sinceStr)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		runs, err := rt.store.GetRunMetrics(cmd.Context(), time.Now().Add(-window))
		if err != nil {
			return fmt.Errorf("failed to get run metrics: %w", err)
		}
		rollups := monitoring.RollupRuns(runs)

		if jsonOut {
			return printJSON(cmd.OutOrStdout(), struct {
				Runs    []*types.RunMetric        `json:"runs"`
				Sources []monitoring.SourceRollup `json:"sources"`
			}{runs, rollups})
		}

		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			fmt.Fprintf(out, "No runs recorded in the last %s\n", sinceStr)
			return nil
		}
		fmt.Fprintf(out, "\n%s\n\n", cyan(fmt.Sprintf("Runs in the last %s", sinceStr)))
		for _, r := range runs {
			mark := green("✓")
			if !r.Success {
				mark = red("✗")
			}
			fmt.Fprintf(out, "  %s %s  %-24s found %4d  processed %4d  errors %3d  %6dms\n",
				mark, r.Timestamp.Local().Format("2006-01-02 15:04"), r.Source,
				r.ServicesFound, r.ServicesProcessed, r.Errors, r.DurationMs)
		}

		fmt.Fprintf(out, "\n%s\n", cyan("By source:"))
		for _, s := range rollups {
			fmt.Fprintf(out, "  %-24s runs %3d  found %5d  success %s  avg %.0fms\n",
				s.Source, s.TotalRuns, s.TotalServicesFound,
				scoreColor(s.AvgSuccessRate, rt.cfg.Monitor.MinSuccessRate), s.AvgDurationMs)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	f := runsSubmitCmd.Flags()
	f.String("source", "", "name of the data source (required)")
	f.Int("found", 0, "services found by the run")
	f.Int("processed", 0, "services processed successfully")
	f.Int("errors", 0, "errors encountered")
	f.Int64("duration-ms", 0, "run duration in milliseconds")
	f.Bool("success", false, "whether the run completed")
	f.Bool("json", false, "print the run and its alerts as JSON")
	_ = runsSubmitCmd.MarkFlagRequired("source")

	runsListCmd.Flags().String("since", "7d", "trailing window (e.g. 24h, 7d, 2w)")
	runsListCmd.Flags().Bool("json", false, "print runs and per-source totals as JSON")

	runsCmd.AddCommand(runsSubmitCmd)
	runsCmd.AddCommand(runsListCmd)
	rootCmd.AddCommand(runsCmd)
}
