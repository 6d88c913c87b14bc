package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/youthservices/svcreg/internal/config"
	"github.com/youthservices/svcreg/internal/monitoring"
	"github.com/youthservices/svcreg/internal/quality"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Collection health monitoring",
}

var monitorReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the monitoring report",
	Long: `Show registry totals, per-source run rollups, recent alerts, improvement suggestions
and the data quality snapshot.

Alerts are rebuilt by replaying the runs stored in the --replay window (default from
config); use --replay 0 to skip it.

Examples:
  svcreg monitor report
  svcreg monitor report --replay 30d --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		replay, _ := cmd.Flags().GetString("replay")
		noQuality, _ := cmd.Flags().GetBool("no-quality")
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		monitor, err := monitoring.NewMonitor(rt.store, rt.cfg.Monitor, rt.logger, rt.metrics)
		if err != nil {
			return err
		}

		window := rt.cfg.Serve.ReplayWindow
		switch replay {
		case "":
		case "0":
			window = 0
		default:
			if window, err = config.ParseDuration(replay); err != nil {
				return fmt.Errorf("invalid --replay: %w", err)
			}
		}
		if window > 0 {
			n, err := monitor.Replay(ctx, time.Now().Add(-window))
			if err != nil {
				return fmt.Errorf("failed to replay runs: %w", err)
			}
			rt.logger.Debug("replayed runs", zap.Int("alerts", n), zap.Duration("window", window))
		}

		var q monitoring.QualitySource
		if !noQuality {
			analyzer, err := quality.NewAnalyzer(rt.store, rt.cfg.Quality, rt.logger, rt.metrics)
			if err != nil {
				return err
			}
			q = analyzer
		}

		report, err := monitor.Report(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to build report: %w", err)
		}
		if jsonOut {
			return printJSON(cmd.OutOrStdout(), report)
		}
		printMonitorReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func printMonitorReport(w io.Writer, r *monitoring.Report) {
	s := r.Summary
	fmt.Fprintf(w, "\n%s  %s\n\n", cyan("Monitoring Report"), gray(r.Timestamp.Local().Format("2006-01-02 15:04")))
	fmt.Fprintf(w, "  Services:       %d total, %d active, %d inactive\n", s.TotalServices, s.ActiveServices, s.TotalServices-s.ActiveServices)
	fmt.Fprintf(w, "  Organizations:  %d\n", s.TotalOrganizations)
	fmt.Fprintf(w, "  Recently added: %d\n", s.ServicesAdded)
	fmt.Fprintf(w, "  Merges:         %d\n", s.MergeHistoryCount)
	fmt.Fprintf(w, "  Active sources: %d\n", s.ActiveSources)
	if r.Quality != nil {
		fmt.Fprintf(w, "  Data quality:   %s\n", scoreColor(s.DataQualityScore, rt.cfg.Monitor.QualityTarget))
	}

	if len(r.Sources) > 0 {
		fmt.Fprintf(w, "\n%s\n", cyan("Sources:"))
		for _, src := range r.Sources {
			fmt.Fprintf(w, "  %-24s runs %3d  avg found %6.1f  success %s  avg %.0fms\n",
				src.Source, src.TotalRuns, src.AvgServicesFound,
				scoreColor(src.AvgSuccessRate, rt.cfg.Monitor.MinSuccessRate), src.AvgDurationMs)
		}
	}

	if len(r.RecentAlerts) > 0 {
		fmt.Fprintf(w, "\n%s\n", cyan("Recent alerts:"))
		for _, a := range r.RecentAlerts {
			fmt.Fprintf(w, "  %s %s [%s] %s\n", gray(a.Timestamp.Local().Format("01-02 15:04")),
				a.Type, severityColor(string(a.Severity)), a.Message)
		}
	}

	if len(r.Suggestions) > 0 {
		fmt.Fprintf(w, "\n%s\n", cyan("Suggestions:"))
		for _, sg := range r.Suggestions {
			fmt.Fprintf(w, "  [%s] %s (%s, %s)\n", severityColor(string(sg.Priority)), sg.Message, sg.Action, sg.Handling)
		}
	}

	if len(r.Recommendations) > 0 {
		fmt.Fprintf(w, "\n%s\n", cyan("Recommendations:"))
		for _, rec := range r.Recommendations {
			fmt.Fprintf(w, "  • %s\n", rec)
		}
	}
	fmt.Fprintln(w)
}

func init() {
	monitorReportCmd.Flags().String("replay", "", "rebuild alerts from runs in this window (0 disables)")
	monitorReportCmd.Flags().Bool("no-quality", false, "skip the data quality snapshot")
	monitorReportCmd.Flags().Bool("json", false, "print the report as JSON")

	monitorCmd.AddCommand(monitorReportCmd)
	rootCmd.AddCommand(monitorCmd)
}
