package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/youthservices/svcreg/internal/quality"
)

var qualityCmd = &cobra.Command{
	Use:   "quality",
	Short: "Report data quality of the active services",
	Long: `Compute the completeness, freshness, coverage and residual duplicate sections of the
active services and an overall weighted score.

With --annotate every active record is also assessed on its own and its completeness
and verification scores are written back.

Examples:
  svcreg quality
  svcreg quality --annotate --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		annotate, _ := cmd.Flags().GetBool("annotate")
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		analyzer, err := quality.NewAnalyzer(rt.store, rt.cfg.Quality, rt.logger, rt.metrics)
		if err != nil {
			return err
		}

		var annotated *quality.AnnotateResult
		if annotate {
			annotated, err = analyzer.Annotate(ctx)
			if err != nil {
				return fmt.Errorf("annotate failed: %w", err)
			}
		}
		report, err := analyzer.Analyze(ctx)
		if err != nil {
			return fmt.Errorf("quality analysis failed: %w", err)
		}

		if jsonOut {
			return printJSON(cmd.OutOrStdout(), struct {
				Report    *quality.Report         `json:"report"`
				Annotated *quality.AnnotateResult `json:"annotated,omitempty"`
			}{report, annotated})
		}

		out := cmd.OutOrStdout()
		printQualityReport(out, report, rt.cfg.Quality.TargetScore)
		if annotated != nil {
			fmt.Fprintf(out, "%s Annotated %d of %d record(s)", green("✓"), annotated.Updated, annotated.Assessed)
			if annotated.Failed > 0 {
				fmt.Fprintf(out, ", %s", red(fmt.Sprintf("%d failed", annotated.Failed)))
			}
			fmt.Fprintln(out)
			for _, lvl := range []quality.Level{quality.LevelExcellent, quality.LevelGood, quality.LevelFair, quality.LevelPoor, quality.LevelCritical} {
				fmt.Fprintf(out, "  %-10s %d\n", lvl, annotated.ByLevel[lvl])
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

func printQualityReport(w io.Writer, r *quality.Report, target float64) {
	fmt.Fprintf(w, "\n%s\n\n", cyan("Data Quality Report"))
	fmt.Fprintf(w, "  Active services: %d\n", r.TotalServices)
	fmt.Fprintf(w, "  Overall score:   %s\n\n", scoreColor(r.OverallScore, target))

	sections := r.SectionScores()
	for _, name := range []string{quality.SectionCompleteness, quality.SectionFreshness, quality.SectionCoverage, quality.SectionDuplicates} {
		score, ok := sections[name]
		if !ok {
			fmt.Fprintf(w, "  %-14s %s\n", name, gray("n/a"))
			continue
		}
		fmt.Fprintf(w, "  %-14s %s\n", name, scoreColor(score, target))
	}

	if r.TotalServices > 0 {
		fmt.Fprintf(w, "\n  Completeness by field:\n")
		for _, f := range quality.CompletenessFields {
			fc := r.Completeness.Fields[f]
			fmt.Fprintf(w, "    %-12s %5d/%-5d %s\n", f, fc.Complete, fc.Total, pct(fc.Fraction))
		}
		fmt.Fprintf(w, "\n  Updated last week/month/quarter: %d / %d / %d (avg %.0f days)\n",
			r.Freshness.UpdatedLastWeek, r.Freshness.UpdatedLastMonth, r.Freshness.UpdatedLastQuarter,
			r.Freshness.AvgDaysSinceUpdate)
		fmt.Fprintf(w, "  Regions covered: %d of %d\n", r.Coverage.RegionsCovered, r.Coverage.TotalKnownRegions)
		fmt.Fprintf(w, "  Potential duplicates: %d (rate %s)\n", r.Duplicates.PotentialDuplicates, pct(r.Duplicates.Rate))
		for _, p := range r.Duplicates.Examples {
			fmt.Fprintf(w, "    %s %q ~ %q (%s)\n", yellow("⚠"), p.Name1, p.Name2, pct(p.Similarity))
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
	qualityCmd.Flags().Bool("annotate", false, "assess each record and persist its scores")
	qualityCmd.Flags().Bool("json", false, "print the report as JSON")
	rootCmd.AddCommand(qualityCmd)
}
