package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/youthservices/svcreg/internal/deduplication"
	"github.com/youthservices/svcreg/internal/types"
)

var checkCmd = &cobra.Command{
	Use:   "check [SERVICE_ID]",
	Short: "Check one service record for duplicates",
	Long: `Check whether a service duplicates an existing active record.

The record is either loaded from the registry by ID, or read from a YAML or JSON
file holding a single service with --file. Nothing is written.

Examples:
  svcreg check 6f1c0b7e-...
  svcreg check --file incoming.yaml --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		jsonOut, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		var rec *types.ServiceRecord
		switch {
		case file != "" && len(args) > 0:
			return fmt.Errorf("give either a service ID or --file, not both")
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}
			rec = &types.ServiceRecord{}
			if err := yaml.Unmarshal(data, rec); err != nil {
				return fmt.Errorf("parsing %s: %w", file, err)
			}
		case len(args) == 1:
			var err error
			rec, err = rt.store.GetService(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get service %s: %w", args[0], err)
			}
		default:
			return fmt.Errorf("a service ID or --file is required")
		}

		engine, err := deduplication.NewEngine(rt.store, rt.cfg.Dedup, rt.logger, rt.metrics)
		if err != nil {
			return err
		}
		decision, err := engine.Check(ctx, rec)
		if err != nil {
			return err
		}

		if jsonOut {
			return printJSON(cmd.OutOrStdout(), decision)
		}
		printDecision(cmd.OutOrStdout(), rec, decision, engine.Config().CompositeThreshold)
		return nil
	},
}

func printDecision(w io.Writer, rec *types.ServiceRecord, d *deduplication.DuplicateDecision, threshold float64) {
	fmt.Fprintf(w, "\n%s %s\n", cyan("Service:"), rec.Name)
	if rec.ID != "" {
		fmt.Fprintf(w, "  ID: %s\n", rec.ID)
	}
	fmt.Fprintf(w, "  Candidates compared: %d\n", d.ComparedCount)

	if d.IsDuplicate {
		fmt.Fprintf(w, "\n%s Duplicate of %s (confidence %s, threshold %s)\n",
			yellow("⚠"), cyan(d.DuplicateOf), pct(d.Confidence), pct(threshold))
	} else {
		fmt.Fprintf(w, "\n%s Not a duplicate (best confidence %s, threshold %s)\n",
			green("✓"), pct(d.Confidence), pct(threshold))
	}

	if s := d.FieldScores; s != nil {
		fmt.Fprintf(w, "\n  %-14s %s\n", "name", pct(s.Name))
		fmt.Fprintf(w, "  %-14s %s\n", "organization", pct(s.Organization))
		fmt.Fprintf(w, "  %-14s %s\n", "address", pct(s.Address))
		fmt.Fprintf(w, "  %-14s %s\n", "phone", pct(s.Phone))
		fmt.Fprintf(w, "  %-14s %s\n", "description", pct(s.Description))
		fmt.Fprintf(w, "  %-14s %s\n", "categories", pct(s.Categories))
	}

	for _, re := range d.RetrievalErrors {
		fmt.Fprintf(w, "  %s %s lookup failed: %v\n", red("✗"), re.Strategy, re.Err)
	}
	fmt.Fprintln(w)
}

func init() {
	checkCmd.Flags().StringP("file", "f", "", "read the service from a YAML or JSON file")
	checkCmd.Flags().Bool("json", false, "print the decision as JSON")
	rootCmd.AddCommand(checkCmd)
}
