package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/youthservices/svcreg/internal/deduplication"
	"github.com/youthservices/svcreg/internal/types"
)

// importFile is the layout of an import document. JSON documents parse too.
type importFile struct {
	Organizations []*types.Organization  `yaml:"organizations"`
	Services      []*types.ServiceRecord `yaml:"services"`
}

type importSummary struct {
	Organizations int
	Services      int
	Duplicates    int
	Rejected      int
}

var importCmd = &cobra.Command{
	Use:   "import FILE...",
	Short: "Upsert organizations and services from YAML or JSON files",
	Long: `Upsert organizations and services (with their locations, contacts and schedules)
from one or more YAML or JSON documents:

  organizations:
    - id: org-1
      name: Youth Justice Queensland
  services:
    - id: svc-1
      organization_id: org-1
      name: Brisbane Youth Justice Service Centre
      locations:
        - address_1: 1 Main St
          city: Brisbane

Records without an id get a generated one. With --check every service is checked
for duplicates before it is written, first against the services already accepted
from the same file and then against the registry; duplicates are reported, and
skipped with --skip-duplicates.

Examples:
  svcreg import services.yaml
  svcreg import --check --skip-duplicates scraped/*.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		check, _ := cmd.Flags().GetBool("check")
		skip, _ := cmd.Flags().GetBool("skip-duplicates")
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		var engine *deduplication.Engine
		var scorer *deduplication.Scorer
		if check || skip {
			var err error
			engine, err = deduplication.NewEngine(rt.store, rt.cfg.Dedup, rt.logger, rt.metrics)
			if err != nil {
				return err
			}
			scorer = deduplication.NewScorer(rt.cfg.Dedup.Weights)
		}

		var total importSummary
		for _, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading %s: %w", path, err)
			}
			var doc importFile
			if err := yaml.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("parsing %s: %w", path, err)
			}

			for _, org := range doc.Organizations {
				if org.ID == "" {
					org.ID = uuid.New().String()
				}
				if err := rt.store.UpsertOrganization(ctx, org); err != nil {
					return fmt.Errorf("%s: organization %s: %w", path, org.ID, err)
				}
				total.Organizations++
			}

			var staged []*types.ServiceRecord
			for _, svc := range doc.Services {
				if svc.ID == "" {
					svc.ID = uuid.New().String()
				}
				if err := svc.Validate(); err != nil {
					total.Rejected++
					fmt.Fprintf(out, "%s %s (%s): %v\n", red("✗"), svc.ID, svc.Name, err)
					continue
				}
				if engine != nil {
					decision := checkStaged(scorer, rt.cfg.Dedup.CompositeThreshold, staged, svc)
					if !decision.IsDuplicate {
						if decision, err = engine.Check(ctx, svc); err != nil {
							return fmt.Errorf("%s: checking %s: %w", path, svc.ID, err)
						}
					}
					if decision.IsDuplicate {
						total.Duplicates++
						fmt.Fprintf(out, "%s %s (%s) duplicates %s (confidence %s)\n",
							yellow("⚠"), svc.ID, svc.Name, cyan(decision.DuplicateOf), pct(decision.Confidence))
						if skip {
							continue
						}
					}
				}
				if err := rt.store.UpsertService(ctx, svc); err != nil {
					return fmt.Errorf("%s: service %s: %w", path, svc.ID, err)
				}
				if err := rt.store.UpsertChildEntities(ctx, svc.ID, svc.Locations, svc.Contacts, svc.Schedules); err != nil {
					return fmt.Errorf("%s: child entities of %s: %w", path, svc.ID, err)
				}
				total.Services++
				staged = append(staged, svc)
			}

			rt.logger.Info("file imported",
				zap.String("path", path),
				zap.Int("organizations", len(doc.Organizations)),
				zap.Int("services", len(doc.Services)))
		}

		fmt.Fprintf(out, "%s Imported %d organization(s) and %d service(s)", green("✓"), total.Organizations, total.Services)
		if total.Duplicates > 0 {
			fmt.Fprintf(out, ", %d duplicate(s)", total.Duplicates)
		}
		if total.Rejected > 0 {
			fmt.Fprintf(out, ", %d rejected", total.Rejected)
		}
		fmt.Fprintln(out)
		return nil
	},
}

// checkStaged compares svc with the services accepted earlier in the same batch.
func checkStaged(scorer *deduplication.Scorer, threshold float64, staged []*types.ServiceRecord, svc *types.ServiceRecord) *deduplication.DuplicateDecision {
	decision := &deduplication.DuplicateDecision{ComparedCount: len(staged)}
	for _, prev := range staged {
		if prev.ID == svc.ID {
			continue
		}
		scores := scorer.Score(svc, prev)
		if scores.Composite > decision.Confidence {
			decision.Confidence = scores.Composite
			decision.FieldScores = &scores
			decision.DuplicateOf = prev.ID
		}
	}
	decision.IsDuplicate = decision.FieldScores != nil && decision.Confidence >= threshold
	if !decision.IsDuplicate {
		decision.DuplicateOf = ""
	}
	return decision
}

func init() {
	importCmd.Flags().Bool("check", false, "check each service for duplicates before writing it")
	importCmd.Flags().Bool("skip-duplicates", false, "do not write services found to be duplicates (implies --check)")
	rootCmd.AddCommand(importCmd)
}
