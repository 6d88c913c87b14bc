package monitoring

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/youthservices/svcreg/internal/types"
)

// SourceRollup aggregates the runs of one source over the rollup window.
type SourceRollup struct {
	Source             string  `json:"source"`
	TotalRuns          int     `json:"total_runs"`
	TotalServicesFound int     `json:"total_services_found"`
	AvgServicesFound   float64 `json:"avg_services_found"`
	AvgErrors          float64 `json:"avg_errors"`
	AvgDurationMs      float64 `json:"avg_duration_ms"`
	// AvgSuccessRate is processed over found across the window, 0 when nothing was found.
	AvgSuccessRate float64 `json:"avg_success_rate"`
}

// Action is the follow-up a suggestion proposes.
type Action string

const (
	ActionReviewExtraction    Action = "review_extraction_logic"
	ActionOptimizePerformance Action = "optimize_performance"
	ActionInvestigateSource   Action = "investigate_source"
)

// Handling tells a consumer whether a suggestion needs a person.
type Handling string

const (
	HandlingManualReview   Handling = "manual_review"
	HandlingAutoActionable Handling = "auto_actionable"
)

// Suggestion is advisory output derived from a source rollup.
type Suggestion struct {
	Type     string   `json:"type"` // PERFORMANCE or RELIABILITY
	Source   string   `json:"source"`
	Priority Severity `json:"priority"`
	Action   Action   `json:"action"`
	Handling Handling `json:"handling"`
	Message  string   `json:"message"`
}

// Rollup aggregates the runs in the trailing RollupWindow per source, ordered by source.
func (m *Monitor) Rollup(ctx context.Context) ([]SourceRollup, error) {
	since := m.now().Add(-m.config.RollupWindow)
	runs, err := m.store.GetRunMetrics(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load run metrics: %w", err)
	}
	return RollupRuns(runs), nil
}

// RollupRuns aggregates runs per source.
func RollupRuns(runs []*types.RunMetric) []SourceRollup {
	type acc struct {
		runs, found, processed, errors int
		duration                       int64
	}
	bySource := make(map[string]*acc)
	for _, r := range runs {
		a, ok := bySource[r.Source]
		if !ok {
			a = &acc{}
			bySource[r.Source] = a
		}
		a.runs++
		a.found += r.ServicesFound
		a.processed += r.ServicesProcessed
		a.errors += r.Errors
		a.duration += r.DurationMs
	}

	out := make([]SourceRollup, 0, len(bySource))
	for source, a := range bySource {
		n := float64(a.runs)
		r := SourceRollup{
			Source:             source,
			TotalRuns:          a.runs,
			TotalServicesFound: a.found,
			AvgServicesFound:   float64(a.found) / n,
			AvgErrors:          float64(a.errors) / n,
			AvgDurationMs:      float64(a.duration) / n,
		}
		if a.found > 0 {
			r.AvgSuccessRate = float64(a.processed) / float64(a.found)
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Suggest derives optimization suggestions from rollups.
func (m *Monitor) Suggest(rollups []SourceRollup) []Suggestion {
	var out []Suggestion
	for _, r := range rollups {
		if r.AvgSuccessRate < m.config.MinSuccessRate {
			out = append(out, Suggestion{
				Type:     "PERFORMANCE",
				Source:   r.Source,
				Priority: SeverityHigh,
				Action:   ActionReviewExtraction,
				Handling: HandlingManualReview,
				Message: fmt.Sprintf("%s has a low success rate (%.1f%%). Review its extraction logic.",
					r.Source, r.AvgSuccessRate*100),
			})
		}
		if r.AvgDurationMs > float64(m.config.SlowRunMs) {
			out = append(out, Suggestion{
				Type:     "PERFORMANCE",
				Source:   r.Source,
				Priority: SeverityMedium,
				Action:   ActionOptimizePerformance,
				Handling: HandlingAutoActionable,
				Message: fmt.Sprintf("%s is slow (%.0fms average). Batch or parallelize its requests.",
					r.Source, r.AvgDurationMs),
			})
		}
		if r.TotalServicesFound == 0 {
			out = append(out, Suggestion{
				Type:     "RELIABILITY",
				Source:   r.Source,
				Priority: SeverityCritical,
				Action:   ActionInvestigateSource,
				Handling: HandlingManualReview,
				Message:  fmt.Sprintf("%s has not found services in the last %s. The source may have changed or be down.", r.Source, formatWindow(m.config.RollupWindow)),
			})
		}
	}
	return out
}

func formatWindow(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "day"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}
