package deduplication

import (
	"context"
	"fmt"

	"github.com/youthservices/svcreg/internal/types"
)

// Deduplicator defines the interface for detecting and merging duplicate service records.
//
// Example usage:
//
//	engine, err := NewEngine(store, DefaultConfig(), logger, metrics)
//	if err != nil {
//	    return fmt.Errorf("failed to create engine: %w", err)
//	}
//
//	// Check a single incoming record
//	decision, err := engine.Check(ctx, record)
//	if err != nil {
//	    return err
//	}
//	if decision.IsDuplicate {
//	    logger.Info("duplicate", zap.String("of", decision.DuplicateOf))
//	}
//
//	// Batch sweep over the active records
//	result, err := engine.Sweep(ctx, SweepOptions{})
//	if err != nil {
//	    return err // store unavailable or canceled
//	}
//	fmt.Printf("merged=%d skipped=%d failed=%d\n", result.Merged, result.Skipped, result.Failed)
type Deduplicator interface {
	// Check decides whether rec duplicates an existing active record.
	//
	// Returns:
	// - DuplicateDecision with IsDuplicate=true if the best candidate's composite score
	//   reaches the threshold
	// - a *types.ValidationError if rec is malformed (no candidate search is done)
	// - types.ErrStoreUnavailable if no strategy could query the store
	Check(ctx context.Context, rec *types.ServiceRecord) (*DuplicateDecision, error)

	// Sweep groups the most recent active records into duplicate groups and merges
	// each group into one primary record. Failed groups are reported in the result,
	// not returned as errors.
	Sweep(ctx context.Context, opts SweepOptions) (*SweepResult, error)
}

// DuplicateDecision represents the result of checking a single record for duplicates
type DuplicateDecision struct {
	// IsDuplicate is true if the best candidate's composite score reaches the threshold
	IsDuplicate bool `json:"is_duplicate"`

	// DuplicateOf is the ID of the existing record that this is a duplicate of
	// Only set when IsDuplicate is true
	DuplicateOf string `json:"duplicate_of,omitempty"`

	// Confidence is the best composite score found (0.0 to 1.0)
	Confidence float64 `json:"confidence"`

	// FieldScores break down the best match
	FieldScores *FieldScores `json:"field_scores,omitempty"`

	// ComparedCount is the number of candidates scored
	ComparedCount int `json:"compared_count"`

	// RetrievalErrors lists strategies that failed during candidate search
	RetrievalErrors []*RetrievalError `json:"retrieval_errors,omitempty"`
}

// Validate checks if the duplicate decision has valid values
func (d *DuplicateDecision) Validate() error {
	if d.Confidence < 0.0 || d.Confidence > 1.0 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0 (got %.2f)", d.Confidence)
	}
	if d.IsDuplicate && d.DuplicateOf == "" {
		return fmt.Errorf("duplicate_of must be set when is_duplicate is true")
	}
	if !d.IsDuplicate && d.DuplicateOf != "" {
		return fmt.Errorf("duplicate_of should not be set when is_duplicate is false")
	}
	if d.ComparedCount < 0 {
		return fmt.Errorf("compared_count cannot be negative (got %d)", d.ComparedCount)
	}
	return nil
}

// DuplicateGroup is a cluster of records judged to represent one real-world service.
// It only exists during a sweep.
type DuplicateGroup struct {
	// SeedID is the record the group was formed around
	SeedID string `json:"seed_id"`

	// MemberIDs includes the seed, in formation order
	MemberIDs []string `json:"member_ids"`

	// Score is the best composite score found in the group
	Score float64 `json:"score"`
}

// Group outcomes
const (
	OutcomeMerged  = "merged"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// GroupOutcome reports what happened to one group during a sweep.
type GroupOutcome struct {
	Group     DuplicateGroup `json:"group"`
	Status    string         `json:"status"`
	PrimaryID string         `json:"primary_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// SweepOptions control a batch sweep.
type SweepOptions struct {
	// DryRun forms groups without merging them; every group is reported skipped.
	DryRun bool

	// Limit overrides Config.SweepLimit when positive.
	Limit int
}

// SweepResult summarizes a batch sweep. Partial failure is reported through the
// counts, never raised.
type SweepResult struct {
	Groups   []DuplicateGroup `json:"groups"`
	Outcomes []GroupOutcome   `json:"outcomes"`

	Merged  int `json:"merged"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`

	// Canceled is true when the context ended before every group was processed.
	Canceled bool `json:"canceled"`

	Stats SweepStats `json:"stats"`
}

// SweepStats provides metrics about the sweep
type SweepStats struct {
	// RecordsScanned is the number of active records loaded for the sweep
	RecordsScanned int `json:"records_scanned"`

	// CandidatesScored is the total number of pairwise comparisons
	CandidatesScored int `json:"candidates_scored"`

	// RetrievalErrors is the number of failed strategy lookups
	RetrievalErrors int `json:"retrieval_errors"`

	// DurationMs is the time taken for the sweep in milliseconds
	DurationMs int64 `json:"duration_ms"`
}

// Validate checks if the sweep result has valid values
func (r *SweepResult) Validate() error {
	if len(r.Outcomes) != len(r.Groups) {
		return fmt.Errorf("outcomes (%d) do not match groups (%d)", len(r.Outcomes), len(r.Groups))
	}
	if total := r.Merged + r.Skipped + r.Failed; total != len(r.Groups) {
		return fmt.Errorf("merged + skipped + failed (%d) does not match groups (%d)", total, len(r.Groups))
	}

	// Groups must be disjoint
	seen := make(map[string]int)
	for i, g := range r.Groups {
		if len(g.MemberIDs) < 2 {
			return fmt.Errorf("group %d has %d members (need at least 2)", i, len(g.MemberIDs))
		}
		if g.Score < 0.0 || g.Score > 1.0 {
			return fmt.Errorf("group %d score must be between 0.0 and 1.0 (got %.2f)", i, g.Score)
		}
		for _, id := range g.MemberIDs {
			if prev, ok := seen[id]; ok {
				return fmt.Errorf("record %s appears in groups %d and %d", id, prev, i)
			}
			seen[id] = i
		}
	}

	counts := map[string]int{}
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	if counts[OutcomeMerged] != r.Merged || counts[OutcomeSkipped] != r.Skipped || counts[OutcomeFailed] != r.Failed {
		return fmt.Errorf("outcome statuses (%v) do not match counts (merged=%d skipped=%d failed=%d)",
			counts, r.Merged, r.Skipped, r.Failed)
	}
	return nil
}
