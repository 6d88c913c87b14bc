package types

import (
	"fmt"
	"time"
)

// MergeHistoryEntry is the append-only audit record written for every absorbed record.
type MergeHistoryEntry struct {
	ID         string    `json:"id"`
	AbsorbedID string    `json:"absorbed_id"`
	PrimaryID  string    `json:"primary_id"`
	Score      float64   `json:"score"`               // composite score of the group
	Reason     string    `json:"reason,omitempty"`    // e.g. "composite 0.91 >= 0.80"
	MergedBy   string    `json:"merged_by,omitempty"` // engine identity that performed the merge
	MergedAt   time.Time `json:"merged_at"`
}

// Validate checks if the entry has valid field values
func (e *MergeHistoryEntry) Validate() error {
	if e.AbsorbedID == "" {
		return fmt.Errorf("absorbed_id is required")
	}
	if e.PrimaryID == "" {
		return fmt.Errorf("primary_id is required")
	}
	if e.AbsorbedID == e.PrimaryID {
		return fmt.Errorf("a record cannot be merged into itself (%s)", e.PrimaryID)
	}
	if e.Score < 0 || e.Score > 1 {
		return fmt.Errorf("score must be between 0.0 and 1.0 (got %.2f)", e.Score)
	}
	return nil
}

// MergePlan is the fully resolved outcome of one duplicate group, applied by the
// store in a single transaction.
//
// Primary carries the merged field values. Its Locations and Contacts are the final
// child rows for the survivor; rows are identified by their existing IDs and may come
// from absorbed records (they are reassigned). Every other location or contact owned by
// a group member is removed. Schedules of absorbed records are reassigned unconditionally.
type MergePlan struct {
	Primary     *ServiceRecord      `json:"primary"`
	AbsorbedIDs []string            `json:"absorbed_ids"`
	History     []MergeHistoryEntry `json:"history"`
}

// MemberIDs returns the primary id followed by the absorbed ids.
func (p *MergePlan) MemberIDs() []string {
	ids := make([]string, 0, len(p.AbsorbedIDs)+1)
	if p.Primary != nil {
		ids = append(ids, p.Primary.ID)
	}
	return append(ids, p.AbsorbedIDs...)
}

// Validate checks the plan is internally consistent.
func (p *MergePlan) Validate() error {
	if p.Primary == nil || p.Primary.ID == "" {
		return fmt.Errorf("merge plan requires a primary record")
	}
	if len(p.AbsorbedIDs) == 0 {
		return fmt.Errorf("merge plan requires at least one absorbed record")
	}
	if len(p.History) != len(p.AbsorbedIDs) {
		return fmt.Errorf("history entries (%d) must match absorbed records (%d)", len(p.History), len(p.AbsorbedIDs))
	}
	seen := map[string]bool{p.Primary.ID: true}
	for _, id := range p.AbsorbedIDs {
		if seen[id] {
			return fmt.Errorf("duplicate member %s in merge plan", id)
		}
		seen[id] = true
	}
	for i := range p.History {
		if err := p.History[i].Validate(); err != nil {
			return fmt.Errorf("history entry %d: %w", i, err)
		}
	}
	return nil
}
