package deduplication

import (
	"fmt"
	"strings"
)

// Candidate retrieval strategies, in the order their results are merged.
const (
	StrategyExactName    = "exact_name"
	StrategyOrganization = "organization"
	StrategyFuzzyName    = "fuzzy_name"
	StrategyPhone        = "phone"
	StrategyProximity    = "proximity"
)

// Strategies lists every retrieval strategy in merge order.
var Strategies = []string{
	StrategyExactName,
	StrategyOrganization,
	StrategyFuzzyName,
	StrategyPhone,
	StrategyProximity,
}

// RetrievalError reports that one candidate strategy's lookup failed. The strategy is
// skipped and the search continues with the others.
type RetrievalError struct {
	Strategy string `json:"strategy"`
	RecordID string `json:"record_id"`
	Err      error  `json:"-"`
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("%s lookup for %s failed: %v", e.Strategy, e.RecordID, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// MergeConflictError reports that a group's merge transaction failed. The group is
// left unmerged and the rest of the sweep is unaffected.
type MergeConflictError struct {
	PrimaryID string   `json:"primary_id"`
	MemberIDs []string `json:"member_ids"`
	Err       error    `json:"-"`
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge of [%s] into %s failed: %v", strings.Join(e.MemberIDs, ", "), e.PrimaryID, e.Err)
}

func (e *MergeConflictError) Unwrap() error { return e.Err }
