// Package deduplication detects and merges duplicate service records.
//
// # Overview
//
// Records about the same real-world service arrive from many independent sources.
// The engine keeps at most one active record per service: it retrieves plausible
// duplicates, scores them with a weighted per-field similarity, groups duplicates
// and collapses each group into one primary record with an audit trail.
//
// # Architecture
//
// The engine works in two modes:
//
//  1. Single record check (Check): decide whether an incoming record duplicates an
//     existing active record
//  2. Batch sweep (Sweep): group the most recent active records and merge each group
//
// Both modes share the same pipeline:
//   - CandidateFinder runs five retrieval strategies concurrently (exact normalized
//     name, shared organization, fuzzy name, shared phone digits, proximity)
//   - Scorer compares the record with every candidate (name, organization, address,
//     phone, description, categories)
//   - Merger builds a MergePlan and the store applies it in one transaction
//
// # Grouping
//
// The default hub grouping absorbs only candidates that individually match the seed
// record. Chains A~B~C are not merged unless A~C also matches. Setting Grouping to
// "connected" merges whole connected components of the match graph instead.
//
// # Configuration
//
//   - CompositeThreshold: 0.8 (duplicate decision)
//   - MinScore: 0.8 (absorb threshold against the seed)
//   - AddressThreshold: 0.9 (location collapse during merge)
//   - NameRecallThreshold: 0.3 (fuzzy name retrieval)
//   - StrategyLimit: 20 results per strategy
//   - ProximityRadiusMeters: 1000
//   - SweepLimit: 1000 most recent active records
//
// See DefaultConfig() for full default values and ConfigFromEnv() for overrides.
//
// # Error Handling
//
//   - RetrievalError: one strategy failed or timed out, the others continue
//   - MergeConflictError: a group's transaction failed and was rolled back, the
//     group is reported as failed and the sweep continues
//   - types.ValidationError: a malformed record is rejected before candidate search
//   - types.ErrStoreUnavailable: no query can run, the sweep is aborted
//
// Sweeps can be canceled between groups. Committed groups stay committed and a
// repeated sweep finds nothing new among merged records, since absorbed records are
// inactive.
package deduplication
