package deduplication

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/telemetry"
	"github.com/youthservices/svcreg/internal/types"
)

// Engine implements Deduplicator with deterministic weighted scoring over candidates
// retrieved from the registry store.
type Engine struct {
	store   storage.Storage
	config  Config
	finder  *CandidateFinder
	scorer  *Scorer
	merger  *Merger
	claims  *claimSet
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// Compile-time check that Engine implements Deduplicator
var _ Deduplicator = (*Engine)(nil)

// NewEngine creates a deduplication engine.
//
// Parameters:
//   - store: the registry store (must be non-nil)
//   - config: thresholds, weights and limits (must be valid)
//   - logger: optional, nil discards output
//   - metrics: optional, nil disables telemetry
func NewEngine(store storage.Storage, config Config, logger *zap.Logger, metrics *telemetry.Metrics) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   store,
		config:  config,
		finder:  NewCandidateFinder(store, config, logger, metrics),
		scorer:  NewScorer(config.Weights),
		merger:  NewMerger(store, config),
		claims:  newClaimSet(),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// ScoredCandidate is a retrieved candidate with its similarity to the evaluated record.
type ScoredCandidate struct {
	Record  *types.ServiceRecord `json:"record"`
	Scores  FieldScores          `json:"scores"`
	Sources []string             `json:"sources"`
}

// Evaluation holds the scored candidates of one record, best first.
type Evaluation struct {
	Record     *types.ServiceRecord `json:"record"`
	Candidates []ScoredCandidate    `json:"candidates"`
	Errors     []*RetrievalError    `json:"errors,omitempty"`
}

// Best returns the highest scoring candidate, or nil.
func (ev *Evaluation) Best() *ScoredCandidate {
	if len(ev.Candidates) == 0 {
		return nil
	}
	return &ev.Candidates[0]
}

// Evaluate retrieves and scores the candidates of rec.
func (e *Engine) Evaluate(ctx context.Context, rec *types.ServiceRecord) (*Evaluation, error) {
	set, err := e.finder.Find(ctx, rec)
	if err != nil {
		return nil, err
	}

	ev := &Evaluation{Record: rec, Errors: set.Errors}
	ev.Candidates = make([]ScoredCandidate, 0, len(set.Candidates))
	for _, cand := range set.Candidates {
		ev.Candidates = append(ev.Candidates, ScoredCandidate{
			Record:  cand,
			Scores:  e.scorer.Score(rec, cand),
			Sources: set.Sources[cand.ID],
		})
	}
	sort.SliceStable(ev.Candidates, func(i, j int) bool {
		a, b := ev.Candidates[i], ev.Candidates[j]
		if a.Scores.Composite != b.Scores.Composite {
			return a.Scores.Composite > b.Scores.Composite
		}
		return a.Record.ID < b.Record.ID
	})
	return ev, nil
}

// Check decides whether rec duplicates an existing active record. The record is
// validated first and is never compared with itself.
func (e *Engine) Check(ctx context.Context, rec *types.ServiceRecord) (*DuplicateDecision, error) {
	if rec == nil {
		return nil, &types.ValidationError{Field: "record", Message: "record cannot be nil"}
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	ev, err := e.Evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}

	decision := &DuplicateDecision{
		ComparedCount:   len(ev.Candidates),
		RetrievalErrors: ev.Errors,
	}
	if best := ev.Best(); best != nil {
		scores := best.Scores
		decision.Confidence = scores.Composite
		decision.FieldScores = &scores
		if scores.Composite >= e.config.CompositeThreshold {
			decision.IsDuplicate = true
			decision.DuplicateOf = best.Record.ID
		}
	}
	e.metrics.IncCheck(decision.IsDuplicate)

	if decision.IsDuplicate {
		e.logger.Info("duplicate detected",
			zap.String("service_id", rec.ID),
			zap.String("duplicate_of", decision.DuplicateOf),
			zap.Float64("confidence", decision.Confidence))
	}
	return decision, nil
}
