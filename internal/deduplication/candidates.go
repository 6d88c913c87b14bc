package deduplication

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/telemetry"
	"github.com/youthservices/svcreg/internal/types"
)

// CandidateSet is the deduplicated result of all retrieval strategies for one record.
type CandidateSet struct {
	// Candidates in strategy order, first occurrence wins. Never contains the record itself.
	Candidates []*types.ServiceRecord `json:"candidates"`

	// Sources maps candidate id to the strategies that returned it.
	Sources map[string][]string `json:"sources"`

	// Errors are the strategies that failed. They did not stop the others.
	Errors []*RetrievalError `json:"errors,omitempty"`
}

// IDs returns the candidate ids in order.
func (c *CandidateSet) IDs() []string {
	ids := make([]string, len(c.Candidates))
	for i, r := range c.Candidates {
		ids[i] = r.ID
	}
	return ids
}

type lookupFunc func(ctx context.Context) ([]*types.ServiceRecord, error)

// CandidateFinder retrieves plausible duplicates of a record with five independent
// strategies run concurrently against the store.
type CandidateFinder struct {
	store   storage.Storage
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewCandidateFinder creates a finder. A nil logger discards output and nil metrics
// are not recorded.
func NewCandidateFinder(store storage.Storage, config Config, logger *zap.Logger, metrics *telemetry.Metrics) *CandidateFinder {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &CandidateFinder{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
	}
	if config.LookupsPerSecond > 0 {
		burst := int(config.LookupsPerSecond)
		if burst < 1 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(config.LookupsPerSecond), burst)
	}
	return f
}

// Find runs every applicable strategy and merges their results by id.
//
// A failing or timed-out strategy becomes a RetrievalError in the result. Find only
// returns an error when ctx is done, or when every strategy failed and the store does
// not answer a ping (types.ErrStoreUnavailable).
func (f *CandidateFinder) Find(ctx context.Context, rec *types.ServiceRecord) (*CandidateSet, error) {
	lookups := f.lookups(rec)
	results := make([][]*types.ServiceRecord, len(Strategies))
	errs := make([]error, len(Strategies))

	var g errgroup.Group
	ran := 0
	for i, strategy := range Strategies {
		lookup, ok := lookups[strategy]
		if !ok {
			continue
		}
		ran++
		g.Go(func() error {
			results[i], errs[i] = f.run(ctx, lookup)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := &CandidateSet{Sources: make(map[string][]string)}
	failed := 0
	for i, strategy := range Strategies {
		if errs[i] != nil {
			failed++
			rerr := &RetrievalError{Strategy: strategy, RecordID: rec.ID, Err: errs[i]}
			set.Errors = append(set.Errors, rerr)
			f.metrics.IncRetrievalError(strategy)
			f.logger.Warn("candidate strategy failed",
				zap.String("strategy", strategy),
				zap.String("service_id", rec.ID),
				zap.Error(errs[i]))
			continue
		}
		for _, cand := range results[i] {
			if cand == nil || cand.ID == "" || cand.ID == rec.ID || !cand.IsActive() {
				continue
			}
			if _, seen := set.Sources[cand.ID]; !seen {
				set.Candidates = append(set.Candidates, cand)
			}
			set.Sources[cand.ID] = append(set.Sources[cand.ID], strategy)
		}
	}

	if ran > 0 && failed == ran {
		if err := f.store.Ping(ctx); err != nil {
			if errors.Is(err, types.ErrStoreUnavailable) {
				return set, err
			}
			return set, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
		}
	}
	return set, nil
}

// run applies the rate limit and per-lookup timeout to one strategy.
func (f *CandidateFinder) run(ctx context.Context, lookup lookupFunc) ([]*types.ServiceRecord, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	lctx, cancel := context.WithTimeout(ctx, f.config.LookupTimeout)
	defer cancel()
	return lookup(lctx)
}

// lookups returns the strategies that apply to rec. A record without an organization,
// phone or coordinates simply skips that strategy.
func (f *CandidateFinder) lookups(rec *types.ServiceRecord) map[string]lookupFunc {
	limit := f.config.StrategyLimit
	out := make(map[string]lookupFunc, len(Strategies))

	if normalize.String(rec.Name) != "" {
		out[StrategyExactName] = func(ctx context.Context) ([]*types.ServiceRecord, error) {
			return f.store.FindByNormalizedName(ctx, rec.Name, rec.ID, limit)
		}
		out[StrategyFuzzyName] = func(ctx context.Context) ([]*types.ServiceRecord, error) {
			return f.store.FindBySimilarName(ctx, rec.Name, rec.ID, f.config.NameRecallThreshold, limit)
		}
	}
	if rec.OrganizationID != "" {
		out[StrategyOrganization] = func(ctx context.Context) ([]*types.ServiceRecord, error) {
			return f.store.FindByOrganization(ctx, rec.OrganizationID, rec.ID, limit)
		}
	}
	if digits := normalize.Phones(rec.Phones()); len(digits) > 0 {
		out[StrategyPhone] = func(ctx context.Context) ([]*types.ServiceRecord, error) {
			return f.store.FindByPhone(ctx, digits, rec.ID, limit)
		}
	}
	if c, ok := rec.Coordinates(); ok {
		out[StrategyProximity] = func(ctx context.Context) ([]*types.ServiceRecord, error) {
			return f.store.FindNearby(ctx, c.Latitude, c.Longitude, f.config.ProximityRadiusMeters, rec.ID, limit)
		}
	}
	return out
}
