package deduplication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/youthservices/svcreg/internal/types"
)

// claimSet holds the ids of groups currently being merged. A group is claimed
// all-or-nothing before its transaction starts.
type claimSet struct {
	mu  sync.Mutex
	ids map[string]bool
}

func newClaimSet() *claimSet {
	return &claimSet{ids: make(map[string]bool)}
}

// TryClaim marks every id as claimed, or none if any is already claimed.
func (c *claimSet) TryClaim(ids []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		if c.ids[id] {
			return false
		}
	}
	for _, id := range ids {
		c.ids[id] = true
	}
	return true
}

// Release drops the claims on ids.
func (c *claimSet) Release(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.ids, id)
	}
}

// FindGroups forms duplicate groups without merging them.
func (e *Engine) FindGroups(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	opts.DryRun = true
	return e.Sweep(ctx, opts)
}

// Sweep loads the most recent active records, groups duplicates and merges each group.
//
// Only an unavailable store is fatal. A group whose merge fails is rolled back and
// counted as failed while the other groups continue. When ctx is canceled between
// groups, the groups already committed stay committed, the rest are counted as
// skipped, and the partial result is returned together with ctx.Err().
func (e *Engine) Sweep(ctx context.Context, opts SweepOptions) (*SweepResult, error) {
	start := time.Now()
	limit := e.config.SweepLimit
	if opts.Limit > 0 {
		limit = opts.Limit
	}

	groups, stats, err := e.formGroups(ctx, limit)
	if err != nil {
		result := "error"
		if ctx.Err() != nil {
			result = "canceled"
		}
		e.metrics.ObserveSweep(result, time.Since(start))
		return nil, err
	}

	result := &SweepResult{
		Groups:   groups,
		Outcomes: make([]GroupOutcome, len(groups)),
		Stats:    stats,
	}
	if opts.DryRun {
		for i, g := range groups {
			result.Outcomes[i] = GroupOutcome{Group: g, Status: OutcomeSkipped}
		}
	} else {
		e.mergeGroups(ctx, groups, result.Outcomes)
	}

	for _, o := range result.Outcomes {
		switch o.Status {
		case OutcomeMerged:
			result.Merged++
		case OutcomeFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}
	result.Canceled = ctx.Err() != nil
	result.Stats.DurationMs = time.Since(start).Milliseconds()

	e.metrics.IncGroups(OutcomeMerged, result.Merged)
	e.metrics.IncGroups(OutcomeSkipped, result.Skipped)
	e.metrics.IncGroups(OutcomeFailed, result.Failed)

	e.logger.Info("sweep complete",
		zap.Bool("dry_run", opts.DryRun),
		zap.Int("records", stats.RecordsScanned),
		zap.Int("groups", len(groups)),
		zap.Int("merged", result.Merged),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.Bool("canceled", result.Canceled),
		zap.Int64("duration_ms", result.Stats.DurationMs))

	if result.Canceled {
		e.metrics.ObserveSweep("canceled", time.Since(start))
		return result, ctx.Err()
	}
	e.metrics.ObserveSweep("ok", time.Since(start))
	return result, nil
}

// formGroups evaluates the sweep records in parallel and then forms groups in record
// order, so the outcome does not depend on worker scheduling.
func (e *Engine) formGroups(ctx context.Context, limit int) ([]DuplicateGroup, SweepStats, error) {
	var stats SweepStats

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}
	if err := e.store.Ping(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}
		if errors.Is(err, types.ErrStoreUnavailable) {
			return nil, stats, err
		}
		return nil, stats, fmt.Errorf("%w: %v", types.ErrStoreUnavailable, err)
	}

	records, err := e.store.ListActiveServices(ctx, limit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}
		return nil, stats, fmt.Errorf("%w: failed to list active services: %v", types.ErrStoreUnavailable, err)
	}
	stats.RecordsScanned = len(records)

	evals := make([]*Evaluation, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.config.Workers)
	for i, rec := range records {
		g.Go(func() error {
			ev, err := e.Evaluate(gctx, rec)
			if err != nil {
				return err
			}
			evals[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, stats, ctx.Err()
		}
		return nil, stats, err
	}

	for _, ev := range evals {
		stats.CandidatesScored += len(ev.Candidates)
		stats.RetrievalErrors += len(ev.Errors)
	}

	if e.config.Grouping == GroupingConnected {
		return e.connectedGroups(evals), stats, nil
	}
	return e.hubGroups(evals), stats, nil
}

// hubGroups absorbs, for each unprocessed seed whose best match reaches the composite
// threshold, every other unprocessed candidate that individually reaches MinScore
// against the seed. Chains A~B~C where A and C do not match are not joined.
func (e *Engine) hubGroups(evals []*Evaluation) []DuplicateGroup {
	processed := make(map[string]bool)
	var groups []DuplicateGroup

	for _, ev := range evals {
		seed := ev.Record
		if processed[seed.ID] {
			continue
		}
		best := ev.Best()
		if best == nil || best.Scores.Composite < e.config.CompositeThreshold {
			continue
		}

		group := DuplicateGroup{SeedID: seed.ID, MemberIDs: []string{seed.ID}}
		for _, c := range ev.Candidates {
			if processed[c.Record.ID] || c.Scores.Composite < e.config.MinScore {
				continue
			}
			group.MemberIDs = append(group.MemberIDs, c.Record.ID)
			if c.Scores.Composite > group.Score {
				group.Score = c.Scores.Composite
			}
		}
		if len(group.MemberIDs) < 2 {
			continue
		}
		for _, id := range group.MemberIDs {
			processed[id] = true
		}
		groups = append(groups, group)
	}
	return groups
}

// connectedGroups joins records linked by edges of at least MinScore into connected
// components. A component forms a group when its strongest edge reaches the
// composite threshold.
func (e *Engine) connectedGroups(evals []*Evaluation) []DuplicateGroup {
	uf := newUnionFind()
	var order []string
	best := make(map[string]float64)

	for _, ev := range evals {
		order = append(order, uf.add(ev.Record.ID)...)
	}
	for _, ev := range evals {
		for _, c := range ev.Candidates {
			if c.Scores.Composite < e.config.MinScore {
				continue
			}
			order = append(order, uf.add(c.Record.ID)...)
			root := uf.union(ev.Record.ID, c.Record.ID)
			if c.Scores.Composite > best[root] {
				best[root] = c.Scores.Composite
			}
		}
	}

	// Scores recorded under a root that was later absorbed move to the final root.
	score := make(map[string]float64)
	for root, s := range best {
		final := uf.find(root)
		if s > score[final] {
			score[final] = s
		}
	}

	index := make(map[string]int)
	var groups []DuplicateGroup
	for _, id := range order {
		root := uf.find(id)
		if score[root] < e.config.CompositeThreshold || uf.size(root) < 2 {
			continue
		}
		i, ok := index[root]
		if !ok {
			i = len(groups)
			index[root] = i
			groups = append(groups, DuplicateGroup{SeedID: id, Score: score[root]})
		}
		groups[i].MemberIDs = append(groups[i].MemberIDs, id)
	}
	return groups
}

// mergeGroups merges the groups with bounded parallelism. Each group is claimed
// before its transaction starts; a group overlapping a claimed one is skipped.
func (e *Engine) mergeGroups(ctx context.Context, groups []DuplicateGroup, outcomes []GroupOutcome) {
	var g errgroup.Group
	g.SetLimit(e.config.Workers)
	for i, group := range groups {
		if ctx.Err() != nil {
			outcomes[i] = GroupOutcome{Group: group, Status: OutcomeSkipped, Error: ctx.Err().Error()}
			continue
		}
		g.Go(func() error {
			outcomes[i] = e.mergeGroup(ctx, group)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *Engine) mergeGroup(ctx context.Context, group DuplicateGroup) GroupOutcome {
	out := GroupOutcome{Group: group}
	if err := ctx.Err(); err != nil {
		out.Status = OutcomeSkipped
		out.Error = err.Error()
		return out
	}
	if !e.claims.TryClaim(group.MemberIDs) {
		out.Status = OutcomeSkipped
		out.Error = "members are claimed by a concurrent merge"
		return out
	}
	defer e.claims.Release(group.MemberIDs)

	primaryID, err := e.merger.Merge(ctx, group)
	if err != nil {
		out.Error = err.Error()
		if ctx.Err() != nil {
			out.Status = OutcomeSkipped
			return out
		}
		out.Status = OutcomeFailed
		e.logger.Error("group merge failed",
			zap.String("seed_id", group.SeedID),
			zap.Strings("member_ids", group.MemberIDs),
			zap.Error(err))
		return out
	}

	out.Status = OutcomeMerged
	out.PrimaryID = primaryID
	e.logger.Info("group merged",
		zap.String("primary_id", primaryID),
		zap.Strings("member_ids", group.MemberIDs),
		zap.Float64("score", group.Score))
	return out
}

// unionFind is a disjoint-set forest keyed by record id.
type unionFind struct {
	parent map[string]string
	sizes  map[string]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[string]string), sizes: make(map[string]int)}
}

// add registers id and returns it in a slice when it was new.
func (u *unionFind) add(id string) []string {
	if _, ok := u.parent[id]; ok {
		return nil
	}
	u.parent[id] = id
	u.sizes[id] = 1
	return []string{id}
}

func (u *unionFind) find(id string) string {
	for u.parent[id] != id {
		u.parent[id] = u.parent[u.parent[id]]
		id = u.parent[id]
	}
	return id
}

// union joins the sets of a and b and returns the new root.
func (u *unionFind) union(a, b string) string {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return ra
	}
	if u.sizes[ra] < u.sizes[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.sizes[ra] += u.sizes[rb]
	return ra
}

func (u *unionFind) size(root string) int {
	return u.sizes[root]
}
