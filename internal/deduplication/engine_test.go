package deduplication

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/storage/sqlite"
	"github.com/youthservices/svcreg/internal/telemetry"
	"github.com/youthservices/svcreg/internal/types"
)

func newTestStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s storage.Storage, rec *types.ServiceRecord) *types.ServiceRecord {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertService(ctx, rec))
	require.NoError(t, s.UpsertChildEntities(ctx, rec.ID, rec.Locations, rec.Contacts, rec.Schedules))
	return rec
}

func newTestEngine(t *testing.T, s storage.Storage, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(s, cfg, nil, telemetry.New())
	require.NoError(t, err)
	return e
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

// brisbane returns a youth justice centre record; variants differ in phone formatting.
func brisbane(id, name, phone, description string, categories []string, updated time.Time) *types.ServiceRecord {
	return &types.ServiceRecord{
		ID:             id,
		OrganizationID: "org-yj",
		Name:           name,
		Description:    description,
		Categories:     categories,
		UpdatedAt:      updated,
		Locations: []types.Location{{
			Address1:    "1 Main St",
			City:        "Brisbane",
			State:       "QLD",
			Postcode:    "4000",
			Region:      "Brisbane",
			Coordinates: &types.Coordinates{Latitude: -27.4698, Longitude: 153.0251},
		}},
		Contacts:  []types.Contact{{Phones: []types.Phone{{Number: phone}}}},
		Schedules: []types.Schedule{{Weekday: "monday", Opens: "09:00", Closes: "17:00"}},
	}
}

func cairns(id, phone string, updated time.Time) *types.ServiceRecord {
	return &types.ServiceRecord{
		ID:             id,
		OrganizationID: "org-legal",
		Name:           "Cairns Legal Aid Office",
		Categories:     []string{"legal"},
		UpdatedAt:      updated,
		Locations: []types.Location{{
			Address1:    "42 Abbott St",
			City:        "Cairns",
			Region:      "Far North",
			Coordinates: &types.Coordinates{Latitude: -16.9186, Longitude: 145.7781},
		}},
		Contacts: []types.Contact{{Phones: []types.Phone{{Number: phone}}}},
	}
}

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Workers = 0
	_, err = NewEngine(newTestStore(t), cfg, nil, nil)
	assert.Error(t, err)
}

func TestCheckBrisbaneScenario(t *testing.T) {
	s := newTestStore(t)
	e := newTestEngine(t, s, nil)

	seed(t, s, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600",
		"Youth justice support.", []string{"legal"}, base))

	incoming := brisbane("b", "Brisbane Youth Justice Service Centre ", "07 3097 1600",
		"Youth justice support for young people and families in Brisbane.", []string{"justice"}, base)

	decision, err := e.Check(context.Background(), incoming)
	require.NoError(t, err)
	require.NoError(t, decision.Validate())
	assert.True(t, decision.IsDuplicate)
	assert.Equal(t, "a", decision.DuplicateOf)
	assert.GreaterOrEqual(t, decision.Confidence, 0.8)
	require.NotNil(t, decision.FieldScores)
	assert.Equal(t, 1.0, decision.FieldScores.Phone)
	assert.Equal(t, 1, decision.ComparedCount)
	assert.Empty(t, decision.RetrievalErrors)
}

func TestCheckRejectsInvalidRecord(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), nil)

	_, err := e.Check(context.Background(), &types.ServiceRecord{Name: "  "})
	require.Error(t, err)
	assert.True(t, types.IsValidationError(err))

	_, err = e.Check(context.Background(), nil)
	assert.True(t, types.IsValidationError(err))
}

func TestUnrelatedRecordsAreNeverCandidates(t *testing.T) {
	s := newTestStore(t)
	e := newTestEngine(t, s, nil)

	a := seed(t, s, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600", "", nil, base))
	seed(t, s, cairns("c", "(07) 4000 0000", base))

	set, err := e.finder.Find(context.Background(), a)
	require.NoError(t, err)
	assert.Empty(t, set.Candidates)
	assert.Empty(t, set.Errors)

	decision, err := e.Check(context.Background(), a)
	require.NoError(t, err)
	assert.False(t, decision.IsDuplicate)
	assert.Equal(t, 0, decision.ComparedCount)
}

func TestFindMergesStrategiesWithoutDuplicates(t *testing.T) {
	s := newTestStore(t)
	e := newTestEngine(t, s, nil)

	a := seed(t, s, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600", "", nil, base))
	seed(t, s, brisbane("b", "Brisbane Youth Justice Service Centre", "07 3097 1600", "", nil, base))

	set, err := e.finder.Find(context.Background(), a)
	require.NoError(t, err)
	require.Equal(t, []string{"b"}, set.IDs())
	assert.ElementsMatch(t, Strategies, set.Sources["b"], "every strategy finds b, but it appears once")
}

// faultyStore fails selected operations of an embedded store.
type faultyStore struct {
	storage.Storage
	failPhone   bool
	failLookups bool
	failPing    bool
	failMerge   func(plan *types.MergePlan) bool
	afterMerge  func()
}

var errInjected = errors.New("injected failure")

func (f *faultyStore) FindByPhone(ctx context.Context, digits []string, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	if f.failPhone || f.failLookups {
		return nil, errInjected
	}
	return f.Storage.FindByPhone(ctx, digits, excludeID, limit)
}

func (f *faultyStore) FindByNormalizedName(ctx context.Context, name, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	if f.failLookups {
		return nil, errInjected
	}
	return f.Storage.FindByNormalizedName(ctx, name, excludeID, limit)
}

func (f *faultyStore) FindByOrganization(ctx context.Context, organizationID, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	if f.failLookups {
		return nil, errInjected
	}
	return f.Storage.FindByOrganization(ctx, organizationID, excludeID, limit)
}

func (f *faultyStore) FindBySimilarName(ctx context.Context, name, excludeID string, minSimilarity float64, limit int) ([]*types.ServiceRecord, error) {
	if f.failLookups {
		return nil, errInjected
	}
	return f.Storage.FindBySimilarName(ctx, name, excludeID, minSimilarity, limit)
}

func (f *faultyStore) FindNearby(ctx context.Context, lat, lng, radiusMeters float64, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	if f.failLookups {
		return nil, errInjected
	}
	return f.Storage.FindNearby(ctx, lat, lng, radiusMeters, excludeID, limit)
}

func (f *faultyStore) Ping(ctx context.Context) error {
	if f.failPing {
		return fmt.Errorf("%w: %v", types.ErrStoreUnavailable, errInjected)
	}
	return f.Storage.Ping(ctx)
}

func (f *faultyStore) ApplyMerge(ctx context.Context, plan *types.MergePlan) error {
	if f.failMerge != nil && f.failMerge(plan) {
		return errInjected
	}
	err := f.Storage.ApplyMerge(ctx, plan)
	if f.afterMerge != nil {
		f.afterMerge()
	}
	return err
}

func TestCheckDegradesOnRetrievalError(t *testing.T) {
	inner := newTestStore(t)
	s := &faultyStore{Storage: inner, failPhone: true}
	e := newTestEngine(t, s, nil)

	seed(t, inner, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600", "", nil, base))
	decision, err := e.Check(context.Background(),
		brisbane("b", "Brisbane Youth Justice Service Centre", "07 3097 1600", "", nil, base))
	require.NoError(t, err)
	assert.True(t, decision.IsDuplicate)
	require.Len(t, decision.RetrievalErrors, 1)
	assert.Equal(t, StrategyPhone, decision.RetrievalErrors[0].Strategy)
	assert.True(t, errors.Is(decision.RetrievalErrors[0], errInjected))
}

func TestStoreUnavailable(t *testing.T) {
	inner := newTestStore(t)
	s := &faultyStore{Storage: inner, failLookups: true, failPing: true}
	e := newTestEngine(t, s, nil)

	_, err := e.Check(context.Background(),
		brisbane("b", "Brisbane Youth Justice Service Centre", "07 3097 1600", "", nil, base))
	assert.True(t, errors.Is(err, types.ErrStoreUnavailable))

	result, err := e.Sweep(context.Background(), SweepOptions{})
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, types.ErrStoreUnavailable))
}

func TestSweepMergesGroupAndIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	e := newTestEngine(t, s, nil)
	ctx := context.Background()

	seed(t, s, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600",
		"Youth justice support.", []string{"legal"}, base))
	seed(t, s, brisbane("b", "Brisbane Youth Justice Service Centre ", "07 3097 1600",
		"Youth justice support for young people and families in Brisbane.", []string{"justice"}, base.Add(time.Hour)))
	seed(t, s, brisbane("c", "brisbane youth justice service centre", "+07-3097-1600",
		"", []string{"legal", "youth"}, base.Add(-time.Hour)))
	seed(t, s, cairns("x", "(07) 4000 0000", base))

	result, err := e.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	require.NoError(t, result.Validate())
	require.Len(t, result.Groups, 1)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, result.Groups[0].MemberIDs)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, "b", result.Outcomes[0].PrimaryID)
	assert.Equal(t, 4, result.Stats.RecordsScanned)

	survivor, err := s.GetService(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Youth justice support for young people and families in Brisbane.", survivor.Description)
	assert.ElementsMatch(t, []string{"justice", "legal", "youth"}, survivor.Categories)
	assert.Len(t, survivor.Locations, 1)
	require.Len(t, survivor.Contacts, 1)
	assert.Len(t, survivor.Contacts[0].Phones, 1)
	assert.Len(t, survivor.Schedules, 3)

	for _, id := range []string{"a", "c"} {
		absorbed, err := s.GetService(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusInactive, absorbed.Status)
		assert.Equal(t, "b", absorbed.MergedInto)
	}

	history, err := s.GetMergeHistory(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, history, 2)

	again, err := e.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	assert.Empty(t, again.Groups)
	assert.Equal(t, 0, again.Merged)
}

func TestFindGroupsDoesNotMerge(t *testing.T) {
	s := newTestStore(t)
	e := newTestEngine(t, s, nil)
	ctx := context.Background()

	seed(t, s, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600", "", nil, base))
	seed(t, s, brisbane("b", "Brisbane Youth Justice Service Centre", "07 3097 1600", "", nil, base))

	result, err := e.FindGroups(ctx, SweepOptions{})
	require.NoError(t, err)
	require.NoError(t, result.Validate())
	assert.Len(t, result.Groups, 1)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Merged)

	for _, id := range []string{"a", "b"} {
		rec, err := s.GetService(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.IsActive())
	}
}

func TestSweepFailedGroupDoesNotAbortOthers(t *testing.T) {
	inner := newTestStore(t)
	s := &faultyStore{Storage: inner, failMerge: func(plan *types.MergePlan) bool {
		for _, id := range plan.MemberIDs() {
			if id == "x1" {
				return true
			}
		}
		return false
	}}
	e := newTestEngine(t, s, nil)
	ctx := context.Background()

	seed(t, inner, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600", "", nil, base))
	seed(t, inner, brisbane("b", "Brisbane Youth Justice Service Centre", "07 3097 1600", "", nil, base))
	seed(t, inner, cairns("x1", "(07) 4000 0000", base))
	seed(t, inner, cairns("x2", "07 4000 0000", base))

	result, err := e.Sweep(ctx, SweepOptions{})
	require.NoError(t, err)
	require.NoError(t, result.Validate())
	assert.Len(t, result.Groups, 2)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Failed)

	for _, o := range result.Outcomes {
		if o.Status == OutcomeFailed {
			assert.Contains(t, o.Error, "injected failure")
		}
	}
	for _, id := range []string{"x1", "x2"} {
		rec, err := inner.GetService(ctx, id)
		require.NoError(t, err)
		assert.True(t, rec.IsActive(), "failed group stays unmerged")
	}
}

func TestSweepCanceledBetweenGroups(t *testing.T) {
	inner := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &faultyStore{Storage: inner, afterMerge: cancel}
	e := newTestEngine(t, s, func(c *Config) { c.Workers = 1 })

	seed(t, inner, brisbane("a", "Brisbane Youth Justice Service Centre", "(07) 3097 1600", "", nil, base))
	seed(t, inner, brisbane("b", "Brisbane Youth Justice Service Centre", "07 3097 1600", "", nil, base))
	seed(t, inner, cairns("x1", "(07) 4000 0000", base))
	seed(t, inner, cairns("x2", "07 4000 0000", base))

	result, err := e.Sweep(ctx, SweepOptions{})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	require.NoError(t, result.Validate())
	assert.True(t, result.Canceled)
	assert.Equal(t, 1, result.Merged, "the committed group stays committed")
	assert.Equal(t, 1, result.Skipped)
}

func TestSweepCanceledBeforeStart(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Sweep(ctx, SweepOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

// chain builds evaluations where A~B and B~C match but A~C does not.
func chain() []*Evaluation {
	a := &types.ServiceRecord{ID: "a"}
	b := &types.ServiceRecord{ID: "b"}
	c := &types.ServiceRecord{ID: "c"}
	scored := func(r *types.ServiceRecord, score float64) ScoredCandidate {
		return ScoredCandidate{Record: r, Scores: FieldScores{Composite: score}}
	}
	return []*Evaluation{
		{Record: a, Candidates: []ScoredCandidate{scored(b, 0.9), scored(c, 0.4)}},
		{Record: b, Candidates: []ScoredCandidate{scored(a, 0.9), scored(c, 0.85)}},
		{Record: c, Candidates: []ScoredCandidate{scored(b, 0.85), scored(a, 0.4)}},
	}
}

func TestHubGroupsDoNotFollowChains(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), nil)

	groups := e.hubGroups(chain())
	require.Len(t, groups, 1)
	assert.Equal(t, "a", groups[0].SeedID)
	assert.Equal(t, []string{"a", "b"}, groups[0].MemberIDs)
	assert.Equal(t, 0.9, groups[0].Score)
}

func TestConnectedGroupsFollowChains(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), func(c *Config) { c.Grouping = GroupingConnected })

	groups := e.connectedGroups(chain())
	require.Len(t, groups, 1)
	assert.Equal(t, []string{"a", "b", "c"}, groups[0].MemberIDs)
	assert.Equal(t, 0.9, groups[0].Score)
}

func TestConnectedGroupNeedsThresholdEdge(t *testing.T) {
	e := newTestEngine(t, newTestStore(t), func(c *Config) {
		c.Grouping = GroupingConnected
		c.MinScore = 0.6
	})
	a := &types.ServiceRecord{ID: "a"}
	b := &types.ServiceRecord{ID: "b"}
	evals := []*Evaluation{
		{Record: a, Candidates: []ScoredCandidate{{Record: b, Scores: FieldScores{Composite: 0.7}}}},
		{Record: b, Candidates: []ScoredCandidate{{Record: a, Scores: FieldScores{Composite: 0.7}}}},
	}
	assert.Empty(t, e.connectedGroups(evals))
}

func TestClaimSet(t *testing.T) {
	c := newClaimSet()
	assert.True(t, c.TryClaim([]string{"a", "b"}))
	assert.False(t, c.TryClaim([]string{"b", "c"}), "overlapping claim fails")
	assert.True(t, c.TryClaim([]string{"c"}), "failed claim leaves c unclaimed")
	c.Release([]string{"a", "b"})
	assert.True(t, c.TryClaim([]string{"b"}))
}

func TestSweepResultValidate(t *testing.T) {
	r := &SweepResult{
		Groups:   []DuplicateGroup{{SeedID: "a", MemberIDs: []string{"a", "b"}, Score: 0.9}},
		Outcomes: []GroupOutcome{{Status: OutcomeMerged}},
		Merged:   1,
	}
	assert.NoError(t, r.Validate())

	r.Failed = 1
	assert.Error(t, r.Validate())

	overlap := &SweepResult{
		Groups: []DuplicateGroup{
			{SeedID: "a", MemberIDs: []string{"a", "b"}},
			{SeedID: "c", MemberIDs: []string{"c", "b"}},
		},
		Outcomes: []GroupOutcome{{Status: OutcomeSkipped}, {Status: OutcomeSkipped}},
		Skipped:  2,
	}
	assert.ErrorContains(t, overlap.Validate(), "appears in groups")
}

func TestDuplicateDecisionValidate(t *testing.T) {
	tests := []struct {
		name     string
		decision DuplicateDecision
		errorMsg string
	}{
		{"valid non-duplicate", DuplicateDecision{Confidence: 0.42, ComparedCount: 3}, ""},
		{"valid duplicate", DuplicateDecision{IsDuplicate: true, DuplicateOf: "a", Confidence: 0.95}, ""},
		{"duplicate without duplicate_of", DuplicateDecision{IsDuplicate: true, Confidence: 0.95}, "duplicate_of must be set"},
		{"non-duplicate with duplicate_of", DuplicateDecision{DuplicateOf: "a"}, "duplicate_of should not be set"},
		{"confidence too high", DuplicateDecision{Confidence: 1.5}, "confidence must be between"},
		{"negative compared count", DuplicateDecision{ComparedCount: -1}, "compared_count cannot be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Validate()
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errorMsg)
		})
	}
}
