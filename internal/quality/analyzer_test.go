package quality

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/storage/sqlite"
	"github.com/youthservices/svcreg/internal/telemetry"
	"github.com/youthservices/svcreg/internal/types"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T, cfg Config) (*Analyzer, *sqlite.SQLiteStorage, *telemetry.Metrics) {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := telemetry.New()
	a, err := NewAnalyzer(s, cfg, nil, m)
	require.NoError(t, err)
	a.now = func() time.Time { return now }
	return a, s, m
}

func intPtr(v int) *int { return &v }

func gaugeValue(t *testing.T, m *telemetry.Metrics, name string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) > 0 {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

func completeRecord(id string, updated time.Time) *types.ServiceRecord {
	return &types.ServiceRecord{
		ID:                 id,
		OrganizationID:     "org-1",
		Name:               "Brisbane Youth Justice Service",
		Description:        "Supports young people aged 10 to 17 who are in contact with the youth justice system.",
		Categories:         []string{"justice", "legal"},
		MinAge:             intPtr(10),
		VerificationStatus: types.VerificationVerified,
		UpdatedAt:          updated,
		Locations: []types.Location{{
			Address1:    "1 Main St",
			City:        "Brisbane",
			Region:      "Brisbane",
			Coordinates: &types.Coordinates{Latitude: -27.4698, Longitude: 153.0251},
		}},
		Contacts: []types.Contact{{
			Email:  "yj@example.org",
			Phones: []types.Phone{{Number: "(07) 3097 1600"}},
		}},
	}
}

func TestAnalyzeEmptyStore(t *testing.T) {
	a, _, m := newTestAnalyzer(t, DefaultConfig())

	r, err := a.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, r.TotalServices)
	assert.Equal(t, 0.0, r.OverallScore)
	assert.Empty(t, r.SectionScores())
	assert.Len(t, r.Recommendations, 1)
	assert.Equal(t, 0.0, gaugeValue(t, m, telemetry.MetricQualityScore))
}

func TestComputeReport(t *testing.T) {
	a, _, _ := newTestAnalyzer(t, DefaultConfig())
	records := []*types.ServiceRecord{
		completeRecord("a", now.Add(-2*24*time.Hour)),
		{ID: "b", Name: "Cairns Legal Aid", UpdatedAt: now.Add(-60 * 24 * time.Hour)},
	}

	r := a.Compute(records)
	assert.Equal(t, 2, r.TotalServices)

	assert.Equal(t, FieldCompleteness{Complete: 2, Total: 2, Fraction: 1}, r.Completeness.Fields[FieldName])
	for _, f := range CompletenessFields[1:] {
		assert.Equal(t, 0.5, r.Completeness.Fields[f].Fraction, f)
	}
	assert.InDelta(t, 0.5625, r.Completeness.Score, 1e-9)

	assert.Equal(t, 1, r.Freshness.UpdatedLastWeek)
	assert.Equal(t, 1, r.Freshness.UpdatedLastMonth)
	assert.Equal(t, 2, r.Freshness.UpdatedLastQuarter)
	assert.InDelta(t, 31.0, r.Freshness.AvgDaysSinceUpdate, 1e-9)
	assert.Equal(t, 0.5, r.Freshness.Score)

	require.Len(t, r.Coverage.Regions, 1)
	assert.Equal(t, RegionCoverage{Region: "Brisbane", ServiceCount: 1, OrganizationCount: 1, Categories: []string{"justice", "legal"}}, r.Coverage.Regions[0])
	assert.InDelta(t, 1.0/13.0, r.Coverage.Score, 1e-9)

	assert.Equal(t, 0, r.Duplicates.PotentialDuplicates)
	assert.Equal(t, 1.0, r.Duplicates.Score)

	want := 0.5625*0.4 + 0.5*0.3 + (1.0/13.0)*0.2 + 1*0.1
	assert.InDelta(t, want, r.OverallScore, 1e-9)
	assert.Len(t, r.Recommendations, 2)
}

func TestComputeExcludesCoverageWithoutKnownRegions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TotalKnownRegions = 0
	a, _, _ := newTestAnalyzer(t, cfg)

	r := a.Compute([]*types.ServiceRecord{completeRecord("a", now)})
	assert.NotContains(t, r.SectionScores(), SectionCoverage)
	// completeness, freshness and duplicates are all perfect
	assert.InDelta(t, 1.0, r.OverallScore, 1e-9)
}

func TestComputeDuplicates(t *testing.T) {
	tests := []struct {
		name         string
		names        []string
		maxPairs     int
		maxExamples  int
		wantPairs    int
		wantExamples int
		wantScore    float64
	}{
		{
			name:         "one residual pair",
			names:        []string{"Youth Legal Service", "Youth Legal Service", "Headspace Cairns"},
			maxPairs:     100,
			maxExamples:  10,
			wantPairs:    1,
			wantExamples: 1,
			wantScore:    1 - 2.0/3.0,
		},
		{
			name:         "pair count capped",
			names:        []string{"Kids Helpline", "Kids Helpline", "Kids Helpline", "Kids Helpline"},
			maxPairs:     3,
			maxExamples:  2,
			wantPairs:    3,
			wantExamples: 2,
			wantScore:    0,
		},
		{
			name:         "distinct names",
			names:        []string{"Kids Helpline", "Headspace Cairns"},
			maxPairs:     100,
			maxExamples:  10,
			wantPairs:    0,
			wantExamples: 0,
			wantScore:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.MaxDuplicatePairs = tt.maxPairs
			cfg.MaxExamples = tt.maxExamples
			a, _, _ := newTestAnalyzer(t, cfg)

			var records []*types.ServiceRecord
			for i, n := range tt.names {
				records = append(records, &types.ServiceRecord{ID: string(rune('z' - i)), Name: n, UpdatedAt: now})
			}
			d := a.Compute(records).Duplicates
			assert.Equal(t, tt.wantPairs, d.PotentialDuplicates)
			assert.Len(t, d.Examples, tt.wantExamples)
			assert.InDelta(t, tt.wantScore, d.Score, 1e-9)
			for _, p := range d.Examples {
				assert.Less(t, p.ServiceID1, p.ServiceID2)
			}
		})
	}
}

func TestAnalyzeScoresStayInRange(t *testing.T) {
	a, s, m := newTestAnalyzer(t, DefaultConfig())
	ctx := context.Background()
	for _, rec := range []*types.ServiceRecord{
		completeRecord("a", now),
		completeRecord("b", now.Add(-400*24*time.Hour)),
		{ID: "c", Name: "Brisbane Youth Justice Service", UpdatedAt: now},
	} {
		require.NoError(t, s.UpsertService(ctx, rec))
		require.NoError(t, s.UpsertChildEntities(ctx, rec.ID, rec.Locations, rec.Contacts, rec.Schedules))
	}

	r, err := a.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, r.TotalServices)
	assert.GreaterOrEqual(t, r.OverallScore, 0.0)
	assert.LessOrEqual(t, r.OverallScore, 1.0)
	assert.Equal(t, 3, r.Duplicates.PotentialDuplicates)
	assert.InDelta(t, r.OverallScore, gaugeValue(t, m, telemetry.MetricQualityScore), 1e-9)
}

func TestLevelFor(t *testing.T) {
	tests := []struct {
		score float64
		want  Level
	}{
		{1, LevelExcellent},
		{0.85, LevelExcellent},
		{0.84, LevelGood},
		{0.70, LevelGood},
		{0.55, LevelFair},
		{0.40, LevelPoor},
		{0.39, LevelCritical},
		{0, LevelCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelFor(tt.score), "score %.2f", tt.score)
	}
}

func TestAssessRecord(t *testing.T) {
	a, _, _ := newTestAnalyzer(t, DefaultConfig())

	full := a.AssessRecord(completeRecord("a", now.Add(-time.Hour)), now)
	assert.Equal(t, 1.0, full.Completeness)
	assert.Equal(t, 1.0, full.Freshness)
	assert.Equal(t, 1.0, full.Verification)
	assert.InDelta(t, 1.0, full.Overall, 1e-9)
	assert.Equal(t, LevelExcellent, full.Level)
	assert.Empty(t, full.Issues)
	require.NoError(t, full.Validate())

	sparse := a.AssessRecord(&types.ServiceRecord{
		ID:                 "b",
		Name:               "Headspace",
		VerificationStatus: types.VerificationPending,
		UpdatedAt:          now.Add(-200 * 24 * time.Hour),
	}, now)
	assert.Equal(t, 0.125, sparse.Completeness)
	assert.Equal(t, 0.25, sparse.Freshness)
	assert.Equal(t, 0.5, sparse.Verification)
	assert.InDelta(t, 0.6*0.125+0.2*0.25+0.2*0.5, sparse.Overall, 1e-9)
	assert.Equal(t, LevelCritical, sparse.Level)
	assert.Contains(t, sparse.Issues, "no phone number")
	assert.Contains(t, sparse.Issues, "not updated for 200 days")
	assert.NotContains(t, sparse.Issues, "not verified")
}

func TestAnnotatePersistsScores(t *testing.T) {
	a, s, _ := newTestAnalyzer(t, DefaultConfig())
	ctx := context.Background()
	rec := completeRecord("a", now)
	rec.VerificationStatus = types.VerificationUnverified
	require.NoError(t, s.UpsertService(ctx, rec))
	require.NoError(t, s.UpsertChildEntities(ctx, rec.ID, rec.Locations, rec.Contacts, rec.Schedules))

	res, err := a.Annotate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Assessed)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 1, res.ByLevel[LevelGood])

	got, err := s.GetService(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.CompletenessScore)
	assert.Equal(t, 0.2, got.VerificationScore)
	assert.True(t, got.UpdatedAt.Equal(now), "annotation does not touch updated_at")
}

func TestNewAnalyzerValidation(t *testing.T) {
	_, err := NewAnalyzer(nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Weights.Coverage = 0.5
	s, err := sqlite.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	defer s.Close()
	_, err = NewAnalyzer(s, cfg, nil, nil)
	assert.ErrorContains(t, err, "weights must sum to 1.0")
}

func TestDuplicatesMatchesPairwiseScan(t *testing.T) {
	names := []string{
		"Kids Helpline", "Kids Help Line", "Kids Helpline Qld", "Headspace Cairns",
		"Headspace Cairns", "headspace  cairns", "Brisbane Youth Justice Service Centre",
		"Youth Justice Service Centre Brisbane", "Cairns Legal Aid Office", "", "Legal Aid",
	}
	cfg := DefaultConfig()
	cfg.DuplicateNameThreshold = 0.5
	a, _, _ := newTestAnalyzer(t, cfg)

	var records []*types.ServiceRecord
	for i, n := range names {
		records = append(records, &types.ServiceRecord{ID: fmt.Sprintf("svc-%02d", i), Name: n})
	}

	want := 0
	for i := range records {
		for j := i + 1; j < len(records); j++ {
			if normalize.Trigram(records[i].Name, records[j].Name) > cfg.DuplicateNameThreshold {
				want++
			}
		}
	}
	require.Positive(t, want)
	assert.Equal(t, want, a.duplicates(records).PotentialDuplicates)
}

func TestDuplicatesScanLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DuplicateScanLimit = 2
	a, _, _ := newTestAnalyzer(t, cfg)

	var records []*types.ServiceRecord
	for i := 0; i < 4; i++ {
		records = append(records, &types.ServiceRecord{ID: fmt.Sprintf("svc-%d", i), Name: "Kids Helpline"})
	}
	d := a.duplicates(records)
	assert.Equal(t, 1, d.PotentialDuplicates, "only the first two records are compared")
	require.Len(t, d.Examples, 1)
	assert.Equal(t, "svc-0", d.Examples[0].ServiceID1)
	assert.Equal(t, "svc-1", d.Examples[0].ServiceID2)

	cfg.DuplicateScanLimit = -1
	assert.ErrorContains(t, cfg.Validate(), "duplicate_scan_limit")
}
