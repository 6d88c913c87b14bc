package monitoring

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youthservices/svcreg/internal/quality"
	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/storage/sqlite"
	"github.com/youthservices/svcreg/internal/telemetry"
	"github.com/youthservices/svcreg/internal/types"
)

var now = time.Date(2026, 6, 8, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestMonitor(t *testing.T, s storage.Storage, mutate func(*Config)) *Monitor {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewMonitor(s, cfg, nil, telemetry.New())
	require.NoError(t, err)
	m.now = func() time.Time { return now }
	return m
}

func alertTypes(alerts []Alert) []AlertType {
	var out []AlertType
	for _, a := range alerts {
		out = append(out, a.Type)
	}
	return out
}

func TestEvaluateRules(t *testing.T) {
	rules := DefaultRules(DefaultConfig())
	tests := []struct {
		name string
		run  types.RunMetric
		want []AlertType
	}{
		{
			name: "healthy run",
			run:  types.RunMetric{Source: "ask-izzy", ServicesFound: 100, ServicesProcessed: 95, Errors: 2},
		},
		{
			name: "low success rate",
			run:  types.RunMetric{Source: "ask-izzy", ServicesFound: 50, ServicesProcessed: 10},
			want: []AlertType{AlertLowSuccessRate},
		},
		{
			name: "high error rate",
			run:  types.RunMetric{Source: "ask-izzy", ServicesFound: 10, ServicesProcessed: 9, Errors: 3},
			want: []AlertType{AlertHighErrorRate},
		},
		{
			name: "error rate at bound does not alert",
			run:  types.RunMetric{Source: "ask-izzy", ServicesFound: 10, ServicesProcessed: 8, Errors: 2},
		},
		{
			name: "nothing found",
			run:  types.RunMetric{Source: "ask-izzy", Success: true, ServicesProcessed: 3, Errors: 0},
			want: []AlertType{AlertLowSuccessRate, AlertNoServicesFound},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(rules, &tt.run)
			assert.Equal(t, tt.want, alertTypes(got))
		})
	}
}

func TestLowSuccessRateAlertIsHigh(t *testing.T) {
	alerts := Evaluate(DefaultRules(DefaultConfig()), &types.RunMetric{Source: "qld-gov", ServicesFound: 50, ServicesProcessed: 10})
	require.Len(t, alerts, 1)
	assert.Equal(t, SeverityHigh, alerts[0].Severity)
	assert.InDelta(t, 0.2, alerts[0].Value, 1e-9)
	assert.Equal(t, 0.8, alerts[0].Threshold)
	assert.Equal(t, "qld-gov success rate 20.0% below threshold 80%", alerts[0].Message)
}

func TestSubmit(t *testing.T) {
	s := newTestStore(t)
	m := newTestMonitor(t, s, nil)
	ctx := context.Background()

	run := &types.RunMetric{Source: "headspace", ServicesFound: 0, DurationMs: 1200}
	alerts, err := m.Submit(ctx, run)
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, now, run.Timestamp)
	assert.Contains(t, alertTypes(alerts), AlertNoServicesFound)
	for _, a := range alerts {
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, run.ID, a.RunID)
	}
	assert.Equal(t, alerts, m.Alerts())

	stored, err := s.GetRunMetrics(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, run.ID, stored[0].ID)

	_, err = m.Submit(ctx, &types.RunMetric{Source: "headspace", Success: true, ServicesFound: 20, ServicesProcessed: 20, Errors: 1, DurationMs: 800})
	require.NoError(t, err)

	running := m.Running()
	require.Len(t, running, 1)
	assert.Equal(t, SourceStats{
		Source:          "headspace",
		Runs:            2,
		TotalServices:   20,
		TotalProcessed:  20,
		TotalErrors:     1,
		TotalDurationMs: 2000,
		LastRun:         now,
		LastSuccess:     now,
	}, running[0])
}

func TestSubmitRejectsInvalidRun(t *testing.T) {
	m := newTestMonitor(t, newTestStore(t), nil)

	_, err := m.Submit(context.Background(), &types.RunMetric{ServicesFound: 1})
	assert.True(t, types.IsValidationError(err))

	_, err = m.Submit(context.Background(), nil)
	assert.True(t, types.IsValidationError(err))
	assert.Empty(t, m.Alerts())
}

type failingStore struct {
	storage.Storage
}

func (f *failingStore) RecordRunMetric(context.Context, *types.RunMetric) error {
	return errors.New("disk full")
}

func TestSubmitRaisesAlertsWhenStoreFails(t *testing.T) {
	m := newTestMonitor(t, &failingStore{Storage: newTestStore(t)}, nil)

	alerts, err := m.Submit(context.Background(), &types.RunMetric{Source: "qld-gov", ServicesFound: 50, ServicesProcessed: 10})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, []AlertType{AlertLowSuccessRate}, alertTypes(alerts))
	assert.Len(t, m.Alerts(), 1)
	assert.Len(t, m.Running(), 1)
}

func TestAlertLogIsBounded(t *testing.T) {
	m := newTestMonitor(t, newTestStore(t), func(c *Config) {
		c.MaxAlerts = 3
		c.RecentAlerts = 2
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := m.Submit(ctx, &types.RunMetric{
			Source:            fmt.Sprintf("source-%d", i),
			ServicesFound:     10,
			ServicesProcessed: 1,
			Timestamp:         now.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	alerts := m.Alerts()
	require.Len(t, alerts, 3)
	assert.Equal(t, "source-2", alerts[0].Source)
	assert.Equal(t, "source-4", alerts[2].Source)

	recent := m.RecentAlerts(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "source-3", recent[0].Source)
	assert.Nil(t, m.RecentAlerts(0))
}

func TestSubmitConcurrent(t *testing.T) {
	m := newTestMonitor(t, newTestStore(t), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Submit(ctx, &types.RunMetric{Source: "ask-izzy", ServicesFound: 10, ServicesProcessed: 1})
		}()
	}
	wg.Wait()

	assert.Len(t, m.Alerts(), 20)
	assert.Equal(t, 20, m.Running()[0].Runs)
}

func TestReplay(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, r := range []*types.RunMetric{
		{Source: "a", ServicesFound: 10, ServicesProcessed: 1, Timestamp: now.Add(-10 * 24 * time.Hour)},
		{Source: "a", ServicesFound: 10, ServicesProcessed: 1, Timestamp: now.Add(-2 * 24 * time.Hour)},
		{Source: "b", ServicesFound: 0, Timestamp: now.Add(-time.Hour)},
		{Source: "b", ServicesFound: 5, ServicesProcessed: 5, Success: true, Timestamp: now.Add(-time.Minute)},
	} {
		require.NoError(t, s.RecordRunMetric(ctx, r))
	}

	m := newTestMonitor(t, s, nil)
	n, err := m.Replay(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []AlertType{AlertLowSuccessRate, AlertLowSuccessRate, AlertNoServicesFound}, alertTypes(m.Alerts()))

	running := m.Running()
	require.Len(t, running, 2)
	assert.Equal(t, 1, running[0].Runs)
	assert.Equal(t, 2, running[1].Runs)
	assert.True(t, now.Add(-time.Minute).Equal(running[1].LastSuccess))

	// replaying again rebuilds rather than appends
	n, err = m.Replay(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, m.Alerts(), 3)
}

func TestRollupRuns(t *testing.T) {
	rollups := RollupRuns([]*types.RunMetric{
		{Source: "b", ServicesFound: 40, ServicesProcessed: 30, Errors: 2, DurationMs: 40000},
		{Source: "b", ServicesFound: 60, ServicesProcessed: 50, Errors: 4, DurationMs: 30000},
		{Source: "a", ServicesFound: 0, DurationMs: 100},
	})
	require.Len(t, rollups, 2)

	assert.Equal(t, SourceRollup{Source: "a", TotalRuns: 1, AvgDurationMs: 100}, rollups[0])

	b := rollups[1]
	assert.Equal(t, 2, b.TotalRuns)
	assert.Equal(t, 100, b.TotalServicesFound)
	assert.Equal(t, 50.0, b.AvgServicesFound)
	assert.Equal(t, 3.0, b.AvgErrors)
	assert.Equal(t, 35000.0, b.AvgDurationMs)
	assert.InDelta(t, 0.8, b.AvgSuccessRate, 1e-9)
}

func TestSuggest(t *testing.T) {
	m := newTestMonitor(t, newTestStore(t), nil)

	got := m.Suggest([]SourceRollup{
		{Source: "healthy", TotalRuns: 3, TotalServicesFound: 30, AvgSuccessRate: 0.95, AvgDurationMs: 1000},
		{Source: "slow", TotalRuns: 2, TotalServicesFound: 30, AvgSuccessRate: 0.9, AvgDurationMs: 45000},
		{Source: "down", TotalRuns: 4, AvgDurationMs: 200},
	})
	require.Len(t, got, 3)

	assert.Equal(t, "slow", got[0].Source)
	assert.Equal(t, ActionOptimizePerformance, got[0].Action)
	assert.Equal(t, SeverityMedium, got[0].Priority)
	assert.Equal(t, HandlingAutoActionable, got[0].Handling)

	assert.Equal(t, ActionReviewExtraction, got[1].Action)
	assert.Equal(t, SeverityHigh, got[1].Priority)
	assert.Equal(t, HandlingManualReview, got[1].Handling)

	assert.Equal(t, ActionInvestigateSource, got[2].Action)
	assert.Equal(t, SeverityCritical, got[2].Priority)
	assert.Equal(t, HandlingManualReview, got[2].Handling)
	assert.Contains(t, got[2].Message, "7 days")
}

type stubQuality struct {
	report *quality.Report
	err    error
}

func (s stubQuality) Analyze(context.Context) (*quality.Report, error) {
	return s.report, s.err
}

func TestReport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertOrganization(ctx, &types.Organization{ID: "org-1", Name: "Headspace"}))
	require.NoError(t, s.UpsertService(ctx, &types.ServiceRecord{ID: "svc-1", OrganizationID: "org-1", Name: "Headspace Cairns"}))

	m := newTestMonitor(t, s, nil)
	// outside the rollup window
	require.NoError(t, s.RecordRunMetric(ctx, &types.RunMetric{Source: "old", ServicesFound: 5, ServicesProcessed: 5, Timestamp: now.Add(-8 * 24 * time.Hour)}))
	_, err := m.Submit(ctx, &types.RunMetric{Source: "headspace", ServicesFound: 0, DurationMs: 500})
	require.NoError(t, err)

	r, err := m.Report(ctx, stubQuality{report: &quality.Report{OverallScore: 0.5}})
	require.NoError(t, err)

	assert.Equal(t, now, r.Timestamp)
	assert.Equal(t, 1, r.Summary.TotalServices)
	assert.Equal(t, 1, r.Summary.ActiveServices)
	assert.Equal(t, 1, r.Summary.TotalOrganizations)
	assert.Equal(t, 1, r.Summary.ActiveSources)
	assert.Equal(t, 0.5, r.Summary.DataQualityScore)
	require.Len(t, r.Sources, 1)
	assert.Equal(t, "headspace", r.Sources[0].Source)
	assert.Len(t, r.RecentAlerts, 2)
	assert.Contains(t, r.Suggestions, Suggestion{
		Type:     "RELIABILITY",
		Source:   "headspace",
		Priority: SeverityCritical,
		Action:   ActionInvestigateSource,
		Handling: HandlingManualReview,
		Message:  "headspace has not found services in the last 7 days. The source may have changed or be down.",
	})
	assert.Len(t, r.Recommendations, 2)
}

func TestReportWithoutQuality(t *testing.T) {
	m := newTestMonitor(t, newTestStore(t), func(c *Config) { c.MinRecentAdditions = 0 })

	r, err := m.Report(context.Background(), stubQuality{err: errors.New("boom")})
	require.NoError(t, err)
	assert.Nil(t, r.Quality)
	assert.Equal(t, 0.0, r.Summary.DataQualityScore)
	assert.Empty(t, r.Recommendations)

	r, err = m.Report(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, r.Quality)
}

func TestNewMonitorValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := NewMonitor(nil, DefaultConfig(), nil, nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxAlerts = 0
	_, err = NewMonitor(s, cfg, nil, nil)
	assert.ErrorContains(t, err, "max_alerts must be positive")

	_, err = NewMonitorWithRules(s, DefaultConfig(), []AlertRule{{Type: "CUSTOM", Metric: "latency", Comparator: LessThan}}, nil, nil)
	assert.ErrorContains(t, err, "unknown metric")
}

func TestCustomRuleTable(t *testing.T) {
	rules := []AlertRule{{
		Type:       "MANY_ERRORS",
		Metric:     MetricErrorRate,
		Comparator: GreaterThan,
		Bound:      0.5,
		Severity:   SeverityCritical,
		Message:    func(source string, v, _ float64) string { return fmt.Sprintf("%s %.2f", source, v) },
	}}
	m, err := NewMonitorWithRules(newTestStore(t), DefaultConfig(), rules, nil, nil)
	require.NoError(t, err)

	alerts, err := m.Submit(context.Background(), &types.RunMetric{Source: "x", ServicesFound: 4, ServicesProcessed: 1, Errors: 3})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertType("MANY_ERRORS"), alerts[0].Type)
	assert.Equal(t, "x 0.75", alerts[0].Message)
}
