package monitoring

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/youthservices/svcreg/internal/quality"
)

// QualitySource produces a quality snapshot for a report.
type QualitySource interface {
	Analyze(ctx context.Context) (*quality.Report, error)
}

// Summary is the registry overview of a report.
type Summary struct {
	TotalServices      int     `json:"total_services"`
	ActiveServices     int     `json:"active_services"`
	TotalOrganizations int     `json:"total_organizations"`
	ServicesAdded      int     `json:"services_added"` // within SummaryWindow
	MergeHistoryCount  int     `json:"merge_history_count"`
	DataQualityScore   float64 `json:"data_quality_score"`
	ActiveSources      int     `json:"active_sources"`
}

// Report is the operator-facing monitoring snapshot.
type Report struct {
	Timestamp       time.Time       `json:"timestamp"`
	Summary         Summary         `json:"summary"`
	Sources         []SourceRollup  `json:"sources"`
	RecentAlerts    []Alert         `json:"recent_alerts"`
	Suggestions     []Suggestion    `json:"suggestions"`
	Quality         *quality.Report `json:"quality,omitempty"`
	Recommendations []string        `json:"recommendations"`
}

// Report assembles a monitoring report. The quality snapshot is optional: when q is
// nil or its analysis fails the report is built without it.
func (m *Monitor) Report(ctx context.Context, q QualitySource) (*Report, error) {
	now := m.now()
	stats, err := m.store.GetStatistics(ctx, now.Add(-m.config.SummaryWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}
	rollups, err := m.Rollup(ctx)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Timestamp: now,
		Summary: Summary{
			TotalServices:      stats.TotalServices,
			ActiveServices:     stats.ActiveServices,
			TotalOrganizations: stats.TotalOrganizations,
			ServicesAdded:      stats.ServicesAdded,
			MergeHistoryCount:  stats.MergeHistoryCount,
			ActiveSources:      len(rollups),
		},
		Sources:      rollups,
		RecentAlerts: m.RecentAlerts(m.config.RecentAlerts),
		Suggestions:  m.Suggest(rollups),
	}

	if q != nil {
		qr, err := q.Analyze(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			m.logger.Warn("quality analysis failed, report built without it", zap.Error(err))
		} else {
			r.Quality = qr
			r.Summary.DataQualityScore = qr.OverallScore
		}
	}

	if r.Quality != nil && r.Quality.OverallScore < m.config.QualityTarget {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf(
			"Data quality below target (%.0f%%). Focus on improving completeness and reducing duplicates.",
			m.config.QualityTarget*100))
	}
	if r.Summary.ServicesAdded < m.config.MinRecentAdditions {
		r.Recommendations = append(r.Recommendations,
			"Low recent data collection. Check source performance and availability.")
	}

	m.logger.Info("monitoring report generated",
		zap.Int("services", r.Summary.TotalServices),
		zap.Int("sources", len(rollups)),
		zap.Int("alerts", len(r.RecentAlerts)),
		zap.Int("suggestions", len(r.Suggestions)),
		zap.Float64("quality", r.Summary.DataQualityScore))
	return r, nil
}
