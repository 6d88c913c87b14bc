package monitoring

import (
	"fmt"
	"time"
)

// Config holds run monitor configuration
type Config struct {
	// MinSuccessRate is the success rate below which a run raises LOW_SUCCESS_RATE
	// and a source rollup suggests reviewing its extraction logic.
	// Default: 0.8
	MinSuccessRate float64

	// MaxErrorRate is the error rate above which a run raises HIGH_ERROR_RATE.
	// Default: 0.2
	MaxErrorRate float64

	// SlowRunMs is the average run duration above which a rollup suggests optimizing.
	// Default: 30000
	SlowRunMs int64

	// MaxAlerts bounds the in-memory alert log. Oldest alerts are dropped first.
	// Default: 100
	MaxAlerts int

	// RecentAlerts is how many alerts a report lists.
	// Default: 10
	RecentAlerts int

	// RollupWindow is the trailing window of per-source rollups.
	// Default: 7 days
	RollupWindow time.Duration

	// SummaryWindow is the window "services added" is counted over in a report.
	// Default: 24 hours
	SummaryWindow time.Duration

	// MinRecentAdditions is the number of services added in SummaryWindow below which
	// a report recommends checking collection.
	// Default: 10
	MinRecentAdditions int

	// QualityTarget is the quality score below which a report recommends action.
	// Default: 0.7
	QualityTarget float64
}

// DefaultConfig returns default monitor configuration
func DefaultConfig() Config {
	return Config{
		MinSuccessRate:     0.8,
		MaxErrorRate:       0.2,
		SlowRunMs:          30000,
		MaxAlerts:          100,
		RecentAlerts:       10,
		RollupWindow:       7 * 24 * time.Hour,
		SummaryWindow:      24 * time.Hour,
		MinRecentAdditions: 10,
		QualityTarget:      0.7,
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.MinSuccessRate < 0 || c.MinSuccessRate > 1 {
		return fmt.Errorf("min_success_rate must be between 0.0 and 1.0 (got %.2f)", c.MinSuccessRate)
	}
	if c.MaxErrorRate < 0 || c.MaxErrorRate > 1 {
		return fmt.Errorf("max_error_rate must be between 0.0 and 1.0 (got %.2f)", c.MaxErrorRate)
	}
	if c.SlowRunMs <= 0 {
		return fmt.Errorf("slow_run_ms must be positive (got %d)", c.SlowRunMs)
	}
	if c.MaxAlerts <= 0 {
		return fmt.Errorf("max_alerts must be positive (got %d)", c.MaxAlerts)
	}
	if c.RecentAlerts < 0 || c.RecentAlerts > c.MaxAlerts {
		return fmt.Errorf("recent_alerts must be between 0 and max_alerts (got %d)", c.RecentAlerts)
	}
	if c.RollupWindow <= 0 {
		return fmt.Errorf("rollup_window must be positive (got %v)", c.RollupWindow)
	}
	if c.SummaryWindow <= 0 {
		return fmt.Errorf("summary_window must be positive (got %v)", c.SummaryWindow)
	}
	if c.MinRecentAdditions < 0 {
		return fmt.Errorf("min_recent_additions cannot be negative (got %d)", c.MinRecentAdditions)
	}
	if c.QualityTarget < 0 || c.QualityTarget > 1 {
		return fmt.Errorf("quality_target must be between 0.0 and 1.0 (got %.2f)", c.QualityTarget)
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf("MonitorConfig{MinSuccessRate: %.2f, MaxErrorRate: %.2f, SlowRunMs: %d, MaxAlerts: %d, RollupWindow: %v}",
		c.MinSuccessRate, c.MaxErrorRate, c.SlowRunMs, c.MaxAlerts, c.RollupWindow)
}
