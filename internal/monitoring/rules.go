package monitoring

import (
	"fmt"
	"time"

	"github.com/youthservices/svcreg/internal/types"
)

// AlertType identifies the rule that raised an alert.
type AlertType string

const (
	AlertLowSuccessRate  AlertType = "LOW_SUCCESS_RATE"
	AlertHighErrorRate   AlertType = "HIGH_ERROR_RATE"
	AlertNoServicesFound AlertType = "NO_SERVICES_FOUND"
)

// Severity ranks alerts and suggestions.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Metric names a value derived from a RunMetric.
type Metric string

const (
	MetricSuccessRate   Metric = "success_rate"
	MetricErrorRate     Metric = "error_rate"
	MetricServicesFound Metric = "services_found"
)

// Value derives the metric from a run.
func (m Metric) Value(run *types.RunMetric) (float64, error) {
	switch m {
	case MetricSuccessRate:
		return run.SuccessRate(), nil
	case MetricErrorRate:
		return run.ErrorRate(), nil
	case MetricServicesFound:
		return float64(run.ServicesFound), nil
	}
	return 0, fmt.Errorf("unknown metric: %s", m)
}

// Comparator tests a metric value against a rule bound.
type Comparator string

const (
	LessThan    Comparator = "<"
	GreaterThan Comparator = ">"
	Equal       Comparator = "=="
)

// Holds reports whether "value cmp bound" is true.
func (c Comparator) Holds(value, bound float64) bool {
	switch c {
	case LessThan:
		return value < bound
	case GreaterThan:
		return value > bound
	case Equal:
		return value == bound
	}
	return false
}

// AlertRule is one row of the alert table: raise Type with Severity when
// "Metric Comparator Bound" holds for a run.
type AlertRule struct {
	Type       AlertType
	Metric     Metric
	Comparator Comparator
	Bound      float64
	Severity   Severity
	// Message is formatted with the source, the value and the bound.
	Message func(source string, value, bound float64) string
}

// Validate checks the rule is complete.
func (r AlertRule) Validate() error {
	if r.Type == "" {
		return fmt.Errorf("rule type is required")
	}
	if _, err := r.Metric.Value(&types.RunMetric{}); err != nil {
		return fmt.Errorf("rule %s: %w", r.Type, err)
	}
	switch r.Comparator {
	case LessThan, GreaterThan, Equal:
	default:
		return fmt.Errorf("rule %s: unknown comparator %q", r.Type, r.Comparator)
	}
	if r.Message == nil {
		return fmt.Errorf("rule %s: message is required", r.Type)
	}
	return nil
}

// Alert is a threshold breach raised by one run. It is not an error.
type Alert struct {
	ID        string    `json:"id"`
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Source    string    `json:"source"`
	RunID     string    `json:"run_id,omitempty"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DefaultRules builds the standard alert table from cfg.
func DefaultRules(cfg Config) []AlertRule {
	return []AlertRule{
		{
			Type:       AlertLowSuccessRate,
			Metric:     MetricSuccessRate,
			Comparator: LessThan,
			Bound:      cfg.MinSuccessRate,
			Severity:   SeverityHigh,
			Message: func(source string, value, bound float64) string {
				return fmt.Sprintf("%s success rate %.1f%% below threshold %.0f%%", source, value*100, bound*100)
			},
		},
		{
			Type:       AlertHighErrorRate,
			Metric:     MetricErrorRate,
			Comparator: GreaterThan,
			Bound:      cfg.MaxErrorRate,
			Severity:   SeverityMedium,
			Message: func(source string, value, bound float64) string {
				return fmt.Sprintf("%s error rate %.1f%% above threshold %.0f%%", source, value*100, bound*100)
			},
		},
		{
			Type:       AlertNoServicesFound,
			Metric:     MetricServicesFound,
			Comparator: Equal,
			Bound:      0,
			Severity:   SeverityHigh,
			Message: func(source string, _, _ float64) string {
				return fmt.Sprintf("%s found no services, source may be down or changed", source)
			},
		},
	}
}

// Evaluate applies every rule to run in table order. Alerts carry no id; the
// monitor assigns one when it logs them.
func Evaluate(rules []AlertRule, run *types.RunMetric) []Alert {
	var alerts []Alert
	for _, r := range rules {
		value, err := r.Metric.Value(run)
		if err != nil || !r.Comparator.Holds(value, r.Bound) {
			continue
		}
		alerts = append(alerts, Alert{
			Type:      r.Type,
			Severity:  r.Severity,
			Source:    run.Source,
			RunID:     run.ID,
			Value:     value,
			Threshold: r.Bound,
			Message:   r.Message(run.Source, value, r.Bound),
			Timestamp: run.Timestamp,
		})
	}
	return alerts
}
