package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/telemetry"
	"github.com/youthservices/svcreg/internal/types"
)

// SourceStats are the running totals of one source since the monitor started
// (or since the last Replay).
type SourceStats struct {
	Source          string    `json:"source"`
	Runs            int       `json:"runs"`
	TotalServices   int       `json:"total_services"`
	TotalProcessed  int       `json:"total_processed"`
	TotalErrors     int       `json:"total_errors"`
	TotalDurationMs int64     `json:"total_duration_ms"`
	LastRun         time.Time `json:"last_run"`
	LastSuccess     time.Time `json:"last_success,omitempty"`
}

// Monitor ingests run metrics, raises threshold alerts and keeps a bounded alert log.
// It is safe for concurrent use.
type Monitor struct {
	store   storage.Storage
	config  Config
	rules   []AlertRule
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	alerts  []Alert
	running map[string]*SourceStats
}

// NewMonitor creates a run monitor using DefaultRules(config).
func NewMonitor(store storage.Storage, config Config, logger *zap.Logger, metrics *telemetry.Metrics) (*Monitor, error) {
	return NewMonitorWithRules(store, config, DefaultRules(config), logger, metrics)
}

// NewMonitorWithRules creates a run monitor evaluating a custom alert table.
func NewMonitorWithRules(store storage.Storage, config Config, rules []AlertRule, logger *zap.Logger, metrics *telemetry.Metrics) (*Monitor, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid alert rule: %w", err)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		store:   store,
		config:  config,
		rules:   rules,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
		alerts:  make([]Alert, 0, config.MaxAlerts),
		running: make(map[string]*SourceStats),
	}, nil
}

// Config returns the monitor configuration.
func (m *Monitor) Config() Config {
	return m.config
}

// Submit records one completed run: it persists the metric, evaluates the alert
// rules, appends any alerts to the log and updates the running totals.
//
// Alerting never blocks ingestion. When the metric cannot be persisted the alerts
// are still raised and the store error is returned alongside them.
func (m *Monitor) Submit(ctx context.Context, run *types.RunMetric) ([]Alert, error) {
	if run == nil {
		return nil, &types.ValidationError{Message: "run metric cannot be nil"}
	}
	if err := run.Validate(); err != nil {
		return nil, err
	}
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.Timestamp.IsZero() {
		run.Timestamp = m.now()
	}

	var storeErr error
	if err := m.store.RecordRunMetric(ctx, run); err != nil {
		storeErr = fmt.Errorf("failed to record run metric: %w", err)
		m.logger.Error("failed to record run metric",
			zap.String("source", run.Source),
			zap.String("run_id", run.ID),
			zap.Error(err))
	}

	alerts := Evaluate(m.rules, run)

	m.mu.Lock()
	for i := range alerts {
		alerts[i].ID = uuid.New().String()
		m.appendAlertLocked(alerts[i])
	}
	m.updateRunningLocked(run)
	m.mu.Unlock()

	m.metrics.ObserveRun(run.Source, run.SuccessRate())
	for _, a := range alerts {
		m.metrics.IncAlert(string(a.Type), string(a.Severity))
		m.logger.Warn("alert raised",
			zap.String("type", string(a.Type)),
			zap.String("severity", string(a.Severity)),
			zap.String("source", a.Source),
			zap.Float64("value", a.Value),
			zap.Float64("threshold", a.Threshold),
			zap.String("message", a.Message))
	}

	m.logger.Info("run recorded",
		zap.String("source", run.Source),
		zap.Int("services_found", run.ServicesFound),
		zap.Int("services_processed", run.ServicesProcessed),
		zap.Float64("success_rate", run.SuccessRate()),
		zap.Int64("duration_ms", run.DurationMs),
		zap.Int("alerts", len(alerts)))

	return alerts, storeErr
}

// appendAlertLocked appends a to the log, dropping the oldest entries beyond MaxAlerts.
func (m *Monitor) appendAlertLocked(a Alert) {
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > m.config.MaxAlerts {
		copy(m.alerts, m.alerts[len(m.alerts)-m.config.MaxAlerts:])
		m.alerts = m.alerts[:m.config.MaxAlerts]
	}
}

func (m *Monitor) updateRunningLocked(run *types.RunMetric) {
	s, ok := m.running[run.Source]
	if !ok {
		s = &SourceStats{Source: run.Source}
		m.running[run.Source] = s
	}
	s.Runs++
	s.TotalServices += run.ServicesFound
	s.TotalProcessed += run.ServicesProcessed
	s.TotalErrors += run.Errors
	s.TotalDurationMs += run.DurationMs
	if run.Timestamp.After(s.LastRun) {
		s.LastRun = run.Timestamp
	}
	if run.Success && run.Timestamp.After(s.LastSuccess) {
		s.LastSuccess = run.Timestamp
	}
}

// Alerts returns a copy of the alert log, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Alert(nil), m.alerts...)
}

// RecentAlerts returns the last n alerts, oldest first.
func (m *Monitor) RecentAlerts(n int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || len(m.alerts) == 0 {
		return nil
	}
	if n > len(m.alerts) {
		n = len(m.alerts)
	}
	return append([]Alert(nil), m.alerts[len(m.alerts)-n:]...)
}

// Running returns a copy of the running per-source totals, ordered by source.
func (m *Monitor) Running() []SourceStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SourceStats, 0, len(m.running))
	for _, s := range m.running {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out
}

// Replay rebuilds the alert log and the running totals from the runs stored since
// the given time. Replayed alerts are not logged or counted in telemetry again.
// It returns the number of alerts rebuilt.
func (m *Monitor) Replay(ctx context.Context, since time.Time) (int, error) {
	runs, err := m.store.GetRunMetrics(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("failed to load run metrics: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = m.alerts[:0]
	m.running = make(map[string]*SourceStats)

	var total int
	for _, run := range runs {
		for _, a := range Evaluate(m.rules, run) {
			a.ID = uuid.New().String()
			m.appendAlertLocked(a)
			total++
		}
		m.updateRunningLocked(run)
	}

	m.logger.Debug("alert log replayed",
		zap.Time("since", since),
		zap.Int("runs", len(runs)),
		zap.Int("alerts", total),
		zap.Int("kept", len(m.alerts)))
	return total, nil
}
