package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/youthservices/svcreg/internal/types"
)

// RecordRunMetric appends one collection-run outcome.
func (s *SQLiteStorage) RecordRunMetric(ctx context.Context, m *types.RunMetric) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}

	success := 0
	if m.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_metrics (id, source, success, services_found, services_processed, errors, duration_ms, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.Source, success, m.ServicesFound, m.ServicesProcessed, m.Errors, m.DurationMs, formatTime(m.Timestamp))
	if err != nil {
		return fmt.Errorf("failed to record run metric: %w", err)
	}
	return nil
}

// GetRunMetrics returns run metrics recorded at or after since, oldest first.
func (s *SQLiteStorage) GetRunMetrics(ctx context.Context, since time.Time) ([]*types.RunMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, success, services_found, services_processed, errors, duration_ms, timestamp
		FROM run_metrics
		WHERE timestamp >= ?
		ORDER BY timestamp, id
	`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("failed to query run metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*types.RunMetric
	for rows.Next() {
		var m types.RunMetric
		var success int
		var ts string
		if err := rows.Scan(&m.ID, &m.Source, &success, &m.ServicesFound, &m.ServicesProcessed, &m.Errors, &m.DurationMs, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan run metric: %w", err)
		}
		m.Success = success != 0
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("invalid timestamp for run metric %s: %w", m.ID, err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}
