package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/youthservices/svcreg/internal/types"
)

// RecordRunMetric appends one collection-run outcome.
func (s *PostgresStorage) RecordRunMetric(ctx context.Context, m *types.RunMetric) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_metrics (id, source, success, services_found, services_processed, errors, duration_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.Source, m.Success, m.ServicesFound, m.ServicesProcessed, m.Errors, m.DurationMs, m.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record run metric: %w", err)
	}
	return nil
}

// GetRunMetrics returns run metrics recorded at or after since, oldest first.
func (s *PostgresStorage) GetRunMetrics(ctx context.Context, since time.Time) ([]*types.RunMetric, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source, success, services_found, services_processed, errors, duration_ms, timestamp
		FROM run_metrics
		WHERE timestamp >= $1
		ORDER BY timestamp, id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query run metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*types.RunMetric
	for rows.Next() {
		var m types.RunMetric
		if err := rows.Scan(&m.ID, &m.Source, &m.Success, &m.ServicesFound, &m.ServicesProcessed, &m.Errors, &m.DurationMs, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan run metric: %w", err)
		}
		metrics = append(metrics, &m)
	}
	return metrics, rows.Err()
}
