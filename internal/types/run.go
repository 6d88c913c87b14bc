package types

import (
	"fmt"
	"strings"
	"time"
)

// RunMetric is the immutable outcome of one data-collection run.
type RunMetric struct {
	ID                string    `json:"id"`
	Source            string    `json:"source"`
	Success           bool      `json:"success"`
	ServicesFound     int       `json:"services_found"`
	ServicesProcessed int       `json:"services_processed"`
	Errors            int       `json:"errors"`
	DurationMs        int64     `json:"duration_ms"`
	Timestamp         time.Time `json:"timestamp"`
}

// SuccessRate is processed/found, 0 when nothing was found.
func (m *RunMetric) SuccessRate() float64 {
	if m.ServicesFound <= 0 {
		return 0
	}
	return float64(m.ServicesProcessed) / float64(m.ServicesFound)
}

// ErrorRate is errors/found, 0 when nothing was found.
func (m *RunMetric) ErrorRate() float64 {
	if m.ServicesFound <= 0 {
		return 0
	}
	return float64(m.Errors) / float64(m.ServicesFound)
}

// Validate checks if the metric has valid field values
func (m *RunMetric) Validate() error {
	if strings.TrimSpace(m.Source) == "" {
		return &ValidationError{Field: "source", Message: "source is required"}
	}
	if m.ServicesFound < 0 {
		return &ValidationError{Field: "services_found", Message: fmt.Sprintf("services_found cannot be negative (got %d)", m.ServicesFound)}
	}
	if m.ServicesProcessed < 0 {
		return &ValidationError{Field: "services_processed", Message: fmt.Sprintf("services_processed cannot be negative (got %d)", m.ServicesProcessed)}
	}
	if m.Errors < 0 {
		return &ValidationError{Field: "errors", Message: fmt.Sprintf("errors cannot be negative (got %d)", m.Errors)}
	}
	if m.DurationMs < 0 {
		return &ValidationError{Field: "duration_ms", Message: fmt.Sprintf("duration_ms cannot be negative (got %d)", m.DurationMs)}
	}
	return nil
}
