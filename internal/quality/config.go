package quality

import (
	"fmt"
	"math"
	"time"
)

// Section names, also used as telemetry labels.
const (
	SectionCompleteness = "completeness"
	SectionFreshness    = "freshness"
	SectionCoverage     = "coverage"
	SectionDuplicates   = "duplicates"
)

// Weights of the overall quality score. Sections without data are left out and the
// remaining weights renormalized.
type Weights struct {
	Completeness float64 `yaml:"completeness" toml:"completeness"`
	Freshness    float64 `yaml:"freshness" toml:"freshness"`
	Coverage     float64 `yaml:"coverage" toml:"coverage"`
	Duplicates   float64 `yaml:"duplicates" toml:"duplicates"`
}

// DefaultWeights returns 0.4 / 0.3 / 0.2 / 0.1.
func DefaultWeights() Weights {
	return Weights{Completeness: 0.4, Freshness: 0.3, Coverage: 0.2, Duplicates: 0.1}
}

// Config holds configuration for the quality analyzer
type Config struct {
	// DescriptionMinLength is the length a description must exceed to count as complete.
	// Default: 50
	DescriptionMinLength int

	// WeekWindow, MonthWindow and QuarterWindow are the freshness windows.
	// MonthWindow also drives the freshness section of the overall score.
	WeekWindow    time.Duration
	MonthWindow   time.Duration
	QuarterWindow time.Duration

	// TotalKnownRegions is the number of regions full coverage means.
	// Default: 13
	TotalKnownRegions int

	// DuplicateNameThreshold is the name trigram similarity a pair must exceed to count
	// as a residual duplicate.
	// Default: 0.8
	DuplicateNameThreshold float64

	// MaxDuplicatePairs caps the residual duplicate pair count.
	// Default: 100
	MaxDuplicatePairs int

	// DuplicateScanLimit bounds how many of the most recent records the residual
	// duplicate scan compares. 0 scans every active record.
	// Default: 5000
	DuplicateScanLimit int

	// MaxExamples bounds the duplicate pairs listed in a report.
	// Default: 10
	MaxExamples int

	// TargetScore is the overall score below which a report recommends action.
	// Default: 0.7
	TargetScore float64

	Weights Weights
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		DescriptionMinLength:   50,
		WeekWindow:             7 * 24 * time.Hour,
		MonthWindow:            30 * 24 * time.Hour,
		QuarterWindow:          90 * 24 * time.Hour,
		TotalKnownRegions:      13,
		DuplicateNameThreshold: 0.8,
		MaxDuplicatePairs:      100,
		DuplicateScanLimit:     5000,
		MaxExamples:            10,
		TargetScore:            0.7,
		Weights:                DefaultWeights(),
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.DescriptionMinLength < 0 {
		return fmt.Errorf("description_min_length cannot be negative (got %d)", c.DescriptionMinLength)
	}
	if c.WeekWindow <= 0 || c.MonthWindow <= 0 || c.QuarterWindow <= 0 {
		return fmt.Errorf("freshness windows must be positive (got %v, %v, %v)", c.WeekWindow, c.MonthWindow, c.QuarterWindow)
	}
	if c.WeekWindow > c.MonthWindow || c.MonthWindow > c.QuarterWindow {
		return fmt.Errorf("freshness windows must be ascending (got %v, %v, %v)", c.WeekWindow, c.MonthWindow, c.QuarterWindow)
	}
	if c.TotalKnownRegions < 0 {
		return fmt.Errorf("total_known_regions cannot be negative (got %d)", c.TotalKnownRegions)
	}
	if c.DuplicateNameThreshold < 0 || c.DuplicateNameThreshold >= 1 {
		return fmt.Errorf("duplicate_name_threshold must be in [0.0, 1.0) (got %.2f)", c.DuplicateNameThreshold)
	}
	if c.MaxDuplicatePairs <= 0 {
		return fmt.Errorf("max_duplicate_pairs must be positive (got %d)", c.MaxDuplicatePairs)
	}
	if c.DuplicateScanLimit < 0 {
		return fmt.Errorf("duplicate_scan_limit cannot be negative (got %d)", c.DuplicateScanLimit)
	}
	if c.MaxExamples < 0 {
		return fmt.Errorf("max_examples cannot be negative (got %d)", c.MaxExamples)
	}
	if c.TargetScore < 0 || c.TargetScore > 1 {
		return fmt.Errorf("target_score must be between 0.0 and 1.0 (got %.2f)", c.TargetScore)
	}
	w := c.Weights
	for name, v := range map[string]float64{
		SectionCompleteness: w.Completeness,
		SectionFreshness:    w.Freshness,
		SectionCoverage:     w.Coverage,
		SectionDuplicates:   w.Duplicates,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0 (got %.2f)", name, v)
		}
	}
	if sum := w.Completeness + w.Freshness + w.Coverage + w.Duplicates; math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("weights must sum to 1.0 (got %.4f)", sum)
	}
	return nil
}
