package deduplication

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Grouping modes for batch sweeps.
const (
	// GroupingHub absorbs only candidates that individually match the seed record.
	GroupingHub = "hub"
	// GroupingConnected merges connected components of the match graph.
	GroupingConnected = "connected"
)

// Weights are the per-field weights of the composite similarity score.
// They must sum to 1.
type Weights struct {
	Name         float64 `json:"name" yaml:"name" toml:"name"`
	Organization float64 `json:"organization" yaml:"organization" toml:"organization"`
	Address      float64 `json:"address" yaml:"address" toml:"address"`
	Phone        float64 `json:"phone" yaml:"phone" toml:"phone"`
	Description  float64 `json:"description" yaml:"description" toml:"description"`
	Categories   float64 `json:"categories" yaml:"categories" toml:"categories"`
}

// DefaultWeights returns the default field weights.
func DefaultWeights() Weights {
	return Weights{
		Name:         0.35,
		Organization: 0.20,
		Address:      0.20,
		Phone:        0.15,
		Description:  0.05,
		Categories:   0.05,
	}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Name + w.Organization + w.Address + w.Phone + w.Description + w.Categories
}

// Validate checks that each weight is in [0,1] and that they sum to 1.
func (w Weights) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"name", w.Name},
		{"organization", w.Organization},
		{"address", w.Address},
		{"phone", w.Phone},
		{"description", w.Description},
		{"categories", w.Categories},
	}
	for _, f := range fields {
		if f.value < 0.0 || f.value > 1.0 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0 (got %.2f)", f.name, f.value)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("weights must sum to 1.0 (got %.4f)", sum)
	}
	return nil
}

// Config holds configuration for the deduplication engine
type Config struct {
	// CompositeThreshold is the minimum composite score for a record to be a duplicate
	// of its best candidate. Seeds whose best match falls below it are left alone.
	// Default: 0.8
	CompositeThreshold float64

	// MinScore is the score each additional candidate must reach against the seed
	// to be absorbed into the seed's group.
	// Default: 0.8 (same as CompositeThreshold)
	MinScore float64

	// AddressThreshold is the normalized-address similarity above which two
	// locations of a merged group collapse into one.
	// Default: 0.9
	AddressThreshold float64

	// NameRecallThreshold is the fuzzy name similarity a record must exceed to be
	// retrieved by the fuzzy-name strategy. Low on purpose: retrieval favors recall,
	// scoring restores precision.
	// Default: 0.3
	NameRecallThreshold float64

	// StrategyLimit bounds the results of each retrieval strategy.
	// Default: 20
	StrategyLimit int

	// ProximityRadiusMeters is the radius of the geospatial strategy.
	// Default: 1000
	ProximityRadiusMeters float64

	// SweepLimit is how many of the most recently created active records a batch
	// sweep considers.
	// Default: 1000
	SweepLimit int

	// Workers bounds the parallelism of candidate lookups and group merges.
	// Default: 4
	Workers int

	// LookupTimeout applies to each store lookup of a retrieval strategy. A lookup
	// that times out is reported as a RetrievalError and the other strategies continue.
	// Default: 5 seconds
	LookupTimeout time.Duration

	// LookupsPerSecond rate-limits store lookups across all workers. 0 disables it.
	// Default: 0
	LookupsPerSecond float64

	// Grouping is GroupingHub (default) or GroupingConnected.
	Grouping string

	// MergedBy is recorded on every merge history entry.
	// Default: "svcreg-dedup"
	MergedBy string

	// Weights are the composite score field weights.
	Weights Weights
}

// DefaultConfig returns the default deduplication configuration
func DefaultConfig() Config {
	return Config{
		CompositeThreshold:    0.8,
		MinScore:              0.8,
		AddressThreshold:      0.9,
		NameRecallThreshold:   0.3,
		StrategyLimit:         20,
		ProximityRadiusMeters: 1000,
		SweepLimit:            1000,
		Workers:               4,
		LookupTimeout:         5 * time.Second,
		LookupsPerSecond:      0,
		Grouping:              GroupingHub,
		MergedBy:              "svcreg-dedup",
		Weights:               DefaultWeights(),
	}
}

// Validate checks if the configuration has valid values
func (c Config) Validate() error {
	if c.CompositeThreshold < 0.0 || c.CompositeThreshold > 1.0 {
		return fmt.Errorf("composite_threshold must be between 0.0 and 1.0 (got %.2f)", c.CompositeThreshold)
	}
	if c.MinScore < 0.0 || c.MinScore > 1.0 {
		return fmt.Errorf("min_score must be between 0.0 and 1.0 (got %.2f)", c.MinScore)
	}
	if c.AddressThreshold < 0.0 || c.AddressThreshold > 1.0 {
		return fmt.Errorf("address_threshold must be between 0.0 and 1.0 (got %.2f)", c.AddressThreshold)
	}
	if c.NameRecallThreshold < 0.0 || c.NameRecallThreshold >= 1.0 {
		return fmt.Errorf("name_recall_threshold must be in [0.0, 1.0) (got %.2f)", c.NameRecallThreshold)
	}
	if c.StrategyLimit <= 0 {
		return fmt.Errorf("strategy_limit must be positive (got %d)", c.StrategyLimit)
	}
	if c.StrategyLimit > 200 {
		return fmt.Errorf("strategy_limit too large (got %d, max 200)", c.StrategyLimit)
	}
	if c.ProximityRadiusMeters <= 0 {
		return fmt.Errorf("proximity_radius_m must be positive (got %.0f)", c.ProximityRadiusMeters)
	}
	if c.ProximityRadiusMeters > 50000 {
		return fmt.Errorf("proximity_radius_m too large (got %.0f, max 50000)", c.ProximityRadiusMeters)
	}
	if c.SweepLimit <= 0 {
		return fmt.Errorf("sweep_limit must be positive (got %d)", c.SweepLimit)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive (got %d)", c.Workers)
	}
	if c.Workers > 64 {
		return fmt.Errorf("workers too large (got %d, max 64)", c.Workers)
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("lookup_timeout must be positive (got %v)", c.LookupTimeout)
	}
	if c.LookupTimeout > 5*time.Minute {
		return fmt.Errorf("lookup_timeout too large (got %v, max 5 minutes)", c.LookupTimeout)
	}
	if c.LookupsPerSecond < 0 {
		return fmt.Errorf("lookups_per_second cannot be negative (got %.2f)", c.LookupsPerSecond)
	}
	if c.Grouping != GroupingHub && c.Grouping != GroupingConnected {
		return fmt.Errorf("grouping must be %q or %q (got %q)", GroupingHub, GroupingConnected, c.Grouping)
	}
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	return nil
}

// String returns a human-readable representation of the config
func (c Config) String() string {
	return fmt.Sprintf(
		"Config{Threshold: %.2f, MinScore: %.2f, AddressThreshold: %.2f, NameRecall: %.2f, "+
			"StrategyLimit: %d, Radius: %.0fm, SweepLimit: %d, Workers: %d, Timeout: %v, "+
			"RPS: %.1f, Grouping: %s}",
		c.CompositeThreshold, c.MinScore, c.AddressThreshold, c.NameRecallThreshold,
		c.StrategyLimit, c.ProximityRadiusMeters, c.SweepLimit, c.Workers, c.LookupTimeout,
		c.LookupsPerSecond, c.Grouping,
	)
}

// ConfigFromEnv creates a Config from environment variables, falling back to defaults
//
// Environment variables:
//   - SVCREG_DEDUP_COMPOSITE_THRESHOLD: duplicate decision threshold (default: 0.8)
//   - SVCREG_DEDUP_MIN_SCORE: per-candidate absorb threshold (default: 0.8)
//   - SVCREG_DEDUP_ADDRESS_THRESHOLD: location collapse threshold (default: 0.9)
//   - SVCREG_DEDUP_NAME_RECALL_THRESHOLD: fuzzy-name retrieval threshold (default: 0.3)
//   - SVCREG_DEDUP_STRATEGY_LIMIT: results per retrieval strategy (default: 20)
//   - SVCREG_DEDUP_PROXIMITY_RADIUS_M: geospatial radius in meters (default: 1000)
//   - SVCREG_DEDUP_SWEEP_LIMIT: records per batch sweep (default: 1000)
//   - SVCREG_DEDUP_WORKERS: lookup/merge parallelism (default: 4)
//   - SVCREG_DEDUP_LOOKUP_TIMEOUT_MS: per-lookup timeout in milliseconds (default: 5000)
//   - SVCREG_DEDUP_LOOKUPS_PER_SECOND: store lookup rate limit, 0 = off (default: 0)
//   - SVCREG_DEDUP_GROUPING: "hub" or "connected" (default: hub)
//
// Returns an error if any environment variable has an invalid value.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables on c and validates the result.
func (c *Config) ApplyEnv() error {
	if err := parseEnvFloat("SVCREG_DEDUP_COMPOSITE_THRESHOLD", &c.CompositeThreshold); err != nil {
		return err
	}
	if err := parseEnvFloat("SVCREG_DEDUP_MIN_SCORE", &c.MinScore); err != nil {
		return err
	}
	if err := parseEnvFloat("SVCREG_DEDUP_ADDRESS_THRESHOLD", &c.AddressThreshold); err != nil {
		return err
	}
	if err := parseEnvFloat("SVCREG_DEDUP_NAME_RECALL_THRESHOLD", &c.NameRecallThreshold); err != nil {
		return err
	}
	if err := parseEnvInt("SVCREG_DEDUP_STRATEGY_LIMIT", &c.StrategyLimit); err != nil {
		return err
	}
	if err := parseEnvFloat("SVCREG_DEDUP_PROXIMITY_RADIUS_M", &c.ProximityRadiusMeters); err != nil {
		return err
	}
	if err := parseEnvInt("SVCREG_DEDUP_SWEEP_LIMIT", &c.SweepLimit); err != nil {
		return err
	}
	if err := parseEnvInt("SVCREG_DEDUP_WORKERS", &c.Workers); err != nil {
		return err
	}
	if err := parseEnvDuration("SVCREG_DEDUP_LOOKUP_TIMEOUT_MS", &c.LookupTimeout, time.Millisecond); err != nil {
		return err
	}
	if err := parseEnvFloat("SVCREG_DEDUP_LOOKUPS_PER_SECOND", &c.LookupsPerSecond); err != nil {
		return err
	}
	if v := os.Getenv("SVCREG_DEDUP_GROUPING"); v != "" {
		c.Grouping = strings.ToLower(strings.TrimSpace(v))
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration from environment: %w", err)
	}
	return nil
}

// parseEnvFloat parses a float64 from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration from an environment variable
// The multiplier is used to convert the numeric value to a duration
// (e.g., for milliseconds: multiplier = time.Millisecond)
func parseEnvDuration(key string, dest *time.Duration, multiplier time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil // Use default
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = time.Duration(parsed) * multiplier
	return nil
}
