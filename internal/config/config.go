// Package config loads the svcreg application configuration.
//
// Values are resolved in order: built-in defaults, then one optional config file
// (.yaml/.yml or .toml), then SVCREG_* environment variables. Durations in files are
// strings and accept the day and week suffixes "7d" and "2w" besides Go durations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/youthservices/svcreg/internal/deduplication"
	"github.com/youthservices/svcreg/internal/logging"
	"github.com/youthservices/svcreg/internal/monitoring"
	"github.com/youthservices/svcreg/internal/quality"
	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/storage/postgres"
)

// Config is the file form of the application configuration.
type Config struct {
	Storage StorageConfig  `yaml:"storage" toml:"storage"`
	Dedup   DedupConfig    `yaml:"dedup" toml:"dedup"`
	Quality QualityConfig  `yaml:"quality" toml:"quality"`
	Monitor MonitorConfig  `yaml:"monitor" toml:"monitor"`
	Logging logging.Config `yaml:"logging" toml:"logging"`
	Serve   ServeConfig    `yaml:"serve" toml:"serve"`
}

// StorageConfig selects and configures the registry store.
type StorageConfig struct {
	Backend  string         `yaml:"backend" toml:"backend"` // sqlite or postgres
	Path     string         `yaml:"path" toml:"path"`       // sqlite database file
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
}

// PostgresConfig configures the postgres pool.
type PostgresConfig struct {
	Host            string `yaml:"host" toml:"host"`
	Port            int    `yaml:"port" toml:"port"`
	Database        string `yaml:"database" toml:"database"`
	User            string `yaml:"user" toml:"user"`
	Password        string `yaml:"password" toml:"password"`
	SSLMode         string `yaml:"sslmode" toml:"sslmode"`
	MaxConns        int32  `yaml:"max_conns" toml:"max_conns"`
	MinConns        int32  `yaml:"min_conns" toml:"min_conns"`
	MaxConnLifetime string `yaml:"max_conn_lifetime" toml:"max_conn_lifetime"`
	MaxConnIdleTime string `yaml:"max_conn_idle_time" toml:"max_conn_idle_time"`
	HealthCheck     string `yaml:"health_check" toml:"health_check"`
}

// DedupConfig is the file form of deduplication.Config.
type DedupConfig struct {
	CompositeThreshold    float64               `yaml:"composite_threshold" toml:"composite_threshold"`
	MinScore              float64               `yaml:"min_score" toml:"min_score"`
	AddressThreshold      float64               `yaml:"address_threshold" toml:"address_threshold"`
	NameRecallThreshold   float64               `yaml:"name_recall_threshold" toml:"name_recall_threshold"`
	StrategyLimit         int                   `yaml:"strategy_limit" toml:"strategy_limit"`
	ProximityRadiusMeters float64               `yaml:"proximity_radius_m" toml:"proximity_radius_m"`
	SweepLimit            int                   `yaml:"sweep_limit" toml:"sweep_limit"`
	Workers               int                   `yaml:"workers" toml:"workers"`
	LookupTimeout         string                `yaml:"lookup_timeout" toml:"lookup_timeout"`
	LookupsPerSecond      float64               `yaml:"lookups_per_second" toml:"lookups_per_second"`
	Grouping              string                `yaml:"grouping" toml:"grouping"`
	MergedBy              string                `yaml:"merged_by" toml:"merged_by"`
	Weights               deduplication.Weights `yaml:"weights" toml:"weights"`
}

// QualityConfig is the file form of quality.Config.
type QualityConfig struct {
	DescriptionMinLength   int             `yaml:"description_min_length" toml:"description_min_length"`
	WeekWindow             string          `yaml:"week_window" toml:"week_window"`
	MonthWindow            string          `yaml:"month_window" toml:"month_window"`
	QuarterWindow          string          `yaml:"quarter_window" toml:"quarter_window"`
	TotalKnownRegions      int             `yaml:"total_known_regions" toml:"total_known_regions"`
	DuplicateNameThreshold float64         `yaml:"duplicate_name_threshold" toml:"duplicate_name_threshold"`
	MaxDuplicatePairs      int             `yaml:"max_duplicate_pairs" toml:"max_duplicate_pairs"`
	DuplicateScanLimit     int             `yaml:"duplicate_scan_limit" toml:"duplicate_scan_limit"`
	MaxExamples            int             `yaml:"max_examples" toml:"max_examples"`
	TargetScore            float64         `yaml:"target_score" toml:"target_score"`
	Weights                quality.Weights `yaml:"weights" toml:"weights"`
}

// MonitorConfig is the file form of monitoring.Config.
type MonitorConfig struct {
	MinSuccessRate     float64 `yaml:"min_success_rate" toml:"min_success_rate"`
	MaxErrorRate       float64 `yaml:"max_error_rate" toml:"max_error_rate"`
	SlowRunMs          int64   `yaml:"slow_run_ms" toml:"slow_run_ms"`
	MaxAlerts          int     `yaml:"max_alerts" toml:"max_alerts"`
	RecentAlerts       int     `yaml:"recent_alerts" toml:"recent_alerts"`
	RollupWindow       string  `yaml:"rollup_window" toml:"rollup_window"`
	SummaryWindow      string  `yaml:"summary_window" toml:"summary_window"`
	MinRecentAdditions int     `yaml:"min_recent_additions" toml:"min_recent_additions"`
	QualityTarget      float64 `yaml:"quality_target" toml:"quality_target"`
}

// ServeConfig configures the long-running serve loop.
type ServeConfig struct {
	Addr            string `yaml:"addr" toml:"addr"` // metrics listen address, empty disables it
	SweepInterval   string `yaml:"sweep_interval" toml:"sweep_interval"`
	QualityInterval string `yaml:"quality_interval" toml:"quality_interval"`
	ReplayWindow    string `yaml:"replay_window" toml:"replay_window"` // alert log rebuilt at startup
}

// Serve is the resolved serve configuration.
type Serve struct {
	Addr            string
	SweepInterval   time.Duration
	QualityInterval time.Duration
	ReplayWindow    time.Duration
}

// Resolved holds the typed component configurations.
type Resolved struct {
	Storage *storage.Config
	Dedup   deduplication.Config
	Quality quality.Config
	Monitor monitoring.Config
	Logging logging.Config
	Serve   Serve
}

// Default returns the file form of the built-in defaults.
func Default() *Config {
	st := storage.DefaultConfig()
	pg := postgres.DefaultConfig()
	d := deduplication.DefaultConfig()
	q := quality.DefaultConfig()
	m := monitoring.DefaultConfig()

	return &Config{
		Storage: StorageConfig{
			Backend: st.Backend,
			Path:    st.Path,
			Postgres: PostgresConfig{
				Host:            pg.Host,
				Port:            pg.Port,
				Database:        pg.Database,
				User:            pg.User,
				Password:        pg.Password,
				SSLMode:         pg.SSLMode,
				MaxConns:        pg.MaxConns,
				MinConns:        pg.MinConns,
				MaxConnLifetime: FormatDuration(pg.MaxConnLifetime),
				MaxConnIdleTime: FormatDuration(pg.MaxConnIdleTime),
				HealthCheck:     FormatDuration(pg.HealthCheck),
			},
		},
		Dedup: DedupConfig{
			CompositeThreshold:    d.CompositeThreshold,
			MinScore:              d.MinScore,
			AddressThreshold:      d.AddressThreshold,
			NameRecallThreshold:   d.NameRecallThreshold,
			StrategyLimit:         d.StrategyLimit,
			ProximityRadiusMeters: d.ProximityRadiusMeters,
			SweepLimit:            d.SweepLimit,
			Workers:               d.Workers,
			LookupTimeout:         FormatDuration(d.LookupTimeout),
			LookupsPerSecond:      d.LookupsPerSecond,
			Grouping:              d.Grouping,
			MergedBy:              d.MergedBy,
			Weights:               d.Weights,
		},
		Quality: QualityConfig{
			DescriptionMinLength:   q.DescriptionMinLength,
			WeekWindow:             FormatDuration(q.WeekWindow),
			MonthWindow:            FormatDuration(q.MonthWindow),
			QuarterWindow:          FormatDuration(q.QuarterWindow),
			TotalKnownRegions:      q.TotalKnownRegions,
			DuplicateNameThreshold: q.DuplicateNameThreshold,
			MaxDuplicatePairs:      q.MaxDuplicatePairs,
			DuplicateScanLimit:     q.DuplicateScanLimit,
			MaxExamples:            q.MaxExamples,
			TargetScore:            q.TargetScore,
			Weights:                q.Weights,
		},
		Monitor: MonitorConfig{
			MinSuccessRate:     m.MinSuccessRate,
			MaxErrorRate:       m.MaxErrorRate,
			SlowRunMs:          m.SlowRunMs,
			MaxAlerts:          m.MaxAlerts,
			RecentAlerts:       m.RecentAlerts,
			RollupWindow:       FormatDuration(m.RollupWindow),
			SummaryWindow:      FormatDuration(m.SummaryWindow),
			MinRecentAdditions: m.MinRecentAdditions,
			QualityTarget:      m.QualityTarget,
		},
		Logging: logging.DefaultConfig(),
		Serve: ServeConfig{
			Addr:            ":9464",
			SweepInterval:   "1h",
			QualityInterval: "6h",
			ReplayWindow:    "7d",
		},
	}
}

// Load resolves the configuration from defaults, the file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Resolved, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.ReadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg.Resolve()
}

// ReadFile decodes the file at path over c. Keys absent from the file keep their
// current values.
func (c *Config) ReadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing YAML: %w", err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing TOML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

// Resolve converts c into validated component configurations. Dedup environment
// overrides (SVCREG_DEDUP_*) are applied here, on top of the file values.
func (c *Config) Resolve() (*Resolved, error) {
	var r Resolved
	var err error

	if r.Storage, err = c.Storage.resolve(); err != nil {
		return nil, err
	}
	if r.Dedup, err = c.Dedup.resolve(); err != nil {
		return nil, err
	}
	if r.Quality, err = c.Quality.resolve(); err != nil {
		return nil, err
	}
	if r.Monitor, err = c.Monitor.resolve(); err != nil {
		return nil, err
	}
	if err := c.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	r.Logging = c.Logging
	if r.Serve, err = c.Serve.resolve(); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s StorageConfig) resolve() (*storage.Config, error) {
	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	switch backend {
	case "", storage.BackendSQLite, storage.BackendPostgres:
	default:
		return nil, fmt.Errorf("storage.backend must be %q or %q (got %q)", storage.BackendSQLite, storage.BackendPostgres, s.Backend)
	}

	p := s.Postgres
	pg := &postgres.Config{
		Host:     p.Host,
		Port:     p.Port,
		Database: p.Database,
		User:     p.User,
		Password: p.Password,
		SSLMode:  p.SSLMode,
		MaxConns: p.MaxConns,
		MinConns: p.MinConns,
	}
	var err error
	if pg.MaxConnLifetime, err = field("storage.postgres.max_conn_lifetime", p.MaxConnLifetime); err != nil {
		return nil, err
	}
	if pg.MaxConnIdleTime, err = field("storage.postgres.max_conn_idle_time", p.MaxConnIdleTime); err != nil {
		return nil, err
	}
	if pg.HealthCheck, err = field("storage.postgres.health_check", p.HealthCheck); err != nil {
		return nil, err
	}
	return &storage.Config{Backend: backend, Path: s.Path, Postgres: pg}, nil
}

func (d DedupConfig) resolve() (deduplication.Config, error) {
	cfg := deduplication.Config{
		CompositeThreshold:    d.CompositeThreshold,
		MinScore:              d.MinScore,
		AddressThreshold:      d.AddressThreshold,
		NameRecallThreshold:   d.NameRecallThreshold,
		StrategyLimit:         d.StrategyLimit,
		ProximityRadiusMeters: d.ProximityRadiusMeters,
		SweepLimit:            d.SweepLimit,
		Workers:               d.Workers,
		LookupsPerSecond:      d.LookupsPerSecond,
		Grouping:              strings.ToLower(strings.TrimSpace(d.Grouping)),
		MergedBy:              d.MergedBy,
		Weights:               d.Weights,
	}
	var err error
	if cfg.LookupTimeout, err = field("dedup.lookup_timeout", d.LookupTimeout); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, fmt.Errorf("invalid dedup config: %w", err)
	}
	return cfg, nil
}

func (q QualityConfig) resolve() (quality.Config, error) {
	cfg := quality.Config{
		DescriptionMinLength:   q.DescriptionMinLength,
		TotalKnownRegions:      q.TotalKnownRegions,
		DuplicateNameThreshold: q.DuplicateNameThreshold,
		MaxDuplicatePairs:      q.MaxDuplicatePairs,
		DuplicateScanLimit:     q.DuplicateScanLimit,
		MaxExamples:            q.MaxExamples,
		TargetScore:            q.TargetScore,
		Weights:                q.Weights,
	}
	var err error
	if cfg.WeekWindow, err = field("quality.week_window", q.WeekWindow); err != nil {
		return cfg, err
	}
	if cfg.MonthWindow, err = field("quality.month_window", q.MonthWindow); err != nil {
		return cfg, err
	}
	if cfg.QuarterWindow, err = field("quality.quarter_window", q.QuarterWindow); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid quality config: %w", err)
	}
	return cfg, nil
}

func (m MonitorConfig) resolve() (monitoring.Config, error) {
	cfg := monitoring.Config{
		MinSuccessRate:     m.MinSuccessRate,
		MaxErrorRate:       m.MaxErrorRate,
		SlowRunMs:          m.SlowRunMs,
		MaxAlerts:          m.MaxAlerts,
		RecentAlerts:       m.RecentAlerts,
		MinRecentAdditions: m.MinRecentAdditions,
		QualityTarget:      m.QualityTarget,
	}
	var err error
	if cfg.RollupWindow, err = field("monitor.rollup_window", m.RollupWindow); err != nil {
		return cfg, err
	}
	if cfg.SummaryWindow, err = field("monitor.summary_window", m.SummaryWindow); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid monitor config: %w", err)
	}
	return cfg, nil
}

func (s ServeConfig) resolve() (Serve, error) {
	out := Serve{Addr: s.Addr}
	var err error
	if out.SweepInterval, err = field("serve.sweep_interval", s.SweepInterval); err != nil {
		return out, err
	}
	if out.QualityInterval, err = field("serve.quality_interval", s.QualityInterval); err != nil {
		return out, err
	}
	if out.ReplayWindow, err = field("serve.replay_window", s.ReplayWindow); err != nil {
		return out, err
	}
	if out.SweepInterval <= 0 || out.QualityInterval <= 0 {
		return out, fmt.Errorf("serve intervals must be positive (got %v, %v)", out.SweepInterval, out.QualityInterval)
	}
	return out, nil
}

func field(name, value string) (time.Duration, error) {
	d, err := ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	return d, nil
}
