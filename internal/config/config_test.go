package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/youthservices/svcreg/internal/deduplication"
	"github.com/youthservices/svcreg/internal/monitoring"
	"github.com/youthservices/svcreg/internal/quality"
	"github.com/youthservices/svcreg/internal/storage"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "7d", want: 7 * 24 * time.Hour},
		{in: "2w", want: 14 * 24 * time.Hour},
		{in: "90s", want: 90 * time.Second},
		{in: "1h30m", want: 90 * time.Minute},
		{in: " 24h ", want: 24 * time.Hour},
		{in: "7days", wantErr: true},
		{in: "-1d", wantErr: true},
		{in: "5", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatDurationRoundTrips(t *testing.T) {
	for _, d := range []time.Duration{5 * time.Second, 24 * time.Hour, 30 * 24 * time.Hour, 14 * 24 * time.Hour, 90 * time.Minute} {
		got, err := ParseDuration(FormatDuration(d))
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
	assert.Equal(t, "1w", FormatDuration(7*24*time.Hour))
	assert.Equal(t, "30d", FormatDuration(30*24*time.Hour))
}

func TestLoadDefaults(t *testing.T) {
	r, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, deduplication.DefaultConfig(), r.Dedup)
	assert.Equal(t, quality.DefaultConfig(), r.Quality)
	assert.Equal(t, monitoring.DefaultConfig(), r.Monitor)
	assert.Equal(t, storage.BackendSQLite, r.Storage.Backend)
	assert.Equal(t, storage.DefaultConfig().Path, r.Storage.Path)
	assert.Equal(t, time.Hour, r.Serve.SweepInterval)
	assert.Equal(t, 7*24*time.Hour, r.Serve.ReplayWindow)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "svcreg.yaml", `
storage:
  backend: postgres
  postgres:
    host: db.internal
    max_conn_lifetime: 2h
dedup:
  composite_threshold: 0.85
  min_score: 0.75
  lookup_timeout: 2s
  grouping: connected
quality:
  month_window: 4w
  total_known_regions: 0
monitor:
  rollup_window: 14d
  max_alerts: 50
logging:
  level: debug
  format: json
serve:
  sweep_interval: 30m
`)
	r, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, storage.BackendPostgres, r.Storage.Backend)
	assert.Equal(t, "db.internal", r.Storage.Postgres.Host)
	assert.Equal(t, 5432, r.Storage.Postgres.Port, "absent keys keep defaults")
	assert.Equal(t, 2*time.Hour, r.Storage.Postgres.MaxConnLifetime)

	assert.Equal(t, 0.85, r.Dedup.CompositeThreshold)
	assert.Equal(t, 0.75, r.Dedup.MinScore)
	assert.Equal(t, 2*time.Second, r.Dedup.LookupTimeout)
	assert.Equal(t, deduplication.GroupingConnected, r.Dedup.Grouping)
	assert.Equal(t, deduplication.DefaultWeights(), r.Dedup.Weights)

	assert.Equal(t, 28*24*time.Hour, r.Quality.MonthWindow)
	assert.Equal(t, 0, r.Quality.TotalKnownRegions)

	assert.Equal(t, 14*24*time.Hour, r.Monitor.RollupWindow)
	assert.Equal(t, 50, r.Monitor.MaxAlerts)

	assert.Equal(t, "debug", r.Logging.Level)
	assert.Equal(t, "json", r.Logging.Format)
	assert.Equal(t, 30*time.Minute, r.Serve.SweepInterval)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "svcreg.toml", `
[storage]
path = "/var/lib/svcreg/registry.db"

[dedup]
workers = 8
lookups_per_second = 20.0

[dedup.weights]
name = 0.4
organization = 0.2
address = 0.2
phone = 0.1
description = 0.05
categories = 0.05

[monitor]
min_success_rate = 0.9
`)
	r, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/svcreg/registry.db", r.Storage.Path)
	assert.Equal(t, 8, r.Dedup.Workers)
	assert.Equal(t, 20.0, r.Dedup.LookupsPerSecond)
	assert.Equal(t, 0.4, r.Dedup.Weights.Name)
	assert.Equal(t, 0.9, r.Monitor.MinSuccessRate)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{name: "unknown extension", file: "svcreg.json", content: "{}", wantErr: "unsupported config file extension"},
		{name: "bad yaml", file: "svcreg.yaml", content: "dedup: [", wantErr: "parsing YAML"},
		{name: "bad toml", file: "svcreg.toml", content: "[dedup", wantErr: "parsing TOML"},
		{name: "bad duration", file: "svcreg.yaml", content: "dedup:\n  lookup_timeout: soon\n", wantErr: "invalid dedup.lookup_timeout"},
		{name: "invalid dedup", file: "svcreg.yaml", content: "dedup:\n  composite_threshold: 1.5\n", wantErr: "invalid dedup config"},
		{name: "weights do not sum", file: "svcreg.yaml", content: "quality:\n  weights:\n    completeness: 0.9\n", wantErr: "weights must sum to 1.0"},
		{name: "unknown backend", file: "svcreg.yaml", content: "storage:\n  backend: mysql\n", wantErr: "storage.backend"},
		{name: "bad log level", file: "svcreg.yaml", content: "logging:\n  level: loud\n", wantErr: "invalid logging config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "svcreg.yaml", `
storage:
  path: from-file.db
dedup:
  workers: 2
`)
	t.Setenv(EnvDB, "from-env.db")
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvPGPort, "6543")
	t.Setenv(EnvPGPassword, "secret")
	t.Setenv("SVCREG_DEDUP_WORKERS", "6")

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", r.Storage.Path)
	assert.Equal(t, "warn", r.Logging.Level)
	assert.Equal(t, 6543, r.Storage.Postgres.Port)
	assert.Equal(t, "secret", r.Storage.Postgres.Password)
	assert.Equal(t, 6, r.Dedup.Workers)
}

func TestEnvInvalidPort(t *testing.T) {
	t.Setenv(EnvPGPort, "fivefour")
	_, err := Load("")
	assert.ErrorContains(t, err, EnvPGPort)
}

func TestExampleConfigMatchesDefaults(t *testing.T) {
	r, err := Load(filepath.Join("..", "..", "svcreg.example.yaml"))
	require.NoError(t, err)

	want, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, want, r)
}
