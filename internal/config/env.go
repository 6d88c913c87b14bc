package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by ApplyEnv. Dedup tuning variables (SVCREG_DEDUP_*)
// are documented on deduplication.ConfigFromEnv and applied by Resolve.
const (
	EnvBackend     = "SVCREG_BACKEND"
	EnvDB          = "SVCREG_DB"
	EnvLogLevel    = "SVCREG_LOG_LEVEL"
	EnvLogFormat   = "SVCREG_LOG_FORMAT"
	EnvPGHost      = "SVCREG_PG_HOST"
	EnvPGPort      = "SVCREG_PG_PORT"
	EnvPGDatabase  = "SVCREG_PG_DATABASE"
	EnvPGUser      = "SVCREG_PG_USER"
	EnvPGPassword  = "SVCREG_PG_PASSWORD"
	EnvPGSSLMode   = "SVCREG_PG_SSLMODE"
	EnvMetricsAddr = "SVCREG_METRICS_ADDR"
)

// ApplyEnv overlays the non-dedup SVCREG_* environment variables on c.
func (c *Config) ApplyEnv() error {
	setString(EnvBackend, &c.Storage.Backend)
	setString(EnvDB, &c.Storage.Path)
	setString(EnvLogLevel, &c.Logging.Level)
	setString(EnvLogFormat, &c.Logging.Format)
	setString(EnvPGHost, &c.Storage.Postgres.Host)
	setString(EnvPGDatabase, &c.Storage.Postgres.Database)
	setString(EnvPGUser, &c.Storage.Postgres.User)
	setString(EnvPGPassword, &c.Storage.Postgres.Password)
	setString(EnvPGSSLMode, &c.Storage.Postgres.SSLMode)
	setString(EnvMetricsAddr, &c.Serve.Addr)

	if v := os.Getenv(EnvPGPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", EnvPGPort, err)
		}
		c.Storage.Postgres.Port = port
	}
	return nil
}

func setString(key string, dest *string) {
	if v := os.Getenv(key); v != "" {
		*dest = v
	}
}
