package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/youthservices/svcreg/internal/storage/postgres"
	"github.com/youthservices/svcreg/internal/storage/sqlite"
	"github.com/youthservices/svcreg/internal/types"
)

// Storage is the registry store. Deduplication, merging, quality analysis and run
// monitoring depend only on this interface.
//
// Candidate lookups only ever return active records and never the excluded id.
type Storage interface {
	// Organizations
	UpsertOrganization(ctx context.Context, org *types.Organization) error
	GetOrganization(ctx context.Context, id string) (*types.Organization, error)

	// Services
	UpsertService(ctx context.Context, svc *types.ServiceRecord) error
	UpsertChildEntities(ctx context.Context, serviceID string, locations []types.Location, contacts []types.Contact, schedules []types.Schedule) error
	GetService(ctx context.Context, id string) (*types.ServiceRecord, error)
	ListActiveServices(ctx context.Context, limit int) ([]*types.ServiceRecord, error)
	UpdateQualityScores(ctx context.Context, id string, completeness, verification float64) error

	// Candidate lookups
	FindByNormalizedName(ctx context.Context, name, excludeID string, limit int) ([]*types.ServiceRecord, error)
	FindByOrganization(ctx context.Context, organizationID, excludeID string, limit int) ([]*types.ServiceRecord, error)
	FindBySimilarName(ctx context.Context, name, excludeID string, minSimilarity float64, limit int) ([]*types.ServiceRecord, error)
	FindByPhone(ctx context.Context, digits []string, excludeID string, limit int) ([]*types.ServiceRecord, error)
	FindNearby(ctx context.Context, lat, lng, radiusMeters float64, excludeID string, limit int) ([]*types.ServiceRecord, error)

	// Merges
	ApplyMerge(ctx context.Context, plan *types.MergePlan) error
	GetMergeHistory(ctx context.Context, serviceID string) ([]*types.MergeHistoryEntry, error)

	// Run metrics
	RecordRunMetric(ctx context.Context, m *types.RunMetric) error
	GetRunMetrics(ctx context.Context, since time.Time) ([]*types.RunMetric, error)

	// Statistics
	GetStatistics(ctx context.Context, since time.Time) (*types.Statistics, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Storage = (*sqlite.SQLiteStorage)(nil)
	_ Storage = (*postgres.PostgresStorage)(nil)
)

// Backend names
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	// Backend selects the store implementation: "sqlite" (default) or "postgres".
	Backend string

	// Path is the SQLite database file path
	// Default: ".svcreg/registry.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string

	// Postgres is used when Backend is "postgres".
	Postgres *postgres.Config
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendSQLite,
		Path:     ".svcreg/registry.db",
		Postgres: postgres.DefaultConfig(),
	}
}

// NewStorage opens the configured backend.
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = ".svcreg/registry.db"
		}
		return sqlite.New(path)
	case BackendPostgres:
		pgCfg := cfg.Postgres
		if pgCfg == nil {
			pgCfg = postgres.DefaultConfig()
		}
		return postgres.New(ctx, pgCfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want %q or %q)", cfg.Backend, BackendSQLite, BackendPostgres)
	}
}
