package postgres

import (
	"context"
	"fmt"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/types"
)

// FindByNormalizedName returns active services whose normalized name equals name.
func (s *PostgresStorage) FindByNormalizedName(ctx context.Context, name, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	normalized := normalize.String(name)
	if normalized == "" {
		return nil, nil
	}
	return loadServices(ctx, s.pool, `
		WHERE status = 'active' AND id <> $1 AND normalized_name = $2
		ORDER BY updated_at DESC, id LIMIT $3`, excludeID, normalized, pgLimit(limit))
}

// FindByOrganization returns active services of the same organization.
func (s *PostgresStorage) FindByOrganization(ctx context.Context, organizationID, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	if organizationID == "" {
		return nil, nil
	}
	return loadServices(ctx, s.pool, `
		WHERE status = 'active' AND id <> $1 AND organization_id = $2
		ORDER BY updated_at DESC, id LIMIT $3`, excludeID, organizationID, pgLimit(limit))
}

// FindBySimilarName ranks active services by pg_trgm similarity of their names.
func (s *PostgresStorage) FindBySimilarName(ctx context.Context, name, excludeID string, minSimilarity float64, limit int) ([]*types.ServiceRecord, error) {
	if normalize.String(name) == "" {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM services
		WHERE status = 'active' AND id <> $1 AND similarity(name, $2) > $3
		ORDER BY similarity(name, $2) DESC, id
		LIMIT $4
	`, excludeID, name, minSimilarity, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query similar names: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	return loadServicesByIDs(ctx, s.pool, ids)
}

// FindByPhone returns active services sharing any of the digits-only phone numbers.
func (s *PostgresStorage) FindByPhone(ctx context.Context, digits []string, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	digits = normalize.Phones(digits)
	if len(digits) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cp.service_id
		FROM contact_phones cp
		JOIN services s ON s.id = cp.service_id
		WHERE s.status = 'active' AND cp.service_id <> $1 AND cp.digits = ANY($2)
		GROUP BY cp.service_id
		ORDER BY MAX(s.updated_at) DESC, cp.service_id
		LIMIT $3
	`, excludeID, digits, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query phones: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	return loadServicesByIDs(ctx, s.pool, ids)
}

// FindNearby returns active services with a location within radiusMeters, nearest first.
func (s *PostgresStorage) FindNearby(ctx context.Context, lat, lng, radiusMeters float64, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.service_id
		FROM locations l
		JOIN services s ON s.id = l.service_id
		WHERE s.status = 'active' AND l.service_id <> $1
		  AND l.latitude IS NOT NULL AND l.longitude IS NOT NULL
		  AND earth_box(ll_to_earth($2, $3), $4) @> ll_to_earth(l.latitude, l.longitude)
		  AND earth_distance(ll_to_earth($2, $3), ll_to_earth(l.latitude, l.longitude)) <= $4
		GROUP BY l.service_id
		ORDER BY MIN(earth_distance(ll_to_earth($2, $3), ll_to_earth(l.latitude, l.longitude))), l.service_id
		LIMIT $5
	`, excludeID, lat, lng, radiusMeters, pgLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query nearby locations: %w", err)
	}
	ids, err := collectIDs(rows)
	if err != nil {
		return nil, err
	}
	return loadServicesByIDs(ctx, s.pool, ids)
}

type idRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func collectIDs(rows idRows) ([]string, error) {
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ids: %w", err)
	}
	return ids, nil
}

// pgLimit maps "no limit" (<= 0) to NULL, which postgres treats as LIMIT ALL.
func pgLimit(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
