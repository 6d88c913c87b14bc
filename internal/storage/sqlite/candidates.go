package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/types"
)

// FindByNormalizedName returns active services whose normalized name equals name.
func (s *SQLiteStorage) FindByNormalizedName(ctx context.Context, name, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	normalized := normalize.String(name)
	if normalized == "" {
		return nil, nil
	}
	return loadServices(ctx, s.db, `
		WHERE status = 'active' AND id <> ? AND normalized_name = ?
		ORDER BY updated_at DESC, id LIMIT ?`, excludeID, normalized, sqlLimit(limit))
}

// FindByOrganization returns active services of the same organization.
func (s *SQLiteStorage) FindByOrganization(ctx context.Context, organizationID, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	if organizationID == "" {
		return nil, nil
	}
	return loadServices(ctx, s.db, `
		WHERE status = 'active' AND id <> ? AND organization_id = ?
		ORDER BY updated_at DESC, id LIMIT ?`, excludeID, organizationID, sqlLimit(limit))
}

// FindBySimilarName ranks active services by trigram similarity of their names
// and returns those strictly above minSimilarity, best first.
func (s *SQLiteStorage) FindBySimilarName(ctx context.Context, name, excludeID string, minSimilarity float64, limit int) ([]*types.ServiceRecord, error) {
	target := normalize.Trigrams(name)
	if len(target) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM services WHERE status = 'active' AND id <> ?
	`, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}

	type ranked struct {
		id  string
		sim float64
	}
	var matches []ranked
	for rows.Next() {
		var id, other string
		if err := rows.Scan(&id, &other); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		if sim := normalize.TrigramSets(target, normalize.Trigrams(other)); sim > minSimilarity {
			matches = append(matches, ranked{id: id, sim: sim})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate names: %w", err)
	}
	rows.Close()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].sim != matches[j].sim {
			return matches[i].sim > matches[j].sim
		}
		return matches[i].id < matches[j].id
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return loadServicesByIDs(ctx, s.db, ids)
}

// FindByPhone returns active services sharing any of the digits-only phone numbers.
func (s *SQLiteStorage) FindByPhone(ctx context.Context, digits []string, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	digits = normalize.Phones(digits)
	if len(digits) == 0 {
		return nil, nil
	}
	args := append([]any{excludeID}, stringArgs(digits)...)
	args = append(args, sqlLimit(limit))

	rows, err := s.db.QueryContext(ctx, `
		SELECT cp.service_id
		FROM contact_phones cp
		JOIN services s ON s.id = cp.service_id
		WHERE s.status = 'active' AND cp.service_id <> ? AND cp.digits IN (`+placeholders(len(digits))+`)
		GROUP BY cp.service_id
		ORDER BY MAX(s.updated_at) DESC, cp.service_id
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query phones: %w", err)
	}
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	return loadServicesByIDs(ctx, s.db, ids)
}

// FindNearby returns active services with a location within radiusMeters of the
// point, nearest first.
func (s *SQLiteStorage) FindNearby(ctx context.Context, lat, lng, radiusMeters float64, excludeID string, limit int) ([]*types.ServiceRecord, error) {
	minLat, maxLat, minLng, maxLng := normalize.BoundingBox(lat, lng, radiusMeters)
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.service_id, l.latitude, l.longitude
		FROM locations l
		JOIN services s ON s.id = l.service_id
		WHERE s.status = 'active' AND l.service_id <> ?
		  AND l.latitude BETWEEN ? AND ? AND l.longitude BETWEEN ? AND ?
	`, excludeID, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, fmt.Errorf("failed to query locations: %w", err)
	}

	nearest := make(map[string]float64)
	for rows.Next() {
		var id string
		var plat, plng sql.NullFloat64
		if err := rows.Scan(&id, &plat, &plng); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		if !plat.Valid || !plng.Valid {
			continue
		}
		d := normalize.HaversineMeters(lat, lng, plat.Float64, plng.Float64)
		if d > radiusMeters {
			continue
		}
		if cur, ok := nearest[id]; !ok || d < cur {
			nearest[id] = d
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate locations: %w", err)
	}
	rows.Close()

	ids := make([]string, 0, len(nearest))
	for id := range nearest {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if nearest[ids[i]] != nearest[ids[j]] {
			return nearest[ids[i]] < nearest[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return loadServicesByIDs(ctx, s.db, ids)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
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

// sqlLimit maps "no limit" (<= 0) to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
