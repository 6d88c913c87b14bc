package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/types"
)

const serviceColumns = `id, organization_id, name, description, categories, keywords, min_age, max_age,
	application_process, fees, wait_time, status, data_source, verification_status,
	completeness_score, verification_score, merged_into, created_at, updated_at`

// UpsertOrganization inserts or updates an organization.
func (s *PostgresStorage) UpsertOrganization(ctx context.Context, org *types.Organization) error {
	if err := org.Validate(); err != nil {
		return err
	}
	now := s.now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, type, data_source, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			data_source = EXCLUDED.data_source,
			updated_at = EXCLUDED.updated_at
	`, org.ID, org.Name, org.Type, org.DataSource, org.CreatedAt, org.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert organization %s: %w", org.ID, err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresStorage) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	var org types.Organization
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, type, data_source, created_at, updated_at FROM organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.Type, &org.DataSource, &org.CreatedAt, &org.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("organization %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return &org, nil
}

// UpsertService inserts or updates the scalar fields of a service. A record already
// absorbed by a merge keeps its status and merged_into pointer.
func (s *PostgresStorage) UpsertService(ctx context.Context, svc *types.ServiceRecord) error {
	if err := svc.Validate(); err != nil {
		return err
	}
	now := s.now()
	if svc.ID == "" {
		svc.ID = uuid.New().String()
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = now
	}
	if svc.UpdatedAt.IsZero() {
		svc.UpdatedAt = now
	}
	if svc.Status == "" {
		svc.Status = types.StatusActive
	}
	if svc.VerificationStatus == "" {
		svc.VerificationStatus = types.VerificationUnverified
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO services (`+serviceColumns+`, normalized_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			name = EXCLUDED.name,
			normalized_name = EXCLUDED.normalized_name,
			description = EXCLUDED.description,
			categories = EXCLUDED.categories,
			keywords = EXCLUDED.keywords,
			min_age = EXCLUDED.min_age,
			max_age = EXCLUDED.max_age,
			application_process = EXCLUDED.application_process,
			fees = EXCLUDED.fees,
			wait_time = EXCLUDED.wait_time,
			status = CASE WHEN services.merged_into <> '' THEN services.status ELSE EXCLUDED.status END,
			data_source = EXCLUDED.data_source,
			verification_status = EXCLUDED.verification_status,
			completeness_score = EXCLUDED.completeness_score,
			verification_score = EXCLUDED.verification_score,
			merged_into = CASE WHEN services.merged_into <> '' THEN services.merged_into ELSE EXCLUDED.merged_into END,
			updated_at = EXCLUDED.updated_at
	`,
		svc.ID, svc.OrganizationID, svc.Name, svc.Description, nonNil(svc.Categories), nonNil(svc.Keywords),
		svc.MinAge, svc.MaxAge, svc.ApplicationProcess, svc.Fees, svc.WaitTime,
		string(svc.Status), svc.DataSource, string(svc.VerificationStatus),
		svc.CompletenessScore, svc.VerificationScore, svc.MergedInto,
		svc.CreatedAt, svc.UpdatedAt, normalize.String(svc.Name),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service %s: %w", svc.ID, err)
	}
	return nil
}

// UpsertChildEntities replaces the locations, contacts and schedules of a service in
// one transaction.
func (s *PostgresStorage) UpsertChildEntities(ctx context.Context, serviceID string, locations []types.Location, contacts []types.Contact, schedules []types.Schedule) error {
	for i := range locations {
		if err := locations[i].Validate(); err != nil {
			return err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM services WHERE id = $1 FOR UPDATE`, serviceID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("service %s: %w", serviceID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check service: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM contact_phones WHERE service_id = $1`,
		`DELETE FROM contacts WHERE service_id = $1`,
		`DELETE FROM locations WHERE service_id = $1`,
		`DELETE FROM schedules WHERE service_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, serviceID); err != nil {
			return fmt.Errorf("failed to clear child entities: %w", err)
		}
	}

	for i := range locations {
		if err := insertLocation(ctx, tx, serviceID, i, &locations[i]); err != nil {
			return err
		}
	}
	for i := range contacts {
		if err := insertContact(ctx, tx, serviceID, i, &contacts[i]); err != nil {
			return err
		}
	}
	for i := range schedules {
		if err := insertSchedule(ctx, tx, serviceID, i, &schedules[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetService retrieves a service with its child rows.
func (s *PostgresStorage) GetService(ctx context.Context, id string) (*types.ServiceRecord, error) {
	records, err := loadServices(ctx, s.pool, `WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("service %s: %w", id, types.ErrNotFound)
	}
	return records[0], nil
}

// ListActiveServices returns active services, most recently created first, read from
// one repeatable-read snapshot.
func (s *PostgresStorage) ListActiveServices(ctx context.Context, limit int) ([]*types.ServiceRecord, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	clause := `WHERE status = 'active' ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		clause += ` LIMIT $1`
		args = append(args, limit)
	}
	records, err := loadServices(ctx, tx, clause, args...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to finish read transaction: %w", err)
	}
	return records, nil
}

// UpdateQualityScores annotates a service with computed quality scores.
func (s *PostgresStorage) UpdateQualityScores(ctx context.Context, id string, completeness, verification float64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE services SET completeness_score = $1, verification_score = $2 WHERE id = $3
	`, completeness, verification, id)
	if err != nil {
		return fmt.Errorf("failed to update quality scores: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("service %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func loadServicesByIDs(ctx context.Context, q querier, ids []string) ([]*types.ServiceRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := loadServices(ctx, q, `WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*types.ServiceRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}
	out := make([]*types.ServiceRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func loadServices(ctx context.Context, q querier, clause string, args ...any) ([]*types.ServiceRecord, error) {
	rows, err := q.Query(ctx, `SELECT `+serviceColumns+` FROM services `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	var records []*types.ServiceRecord
	for rows.Next() {
		var rec types.ServiceRecord
		var status, verification string
		if err := rows.Scan(
			&rec.ID, &rec.OrganizationID, &rec.Name, &rec.Description, &rec.Categories, &rec.Keywords,
			&rec.MinAge, &rec.MaxAge, &rec.ApplicationProcess, &rec.Fees, &rec.WaitTime,
			&status, &rec.DataSource, &verification,
			&rec.CompletenessScore, &rec.VerificationScore, &rec.MergedInto, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		rec.Status = types.ServiceStatus(status)
		rec.VerificationStatus = types.VerificationStatus(verification)
		records = append(records, &rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate services: %w", err)
	}

	if err := loadChildren(ctx, q, records); err != nil {
		return nil, err
	}
	return records, nil
}

func loadChildren(ctx context.Context, q querier, records []*types.ServiceRecord) error {
	if len(records) == 0 {
		return nil
	}
	byID := make(map[string]*types.ServiceRecord, len(records))
	ids := make([]string, 0, len(records))
	for _, r := range records {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	rows, err := q.Query(ctx, `
		SELECT id, service_id, name, address_1, address_2, city, state, postcode, region, latitude, longitude
		FROM locations WHERE service_id = ANY($1) ORDER BY service_id, position, id`, ids)
	if err != nil {
		return fmt.Errorf("failed to query locations: %w", err)
	}
	for rows.Next() {
		var loc types.Location
		var lat, lng *float64
		if err := rows.Scan(&loc.ID, &loc.ServiceID, &loc.Name, &loc.Address1, &loc.Address2,
			&loc.City, &loc.State, &loc.Postcode, &loc.Region, &lat, &lng); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan location: %w", err)
		}
		if lat != nil && lng != nil {
			loc.Coordinates = &types.Coordinates{Latitude: *lat, Longitude: *lng}
		}
		if r := byID[loc.ServiceID]; r != nil {
			r.Locations = append(r.Locations, loc)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate locations: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT id, service_id, name, email, phones
		FROM contacts WHERE service_id = ANY($1) ORDER BY service_id, position, id`, ids)
	if err != nil {
		return fmt.Errorf("failed to query contacts: %w", err)
	}
	for rows.Next() {
		var c types.Contact
		if err := rows.Scan(&c.ID, &c.ServiceID, &c.Name, &c.Email, &c.Phones); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan contact: %w", err)
		}
		if r := byID[c.ServiceID]; r != nil {
			r.Contacts = append(r.Contacts, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate contacts: %w", err)
	}

	rows, err = q.Query(ctx, `
		SELECT id, service_id, weekday, opens, closes, notes
		FROM schedules WHERE service_id = ANY($1) ORDER BY service_id, position, id`, ids)
	if err != nil {
		return fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sc types.Schedule
		if err := rows.Scan(&sc.ID, &sc.ServiceID, &sc.Weekday, &sc.Opens, &sc.Closes, &sc.Notes); err != nil {
			return fmt.Errorf("failed to scan schedule: %w", err)
		}
		if r := byID[sc.ServiceID]; r != nil {
			r.Schedules = append(r.Schedules, sc)
		}
	}
	return rows.Err()
}

func insertLocation(ctx context.Context, q querier, serviceID string, position int, loc *types.Location) error {
	if loc.ID == "" {
		loc.ID = uuid.New().String()
	}
	loc.ServiceID = serviceID
	var lat, lng *float64
	if loc.Coordinates != nil {
		lat, lng = &loc.Coordinates.Latitude, &loc.Coordinates.Longitude
	}
	_, err := q.Exec(ctx, `
		INSERT INTO locations (id, service_id, position, name, address_1, address_2, city, state, postcode, region, latitude, longitude)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, loc.ID, serviceID, position, loc.Name, loc.Address1, loc.Address2, loc.City, loc.State, loc.Postcode, loc.Region, lat, lng)
	if err != nil {
		return fmt.Errorf("failed to insert location: %w", err)
	}
	return nil
}

func insertContact(ctx context.Context, q querier, serviceID string, position int, c *types.Contact) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.ServiceID = serviceID
	_, err := q.Exec(ctx, `
		INSERT INTO contacts (id, service_id, position, name, email, phones)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, serviceID, position, c.Name, c.Email, phonesValue(c.Phones))
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return insertContactPhones(ctx, q, serviceID, c)
}

func insertContactPhones(ctx context.Context, q querier, serviceID string, c *types.Contact) error {
	numbers := make([]string, 0, len(c.Phones))
	for _, p := range c.Phones {
		numbers = append(numbers, p.Number)
	}
	for _, digits := range normalize.Phones(numbers) {
		if _, err := q.Exec(ctx, `
			INSERT INTO contact_phones (contact_id, service_id, digits) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, c.ID, serviceID, digits); err != nil {
			return fmt.Errorf("failed to index phone: %w", err)
		}
	}
	return nil
}

func insertSchedule(ctx context.Context, q querier, serviceID string, position int, sc *types.Schedule) error {
	if sc.ID == "" {
		sc.ID = uuid.New().String()
	}
	sc.ServiceID = serviceID
	_, err := q.Exec(ctx, `
		INSERT INTO schedules (id, service_id, position, weekday, opens, closes, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, sc.ID, serviceID, position, strings.ToLower(sc.Weekday), sc.Opens, sc.Closes, sc.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func phonesValue(phones []types.Phone) []types.Phone {
	if phones == nil {
		return []types.Phone{}
	}
	return phones
}
