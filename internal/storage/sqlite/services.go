package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/types"
)

const serviceColumns = `id, organization_id, name, description, categories, keywords, min_age, max_age,
	application_process, fees, wait_time, status, data_source, verification_status,
	completeness_score, verification_score, merged_into, created_at, updated_at`

// UpsertOrganization inserts or updates an organization.
func (s *SQLiteStorage) UpsertOrganization(ctx context.Context, org *types.Organization) error {
	if err := org.Validate(); err != nil {
		return err
	}
	now := s.now()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, type, data_source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			data_source = excluded.data_source,
			updated_at = excluded.updated_at
	`, org.ID, org.Name, org.Type, org.DataSource, formatTime(org.CreatedAt), formatTime(org.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert organization %s: %w", org.ID, err)
	}
	return nil
}

// GetOrganization retrieves an organization by ID
func (s *SQLiteStorage) GetOrganization(ctx context.Context, id string) (*types.Organization, error) {
	var org types.Organization
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, data_source, created_at, updated_at FROM organizations WHERE id = ?
	`, id).Scan(&org.ID, &org.Name, &org.Type, &org.DataSource, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	if org.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for organization %s: %w", id, err)
	}
	if org.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at for organization %s: %w", id, err)
	}
	return &org, nil
}

// UpsertService inserts or updates the scalar fields of a service. Child rows are
// written separately with UpsertChildEntities. A missing ID is generated, a zero
// UpdatedAt is set to now. A record already absorbed by a merge keeps its status and
// merged_into pointer.
func (s *SQLiteStorage) UpsertService(ctx context.Context, svc *types.ServiceRecord) error {
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

	categories, err := encodeStrings(svc.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	keywords, err := encodeStrings(svc.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO services (`+serviceColumns+`, normalized_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organization_id = excluded.organization_id,
			name = excluded.name,
			normalized_name = excluded.normalized_name,
			description = excluded.description,
			categories = excluded.categories,
			keywords = excluded.keywords,
			min_age = excluded.min_age,
			max_age = excluded.max_age,
			application_process = excluded.application_process,
			fees = excluded.fees,
			wait_time = excluded.wait_time,
			status = CASE WHEN services.merged_into <> '' THEN services.status ELSE excluded.status END,
			data_source = excluded.data_source,
			verification_status = excluded.verification_status,
			completeness_score = excluded.completeness_score,
			verification_score = excluded.verification_score,
			merged_into = CASE WHEN services.merged_into <> '' THEN services.merged_into ELSE excluded.merged_into END,
			updated_at = excluded.updated_at
	`,
		svc.ID, svc.OrganizationID, svc.Name, svc.Description, categories, keywords,
		nullInt(svc.MinAge), nullInt(svc.MaxAge), svc.ApplicationProcess, svc.Fees, svc.WaitTime,
		string(svc.Status), svc.DataSource, string(svc.VerificationStatus),
		svc.CompletenessScore, svc.VerificationScore, svc.MergedInto,
		formatTime(svc.CreatedAt), formatTime(svc.UpdatedAt), normalize.String(svc.Name),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert service %s: %w", svc.ID, err)
	}
	return nil
}

// UpsertChildEntities replaces the locations, contacts and schedules of a service in
// one transaction. Missing child IDs are generated and written back into the slices.
func (s *SQLiteStorage) UpsertChildEntities(ctx context.Context, serviceID string, locations []types.Location, contacts []types.Contact, schedules []types.Schedule) error {
	for i := range locations {
		if err := locations[i].Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM services WHERE id = ?`, serviceID).Scan(&exists)
	if err == sql.ErrNoRows {
		return fmt.Errorf("service %s: %w", serviceID, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check service: %w", err)
	}

	for _, stmt := range []string{
		`DELETE FROM contact_phones WHERE service_id = ?`,
		`DELETE FROM contacts WHERE service_id = ?`,
		`DELETE FROM locations WHERE service_id = ?`,
		`DELETE FROM schedules WHERE service_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, serviceID); err != nil {
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

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetService retrieves a service with its child rows.
func (s *SQLiteStorage) GetService(ctx context.Context, id string) (*types.ServiceRecord, error) {
	records, err := loadServices(ctx, s.db, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("service %s: %w", id, types.ErrNotFound)
	}
	return records[0], nil
}

// ListActiveServices returns active services, most recently created first.
// A limit <= 0 returns every active service.
func (s *SQLiteStorage) ListActiveServices(ctx context.Context, limit int) ([]*types.ServiceRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	where := `WHERE status = 'active' ORDER BY created_at DESC, id`
	var args []any
	if limit > 0 {
		where += ` LIMIT ?`
		args = append(args, limit)
	}
	records, err := loadServices(ctx, tx, where, args...)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to finish read transaction: %w", err)
	}
	return records, nil
}

// UpdateQualityScores annotates a service with computed quality scores.
func (s *SQLiteStorage) UpdateQualityScores(ctx context.Context, id string, completeness, verification float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET completeness_score = ?, verification_score = ? WHERE id = ?
	`, completeness, verification, id)
	if err != nil {
		return fmt.Errorf("failed to update quality scores: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("service %s: %w", id, types.ErrNotFound)
	}
	return nil
}

// loadServicesByIDs loads services preserving the order of ids. Missing ids are skipped.
func loadServicesByIDs(ctx context.Context, q querier, ids []string) ([]*types.ServiceRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	records, err := loadServices(ctx, q, `WHERE id IN (`+placeholders(len(ids))+`)`, stringArgs(ids)...)
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

// loadServices scans service rows and then attaches their child rows. The rows are
// closed before children are queried: the pool holds a single connection.
func loadServices(ctx context.Context, q querier, clause string, args ...any) ([]*types.ServiceRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	var records []*types.ServiceRecord
	for rows.Next() {
		rec, err := scanService(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate services: %w", err)
	}
	rows.Close()

	if err := loadChildren(ctx, q, records); err != nil {
		return nil, err
	}
	return records, nil
}

func scanService(rows *sql.Rows) (*types.ServiceRecord, error) {
	var rec types.ServiceRecord
	var categories, keywords, status, verification, createdAt, updatedAt string
	var minAge, maxAge sql.NullInt64

	err := rows.Scan(
		&rec.ID, &rec.OrganizationID, &rec.Name, &rec.Description, &categories, &keywords,
		&minAge, &maxAge, &rec.ApplicationProcess, &rec.Fees, &rec.WaitTime,
		&status, &rec.DataSource, &verification,
		&rec.CompletenessScore, &rec.VerificationScore, &rec.MergedInto, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan service: %w", err)
	}

	rec.Status = types.ServiceStatus(status)
	rec.VerificationStatus = types.VerificationStatus(verification)
	rec.MinAge = intFromNull(minAge)
	rec.MaxAge = intFromNull(maxAge)
	if rec.Categories, err = decodeStrings(categories); err != nil {
		return nil, fmt.Errorf("invalid categories for service %s: %w", rec.ID, err)
	}
	if rec.Keywords, err = decodeStrings(keywords); err != nil {
		return nil, fmt.Errorf("invalid keywords for service %s: %w", rec.ID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for service %s: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at for service %s: %w", rec.ID, err)
	}
	return &rec, nil
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
	in := `(` + placeholders(len(ids)) + `)`
	args := stringArgs(ids)

	// Locations
	rows, err := q.QueryContext(ctx, `
		SELECT id, service_id, name, address_1, address_2, city, state, postcode, region, latitude, longitude
		FROM locations WHERE service_id IN `+in+` ORDER BY service_id, position, id`, args...)
	if err != nil {
		return fmt.Errorf("failed to query locations: %w", err)
	}
	for rows.Next() {
		var loc types.Location
		var lat, lng sql.NullFloat64
		if err := rows.Scan(&loc.ID, &loc.ServiceID, &loc.Name, &loc.Address1, &loc.Address2,
			&loc.City, &loc.State, &loc.Postcode, &loc.Region, &lat, &lng); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan location: %w", err)
		}
		if lat.Valid && lng.Valid {
			loc.Coordinates = &types.Coordinates{Latitude: lat.Float64, Longitude: lng.Float64}
		}
		if r := byID[loc.ServiceID]; r != nil {
			r.Locations = append(r.Locations, loc)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate locations: %w", err)
	}
	rows.Close()

	// Contacts
	rows, err = q.QueryContext(ctx, `
		SELECT id, service_id, name, email, phones
		FROM contacts WHERE service_id IN `+in+` ORDER BY service_id, position, id`, args...)
	if err != nil {
		return fmt.Errorf("failed to query contacts: %w", err)
	}
	for rows.Next() {
		var c types.Contact
		var phones string
		if err := rows.Scan(&c.ID, &c.ServiceID, &c.Name, &c.Email, &phones); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan contact: %w", err)
		}
		if phones != "" && phones != "[]" {
			if err := json.Unmarshal([]byte(phones), &c.Phones); err != nil {
				rows.Close()
				return fmt.Errorf("invalid phones for contact %s: %w", c.ID, err)
			}
		}
		if r := byID[c.ServiceID]; r != nil {
			r.Contacts = append(r.Contacts, c)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate contacts: %w", err)
	}
	rows.Close()

	// Schedules
	rows, err = q.QueryContext(ctx, `
		SELECT id, service_id, weekday, opens, closes, notes
		FROM schedules WHERE service_id IN `+in+` ORDER BY service_id, position, id`, args...)
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
	var lat, lng sql.NullFloat64
	if loc.Coordinates != nil {
		lat = sql.NullFloat64{Float64: loc.Coordinates.Latitude, Valid: true}
		lng = sql.NullFloat64{Float64: loc.Coordinates.Longitude, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO locations (id, service_id, position, name, address_1, address_2, city, state, postcode, region, latitude, longitude)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
	phones, err := json.Marshal(c.Phones)
	if err != nil {
		return fmt.Errorf("failed to encode phones: %w", err)
	}
	if c.Phones == nil {
		phones = []byte("[]")
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO contacts (id, service_id, position, name, email, phones)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, serviceID, position, c.Name, c.Email, string(phones))
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
		if _, err := q.ExecContext(ctx, `
			INSERT INTO contact_phones (contact_id, service_id, digits) VALUES (?, ?, ?)
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
	_, err := q.ExecContext(ctx, `
		INSERT INTO schedules (id, service_id, position, weekday, opens, closes, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sc.ID, serviceID, position, strings.ToLower(sc.Weekday), sc.Opens, sc.Closes, sc.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}
