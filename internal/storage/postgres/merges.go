package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/types"
)

// ApplyMerge writes one resolved duplicate group in a single transaction. Member rows
// are locked with SELECT ... FOR UPDATE in id order, so concurrent merges touching the
// same ids serialize instead of interleaving.
func (s *PostgresStorage) ApplyMerge(ctx context.Context, plan *types.MergePlan) error {
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid merge plan: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	members := plan.MemberIDs()
	rows, err := tx.Query(ctx, `SELECT id, status FROM services WHERE id = ANY($1) ORDER BY id FOR UPDATE`, members)
	if err != nil {
		return fmt.Errorf("failed to lock group members: %w", err)
	}
	status := make(map[string]string, len(members))
	for rows.Next() {
		var id, st string
		if err := rows.Scan(&id, &st); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan group member: %w", err)
		}
		status[id] = st
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate group members: %w", err)
	}
	for _, id := range members {
		st, ok := status[id]
		if !ok {
			return fmt.Errorf("%w: service %s does not exist", types.ErrMergeConflict, id)
		}
		if st != string(types.StatusActive) {
			return fmt.Errorf("%w: service %s is %s", types.ErrMergeConflict, id, st)
		}
	}

	now := s.now()
	p := plan.Primary

	_, err = tx.Exec(ctx, `
		UPDATE services SET
			organization_id = $1, name = $2, normalized_name = $3, description = $4,
			categories = $5, keywords = $6, min_age = $7, max_age = $8,
			application_process = $9, fees = $10, wait_time = $11,
			verification_status = $12, completeness_score = $13, verification_score = $14,
			updated_at = $15
		WHERE id = $16
	`, p.OrganizationID, p.Name, normalize.String(p.Name), p.Description,
		nonNil(p.Categories), nonNil(p.Keywords), p.MinAge, p.MaxAge,
		p.ApplicationProcess, p.Fees, p.WaitTime,
		string(p.VerificationStatus), p.CompletenessScore, p.VerificationScore,
		now, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update primary %s: %w", p.ID, err)
	}

	// Locations
	keptLocations := make([]string, 0, len(p.Locations))
	for i := range p.Locations {
		loc := &p.Locations[i]
		if loc.ID == "" {
			if err := insertLocation(ctx, tx, p.ID, i, loc); err != nil {
				return err
			}
		} else if _, err := tx.Exec(ctx, `UPDATE locations SET service_id = $1, position = $2 WHERE id = $3`, p.ID, i, loc.ID); err != nil {
			return fmt.Errorf("failed to reassign location %s: %w", loc.ID, err)
		}
		loc.ServiceID = p.ID
		keptLocations = append(keptLocations, loc.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM locations WHERE service_id = ANY($1) AND NOT (id = ANY($2))`, members, keptLocations); err != nil {
		return fmt.Errorf("failed to remove merged locations: %w", err)
	}

	// Contacts
	if _, err := tx.Exec(ctx, `DELETE FROM contact_phones WHERE service_id = ANY($1)`, members); err != nil {
		return fmt.Errorf("failed to clear phone index: %w", err)
	}
	keptContacts := make([]string, 0, len(p.Contacts))
	for i := range p.Contacts {
		c := &p.Contacts[i]
		if c.ID == "" {
			if err := insertContact(ctx, tx, p.ID, i, c); err != nil {
				return err
			}
		} else {
			if _, err := tx.Exec(ctx, `
				UPDATE contacts SET service_id = $1, position = $2, name = $3, email = $4, phones = $5 WHERE id = $6
			`, p.ID, i, c.Name, c.Email, phonesValue(c.Phones), c.ID); err != nil {
				return fmt.Errorf("failed to merge contact %s: %w", c.ID, err)
			}
			c.ServiceID = p.ID
			if err := insertContactPhones(ctx, tx, p.ID, c); err != nil {
				return err
			}
		}
		keptContacts = append(keptContacts, c.ID)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM contacts WHERE service_id = ANY($1) AND NOT (id = ANY($2))`, members, keptContacts); err != nil {
		return fmt.Errorf("failed to remove merged contacts: %w", err)
	}

	// Schedules
	if _, err := tx.Exec(ctx, `UPDATE schedules SET service_id = $1 WHERE service_id = ANY($2)`, p.ID, plan.AbsorbedIDs); err != nil {
		return fmt.Errorf("failed to reassign schedules: %w", err)
	}

	// History
	for i := range plan.History {
		h := &plan.History[i]
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		if h.MergedAt.IsZero() {
			h.MergedAt = now
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO merge_history (id, absorbed_id, primary_id, score, reason, merged_by, merged_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, h.ID, h.AbsorbedID, h.PrimaryID, h.Score, h.Reason, h.MergedBy, h.MergedAt); err != nil {
			return fmt.Errorf("failed to record merge history: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE services SET status = 'inactive', merged_into = $1, updated_at = $2 WHERE id = ANY($3)
	`, p.ID, now, plan.AbsorbedIDs); err != nil {
		return fmt.Errorf("failed to deactivate absorbed records: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	p.UpdatedAt = now
	return nil
}

// GetMergeHistory returns history entries where the service is either the primary or
// the absorbed record, oldest first.
func (s *PostgresStorage) GetMergeHistory(ctx context.Context, serviceID string) ([]*types.MergeHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, absorbed_id, primary_id, score, reason, merged_by, merged_at
		FROM merge_history
		WHERE primary_id = $1 OR absorbed_id = $1
		ORDER BY merged_at, id
	`, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge history: %w", err)
	}
	defer rows.Close()

	var entries []*types.MergeHistoryEntry
	for rows.Next() {
		var e types.MergeHistoryEntry
		if err := rows.Scan(&e.ID, &e.AbsorbedID, &e.PrimaryID, &e.Score, &e.Reason, &e.MergedBy, &e.MergedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merge history: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
