package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/types"
)

// ApplyMerge writes one resolved duplicate group in a single transaction: primary field
// update, child-row merge, schedule reassignment, history append and deactivation of
// absorbed records. Any member that is missing or no longer active aborts the merge with
// types.ErrMergeConflict and nothing is written.
func (s *SQLiteStorage) ApplyMerge(ctx context.Context, plan *types.MergePlan) error {
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("invalid merge plan: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	members := plan.MemberIDs()
	memberArgs := stringArgs(members)
	inMembers := `(` + placeholders(len(members)) + `)`

	// Lock check: every member must still be active.
	rows, err := tx.QueryContext(ctx, `SELECT id, status FROM services WHERE id IN `+inMembers, memberArgs...)
	if err != nil {
		return fmt.Errorf("failed to read group members: %w", err)
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
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("failed to iterate group members: %w", err)
	}
	rows.Close()
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

	categories, err := encodeStrings(p.Categories)
	if err != nil {
		return fmt.Errorf("failed to encode categories: %w", err)
	}
	keywords, err := encodeStrings(p.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}

	// Primary update
	_, err = tx.ExecContext(ctx, `
		UPDATE services SET
			organization_id = ?, name = ?, normalized_name = ?, description = ?,
			categories = ?, keywords = ?, min_age = ?, max_age = ?,
			application_process = ?, fees = ?, wait_time = ?,
			verification_status = ?, completeness_score = ?, verification_score = ?,
			updated_at = ?
		WHERE id = ?
	`, p.OrganizationID, p.Name, normalize.String(p.Name), p.Description,
		categories, keywords, nullInt(p.MinAge), nullInt(p.MaxAge),
		p.ApplicationProcess, p.Fees, p.WaitTime,
		string(p.VerificationStatus), p.CompletenessScore, p.VerificationScore,
		formatTime(now), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update primary %s: %w", p.ID, err)
	}

	// Locations: reassign the kept rows, drop the rest.
	keptLocations := make([]string, 0, len(p.Locations))
	for i := range p.Locations {
		loc := &p.Locations[i]
		if loc.ID == "" {
			if err := insertLocation(ctx, tx, p.ID, i, loc); err != nil {
				return err
			}
		} else if _, err := tx.ExecContext(ctx, `
			UPDATE locations SET service_id = ?, position = ? WHERE id = ?
		`, p.ID, i, loc.ID); err != nil {
			return fmt.Errorf("failed to reassign location %s: %w", loc.ID, err)
		}
		loc.ServiceID = p.ID
		keptLocations = append(keptLocations, loc.ID)
	}
	if err := deleteUnkept(ctx, tx, "locations", members, keptLocations); err != nil {
		return err
	}

	// Contacts: rewrite the kept rows with merged phones, drop the rest.
	if _, err := tx.ExecContext(ctx, `DELETE FROM contact_phones WHERE service_id IN `+inMembers, memberArgs...); err != nil {
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
			phones, err := json.Marshal(c.Phones)
			if err != nil {
				return fmt.Errorf("failed to encode phones: %w", err)
			}
			if c.Phones == nil {
				phones = []byte("[]")
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE contacts SET service_id = ?, position = ?, name = ?, email = ?, phones = ? WHERE id = ?
			`, p.ID, i, c.Name, c.Email, string(phones), c.ID); err != nil {
				return fmt.Errorf("failed to merge contact %s: %w", c.ID, err)
			}
			c.ServiceID = p.ID
			if err := insertContactPhones(ctx, tx, p.ID, c); err != nil {
				return err
			}
		}
		keptContacts = append(keptContacts, c.ID)
	}
	if err := deleteUnkept(ctx, tx, "contacts", members, keptContacts); err != nil {
		return err
	}

	// Schedules move to the primary unconditionally.
	absorbedArgs := stringArgs(plan.AbsorbedIDs)
	inAbsorbed := `(` + placeholders(len(plan.AbsorbedIDs)) + `)`
	if _, err := tx.ExecContext(ctx, `UPDATE schedules SET service_id = ? WHERE service_id IN `+inAbsorbed,
		append([]any{p.ID}, absorbedArgs...)...); err != nil {
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
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO merge_history (id, absorbed_id, primary_id, score, reason, merged_by, merged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, h.ID, h.AbsorbedID, h.PrimaryID, h.Score, h.Reason, h.MergedBy, formatTime(h.MergedAt)); err != nil {
			return fmt.Errorf("failed to record merge history: %w", err)
		}
	}

	// Soft-deactivate absorbed records
	if _, err := tx.ExecContext(ctx, `
		UPDATE services SET status = 'inactive', merged_into = ?, updated_at = ? WHERE id IN `+inAbsorbed,
		append([]any{p.ID, formatTime(now)}, absorbedArgs...)...); err != nil {
		return fmt.Errorf("failed to deactivate absorbed records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	p.UpdatedAt = now
	return nil
}

func deleteUnkept(ctx context.Context, q querier, table string, members, kept []string) error {
	query := `DELETE FROM ` + table + ` WHERE service_id IN (` + placeholders(len(members)) + `)`
	args := stringArgs(members)
	if len(kept) > 0 {
		query += ` AND id NOT IN (` + placeholders(len(kept)) + `)`
		args = append(args, stringArgs(kept)...)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to remove merged %s: %w", table, err)
	}
	return nil
}

// GetMergeHistory returns history entries where the service is either the primary or
// the absorbed record, oldest first.
func (s *SQLiteStorage) GetMergeHistory(ctx context.Context, serviceID string) ([]*types.MergeHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, absorbed_id, primary_id, score, reason, merged_by, merged_at
		FROM merge_history
		WHERE primary_id = ? OR absorbed_id = ?
		ORDER BY merged_at, id
	`, serviceID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge history: %w", err)
	}
	defer rows.Close()

	var entries []*types.MergeHistoryEntry
	for rows.Next() {
		var e types.MergeHistoryEntry
		var mergedAt string
		if err := rows.Scan(&e.ID, &e.AbsorbedID, &e.PrimaryID, &e.Score, &e.Reason, &e.MergedBy, &mergedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merge history: %w", err)
		}
		if e.MergedAt, err = parseTime(mergedAt); err != nil {
			return nil, fmt.Errorf("invalid merged_at for entry %s: %w", e.ID, err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}
