package deduplication

import (
	"context"
	"errors"
	"fmt"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/types"
)

// collapseRadiusMeters is how close two address-less locations must be to collapse.
const collapseRadiusMeters = 25.0

// Merger resolves a duplicate group into a MergePlan and applies it.
type Merger struct {
	store  storage.Storage
	config Config
}

// NewMerger creates a merger.
func NewMerger(store storage.Storage, config Config) *Merger {
	return &Merger{store: store, config: config}
}

// Merge reloads the group members, plans the merge and applies it in one store
// transaction. Any failure is returned as a *MergeConflictError and leaves every
// member untouched.
func (m *Merger) Merge(ctx context.Context, group DuplicateGroup) (string, error) {
	members := make([]*types.ServiceRecord, 0, len(group.MemberIDs))
	for _, id := range group.MemberIDs {
		rec, err := m.store.GetService(ctx, id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				err = fmt.Errorf("%w: %v", types.ErrMergeConflict, err)
			}
			return "", &MergeConflictError{PrimaryID: group.SeedID, MemberIDs: group.MemberIDs, Err: err}
		}
		if !rec.IsActive() {
			return "", &MergeConflictError{
				PrimaryID: group.SeedID,
				MemberIDs: group.MemberIDs,
				Err:       fmt.Errorf("%w: service %s is no longer active", types.ErrMergeConflict, id),
			}
		}
		members = append(members, rec)
	}

	plan, err := m.Plan(members, group.Score)
	if err != nil {
		return "", &MergeConflictError{PrimaryID: group.SeedID, MemberIDs: group.MemberIDs, Err: err}
	}
	if err := m.store.ApplyMerge(ctx, plan); err != nil {
		return "", &MergeConflictError{PrimaryID: plan.Primary.ID, MemberIDs: plan.MemberIDs(), Err: err}
	}
	return plan.Primary.ID, nil
}

// Plan builds the merged primary record from the group members.
//
// The primary is the most recently updated member (first in member order on ties).
// Category and keyword sets are unioned, the age range widens to the broadest bounds,
// the longest text wins, verified status and the highest scores are kept. Locations
// collapse by normalized address similarity and contacts collapse into one contact
// with every distinct phone number.
func (m *Merger) Plan(members []*types.ServiceRecord, score float64) (*types.MergePlan, error) {
	if len(members) < 2 {
		return nil, fmt.Errorf("a merge needs at least 2 members (got %d)", len(members))
	}

	primaryIdx := 0
	for i, rec := range members {
		if rec.UpdatedAt.After(members[primaryIdx].UpdatedAt) {
			primaryIdx = i
		}
	}
	ordered := make([]*types.ServiceRecord, 0, len(members))
	ordered = append(ordered, members[primaryIdx])
	for i, rec := range members {
		if i != primaryIdx {
			ordered = append(ordered, rec)
		}
	}

	p := *ordered[0]
	merged := &p
	merged.Status = types.StatusActive
	merged.MergedInto = ""

	var categories, keywords [][]string
	for _, rec := range ordered {
		categories = append(categories, rec.Categories)
		keywords = append(keywords, rec.Keywords)
	}
	merged.Categories = normalize.Union(categories...)
	merged.Keywords = normalize.Union(keywords...)

	for _, rec := range ordered[1:] {
		if merged.OrganizationID == "" {
			merged.OrganizationID = rec.OrganizationID
		}
		merged.MinAge = widenMin(merged.MinAge, rec.MinAge)
		merged.MaxAge = widenMax(merged.MaxAge, rec.MaxAge)
		merged.Description = longer(merged.Description, rec.Description)
		merged.ApplicationProcess = longer(merged.ApplicationProcess, rec.ApplicationProcess)
		merged.Fees = longer(merged.Fees, rec.Fees)
		merged.WaitTime = longer(merged.WaitTime, rec.WaitTime)
		switch {
		case merged.VerificationStatus == types.VerificationVerified:
		case rec.VerificationStatus == types.VerificationVerified, merged.VerificationStatus == "":
			merged.VerificationStatus = rec.VerificationStatus
		}
		if rec.CompletenessScore > merged.CompletenessScore {
			merged.CompletenessScore = rec.CompletenessScore
		}
		if rec.VerificationScore > merged.VerificationScore {
			merged.VerificationScore = rec.VerificationScore
		}
	}

	merged.Locations = m.mergeLocations(ordered)
	merged.Contacts = mergeContacts(ordered)
	merged.Schedules = nil

	score = clamp01(score)
	plan := &types.MergePlan{Primary: merged}
	for _, rec := range ordered[1:] {
		plan.AbsorbedIDs = append(plan.AbsorbedIDs, rec.ID)
		plan.History = append(plan.History, types.MergeHistoryEntry{
			AbsorbedID: rec.ID,
			PrimaryID:  merged.ID,
			Score:      score,
			Reason:     fmt.Sprintf("composite %.2f >= %.2f", score, m.config.CompositeThreshold),
			MergedBy:   m.config.MergedBy,
		})
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid merge plan: %w", err)
	}
	return plan, nil
}

// mergeLocations keeps one location per cluster of matching addresses. The first
// location of a cluster survives and borrows any fields it lacks from the others.
func (m *Merger) mergeLocations(members []*types.ServiceRecord) []types.Location {
	var kept []types.Location
	var keys []string
	for _, rec := range members {
		for _, loc := range rec.Locations {
			key := normalize.Address(loc.AddressParts()...)
			match := -1
			for i := range kept {
				if m.sameLocation(&kept[i], keys[i], &loc, key) {
					match = i
					break
				}
			}
			if match < 0 {
				kept = append(kept, loc)
				keys = append(keys, key)
				continue
			}
			fillLocation(&kept[match], &loc)
		}
	}
	return kept
}

func (m *Merger) sameLocation(a *types.Location, aKey string, b *types.Location, bKey string) bool {
	if aKey != "" && bKey != "" {
		return normalize.Similarity(aKey, bKey) >= m.config.AddressThreshold
	}
	if aKey != "" || bKey != "" {
		return false
	}
	switch {
	case a.Coordinates == nil && b.Coordinates == nil:
		return true
	case a.Coordinates == nil || b.Coordinates == nil:
		return false
	}
	d := normalize.HaversineMeters(a.Coordinates.Latitude, a.Coordinates.Longitude,
		b.Coordinates.Latitude, b.Coordinates.Longitude)
	return d <= collapseRadiusMeters
}

func fillLocation(dst, src *types.Location) {
	if dst.ID == "" {
		dst.ID = src.ID
	}
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Region == "" {
		dst.Region = src.Region
	}
	if dst.Postcode == "" {
		dst.Postcode = src.Postcode
	}
	if dst.Coordinates == nil && src.Coordinates != nil {
		c := *src.Coordinates
		dst.Coordinates = &c
	}
}

// mergeContacts folds every contact into one: the first contact id, name and email
// found, and each distinct phone number by digits.
func mergeContacts(members []*types.ServiceRecord) []types.Contact {
	var merged types.Contact
	found := false
	seen := make(map[string]bool)
	for _, rec := range members {
		for _, c := range rec.Contacts {
			found = true
			if merged.ID == "" {
				merged.ID = c.ID
			}
			if merged.Name == "" {
				merged.Name = c.Name
			}
			if merged.Email == "" {
				merged.Email = c.Email
			}
			for _, ph := range c.Phones {
				d := normalize.Digits(ph.Number)
				if d == "" || seen[d] {
					continue
				}
				seen[d] = true
				merged.Phones = append(merged.Phones, ph)
			}
		}
	}
	if !found {
		return nil
	}
	return []types.Contact{merged}
}

func longer(current, other string) string {
	if len(other) > len(current) {
		return other
	}
	return current
}

func widenMin(a, b *int) *int {
	if a == nil {
		return b
	}
	if b != nil && *b < *a {
		return b
	}
	return a
}

func widenMax(a, b *int) *int {
	if a == nil {
		return b
	}
	if b != nil && *b > *a {
		return b
	}
	return a
}
