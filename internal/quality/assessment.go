package quality

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/youthservices/svcreg/internal/types"
)

// Level is the coarse quality band of one record.
type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelFair      Level = "fair"
	LevelPoor      Level = "poor"
	LevelCritical  Level = "critical"
)

// LevelFor maps a score to its band.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.85:
		return LevelExcellent
	case score >= 0.70:
		return LevelGood
	case score >= 0.55:
		return LevelFair
	case score >= 0.40:
		return LevelPoor
	default:
		return LevelCritical
	}
}

// Assessment scores a single record.
type Assessment struct {
	ServiceID    string   `json:"service_id"`
	Completeness float64  `json:"completeness"`
	Freshness    float64  `json:"freshness"`
	Verification float64  `json:"verification"`
	Overall      float64  `json:"overall"`
	Level        Level    `json:"level"`
	Issues       []string `json:"issues,omitempty"`
}

// Validate checks that every score is a fraction.
func (a *Assessment) Validate() error {
	for name, v := range map[string]float64{
		"completeness": a.Completeness,
		"freshness":    a.Freshness,
		"verification": a.Verification,
		"overall":      a.Overall,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0.0 and 1.0 (got %.2f)", name, v)
		}
	}
	return nil
}

var issueText = map[string]string{
	FieldName:        "missing name",
	FieldDescription: "description missing or too short",
	FieldPhone:       "no phone number",
	FieldEmail:       "no email address",
	FieldAddress:     "no street address",
	FieldCoordinates: "location not geocoded",
	FieldCategories:  "no categories",
	FieldAgeRange:    "no age range",
}

// AssessRecord scores rec as of now.
func (a *Analyzer) AssessRecord(rec *types.ServiceRecord, now time.Time) *Assessment {
	out := &Assessment{ServiceID: rec.ID}

	satisfied := a.Satisfies(rec)
	var hits int
	for _, f := range CompletenessFields {
		if satisfied[f] {
			hits++
			continue
		}
		out.Issues = append(out.Issues, issueText[f])
	}
	out.Completeness = float64(hits) / float64(len(CompletenessFields))

	age := now.Sub(rec.UpdatedAt)
	switch {
	case age <= 30*24*time.Hour:
		out.Freshness = 1
	case age <= 90*24*time.Hour:
		out.Freshness = 0.5
	case age <= 365*24*time.Hour:
		out.Freshness = 0.25
	default:
		out.Freshness = 0
	}
	if out.Freshness < 0.5 {
		out.Issues = append(out.Issues, fmt.Sprintf("not updated for %d days", int(age.Hours()/24)))
	}

	switch rec.VerificationStatus {
	case types.VerificationVerified:
		out.Verification = 1
	case types.VerificationPending:
		out.Verification = 0.5
	default:
		out.Verification = 0.2
		out.Issues = append(out.Issues, "not verified")
	}

	out.Overall = clamp01(0.6*out.Completeness + 0.2*out.Freshness + 0.2*out.Verification)
	out.Level = LevelFor(out.Overall)
	return out
}

// AnnotateResult summarizes an Annotate pass.
type AnnotateResult struct {
	Assessed int           `json:"assessed"`
	Updated  int           `json:"updated"`
	Failed   int           `json:"failed"`
	ByLevel  map[Level]int `json:"by_level"`
}

// Annotate assesses every active record and persists its completeness and
// verification scores. A failed update is logged and counted; the pass continues.
func (a *Analyzer) Annotate(ctx context.Context) (*AnnotateResult, error) {
	records, err := a.store.ListActiveServices(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load active services: %w", err)
	}

	now := a.now()
	res := &AnnotateResult{ByLevel: make(map[Level]int)}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		as := a.AssessRecord(rec, now)
		res.Assessed++
		res.ByLevel[as.Level]++

		if err := a.store.UpdateQualityScores(ctx, rec.ID, as.Completeness, as.Verification); err != nil {
			res.Failed++
			a.logger.Warn("failed to update quality scores",
				zap.String("service_id", rec.ID),
				zap.Error(err))
			continue
		}
		res.Updated++
	}

	a.logger.Info("quality scores annotated",
		zap.Int("assessed", res.Assessed),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed))
	return res, nil
}
