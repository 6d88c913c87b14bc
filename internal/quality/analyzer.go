// Package quality computes registry data-quality reports and per-record assessments.
//
// Reports are advisory snapshots recomputed on demand. They read the active records
// in one store query and never block a concurrent merge sweep.
package quality

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/storage"
	"github.com/youthservices/svcreg/internal/telemetry"
	"github.com/youthservices/svcreg/internal/types"
)

// Completeness predicates, in report order.
const (
	FieldName        = "name"
	FieldDescription = "description"
	FieldPhone       = "phone"
	FieldEmail       = "email"
	FieldAddress     = "address"
	FieldCoordinates = "coordinates"
	FieldCategories  = "categories"
	FieldAgeRange    = "age_range"
)

// CompletenessFields lists every completeness predicate.
var CompletenessFields = []string{
	FieldName, FieldDescription, FieldPhone, FieldEmail,
	FieldAddress, FieldCoordinates, FieldCategories, FieldAgeRange,
}

// FieldCompleteness counts records satisfying one predicate.
type FieldCompleteness struct {
	Complete int     `json:"complete"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
}

// CompletenessReport is the per-predicate completeness of the active records.
type CompletenessReport struct {
	Fields map[string]FieldCompleteness `json:"fields"`
	Score  float64                      `json:"score"` // mean of the field fractions
}

// FreshnessReport counts records by time since their last update.
type FreshnessReport struct {
	UpdatedLastWeek    int     `json:"updated_last_week"`
	UpdatedLastMonth   int     `json:"updated_last_month"`
	UpdatedLastQuarter int     `json:"updated_last_quarter"`
	Total              int     `json:"total"`
	AvgDaysSinceUpdate float64 `json:"avg_days_since_update"`
	Score              float64 `json:"score"` // fraction updated within the month window
}

// RegionCoverage summarizes one region.
type RegionCoverage struct {
	Region            string   `json:"region"`
	ServiceCount      int      `json:"service_count"`
	OrganizationCount int      `json:"organization_count"`
	Categories        []string `json:"categories"`
}

// CoverageReport is the geographic coverage of the active records.
type CoverageReport struct {
	Regions           []RegionCoverage `json:"regions"`
	RegionsCovered    int              `json:"regions_covered"`
	TotalKnownRegions int              `json:"total_known_regions"`
	Score             float64          `json:"score"`
}

// DuplicatePair is a residual near-duplicate by name.
type DuplicatePair struct {
	ServiceID1 string  `json:"service1_id"`
	Name1      string  `json:"service1_name"`
	ServiceID2 string  `json:"service2_id"`
	Name2      string  `json:"service2_name"`
	Similarity float64 `json:"name_similarity"`
}

// DuplicateReport counts residual near-duplicate pairs.
type DuplicateReport struct {
	PotentialDuplicates int             `json:"potential_duplicates"`
	Rate                float64         `json:"rate"`
	Examples            []DuplicatePair `json:"examples,omitempty"`
	Score               float64         `json:"score"`
}

// Report is a point-in-time quality snapshot.
type Report struct {
	GeneratedAt     time.Time          `json:"generated_at"`
	TotalServices   int                `json:"total_services"`
	Completeness    CompletenessReport `json:"completeness"`
	Freshness       FreshnessReport    `json:"freshness"`
	Coverage        CoverageReport     `json:"coverage"`
	Duplicates      DuplicateReport    `json:"duplicates"`
	OverallScore    float64            `json:"overall_score"`
	Recommendations []string           `json:"recommendations,omitempty"`

	// sections that had a non-zero denominator and count toward OverallScore
	included map[string]bool
}

// SectionScores returns the scores of the sections that count toward the overall score.
func (r *Report) SectionScores() map[string]float64 {
	out := make(map[string]float64, 4)
	scores := map[string]float64{
		SectionCompleteness: r.Completeness.Score,
		SectionFreshness:    r.Freshness.Score,
		SectionCoverage:     r.Coverage.Score,
		SectionDuplicates:   r.Duplicates.Score,
	}
	for name, v := range scores {
		if r.included[name] {
			out[name] = v
		}
	}
	return out
}

// Analyzer computes quality reports over the active records of a store.
type Analyzer struct {
	store   storage.Storage
	config  Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewAnalyzer creates an analyzer. Logger and metrics are optional.
func NewAnalyzer(store storage.Storage, config Config, logger *zap.Logger, metrics *telemetry.Metrics) (*Analyzer, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Analyze computes a report over every active record. With no active records the
// overall score is 0.
func (a *Analyzer) Analyze(ctx context.Context) (*Report, error) {
	records, err := a.store.ListActiveServices(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load active services: %w", err)
	}
	report := a.Compute(records)
	a.metrics.SetQuality(report.OverallScore, report.SectionScores())
	a.logger.Info("quality analyzed",
		zap.Int("services", report.TotalServices),
		zap.Float64("overall_score", report.OverallScore),
		zap.Int("potential_duplicates", report.Duplicates.PotentialDuplicates))
	return report, nil
}

// Compute builds a report from an already loaded record set.
func (a *Analyzer) Compute(records []*types.ServiceRecord) *Report {
	now := a.now()
	r := &Report{
		GeneratedAt:   now,
		TotalServices: len(records),
		included:      make(map[string]bool),
	}
	r.Completeness = a.completeness(records)
	r.Freshness = a.freshness(records, now)
	r.Coverage = a.coverage(records)
	r.Duplicates = a.duplicates(records)

	n := len(records)
	r.included[SectionCompleteness] = n > 0
	r.included[SectionFreshness] = n > 0
	r.included[SectionCoverage] = n > 0 && a.config.TotalKnownRegions > 0
	r.included[SectionDuplicates] = n > 0

	r.OverallScore = a.overall(r)
	r.Recommendations = a.recommendations(r)
	return r
}

func (a *Analyzer) overall(r *Report) float64 {
	w := a.config.Weights
	parts := []struct {
		section string
		weight  float64
		score   float64
	}{
		{SectionCompleteness, w.Completeness, r.Completeness.Score},
		{SectionFreshness, w.Freshness, r.Freshness.Score},
		{SectionCoverage, w.Coverage, r.Coverage.Score},
		{SectionDuplicates, w.Duplicates, r.Duplicates.Score},
	}
	var score, factors float64
	for _, p := range parts {
		if !r.included[p.section] {
			continue
		}
		score += p.score * p.weight
		factors += p.weight
	}
	if factors == 0 {
		return 0
	}
	return clamp01(score / factors)
}

// Satisfies reports which completeness predicates rec satisfies.
func (a *Analyzer) Satisfies(rec *types.ServiceRecord) map[string]bool {
	hasAddress, hasCoords := false, false
	for i := range rec.Locations {
		if strings.TrimSpace(rec.Locations[i].Address1) != "" {
			hasAddress = true
		}
		if rec.Locations[i].Coordinates != nil {
			hasCoords = true
		}
	}
	return map[string]bool{
		FieldName:        strings.TrimSpace(rec.Name) != "",
		FieldDescription: len(strings.TrimSpace(rec.Description)) > a.config.DescriptionMinLength,
		FieldPhone:       len(normalize.Phones(rec.Phones())) > 0,
		FieldEmail:       rec.Email() != "",
		FieldAddress:     hasAddress,
		FieldCoordinates: hasCoords,
		FieldCategories:  len(normalize.Set(rec.Categories)) > 0,
		FieldAgeRange:    rec.MinAge != nil || rec.MaxAge != nil,
	}
}

func (a *Analyzer) completeness(records []*types.ServiceRecord) CompletenessReport {
	out := CompletenessReport{Fields: make(map[string]FieldCompleteness, len(CompletenessFields))}
	counts := make(map[string]int, len(CompletenessFields))
	for _, rec := range records {
		for field, ok := range a.Satisfies(rec) {
			if ok {
				counts[field]++
			}
		}
	}
	total := len(records)
	var sum float64
	for _, field := range CompletenessFields {
		fc := FieldCompleteness{Complete: counts[field], Total: total}
		if total > 0 {
			fc.Fraction = float64(fc.Complete) / float64(total)
		}
		out.Fields[field] = fc
		sum += fc.Fraction
	}
	out.Score = sum / float64(len(CompletenessFields))
	return out
}

func (a *Analyzer) freshness(records []*types.ServiceRecord, now time.Time) FreshnessReport {
	out := FreshnessReport{Total: len(records)}
	var days float64
	for _, rec := range records {
		age := now.Sub(rec.UpdatedAt)
		if age < 0 {
			age = 0
		}
		if age <= a.config.WeekWindow {
			out.UpdatedLastWeek++
		}
		if age <= a.config.MonthWindow {
			out.UpdatedLastMonth++
		}
		if age <= a.config.QuarterWindow {
			out.UpdatedLastQuarter++
		}
		days += age.Hours() / 24
	}
	if out.Total > 0 {
		out.AvgDaysSinceUpdate = days / float64(out.Total)
		out.Score = float64(out.UpdatedLastMonth) / float64(out.Total)
	}
	return out
}

func (a *Analyzer) coverage(records []*types.ServiceRecord) CoverageReport {
	type acc struct {
		services   map[string]bool
		orgs       map[string]bool
		categories map[string]bool
	}
	regions := make(map[string]*acc)
	for _, rec := range records {
		for _, region := range rec.Regions() {
			r, ok := regions[region]
			if !ok {
				r = &acc{services: map[string]bool{}, orgs: map[string]bool{}, categories: map[string]bool{}}
				regions[region] = r
			}
			r.services[rec.ID] = true
			if rec.OrganizationID != "" {
				r.orgs[rec.OrganizationID] = true
			}
			for _, c := range normalize.Set(rec.Categories) {
				r.categories[c] = true
			}
		}
	}

	out := CoverageReport{TotalKnownRegions: a.config.TotalKnownRegions}
	for name, r := range regions {
		cats := make([]string, 0, len(r.categories))
		for c := range r.categories {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		out.Regions = append(out.Regions, RegionCoverage{
			Region:            name,
			ServiceCount:      len(r.services),
			OrganizationCount: len(r.orgs),
			Categories:        cats,
		})
	}
	sort.Slice(out.Regions, func(i, j int) bool {
		if out.Regions[i].ServiceCount != out.Regions[j].ServiceCount {
			return out.Regions[i].ServiceCount > out.Regions[j].ServiceCount
		}
		return out.Regions[i].Region < out.Regions[j].Region
	})
	out.RegionsCovered = len(out.Regions)
	if out.TotalKnownRegions > 0 {
		out.Score = clamp01(float64(out.RegionsCovered) / float64(out.TotalKnownRegions))
	}
	return out
}

// duplicates counts record pairs whose name trigram similarity exceeds the threshold,
// the same measure the fuzzy-name candidate strategy uses, capped at MaxDuplicatePairs.
// Only the first DuplicateScanLimit records are scanned, and only pairs sharing at
// least one trigram are scored, found through an inverted trigram index.
func (a *Analyzer) duplicates(records []*types.ServiceRecord) DuplicateReport {
	if n := a.config.DuplicateScanLimit; n > 0 && len(records) > n {
		records = records[:n]
	}

	grams := make([]map[string]struct{}, len(records))
	postings := make(map[string][]int)
	for i, rec := range records {
		grams[i] = normalize.Trigrams(rec.Name)
		for g := range grams[i] {
			postings[g] = append(postings[g], i)
		}
	}

	var pairs []DuplicatePair
	shared := make([]int, len(records))
	var touched []int
	for i := range records {
		touched = touched[:0]
		for g := range grams[i] {
			ids := postings[g]
			for _, j := range ids[sort.SearchInts(ids, i+1):] {
				if shared[j] == 0 {
					touched = append(touched, j)
				}
				shared[j]++
			}
		}
		sort.Ints(touched)

		for _, j := range touched {
			common := shared[j]
			shared[j] = 0
			if len(pairs) >= a.config.MaxDuplicatePairs {
				continue
			}
			sim := float64(common) / float64(len(grams[i])+len(grams[j])-common)
			if sim <= a.config.DuplicateNameThreshold {
				continue
			}
			p := DuplicatePair{
				ServiceID1: records[i].ID, Name1: records[i].Name,
				ServiceID2: records[j].ID, Name2: records[j].Name,
				Similarity: sim,
			}
			if p.ServiceID2 < p.ServiceID1 {
				p.ServiceID1, p.ServiceID2 = p.ServiceID2, p.ServiceID1
				p.Name1, p.Name2 = p.Name2, p.Name1
			}
			pairs = append(pairs, p)
		}
		if len(pairs) >= a.config.MaxDuplicatePairs {
			break
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].Similarity > pairs[j].Similarity })

	out := DuplicateReport{PotentialDuplicates: len(pairs)}
	if len(records) > 0 {
		out.Rate = float64(len(pairs)) / float64(len(records))
		out.Score = clamp01(1 - minf(1, out.Rate*2))
	}
	if n := a.config.MaxExamples; len(pairs) > n {
		pairs = pairs[:n]
	}
	out.Examples = pairs
	return out
}

func (a *Analyzer) recommendations(r *Report) []string {
	if r.TotalServices == 0 {
		return []string{"No active services. Run collection before analyzing quality."}
	}
	var out []string
	if r.OverallScore < a.config.TargetScore {
		out = append(out, fmt.Sprintf("Data quality %.0f%% is below the %.0f%% target. Focus on completeness and duplicates.",
			r.OverallScore*100, a.config.TargetScore*100))
	}
	if r.Completeness.Score < 0.6 {
		var weakest []string
		for _, f := range CompletenessFields {
			if r.Completeness.Fields[f].Fraction < 0.5 {
				weakest = append(weakest, f)
			}
		}
		msg := fmt.Sprintf("Completeness is %.0f%%.", r.Completeness.Score*100)
		if len(weakest) > 0 {
			msg += " Fill in: " + strings.Join(weakest, ", ") + "."
		}
		out = append(out, msg)
	}
	if r.Freshness.Score < 0.5 {
		out = append(out, fmt.Sprintf("Only %.0f%% of services were updated in the last %d days. Re-run stale sources.",
			r.Freshness.Score*100, int(a.config.MonthWindow.Hours()/24)))
	}
	if r.Duplicates.Rate > 0.05 {
		out = append(out, fmt.Sprintf("%d potential duplicate pairs remain. Run a deduplication sweep.",
			r.Duplicates.PotentialDuplicates))
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
