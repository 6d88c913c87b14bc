package deduplication

import (
	"github.com/youthservices/svcreg/internal/normalize"
	"github.com/youthservices/svcreg/internal/types"
)

// FieldScores are the per-field similarities of two records, each in [0,1], and
// their weighted composite.
type FieldScores struct {
	Name         float64 `json:"name"`
	Organization float64 `json:"organization"`
	Address      float64 `json:"address"`
	Phone        float64 `json:"phone"`
	Description  float64 `json:"description"`
	Categories   float64 `json:"categories"`
	Composite    float64 `json:"composite"`
}

// Scorer computes weighted record similarity. A field missing on either side scores
// 0 and still counts in the denominator, so sparse records score lower.
type Scorer struct {
	weights Weights
}

// NewScorer creates a scorer with the given weights. Weights are validated by Config.
func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

// Weights returns the weights the scorer applies.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score compares a and b. Every comparator is symmetric, so Score(a, b) equals
// Score(b, a).
func (s *Scorer) Score(a, b *types.ServiceRecord) FieldScores {
	fs := FieldScores{
		Name:         normalize.Similarity(a.Name, b.Name),
		Organization: organizationScore(a, b),
		Address:      addressScore(a, b),
		Phone:        phoneScore(a, b),
		Description:  normalize.WordJaccard(a.Description, b.Description),
		Categories:   normalize.Jaccard(a.Categories, b.Categories),
	}
	w := s.weights
	fs.Composite = clamp01(fs.Name*w.Name +
		fs.Organization*w.Organization +
		fs.Address*w.Address +
		fs.Phone*w.Phone +
		fs.Description*w.Description +
		fs.Categories*w.Categories)
	return fs
}

func organizationScore(a, b *types.ServiceRecord) float64 {
	if a.OrganizationID == "" || b.OrganizationID == "" {
		return 0
	}
	if a.OrganizationID == b.OrganizationID {
		return 1
	}
	return 0
}

// addressKey is the normalized concatenated address of the record's first location.
func addressKey(r *types.ServiceRecord) string {
	loc := r.PrimaryLocation()
	if loc == nil {
		return ""
	}
	return normalize.Address(loc.AddressParts()...)
}

func addressScore(a, b *types.ServiceRecord) float64 {
	return normalize.Similarity(addressKey(a), addressKey(b))
}

func phoneScore(a, b *types.ServiceRecord) float64 {
	pa := normalize.Phones(a.Phones())
	if len(pa) == 0 {
		return 0
	}
	in := make(map[string]bool, len(pa))
	for _, d := range pa {
		in[d] = true
	}
	for _, d := range normalize.Phones(b.Phones()) {
		if in[d] {
			return 1
		}
	}
	return 0
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
