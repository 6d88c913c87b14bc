package deduplication

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/youthservices/svcreg/internal/types"
)

func fullRecord() *types.ServiceRecord {
	return &types.ServiceRecord{
		ID:             "a",
		OrganizationID: "org-1",
		Name:           "Brisbane Youth Justice Service Centre",
		Description:    "Supports young people in contact with the youth justice system.",
		Categories:     []string{"legal", "justice"},
		Locations: []types.Location{{
			Address1:    "1 Main St",
			City:        "Brisbane",
			State:       "QLD",
			Postcode:    "4000",
			Coordinates: &types.Coordinates{Latitude: -27.4698, Longitude: 153.0251},
		}},
		Contacts: []types.Contact{{Phones: []types.Phone{{Number: "(07) 3097 1600"}}}},
	}
}

func TestScoreReflexive(t *testing.T) {
	s := NewScorer(DefaultWeights())
	a := fullRecord()

	got := s.Score(a, a)
	assert.InDelta(t, 1.0, got.Composite, 1e-9)
	assert.Equal(t, 1.0, got.Name)
	assert.Equal(t, 1.0, got.Phone)
}

func TestScoreSymmetric(t *testing.T) {
	s := NewScorer(DefaultWeights())
	a := fullRecord()
	b := fullRecord()
	b.ID = "b"
	b.Name = "Brisbane Youth Justice Centre"
	b.Description = "Youth justice support for young people."
	b.Categories = []string{"justice", "housing"}
	b.Locations[0].Address1 = "1 Main Street"
	b.Contacts = []types.Contact{{Phones: []types.Phone{{Number: "1800 000 000"}}}}

	ab, ba := s.Score(a, b), s.Score(b, a)
	assert.InDelta(t, ab.Composite, ba.Composite, 1e-12)
	assert.Equal(t, ab, ba)
	assert.Equal(t, 0.0, ab.Phone)
	assert.InDelta(t, 1.0/3.0, ab.Categories, 1e-9)
}

func TestScoreMissingFieldsScoreZero(t *testing.T) {
	s := NewScorer(DefaultWeights())
	a := &types.ServiceRecord{ID: "a", Name: "Youth Hub"}
	b := &types.ServiceRecord{ID: "b", Name: "Youth Hub"}

	got := s.Score(a, b)
	assert.Equal(t, 1.0, got.Name)
	assert.Equal(t, 0.0, got.Organization)
	assert.Equal(t, 0.0, got.Address)
	assert.Equal(t, 0.0, got.Phone)
	assert.InDelta(t, 0.35, got.Composite, 1e-9, "sparse records are penalized")
}

func TestScoreBrisbaneScenario(t *testing.T) {
	s := NewScorer(DefaultWeights())
	a := fullRecord()
	b := fullRecord()
	b.ID = "b"
	b.Name = "Brisbane Youth Justice Service Centre "
	b.Contacts = []types.Contact{{Phones: []types.Phone{{Number: "07 3097 1600"}}}}

	got := s.Score(a, b)
	assert.Equal(t, 1.0, got.Name)
	assert.Equal(t, 1.0, got.Organization)
	assert.Equal(t, 1.0, got.Phone)
	assert.GreaterOrEqual(t, got.Composite, DefaultConfig().CompositeThreshold)
}

func TestScoreCustomWeights(t *testing.T) {
	s := NewScorer(Weights{Name: 0.5, Phone: 0.5})
	a := fullRecord()
	b := fullRecord()
	b.Contacts = nil

	assert.InDelta(t, 0.5, s.Score(a, b).Composite, 1e-9)
	assert.Equal(t, 0.5, s.Weights().Name)
}

func TestScoreReorderedName(t *testing.T) {
	s := NewScorer(DefaultWeights())
	a := fullRecord()
	b := fullRecord()
	b.ID = "b"
	b.Name = "Youth Justice Service Centre Brisbane"

	got := s.Score(a, b)
	assert.Equal(t, 1.0, got.Name)
	assert.GreaterOrEqual(t, got.Composite, DefaultConfig().CompositeThreshold)
}
