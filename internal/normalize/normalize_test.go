package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"trailing space", "Brisbane Youth Justice Service Centre ", "brisbane youth justice service centre"},
		{"punctuation and case", "St. Vincent's  CENTRE!", "st vincents centre"},
		{"collapse whitespace", "a \t b\n\nc", "a b c"},
		{"diacritics", "Café Crème", "cafe creme"},
		{"hyphen joins words", "Youth-Justice", "youthjustice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, String(tt.in))
		})
	}
}

func TestDigitsAndPhones(t *testing.T) {
	assert.Equal(t, "0730971600", Digits("(07) 3097 1600"))
	assert.Equal(t, "0730971600", Digits("07 3097 1600"))
	assert.Equal(t, "", Digits("n/a"))

	got := Phones([]string{"(07) 3097 1600", "07 3097 1600", "", "1800 123 456"})
	assert.Equal(t, []string{"0730971600", "1800123456"}, got)
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "12 ann st brisbane qld 4000", Address("12 Ann St.", "", "Brisbane", "QLD", "4000"))
	assert.Equal(t, "", Address("", "  "))
}

func TestUnion(t *testing.T) {
	got := Union([]string{"Legal", "Housing"}, []string{"housing", "Mental Health"}, nil)
	assert.Equal(t, []string{"Legal", "Housing", "Mental Health"}, got)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("Brisbane Youth Justice Service Centre", "Brisbane Youth Justice Service Centre "))
	assert.Equal(t, 0.0, Similarity("", "anything"))
	assert.InDelta(t, 0.75, Similarity("abcd", "abce"), 1e-9)

	// word order does not matter
	assert.Equal(t, 1.0, Similarity("Youth Legal Service Brisbane", "Brisbane Youth Legal Service"))
	assert.Greater(t, Similarity("Legal Service Youth Brisbane", "Brisbane Youth Legal Services"), 0.9)
	assert.Less(t, Similarity("Youth Legal Service Brisbane", "Cairns Housing Support"), 0.5)

	// symmetric
	assert.Equal(t, Similarity("youth legal aid", "youth legal advice"), Similarity("youth legal advice", "youth legal aid"))
}

func TestTrigram(t *testing.T) {
	assert.Equal(t, 1.0, Trigram("Youth Hub", "youth hub"))
	assert.Equal(t, 0.0, Trigram("", "youth hub"))
	assert.Less(t, Trigram("Brisbane Youth Justice Service Centre", "Cairns Legal Aid Office"), 0.3)
	assert.Greater(t, Trigram("Brisbane Youth Justice Centre", "Brisbane Youth Justice Service Centre"), 0.3)
	assert.Len(t, Trigrams("abc"), 4)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard(nil, []string{"a"}))
	assert.Equal(t, 1.0, Jaccard([]string{"Legal", "Housing"}, []string{"housing", "legal"}))
	assert.InDelta(t, 1.0/3.0, Jaccard([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
	assert.InDelta(t, 0.75, WordJaccard("free legal advice", "free legal help advice"), 1e-9)
}

func TestHaversine(t *testing.T) {
	// Brisbane CBD to South Bank is roughly 1 km
	d := HaversineMeters(-27.4698, 153.0251, -27.4785, 153.0217)
	assert.InDelta(t, 1030, d, 100)
	assert.Equal(t, 0.0, HaversineMeters(-27.4, 153.0, -27.4, 153.0))

	minLat, maxLat, minLng, maxLng := BoundingBox(-27.4698, 153.0251, 1000)
	assert.Less(t, minLat, -27.4698)
	assert.Greater(t, maxLat, -27.4698)
	assert.Less(t, minLng, 153.0251)
	assert.Greater(t, maxLng, 153.0251)
}

func TestBoundingBoxEdges(t *testing.T) {
	tests := []struct {
		name     string
		lat, lng float64
		radius   float64
		fullLng  bool
	}{
		{"inside", -16.8, 178.4, 1000, false},
		{"east of antimeridian", -16.8, 179.999, 1000, true},
		{"west of antimeridian", -16.8, -179.999, 1000, true},
		{"near pole", 89.999, 10, 1000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minLat, maxLat, minLng, maxLng := BoundingBox(tt.lat, tt.lng, tt.radius)
			assert.GreaterOrEqual(t, minLat, -90.0)
			assert.LessOrEqual(t, maxLat, 90.0)
			assert.GreaterOrEqual(t, minLng, -180.0)
			assert.LessOrEqual(t, maxLng, 180.0)
			if tt.fullLng {
				assert.Equal(t, -180.0, minLng)
				assert.Equal(t, 180.0, maxLng)
			} else {
				assert.Less(t, minLng, tt.lng)
				assert.Greater(t, maxLng, tt.lng)
			}
		})
	}

	// a point just across the line is within the box of its neighbour
	_, _, minLng, maxLng := BoundingBox(-16.8, 179.9995, 500)
	assert.True(t, -179.9995 >= minLng && -179.9995 <= maxLng)
	assert.Less(t, HaversineMeters(-16.8, 179.9995, -16.8, -179.9995), 500.0)
}
