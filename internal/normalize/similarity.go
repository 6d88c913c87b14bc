package normalize

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity is the normalized Levenshtein similarity of a and b after String
// normalization: 1 for identical strings, 0 when either side is empty. Word order
// does not count: the better of the plain and the word-sorted comparison is returned.
func Similarity(a, b string) float64 {
	na, nb := String(a), String(b)
	plain := similarityNormalized(na, nb)
	if plain == 1 {
		return plain
	}
	if sorted := similarityNormalized(sortWords(na), sortWords(nb)); sorted > plain {
		return sorted
	}
	return plain
}

func sortWords(s string) string {
	words := strings.Fields(s)
	sort.Strings(words)
	return strings.Join(words, " ")
}

func similarityNormalized(na, nb string) float64 {
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	maxLen := utf8.RuneCountInString(na)
	if n := utf8.RuneCountInString(nb); n > maxLen {
		maxLen = n
	}
	d := levenshtein.ComputeDistance(na, nb)
	sim := 1 - float64(d)/float64(maxLen)
	if sim < 0 {
		return 0
	}
	return sim
}

// Trigrams returns the pg_trgm style trigram set of s: every alphanumeric word is
// lower-cased and padded with two leading and one trailing space.
func Trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = struct{}{}
		}
	}
	return out
}

// Trigram mirrors postgres pg_trgm similarity(): shared trigrams over the size of
// the trigram union. It is the recall-oriented fuzzy name measure used for candidate
// retrieval when the store cannot compute it.
func Trigram(a, b string) float64 {
	ta, tb := Trigrams(a), Trigrams(b)
	return trigramOverlap(ta, tb)
}

// TrigramSets compares precomputed trigram sets.
func TrigramSets(ta, tb map[string]struct{}) float64 {
	return trigramOverlap(ta, tb)
}

func trigramOverlap(ta, tb map[string]struct{}) float64 {
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

// Jaccard is |A∩B| / |A∪B| over normalized set members, 0 when either set is empty.
func Jaccard(a, b []string) float64 {
	sa, sb := Set(a), Set(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	in := make(map[string]bool, len(sa))
	for _, v := range sa {
		in[v] = true
	}
	shared := 0
	for _, v := range sb {
		if in[v] {
			shared++
		}
	}
	return float64(shared) / float64(len(sa)+len(sb)-shared)
}

// WordJaccard is the Jaccard similarity of the normalized word sets of a and b.
func WordJaccard(a, b string) float64 {
	return Jaccard(strings.Fields(String(a)), strings.Fields(String(b)))
}
