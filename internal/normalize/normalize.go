// Package normalize holds the string, phone, address and geometry helpers shared by
// candidate retrieval, scoring, merging and quality analysis.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// String case-folds s, strips diacritics and punctuation, and collapses whitespace.
// "  Brisbane Youth-Justice  Centre. " becomes "brisbane youthjustice centre".
func String(s string) string {
	if s == "" {
		return ""
	}
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		}
	}
	return b.String()
}

// Digits keeps only the ASCII digits of a phone number.
func Digits(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Phones returns the distinct non-empty digit strings of phones, in first-seen order.
func Phones(phones []string) []string {
	seen := make(map[string]bool, len(phones))
	var out []string
	for _, p := range phones {
		d := Digits(p)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// Address joins the non-empty address components and normalizes the result.
func Address(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return String(strings.Join(kept, " "))
}

// Set returns the distinct normalized, non-empty values of items in first-seen order.
func Set(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		n := String(it)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// Union merges string sets preserving first-seen order of the original spelling.
// Values that normalize to the same key are kept once.
func Union(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, it := range set {
			key := String(it)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, strings.TrimSpace(it))
		}
	}
	return out
}
