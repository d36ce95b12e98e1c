// Package normalize canonicalizes free text into keyword terms: lowercase
// folding, punctuation normalization, and stopword filtering. The folding
// rules (which punctuation survives inside a word vs. splits tokens) are
// the same ones a multi-pattern entity matcher needs to keep aliases like
// "Grand'mère" or "Saint-Denis" intact while still treating most
// punctuation as a separator.
package normalize

import (
	"strings"
	"unicode"

	"github.com/orsinium-labs/stopwords"
)

var enStopwords = stopwords.MustGet("en")

// isJoiner reports whether r should be kept as part of a word rather than
// treated as a token boundary (apostrophes, hyphens, and a few other
// marks that commonly appear inside a single term).
func isJoiner(r rune) bool {
	switch r {
	case '\'', '’', '-', '‐', '‑', '‒', '–', '—', '.', '_', '/':
		return true
	}
	return false
}

func isSeparator(r rune) bool {
	if unicode.IsSpace(r) {
		return true
	}
	if isJoiner(r) {
		return false
	}
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}

// CanonicalizeForMatch lowercases, folds curly quotes and dash variants to
// their plain-ASCII equivalents, collapses separator runs to single
// spaces, and trims. It is the single normalization function used both
// when a term is first extracted and whenever existing keyword term sets
// are compared, so two spellings of the same term always collide.
func CanonicalizeForMatch(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '‘', '’':
			return '\''
		case '‐', '‑', '‒', '–', '—':
			return '-'
		}
		return r
	}, s)

	var b strings.Builder
	lastWasSeparator := true
	for _, r := range s {
		if isSeparator(r) {
			if !lastWasSeparator {
				b.WriteByte(' ')
			}
			lastWasSeparator = true
			continue
		}
		b.WriteRune(r)
		lastWasSeparator = false
	}
	return strings.TrimSpace(b.String())
}

// TokenizeNorm splits canonicalized text into words and drops English
// stopwords, using the real stopword list rather than a hand-rolled map.
func TokenizeNorm(text string) []string {
	canon := CanonicalizeForMatch(text)
	if canon == "" {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(canon, " ") {
		if tok == "" {
			continue
		}
		if enStopwords.Contains(tok) {
			continue
		}
		out = append(out, tok)
	}
	return out
}
