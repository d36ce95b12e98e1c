package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeForMatchFoldsAndCollapses(t *testing.T) {
	assert.Equal(t, "saint-denis", CanonicalizeForMatch("Saint-Denis"))
	assert.Equal(t, "pizza dough", CanonicalizeForMatch("  Pizza,   Dough!! "))
	assert.Equal(t, "o'brien", CanonicalizeForMatch("O’Brien"))
}

func TestTokenizeNormDropsStopwords(t *testing.T) {
	toks := TokenizeNorm("the pizza dough and the yeast")
	assert.ElementsMatch(t, []string{"pizza", "dough", "yeast"}, toks)
}
