package jaccard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityProperties(t *testing.T) {
	a := []string{"pizza", "dough", "yeast"}
	b := []string{"pizza", "recipe", "dough"}

	assert.InDelta(t, 1.0, Similarity(a, a), 1e-9)
	assert.Equal(t, 0.0, Similarity(a, nil))
	assert.Equal(t, Similarity(a, b), Similarity(b, a))

	j := Similarity(a, b)
	assert.GreaterOrEqual(t, j, 0.0)
	assert.LessOrEqual(t, j, 1.0)
	assert.InDelta(t, 0.5, j, 1e-9) // {pizza,dough} / {pizza,dough,yeast,recipe} = 2/4
}

func TestIntersectionDeduplicates(t *testing.T) {
	got := Intersection([]string{"pizza", "dough", "pizza"}, []string{"dough", "pizza"})
	assert.ElementsMatch(t, []string{"pizza", "dough"}, got)
}
