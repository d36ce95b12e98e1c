package recipe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keywordRecipe() *Recipe {
	return &Recipe{
		Name: "Keyword",
		Rule: []FieldRule{
			{Name: "term", Type: TypeString, IsID: true},
			{Name: "frequency", Type: TypeInt},
			{Name: "lastSeen", Type: TypeInt, Optional: true},
		},
	}
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(keywordRecipe()))

	err := reg.Validate("Keyword", Object{"frequency": int64(1)})
	require.Error(t, err)
}

func TestValidateRejectsEmptyIdentityString(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(keywordRecipe()))

	err := reg.Validate("Keyword", Object{"term": "", "frequency": int64(1)})
	require.Error(t, err)
}

func TestUnknownRecipeFails(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("DoesNotExist")
	require.Error(t, err)
}

func TestIDHashStableAcrossNonIdentityEdits(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(keywordRecipe()))

	o1 := Object{"term": "dough", "frequency": int64(1)}
	o2 := Object{"term": "dough", "frequency": int64(7)}

	id1, err := reg.IDHash("Keyword", o1)
	require.NoError(t, err)
	id2, err := reg.IDHash("Keyword", o2)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	c1, err := reg.ContentHash("Keyword", o1)
	require.NoError(t, err)
	c2, err := reg.ContentHash("Keyword", o2)
	require.NoError(t, err)
	assert.NotEqual(t, c1, c2)
}

func TestFrozenRecipeRejectsReregistration(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(keywordRecipe()))
	reg.Freeze("Keyword")

	err := reg.Register(keywordRecipe())
	require.Error(t, err)
}
