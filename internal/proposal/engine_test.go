package proposal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

// keywordSetHashForTest mirrors topicanalysis's own (unexported)
// keyword-set hash so Subjects built directly in these tests get the
// same identity a real upsert would give them.
func keywordSetHashForTest(keywords []string) string {
	sorted := append([]string(nil), keywords...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	reg := recipe.NewRegistry()
	require.NoError(t, topicanalysis.RegisterRecipes(reg))
	require.NoError(t, RegisterRecipe(reg))

	s, err := store.New(":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return NewEngine(s, reg), s
}

func putSubject(t *testing.T, s *store.Store, topicID, name string, keywords []string, ts int64) {
	t.Helper()
	_, err := s.PutVersioned(context.Background(), topicanalysis.RecipeSubject, recipe.Object{
		"topicId":        topicID,
		"keywordSetHash": keywordSetHashForTest(keywords),
		"name":           name,
		"keywords":       keywords,
		"messageCount":   int64(1),
		"timestamp":      ts,
	})
	require.NoError(t, err)
}

func TestGetProposalsReturnsNoSubjectsWhenTopicHasNone(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.GetProposals(context.Background(), "u@example.com", "topic-empty", nil, false)
	require.Error(t, err)
}

func TestGetProposalsRanksByJaccardAndRecency(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := int64(1_700_000_000_000)

	putSubject(t, s, "topic-a", "Baking", []string{"pizza", "dough", "yeast"}, now)
	putSubject(t, s, "topic-b", "Bread", []string{"pizza", "dough", "yeast", "flour"}, now)
	putSubject(t, s, "topic-c", "Astronomy", []string{"rockets", "orbit"}, now)

	res, err := e.GetProposals(ctx, "u@example.com", "topic-a", nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Proposals)
	assert.Equal(t, "Bread", res.Proposals[0].SubjectName)
	assert.False(t, res.Cached)

	res2, err := e.GetProposals(ctx, "u@example.com", "topic-a", nil, false)
	require.NoError(t, err)
	assert.True(t, res2.Cached)
}

func TestGetProposalsFiltersBelowMinJaccard(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := int64(1_700_000_000_000)

	putSubject(t, s, "topic-a", "Baking", []string{"pizza", "dough", "yeast", "flour"}, now)
	putSubject(t, s, "topic-b", "Unrelated", []string{"rockets"}, now)

	res, err := e.GetProposals(ctx, "u@example.com", "topic-a", nil, false)
	require.NoError(t, err)
	assert.Empty(t, res.Proposals)
}

func TestDismissRemovesSubjectFromFutureResults(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := int64(1_700_000_000_000)

	putSubject(t, s, "topic-a", "Baking", []string{"pizza", "dough", "yeast"}, now)
	putSubject(t, s, "topic-b", "Bread", []string{"pizza", "dough", "yeast", "flour"}, now)

	res, err := e.GetProposals(ctx, "u@example.com", "topic-a", nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Proposals)

	e.Dismiss("topic-a", res.Proposals[0].SubjectIDHash)
	res2, err := e.GetProposals(ctx, "u@example.com", "topic-a", nil, true)
	require.NoError(t, err)
	assert.Empty(t, res2.Proposals)
}

func TestPutConfigInvalidatesCache(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	now := int64(1_700_000_000_000)

	putSubject(t, s, "topic-a", "Baking", []string{"pizza", "dough", "yeast"}, now)
	putSubject(t, s, "topic-b", "Bread", []string{"pizza", "dough", "yeast", "flour"}, now)

	res, err := e.GetProposals(ctx, "u@example.com", "topic-a", nil, false)
	require.NoError(t, err)
	require.NotEmpty(t, res.Proposals)

	require.NoError(t, e.PutConfig(ctx, Config{
		UserEmail:     "u@example.com",
		MatchWeight:   1,
		RecencyWeight: 0,
		RecencyWindow: defaultRecencyWindow,
		MinJaccard:    0.99,
		MaxProposals:  10,
	}))

	res2, err := e.GetProposals(ctx, "u@example.com", "topic-a", nil, false)
	require.NoError(t, err)
	assert.False(t, res2.Cached, "config change must invalidate the cache")
	assert.Empty(t, res2.Proposals, "minJaccard=0.99 should exclude the partial match")
}
