package admin

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

func newTestAdmin(t *testing.T) (*Admin, *store.Store) {
	t.Helper()
	reg := recipe.NewRegistry()
	require.NoError(t, topicanalysis.RegisterRecipes(reg))
	s, err := store.New(":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, reg, nil), s
}

func putKeyword(t *testing.T, s *store.Store, term string, freq, lastSeen int64) {
	t.Helper()
	putKeywordWithScore(t, s, term, freq, 0, lastSeen)
}

func putKeywordWithScore(t *testing.T, s *store.Store, term string, freq int64, score float64, lastSeen int64) {
	t.Helper()
	_, err := s.PutVersioned(context.Background(), topicanalysis.RecipeKeyword, recipe.Object{
		"term":      term,
		"frequency": freq,
		"score":     score,
		"lastSeen":  lastSeen,
	})
	require.NoError(t, err)
}

func TestCleanupKeywordsDeletesStaleLowFrequencyTerms(t *testing.T) {
	a, s := newTestAdmin(t)
	ctx := context.Background()
	now := int64(1_700_000_000_000)
	longAgo := now - (100 * 24 * time.Hour).Milliseconds()

	putKeyword(t, s, "obscureterm", 1, longAgo)
	putKeyword(t, s, "popularterm", 50, now)

	merged, deleted, err := a.CleanupKeywords(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 0, merged)

	rec, err := a.currentKeyword(ctx, "obscureterm")
	require.NoError(t, err)
	isDeleted, _ := rec.Obj["deleted"].(bool)
	assert.True(t, isDeleted)

	rec, err = a.currentKeyword(ctx, "popularterm")
	require.NoError(t, err)
	isDeleted, _ = rec.Obj["deleted"].(bool)
	assert.False(t, isDeleted)
}

func TestCleanupKeywordsMergesNearDuplicateSpellings(t *testing.T) {
	a, s := newTestAdmin(t)
	ctx := context.Background()
	now := int64(1_700_000_000_000)

	putKeywordWithScore(t, s, "javascript", 5, 0.8, now)
	putKeywordWithScore(t, s, "javascriptt", 3, 0.4, now-1000)
	putKeyword(t, s, "astronomy", 10, now)

	merged, deleted, err := a.CleanupKeywords(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, merged)
	assert.Equal(t, 0, deleted)

	rec, err := a.currentKeyword(ctx, "astronomy")
	require.NoError(t, err)
	isDeleted, _ := rec.Obj["deleted"].(bool)
	assert.False(t, isDeleted, "a term with no near-duplicate must survive untouched")

	jsRec, err := a.currentKeyword(ctx, "javascript")
	require.NoError(t, err)
	jsDeleted, _ := jsRec.Obj["deleted"].(bool)

	typoRec, err := a.currentKeyword(ctx, "javascriptt")
	require.NoError(t, err)
	typoDeleted, _ := typoRec.Obj["deleted"].(bool)

	assert.NotEqual(t, jsDeleted, typoDeleted, "exactly one side of the merge should be tombstoned")

	var survivorFreq int64
	var survivorScore float64
	if !jsDeleted {
		survivorFreq, _ = jsRec.Obj["frequency"].(int64)
		survivorScore, _ = jsRec.Obj["score"].(float64)
	} else {
		survivorFreq, _ = typoRec.Obj["frequency"].(int64)
		survivorScore, _ = typoRec.Obj["score"].(float64)
	}
	assert.Equal(t, int64(8), survivorFreq, "merged frequency should sum both terms")
	assert.InDelta(t, (5*0.8+3*0.4)/8, survivorScore, 1e-9, "merged score should be frequency-weighted")
}

func putSubject(t *testing.T, s *store.Store, topicID string, archived bool, timestamp int64) {
	t.Helper()
	_, err := s.PutVersioned(context.Background(), topicanalysis.RecipeSubject, recipe.Object{
		"topicId":        topicID,
		"keywordSetHash": "hash-" + topicID,
		"name":           "subject-" + topicID,
		"keywords":       []string{"a", "b"},
		"messageCount":   int64(3),
		"timestamp":      timestamp,
		"archived":       archived,
	})
	require.NoError(t, err)
}

func TestSweepSubjectsArchivesAndDeletesByAge(t *testing.T) {
	a, s := newTestAdmin(t)
	ctx := context.Background()
	now := int64(1_700_000_000_000)
	day := int64((24 * time.Hour).Milliseconds())

	putSubject(t, s, "topic-fresh", false, now)
	putSubject(t, s, "topic-stale", false, now-31*day)
	putSubject(t, s, "topic-old-archived", true, now-61*day)

	archived, deleted, err := a.SweepSubjects(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, archived)
	assert.Equal(t, 1, deleted)
}

func TestSweepOrphansCollectsUnreferencedBlobsAndKeepsChainedVersions(t *testing.T) {
	a, s := newTestAdmin(t)
	ctx := context.Background()

	r1, err := s.PutVersioned(ctx, topicanalysis.RecipeKeyword, recipe.Object{
		"term": "dough", "frequency": int64(1), "lastSeen": int64(1000),
	})
	require.NoError(t, err)
	oldHash := r1.VersionHash

	_, err = s.PutVersioned(ctx, topicanalysis.RecipeKeyword, recipe.Object{
		"term": "dough", "frequency": int64(2), "lastSeen": int64(2000),
	})
	require.NoError(t, err)

	strayHash, err := s.Put(ctx, topicanalysis.RecipeKeyword, recipe.Object{
		"term": "stray", "frequency": int64(1), "lastSeen": int64(1000),
	})
	require.NoError(t, err)

	_, err = s.Get(ctx, oldHash)
	require.NoError(t, err, "the superseded version's blob must still exist before the sweep")

	future := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	collected, err := a.SweepOrphans(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, 1, collected)

	_, err = s.Get(ctx, strayHash)
	require.Error(t, err, "a blob no version row or reference points to should have been deleted")

	_, err = s.Get(ctx, oldHash)
	require.NoError(t, err, "the superseded version stays reachable through the current version's previousVersion")
}

func TestStatsCountsObjectsPerType(t *testing.T) {
	a, s := newTestAdmin(t)
	ctx := context.Background()

	putKeyword(t, s, "alpha", 5, 1000)
	putKeyword(t, s, "beta", 5, 1000)
	putSubject(t, s, "topic-a", false, 1000)

	stats, err := a.Stats(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalObjects)
	assert.Equal(t, float64(0), stats.ProposalCacheHit)

	var keywordStats, subjectStats TypeStats
	for _, ts := range stats.Types {
		switch ts.RecipeName {
		case topicanalysis.RecipeKeyword:
			keywordStats = ts
		case topicanalysis.RecipeSubject:
			subjectStats = ts
		}
	}
	assert.Equal(t, 2, keywordStats.ObjectCount)
	assert.Equal(t, 1, subjectStats.ObjectCount)
}

type stubCacheStatter struct{ rate float64 }

func (s stubCacheStatter) HitRate() float64 { return s.rate }

func TestStatsReportsProposalCacheHitRateWhenProvided(t *testing.T) {
	a, _ := newTestAdmin(t)
	stats, err := a.Stats(context.Background(), stubCacheStatter{rate: 0.75})
	require.NoError(t, err)
	assert.Equal(t, 0.75, stats.ProposalCacheHit)
}
