package admin

import (
	"context"

	"github.com/coregx/ahocorasick"

	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

const keywordMergeThreshold = 0.9
const shingleSize = 3

// CleanupKeywords retires low-signal terms and folds near-duplicate
// spellings of the same term into one Keyword. A term is cleanup-eligible
// once its frequency and recency both fall below the cleanup thresholds
// exported by topicanalysis (§4.6); a pair of surviving
// terms is merge-eligible once their Levenshtein similarity is at least
// keywordMergeThreshold.
//
// Pairwise Levenshtein comparison across every surviving term is O(n²) in
// the keyword count -- fine for a handful of topics, not fine once the
// vocabulary grows into the thousands. Before running any Levenshtein
// comparison, CleanupKeywords builds a trigram shingle index with an
// Aho-Corasick automaton and only compares terms that already share a
// shingle: two terms with no 3-character substring in common can never be
// Levenshtein-close enough to merge, so the automaton prunes the
// overwhelming majority of candidate pairs for free.
func (a *Admin) CleanupKeywords(ctx context.Context, now int64) (merged int, deleted int, err error) {
	recs, err := a.s.IterByType(ctx, topicanalysis.RecipeKeyword)
	if err != nil {
		return 0, 0, err
	}

	type kw struct {
		term     string
		freq     int64
		lastSeen int64
	}
	var live []kw
	for _, rec := range recs {
		term, _ := rec.Obj["term"].(string)
		isDeleted, _ := rec.Obj["deleted"].(bool)
		if term == "" || isDeleted {
			continue
		}
		freq, _ := rec.Obj["frequency"].(int64)
		lastSeen, _ := rec.Obj["lastSeen"].(int64)
		live = append(live, kw{term: term, freq: freq, lastSeen: lastSeen})
	}

	ageCutoff := now - topicanalysis.KeywordCleanupAge.Milliseconds()
	seenCutoff := now - topicanalysis.KeywordCleanupSeen.Milliseconds()
	var survivors []kw
	for _, k := range live {
		eligible := k.freq < topicanalysis.KeywordCleanupMinFreq && k.lastSeen < ageCutoff && k.lastSeen < seenCutoff
		if eligible {
			if err := a.deleteKeyword(ctx, k.term); err != nil {
				return merged, deleted, err
			}
			deleted++
			continue
		}
		survivors = append(survivors, k)
	}

	candidates := make([]string, len(survivors))
	for i, k := range survivors {
		candidates[i] = k.term
	}
	groups, err := mergeCandidateGroups(candidates)
	if err != nil {
		return merged, deleted, err
	}
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		if err := a.mergeKeywordGroup(ctx, group); err != nil {
			return merged, deleted, err
		}
		merged += len(group) - 1
	}

	return merged, deleted, nil
}

// mergeCandidateGroups partitions terms into groups whose pairwise
// Levenshtein similarity clears keywordMergeThreshold, using the shingle
// automaton described above to skip pairs that cannot possibly qualify.
func mergeCandidateGroups(terms []string) ([][]string, error) {
	shingleOf := make(map[string][]int) // shingle -> term indices containing it
	var patterns []string
	patternShingle := make(map[int]string)
	for i, t := range terms {
		for _, sh := range shingles(t, shingleSize) {
			if _, ok := shingleOf[sh]; !ok {
				patternShingle[len(patterns)] = sh
				patterns = append(patterns, sh)
			}
			shingleOf[sh] = append(shingleOf[sh], i)
		}
	}

	var automaton *ahocorasick.Automaton
	if len(patterns) > 0 {
		var err error
		automaton, err = ahocorasick.NewBuilder().
			AddStrings(patterns).
			SetMatchKind(ahocorasick.LeftmostLongest).
			SetPrefilter(true).
			Build()
		if err != nil {
			return nil, err
		}
	}

	parent := make([]int, len(terms))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i, t := range terms {
		if automaton == nil {
			continue
		}
		candidateSet := make(map[int]bool)
		for _, m := range automaton.FindAllOverlapping([]byte(t)) {
			sh := patterns[m.PatternID]
			for _, j := range shingleOf[sh] {
				if j != i {
					candidateSet[j] = true
				}
			}
		}
		for j := range candidateSet {
			if j <= i {
				continue
			}
			if levenshteinSimilarity(t, terms[j]) >= keywordMergeThreshold {
				union(i, j)
			}
		}
	}

	groupsByRoot := make(map[int][]string)
	for i, t := range terms {
		r := find(i)
		groupsByRoot[r] = append(groupsByRoot[r], t)
	}
	out := make([][]string, 0, len(groupsByRoot))
	for _, g := range groupsByRoot {
		out = append(out, g)
	}
	return out, nil
}

func shingles(s string, k int) []string {
	if len(s) < k {
		return []string{s}
	}
	out := make([]string, 0, len(s)-k+1)
	for i := 0; i+k <= len(s); i++ {
		out = append(out, s[i:i+k])
	}
	return out
}

// levenshteinSimilarity returns 1 - (edit distance / longer length), so
// identical strings score 1.0 and completely disjoint strings of equal
// length score 0.0.
func levenshteinSimilarity(a, b string) float64 {
	dist := levenshteinDistance(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(longest)
}

func levenshteinDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

// mergeKeywordGroup folds every term in group into group[0]: their
// frequencies sum, lastSeen takes the max, and the losing terms are
// tombstoned with deleted=true rather than removed outright so any
// Subject still referencing the old spelling keeps a resolvable record.
func (a *Admin) mergeKeywordGroup(ctx context.Context, group []string) error {
	type kw struct {
		term     string
		freq     int64
		score    float64
		lastSeen int64
	}
	loaded := make([]kw, 0, len(group))
	for _, term := range group {
		id, err := a.reg.IDHash(topicanalysis.RecipeKeyword, recipe.Object{"term": term})
		if err != nil {
			return err
		}
		rec, err := a.s.GetCurrent(ctx, id)
		if err != nil {
			continue
		}
		freq, _ := rec.Obj["frequency"].(int64)
		score, _ := rec.Obj["score"].(float64)
		lastSeen, _ := rec.Obj["lastSeen"].(int64)
		loaded = append(loaded, kw{term: term, freq: freq, score: score, lastSeen: lastSeen})
	}
	if len(loaded) < 2 {
		return nil
	}

	survivor := loaded[0]
	var totalFreq, maxSeen int64
	var weightedScore float64
	for _, k := range loaded {
		totalFreq += k.freq
		weightedScore += k.score * float64(k.freq)
		if k.lastSeen > maxSeen {
			maxSeen = k.lastSeen
		}
	}
	mergedScore := 0.0
	if totalFreq > 0 {
		mergedScore = weightedScore / float64(totalFreq)
	}

	if _, err := a.s.PutVersioned(ctx, topicanalysis.RecipeKeyword, recipe.Object{
		"term":      survivor.term,
		"frequency": totalFreq,
		"score":     mergedScore,
		"lastSeen":  maxSeen,
	}); err != nil {
		return err
	}
	for _, k := range loaded[1:] {
		if err := a.deleteKeyword(ctx, k.term); err != nil {
			return err
		}
	}
	return nil
}

func (a *Admin) deleteKeyword(ctx context.Context, term string) error {
	rec, err := a.currentKeyword(ctx, term)
	if err != nil {
		return err
	}
	freq, _ := rec.Obj["frequency"].(int64)
	score, _ := rec.Obj["score"].(float64)
	lastSeen, _ := rec.Obj["lastSeen"].(int64)
	_, err = a.s.PutVersioned(ctx, topicanalysis.RecipeKeyword, recipe.Object{
		"term":      term,
		"frequency": freq,
		"score":     score,
		"lastSeen":  lastSeen,
		"deleted":   true,
	})
	return err
}

func (a *Admin) currentKeyword(ctx context.Context, term string) (*store.Record, error) {
	id, err := a.reg.IDHash(topicanalysis.RecipeKeyword, recipe.Object{"term": term})
	if err != nil {
		return nil, err
	}
	return a.s.GetCurrent(ctx, id)
}
