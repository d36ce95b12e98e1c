package topicanalysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/gokitt/internal/channel"
	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

func newTestPipeline(t *testing.T, analyzer Analyzer) (*Pipeline, *store.Store, *channel.Log) {
	t.Helper()
	reg := recipe.NewRegistry()
	require.NoError(t, RegisterRecipes(reg))
	require.NoError(t, RegisterMessageRecipe(reg))

	s, err := store.New(":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	log := channel.New(s)
	p, err := NewPipeline(s, reg, log, analyzer, nil)
	require.NoError(t, err)
	return p, s, log
}

type stubAnalyzer struct {
	calls   int
	result  *AnalysisResult
	lastMsg []Message
}

func (a *stubAnalyzer) Analyze(ctx context.Context, messages []Message, currentSubjects []string, existingKeywords []string) (*AnalysisResult, error) {
	a.calls++
	a.lastMsg = messages
	return a.result, nil
}

func TestAnalyzeWithNoMessagesReturnsNoSubjects(t *testing.T) {
	p, _, _ := newTestPipeline(t, &stubAnalyzer{result: &AnalysisResult{}})
	_, err := p.Analyze(context.Background(), "topic-1", false)
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	assert.Equal(t, errs.KindNoSubjects, e.Kind)
}

func TestAnalyzeUpsertsKeywordsSubjectsAndSummary(t *testing.T) {
	stub := &stubAnalyzer{result: &AnalysisResult{
		Keywords: []KeywordExtraction{{Term: "Pizza Dough", Confidence: 0.9}},
		Subjects: []SubjectExtraction{{Name: "Baking", Keywords: []string{"pizza dough", "yeast"}}},
		SummaryDelta: "Discussed pizza dough basics.",
	}}
	p, s, log := newTestPipeline(t, stub)
	ctx := context.Background()

	_, err := PostMessage(ctx, s, log, "topic-1", "", Message{Author: "a", Text: "how much yeast?", CreatedAt: 100})
	require.NoError(t, err)

	summary, err := p.Analyze(ctx, "topic-1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)
	assert.False(t, summary.Unchanged)
	require.Len(t, summary.Subjects, 1)
	assert.Equal(t, "Baking", summary.Subjects[0].Name)
	assert.Equal(t, int64(1), summary.Summary.Version)
	assert.Contains(t, summary.Summary.Content, "pizza dough")

	kws, err := p.loadKeywordTerms(ctx)
	require.NoError(t, err)
	assert.Contains(t, kws, "pizza dough")
}

func TestAnalyzeSecondCallWithNoNewMessagesSkipsAnalyzer(t *testing.T) {
	stub := &stubAnalyzer{result: &AnalysisResult{
		Keywords:     []KeywordExtraction{{Term: "dough"}},
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough"}}},
		SummaryDelta: "x",
	}}
	p, s, log := newTestPipeline(t, stub)
	ctx := context.Background()

	_, err := PostMessage(ctx, s, log, "topic-2", "", Message{Author: "a", Text: "dough talk", CreatedAt: 1})
	require.NoError(t, err)

	_, err = p.Analyze(ctx, "topic-2", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls)

	summary, err := p.Analyze(ctx, "topic-2", false)
	require.NoError(t, err)
	assert.Equal(t, 1, stub.calls, "analyzer must not be called again with no new messages")
	assert.True(t, summary.Unchanged)
}

func TestAnalyzeForceRerunOverUnchangedRangeDoesNotAdvanceSummaryVersion(t *testing.T) {
	stub := &stubAnalyzer{result: &AnalysisResult{
		SummaryDelta: "same delta every time",
	}}
	p, s, log := newTestPipeline(t, stub)
	ctx := context.Background()

	_, err := PostMessage(ctx, s, log, "topic-3", "", Message{Author: "a", Text: "m1", CreatedAt: 1})
	require.NoError(t, err)
	first, err := p.Analyze(ctx, "topic-3", false)
	require.NoError(t, err)
	require.Equal(t, int64(1), first.Summary.Version)
	require.Equal(t, 1, stub.calls)

	second, err := p.Analyze(ctx, "topic-3", true)
	require.NoError(t, err)
	assert.True(t, second.Unchanged, "re-running over the same message range must not increment the summary version")
	assert.Equal(t, first.Summary.Version, second.Summary.Version)
	assert.Equal(t, 1, stub.calls, "the analyzer must not be invoked again with no new messages, force or not")
}

func TestDetectMergeCandidatesFlagsSimilarSubjects(t *testing.T) {
	subjects := []SubjectView{
		{Name: "A", Keywords: []string{"pizza", "dough", "yeast", "flour"}},
		{Name: "B", Keywords: []string{"pizza", "dough", "yeast", "flour", "salt"}},
		{Name: "C", Keywords: []string{"rockets", "orbit"}},
	}
	proposals := detectMergeCandidates("topic-4", subjects)
	require.Len(t, proposals, 1)
	assert.ElementsMatch(t, []string{"A", "B"}, []string{proposals[0].SubjectA, proposals[0].SubjectB})
}
