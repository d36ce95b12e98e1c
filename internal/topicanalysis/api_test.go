package topicanalysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/gokitt/internal/errs"
)

func analyzeWith(t *testing.T, topicID string, result *AnalysisResult, msgText string) (*Pipeline, func()) {
	t.Helper()
	stub := &stubAnalyzer{result: result}
	p, s, log := newTestPipeline(t, stub)
	ctx := context.Background()
	_, err := PostMessage(ctx, s, log, topicID, "", Message{Author: "a", Text: msgText, CreatedAt: 100})
	require.NoError(t, err)
	_, err = p.Analyze(ctx, topicID, false)
	require.NoError(t, err)
	return p, func() {}
}

func TestGetSubjectsReturnsEveryStoredSubject(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough", "yeast"}}},
		Keywords:     []KeywordExtraction{{Term: "dough"}, {Term: "yeast"}},
		SummaryDelta: "baking talk",
	}, "how much yeast?")

	subjects, err := p.GetSubjects(context.Background(), "topic-1")
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "Baking", subjects[0].Name)
	assert.False(t, subjects[0].Archived)
}

func TestGetKeywordsReturnsUnionOfSubjectKeywords(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough", "yeast"}}},
		Keywords:     []KeywordExtraction{{Term: "dough"}, {Term: "yeast"}},
		SummaryDelta: "baking talk",
	}, "how much yeast?")

	kws, err := p.GetKeywords(context.Background(), "topic-1")
	require.NoError(t, err)
	terms := make([]string, 0, len(kws))
	for _, k := range kws {
		terms = append(terms, k.Term)
	}
	assert.ElementsMatch(t, []string{"dough", "yeast"}, terms)
}

func TestGetKeywordsCarriesAnalyzerConfidenceAsScore(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough"}}},
		Keywords:     []KeywordExtraction{{Term: "dough", Confidence: 0.8}},
		SummaryDelta: "baking talk",
	}, "dough talk")

	kws, err := p.GetKeywords(context.Background(), "topic-1")
	require.NoError(t, err)
	require.Len(t, kws, 1)
	assert.Equal(t, 0.8, kws[0].Score)
}

func TestSummarySubjectWeightsSumToOne(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects: []SubjectExtraction{
			{Name: "Children", Keywords: []string{"children", "education"}},
			{Name: "Foreigners", Keywords: []string{"foreigners", "education"}},
		},
		Keywords:     []KeywordExtraction{{Term: "children"}, {Term: "education"}, {Term: "foreigners"}},
		SummaryDelta: "children and foreigners talk",
	}, "children and foreigners talk")

	result, err := p.GetSummary(context.Background(), "topic-1", false)
	require.NoError(t, err)
	require.Len(t, result.Current.SubjectWeights, 2)
	var total float64
	for _, w := range result.Current.SubjectWeights {
		total += w
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestGetSummaryWithoutHistoryOmitsPastVersions(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough"}}},
		Keywords:     []KeywordExtraction{{Term: "dough"}},
		SummaryDelta: "first summary",
	}, "dough talk")
	ctx := context.Background()

	_, err := p.UpdateSummary(ctx, "topic-1", "edited summary", "operator fixup")
	require.NoError(t, err)

	result, err := p.GetSummary(ctx, "topic-1", false)
	require.NoError(t, err)
	assert.Equal(t, "edited summary", result.Current.Content)
	assert.Nil(t, result.History)
}

func TestGetSummaryWithHistoryReturnsFullChain(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough"}}},
		Keywords:     []KeywordExtraction{{Term: "dough"}},
		SummaryDelta: "first summary",
	}, "dough talk")
	ctx := context.Background()

	_, err := p.UpdateSummary(ctx, "topic-1", "edited summary", "operator fixup")
	require.NoError(t, err)

	result, err := p.GetSummary(ctx, "topic-1", true)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(result.History), 2)
}

func TestUpdateSummaryAdvancesVersion(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough"}}},
		Keywords:     []KeywordExtraction{{Term: "dough"}},
		SummaryDelta: "first summary",
	}, "dough talk")
	ctx := context.Background()

	sv, err := p.UpdateSummary(ctx, "topic-1", "second summary", "clarify")
	require.NoError(t, err)
	assert.Equal(t, int64(2), sv.Version)
	assert.Equal(t, "second summary", sv.Content)
}

func TestMergeSubjectsCombinesKeywordsAndMessageCounts(t *testing.T) {
	p, _ := analyzeWith(t, "topic-1", &AnalysisResult{
		Subjects: []SubjectExtraction{
			{Name: "Baking", Keywords: []string{"dough"}},
			{Name: "Bread", Keywords: []string{"flour"}},
		},
		Keywords:     []KeywordExtraction{{Term: "dough"}, {Term: "flour"}},
		SummaryDelta: "baking and bread talk",
	}, "dough and flour talk")
	ctx := context.Background()

	subjects, err := p.GetSubjects(ctx, "topic-1")
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	merged, err := p.MergeSubjects(ctx, "topic-1", subjects[0].IDHash, subjects[1].IDHash, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"dough", "flour"}, merged.Keywords)
	assert.Equal(t, subjects[0].MessageCount+subjects[1].MessageCount, merged.MessageCount)

	after, err := p.GetSubjects(ctx, "topic-1")
	require.NoError(t, err)
	archivedCount := 0
	for _, sv := range after {
		if sv.Archived {
			archivedCount++
		}
	}
	assert.Equal(t, 2, archivedCount, "both originals must be archived after the merge")
}

func TestMergeSubjectsRejectsCrossTopicPair(t *testing.T) {
	stub := &stubAnalyzer{result: &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Baking", Keywords: []string{"dough"}}},
		Keywords:     []KeywordExtraction{{Term: "dough"}},
		SummaryDelta: "baking talk",
	}}
	p, s, log := newTestPipeline(t, stub)
	ctx := context.Background()

	_, err := PostMessage(ctx, s, log, "topic-1", "", Message{Author: "a", Text: "dough talk", CreatedAt: 100})
	require.NoError(t, err)
	_, err = p.Analyze(ctx, "topic-1", false)
	require.NoError(t, err)
	subjectsA, err := p.GetSubjects(ctx, "topic-1")
	require.NoError(t, err)
	require.Len(t, subjectsA, 1)

	stub.result = &AnalysisResult{
		Subjects:     []SubjectExtraction{{Name: "Astronomy", Keywords: []string{"rockets"}}},
		Keywords:     []KeywordExtraction{{Term: "rockets"}},
		SummaryDelta: "astronomy talk",
	}
	_, err = PostMessage(ctx, s, log, "topic-2", "", Message{Author: "a", Text: "rockets talk", CreatedAt: 200})
	require.NoError(t, err)
	_, err = p.Analyze(ctx, "topic-2", false)
	require.NoError(t, err)
	subjectsB, err := p.GetSubjects(ctx, "topic-2")
	require.NoError(t, err)
	require.Len(t, subjectsB, 1)

	_, err = p.MergeSubjects(ctx, "topic-1", subjectsA[0].IDHash, subjectsB[0].IDHash, nil)
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	assert.Equal(t, errs.KindCrossTopicMerge, e.Kind)
}
