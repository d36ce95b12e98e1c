package topicanalysis

import "context"

// Analyzer is the pluggable external reasoning step: given the message
// window since the last analysis together with the topic's current
// subjects and known keyword vocabulary, it proposes keyword/subject
// updates and an optional summary delta. The pipeline treats every
// implementation identically, whether it calls out to a hosted model or
// runs a local heuristic -- the contract is pure input/output with no
// side effects of its own.
type Analyzer interface {
	Analyze(ctx context.Context, messages []Message, currentSubjects []string, existingKeywords []string) (*AnalysisResult, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, messages []Message, currentSubjects []string, existingKeywords []string) (*AnalysisResult, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, messages []Message, currentSubjects []string, existingKeywords []string) (*AnalysisResult, error) {
	return f(ctx, messages, currentSubjects, existingKeywords)
}
