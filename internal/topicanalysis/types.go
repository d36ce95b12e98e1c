// Package topicanalysis implements the Topic Analysis Pipeline (C6):
// Keyword, Subject, and Summary extraction from a topic's message
// history via an injected Analyzer, with idempotent re-derivation and
// per-topic trigger coalescing.
package topicanalysis

import (
	"time"

	"github.com/kittclouds/gokitt/internal/recipe"
)

// Message is the minimal view of a channel Entry's payload the pipeline
// needs; callers resolve Entry.DataHash into one of these before calling
// Analyze.
type Message struct {
	Author    string
	Text      string
	CreatedAt int64
}

// KeywordExtraction is one term surfaced by the external analyzer.
type KeywordExtraction struct {
	Term       string
	Confidence float64
}

// SubjectExtraction is one keyword combination surfaced by the external
// analyzer.
type SubjectExtraction struct {
	Name     string
	Keywords []string
	IsNew    bool
}

// AnalysisResult is the contract's output shape: analyze(messages,
// currentSubjects, existingKeywords) -> AnalysisResult.
type AnalysisResult struct {
	Keywords     []KeywordExtraction `json:"keywords"`
	Subjects     []SubjectExtraction `json:"subjects"`
	SummaryDelta string              `json:"summaryDelta"`
}

// MergeProposal flags two subjects in the same topic whose keyword sets
// are similar enough (Jaccard ≥ 0.8) to be candidates for a human- or
// caller-driven merge; the pipeline never merges automatically.
type MergeProposal struct {
	TopicID   string
	SubjectA  string
	SubjectB  string
	Jaccard   float64
}

// AnalysisSummary is the result of one Analyze call.
type AnalysisSummary struct {
	TopicID         string
	KeywordsTouched int
	Subjects        []SubjectView
	Summary         SummaryView
	MergeProposals  []MergeProposal
	Unchanged       bool // true when re-derivation produced no new summary version
}

type SubjectView struct {
	IDHash       string
	Name         string
	Keywords     []string
	MessageCount int64
	Timestamp    int64
	Archived     bool
}

type SummaryView struct {
	IDHash          string
	VersionHash     string
	Version         int64
	Content         string
	Subjects        []string
	SubjectWeights  []float64
	PreviousVersion string
}

const (
	// RecipeKeyword, RecipeSubject, RecipeSummary are the registry names
	// used for every C6 object.
	RecipeKeyword = "Keyword"
	RecipeSubject = "Subject"
	RecipeSummary = "Summary"

	defaultTriggerN       = 5
	analysisTimeout       = 30 * time.Second
	summaryMaxVersions    = 10
	summaryRetentionDays  = 30
	mergeSimilarThreshold = 0.8
	keywordCleanupMinFreq = 2
	keywordCleanupAge     = 7 * 24 * time.Hour
	keywordCleanupSeen    = 30 * 24 * time.Hour
	subjectArchiveAfter   = 30 * 24 * time.Hour
	subjectDeleteAfter    = 60 * 24 * time.Hour
)

// Exported mirrors of the cleanup thresholds above, for the maintenance
// sweep (C10) to reuse rather than redeclare.
const (
	KeywordCleanupMinFreq = keywordCleanupMinFreq
	KeywordCleanupAge     = keywordCleanupAge
	KeywordCleanupSeen    = keywordCleanupSeen
	SubjectArchiveAfter   = subjectArchiveAfter
	SubjectDeleteAfter    = subjectDeleteAfter
)

// RegisterRecipes installs the Keyword/Subject/Summary schemas into reg.
// Called once at daemon startup before any analysis runs.
func RegisterRecipes(reg *recipe.Registry) error {
	if err := reg.Register(&recipe.Recipe{
		Name: RecipeKeyword,
		Rule: []recipe.FieldRule{
			{Name: "term", Type: recipe.TypeString, IsID: true},
			{Name: "frequency", Type: recipe.TypeInt},
			{Name: "score", Type: recipe.TypeFloat, Optional: true},
			{Name: "lastSeen", Type: recipe.TypeInt},
			{Name: "deleted", Type: recipe.TypeBool, Optional: true},
			{Name: "previousVersion", Type: recipe.TypeRef, Optional: true, RefType: RecipeKeyword},
		},
	}); err != nil {
		return err
	}

	if err := reg.Register(&recipe.Recipe{
		Name: RecipeSubject,
		Rule: []recipe.FieldRule{
			{Name: "topicId", Type: recipe.TypeString, IsID: true},
			{Name: "keywordSetHash", Type: recipe.TypeString, IsID: true},
			{Name: "name", Type: recipe.TypeString},
			{Name: "keywords", Type: recipe.TypeSet, Elem: recipe.TypeString},
			{Name: "messageCount", Type: recipe.TypeInt},
			{Name: "timestamp", Type: recipe.TypeInt},
			{Name: "archived", Type: recipe.TypeBool, Optional: true},
			{Name: "previousVersion", Type: recipe.TypeRef, Optional: true, RefType: RecipeSubject},
		},
	}); err != nil {
		return err
	}

	return reg.Register(&recipe.Recipe{
		Name: RecipeSummary,
		Rule: []recipe.FieldRule{
			{Name: "topicId", Type: recipe.TypeString, IsID: true},
			{Name: "version", Type: recipe.TypeInt},
			{Name: "content", Type: recipe.TypeString},
			{Name: "subjects", Type: recipe.TypeArray, Elem: recipe.TypeString},
			{Name: "subjectWeights", Type: recipe.TypeArray, Elem: recipe.TypeFloat},
			{Name: "changeReason", Type: recipe.TypeString, Optional: true},
			{Name: "previousVersion", Type: recipe.TypeRef, Optional: true, RefType: RecipeSummary},
		},
	})
}
