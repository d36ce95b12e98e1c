package topicanalysis

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kittclouds/gokitt/internal/errs"
)

// ParseAnalysisResult parses raw analyzer output into an AnalysisResult.
// Analyzer implementations are free to call this from their own Analyze
// method; it tolerates markdown code fences and falls back to regex
// repair of individual keyword/subject objects when the payload isn't
// valid JSON as a whole, the way a raw model response often isn't.
func ParseAnalysisResult(raw string) (*AnalysisResult, error) {
	cleaned := stripCodeFence(strings.TrimSpace(raw))
	if cleaned == "" {
		return &AnalysisResult{}, nil
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return filterAnalysisResult(&result), nil
	}

	keywords := repairKeywords(cleaned)
	subjects := repairSubjects(cleaned)
	if len(keywords) == 0 && len(subjects) == 0 {
		return nil, errs.AnalysisFailed(errors.New("analysis: failed to parse analyzer response"))
	}
	return &AnalysisResult{Keywords: keywords, Subjects: subjects}, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func filterAnalysisResult(r *AnalysisResult) *AnalysisResult {
	out := &AnalysisResult{
		Keywords:     make([]KeywordExtraction, 0, len(r.Keywords)),
		Subjects:     make([]SubjectExtraction, 0, len(r.Subjects)),
		SummaryDelta: strings.TrimSpace(r.SummaryDelta),
	}
	for _, k := range r.Keywords {
		k.Term = strings.TrimSpace(k.Term)
		if k.Term == "" {
			continue
		}
		if k.Confidence <= 0 {
			k.Confidence = 0.8
		}
		out.Keywords = append(out.Keywords, k)
	}
	for _, s := range r.Subjects {
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" || len(s.Keywords) == 0 {
			continue
		}
		cleaned := make([]string, 0, len(s.Keywords))
		for _, kw := range s.Keywords {
			kw = strings.TrimSpace(kw)
			if kw != "" {
				cleaned = append(cleaned, kw)
			}
		}
		if len(cleaned) == 0 {
			continue
		}
		s.Keywords = cleaned
		out.Subjects = append(out.Subjects, s)
	}
	return out
}

var (
	keywordPattern = regexp.MustCompile(
		`\{\s*"term"\s*:\s*"[^"]+"\s*(?:,\s*"confidence"\s*:\s*[\d.]+)?\s*\}`,
	)
	subjectPattern = regexp.MustCompile(
		`\{\s*"name"\s*:\s*"[^"]+"\s*,\s*"keywords"\s*:\s*\[[^\]]*\]\s*(?:,\s*"isNew"\s*:\s*(?:true|false))?\s*\}`,
	)
)

func repairKeywords(raw string) []KeywordExtraction {
	matches := keywordPattern.FindAllString(raw, -1)
	out := make([]KeywordExtraction, 0, len(matches))
	for _, m := range matches {
		var k KeywordExtraction
		if err := json.Unmarshal([]byte(m), &k); err != nil {
			continue
		}
		k.Term = strings.TrimSpace(k.Term)
		if k.Term == "" {
			continue
		}
		if k.Confidence <= 0 {
			k.Confidence = 0.8
		}
		out = append(out, k)
	}
	return out
}

func repairSubjects(raw string) []SubjectExtraction {
	matches := subjectPattern.FindAllString(raw, -1)
	out := make([]SubjectExtraction, 0, len(matches))
	for _, m := range matches {
		var s SubjectExtraction
		if err := json.Unmarshal([]byte(m), &s); err != nil {
			continue
		}
		s.Name = strings.TrimSpace(s.Name)
		if s.Name == "" || len(s.Keywords) == 0 {
			continue
		}
		out = append(out, s)
	}
	return out
}
