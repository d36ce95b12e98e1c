package topicanalysis

import (
	"context"
	"sort"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/normalize"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

// KeywordView is the read-facing shape of a Keyword, independent of the
// hash-reference layout the version chain uses on disk.
type KeywordView struct {
	Term      string
	Frequency int64
	Score     float64
	LastSeen  int64
	Deleted   bool
}

// GetSubjects returns every Subject recorded for topicID, including
// archived ones -- callers that only want the active set filter on
// SubjectView.Archived themselves, same as get_subjects(topicId) leaves
// filtering to the caller in §6.
func (p *Pipeline) GetSubjects(ctx context.Context, topicID string) ([]SubjectView, error) {
	return p.loadSubjects(ctx, topicID)
}

// GetKeywords returns the Keyword records referenced by topicID's current
// Subject set -- Keyword itself is a global singleton (§3), so "the
// keywords of a topic" means the union of its subjects' keyword sets.
func (p *Pipeline) GetKeywords(ctx context.Context, topicID string) ([]KeywordView, error) {
	subjects, err := p.loadSubjects(ctx, topicID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var terms []string
	for _, sv := range subjects {
		for _, k := range sv.Keywords {
			if !seen[k] {
				seen[k] = true
				terms = append(terms, k)
			}
		}
	}
	sort.Strings(terms)

	out := make([]KeywordView, 0, len(terms))
	for _, term := range terms {
		id, err := p.reg.IDHash(RecipeKeyword, recipe.Object{"term": term})
		if err != nil {
			return nil, err
		}
		rec, err := p.s.GetCurrent(ctx, id)
		if err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, err
		}
		freq, _ := rec.Obj["frequency"].(int64)
		score, _ := rec.Obj["score"].(float64)
		lastSeen, _ := rec.Obj["lastSeen"].(int64)
		deleted, _ := rec.Obj["deleted"].(bool)
		out = append(out, KeywordView{Term: term, Frequency: freq, Score: score, LastSeen: lastSeen, Deleted: deleted})
	}
	return out, nil
}

// SummaryWithHistory is the result of get_summary(topicId, includeHistory?).
type SummaryWithHistory struct {
	Current SummaryView
	History []SummaryView // only populated when requested
}

// GetSummary returns the current Summary for topicID, optionally along
// with its full retained version history (oldest first).
func (p *Pipeline) GetSummary(ctx context.Context, topicID string, includeHistory bool) (*SummaryWithHistory, error) {
	id, err := p.reg.IDHash(RecipeSummary, recipe.Object{"topicId": topicID})
	if err != nil {
		return nil, err
	}
	cur, err := p.getSummary(ctx, topicID)
	if err != nil {
		return nil, err
	}
	out := &SummaryWithHistory{Current: cur}
	if includeHistory {
		recs, err := p.s.History(ctx, id)
		if err != nil {
			return nil, err
		}
		out.History = make([]SummaryView, 0, len(recs))
		for _, rec := range recs {
			out.History = append(out.History, recordToSummaryView(store.Hash(id).String(), rec))
		}
	}
	return out, nil
}

// UpdateSummary writes an explicit, caller-authored Summary version --
// distinct from the pipeline's own analysis-driven upsertSummary in that
// it always advances the chain (each write carries version = prior+1, so
// it never matches the current version) rather than deciding whether
// analysis produced a delta.
func (p *Pipeline) UpdateSummary(ctx context.Context, topicID, content, reason string) (SummaryView, error) {
	id, err := p.reg.IDHash(RecipeSummary, recipe.Object{"topicId": topicID})
	if err != nil {
		return SummaryView{}, err
	}
	var priorVersion int64
	var priorSubjects []string
	var priorWeights []float64
	if cur, err := p.s.GetCurrent(ctx, id); err == nil {
		priorVersion, _ = cur.Obj["version"].(int64)
		if ss, ok := cur.Obj["subjects"].([]string); ok {
			priorSubjects = ss
		}
		if ws, ok := cur.Obj["subjectWeights"].([]float64); ok {
			priorWeights = ws
		}
	} else if !isNotFound(err) {
		return SummaryView{}, err
	}

	res, err := p.s.PutVersioned(ctx, RecipeSummary, recipe.Object{
		"topicId":        topicID,
		"version":        priorVersion + 1,
		"content":        content,
		"subjects":       priorSubjects,
		"subjectWeights": priorWeights,
		"changeReason":   reason,
	})
	if err != nil {
		return SummaryView{}, err
	}
	if err := p.pruneSummaryVersions(ctx, id); err != nil {
		p.slog.Warn("topicanalysis: summary pruning failed", "topic", topicID, "cause", err)
	}
	version := priorVersion + 1
	if res.Unchanged {
		version = priorVersion
	}
	return SummaryView{
		IDHash:      store.Hash(id).String(),
		VersionHash: res.VersionHash.String(),
		Version:     version,
		Content:     content,
		Subjects:    priorSubjects,
	}, nil
}

// MergeSubjects implements the explicit merge(S1, S2, newKeywords?)
// operation (§4.6): both subjects must belong to topicID, the merged
// Subject sums messageCount and unions keywords (unless newKeywords
// overrides the set), and the originals are archived rather than deleted.
func (p *Pipeline) MergeSubjects(ctx context.Context, topicID, s1IDHash, s2IDHash string, newKeywords []string) (SubjectView, error) {
	s1, err := p.loadSubjectByIDHash(ctx, s1IDHash)
	if err != nil {
		return SubjectView{}, err
	}
	s2, err := p.loadSubjectByIDHash(ctx, s2IDHash)
	if err != nil {
		return SubjectView{}, err
	}
	if s1.topicID != topicID || s2.topicID != topicID {
		return SubjectView{}, errs.CrossTopicMerge(s1IDHash, s2IDHash)
	}
	if s1.topicID != s2.topicID {
		return SubjectView{}, errs.CrossTopicMerge(s1IDHash, s2IDHash)
	}

	var mergedKeywords []string
	if len(newKeywords) > 0 {
		for _, k := range newKeywords {
			if ck := normalize.CanonicalizeForMatch(k); ck != "" {
				mergedKeywords = append(mergedKeywords, ck)
			}
		}
	} else {
		mergedKeywords = unionStrings(s1.view.Keywords, s2.view.Keywords)
	}
	sort.Strings(mergedKeywords)

	if err := p.archiveSubject(ctx, s1); err != nil {
		return SubjectView{}, err
	}
	if err := p.archiveSubject(ctx, s2); err != nil {
		return SubjectView{}, err
	}

	name := s1.view.Name
	if name == "" {
		name = s2.view.Name
	}
	timestamp := s1.view.Timestamp
	if s2.view.Timestamp > timestamp {
		timestamp = s2.view.Timestamp
	}
	messageCount := s1.view.MessageCount + s2.view.MessageCount
	setHash := keywordSetHash(mergedKeywords)

	res, err := p.s.PutVersioned(ctx, RecipeSubject, recipe.Object{
		"topicId":        topicID,
		"keywordSetHash": setHash,
		"name":           name,
		"keywords":       mergedKeywords,
		"messageCount":   messageCount,
		"timestamp":      timestamp,
	})
	if err != nil {
		return SubjectView{}, err
	}
	return SubjectView{
		IDHash:       res.IDHash.String(),
		Name:         name,
		Keywords:     mergedKeywords,
		MessageCount: messageCount,
		Timestamp:    timestamp,
	}, nil
}

type loadedSubject struct {
	topicID        string
	keywordSetHash string
	view           SubjectView
}

func (p *Pipeline) loadSubjectByIDHash(ctx context.Context, idHex string) (loadedSubject, error) {
	id, err := store.HashFromHex(idHex)
	if err != nil {
		return loadedSubject{}, errs.Validation("idHash", "malformed subject id hash")
	}
	rec, err := p.s.GetCurrent(ctx, id)
	if err != nil {
		return loadedSubject{}, err
	}
	topicID, _ := rec.Obj["topicId"].(string)
	setHash, _ := rec.Obj["keywordSetHash"].(string)
	name, _ := rec.Obj["name"].(string)
	count, _ := rec.Obj["messageCount"].(int64)
	ts, _ := rec.Obj["timestamp"].(int64)
	archived, _ := rec.Obj["archived"].(bool)
	var keywords []string
	if ks, ok := rec.Obj["keywords"].([]string); ok {
		keywords = ks
	}
	return loadedSubject{
		topicID:        topicID,
		keywordSetHash: setHash,
		view: SubjectView{
			IDHash:       idHex,
			Name:         name,
			Keywords:     keywords,
			MessageCount: count,
			Timestamp:    ts,
			Archived:     archived,
		},
	}, nil
}

// archiveSubject re-versions a Subject with archived=true, preserving its
// identity fields (topicId, keywordSetHash) so the chain is a continuation
// of the same logical entity, not a new one.
func (p *Pipeline) archiveSubject(ctx context.Context, s loadedSubject) error {
	_, err := p.s.PutVersioned(ctx, RecipeSubject, recipe.Object{
		"topicId":        s.topicID,
		"keywordSetHash": s.keywordSetHash,
		"name":           s.view.Name,
		"keywords":       s.view.Keywords,
		"messageCount":   s.view.MessageCount,
		"timestamp":      s.view.Timestamp,
		"archived":       true,
	})
	return err
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
