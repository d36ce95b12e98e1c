package topicanalysis

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/kittclouds/gokitt/internal/channel"
	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/jaccard"
	"github.com/kittclouds/gokitt/internal/normalize"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

// Pipeline drives the topic analysis algorithm: collect new messages,
// call an Analyzer, and fold the result into Keyword/Subject/Summary
// version chains. One Pipeline is shared by every topic in a daemon;
// per-topic concurrency is coalesced with a singleflight.Group so a burst
// of triggers for the same topic runs analysis once.
type Pipeline struct {
	s        *store.Store
	db       *sql.DB
	reg      *recipe.Registry
	log      *channel.Log
	analyzer Analyzer
	slog     *slog.Logger
	triggerN int

	sf singleflight.Group
}

// NewPipeline wires a Pipeline over a shared store and channel log. It
// ensures its own cursor table exists on the store's connection. reg must
// be the same registry s was opened with -- RegisterRecipes and
// RegisterMessageRecipe must already have been called on it.
func NewPipeline(s *store.Store, reg *recipe.Registry, log *channel.Log, analyzer Analyzer, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := s.DB().Exec(cursorSchema); err != nil {
		return nil, errs.ComputationError(err)
	}
	return &Pipeline{
		s:        s,
		db:       s.DB(),
		reg:      reg,
		log:      log,
		analyzer: analyzer,
		slog:     logger,
		triggerN: defaultTriggerN,
	}, nil
}

// Analyze runs the analysis algorithm for topicID. Concurrent calls for
// the same topic share one in-flight execution and its result via
// singleflight -- a burst of triggers collapses into a single run whose
// result every caller observes. force distinguishes an explicit,
// caller-requested re-derivation from the automatic every-triggerN-
// messages cadence (see ShouldTrigger/NotePendingMessage); it never
// causes Analyze to invent a message window that doesn't exist, so when
// there are no new messages since the last successful run Analyze always
// returns the current state unchanged without calling the analyzer,
// force or not.
func (p *Pipeline) Analyze(ctx context.Context, topicID string, force bool) (*AnalysisSummary, error) {
	v, err, _ := p.sf.Do(topicID, func() (any, error) {
		return p.analyzeLocked(ctx, topicID, force)
	})
	if err != nil {
		return nil, err
	}
	return v.(*AnalysisSummary), nil
}

func (p *Pipeline) analyzeLocked(ctx context.Context, topicID string, force bool) (*AnalysisSummary, error) {
	entries, err := p.log.MultiIter(ctx, topicID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errs.NoSubjects(topicID)
	}

	c, err := p.getCursor(ctx, topicID)
	if err != nil {
		return nil, err
	}

	// entries is sorted creationTime desc; take the prefix newer than the
	// cursor, then reverse it to chronological order for the analyzer.
	var fresh []channel.Entry
	for _, e := range entries {
		if e.CreationTime <= c.lastAnalyzedAt {
			break
		}
		fresh = append(fresh, e)
	}
	for i, j := 0, len(fresh)-1; i < j; i, j = i+1, j-1 {
		fresh[i], fresh[j] = fresh[j], fresh[i]
	}

	existingSubjects, err := p.loadSubjects(ctx, topicID)
	if err != nil {
		return nil, err
	}

	// Re-running over an unchanged message range never produces a new
	// Summary version (§4.8) -- force only skips waiting for triggerN new
	// messages, it does not manufacture a window to analyze when there is
	// none.
	if len(fresh) == 0 {
		return p.summaryView(ctx, topicID, existingSubjects, true)
	}

	messages := LoadMessages(ctx, p.s, fresh)
	existingKeywords, err := p.loadKeywordTerms(ctx)
	if err != nil {
		return nil, err
	}
	subjectNames := make([]string, 0, len(existingSubjects))
	for _, sv := range existingSubjects {
		subjectNames = append(subjectNames, sv.Name)
	}

	actx, cancel := context.WithTimeout(ctx, analysisTimeout)
	defer cancel()
	result, err := p.analyzer.Analyze(actx, messages, subjectNames, existingKeywords)
	if err != nil {
		return nil, errs.AnalysisFailed(err)
	}

	lastMsgTime := c.lastAnalyzedAt
	for _, m := range messages {
		if m.CreatedAt > lastMsgTime {
			lastMsgTime = m.CreatedAt
		}
	}

	if err := p.upsertKeywords(ctx, result.Keywords, lastMsgTime); err != nil {
		return nil, err
	}
	newSubjects, err := p.upsertSubjects(ctx, topicID, result.Subjects, lastMsgTime)
	if err != nil {
		return nil, err
	}

	allSubjects := mergeSubjectViews(existingSubjects, newSubjects)
	mergeProposals := detectMergeCandidates(topicID, allSubjects)

	summaryChanged := len(result.Keywords) > 0 || len(result.Subjects) > 0 || result.SummaryDelta != ""
	summary, unchanged, err := p.upsertSummary(ctx, topicID, result.SummaryDelta, allSubjects, summaryChanged)
	if err != nil {
		return nil, err
	}

	c.lastAnalyzedAt = lastMsgTime
	c.pendingCount = 0
	if err := p.saveCursor(ctx, c); err != nil {
		return nil, err
	}

	return &AnalysisSummary{
		TopicID:         topicID,
		KeywordsTouched: len(result.Keywords),
		Subjects:        allSubjects,
		Summary:         summary,
		MergeProposals:  mergeProposals,
		Unchanged:       unchanged,
	}, nil
}

func (p *Pipeline) summaryView(ctx context.Context, topicID string, subjects []SubjectView, unchanged bool) (*AnalysisSummary, error) {
	sv, err := p.getSummary(ctx, topicID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return &AnalysisSummary{
		TopicID:   topicID,
		Subjects:  subjects,
		Summary:   sv,
		Unchanged: unchanged,
	}, nil
}

func isNotFound(err error) bool {
	e, ok := err.(*errs.E)
	return ok && e.Kind == errs.KindNotFound
}

func (p *Pipeline) upsertKeywords(ctx context.Context, kws []KeywordExtraction, seenAt int64) error {
	g, gctx := errgroup.WithContext(ctx)
	limit := runtime.NumCPU()
	if limit > 4 {
		limit = 4
	}
	g.SetLimit(limit)
	for _, kw := range kws {
		kw := kw
		g.Go(func() error {
			return p.upsertKeyword(gctx, kw.Term, kw.Confidence, seenAt)
		})
	}
	return g.Wait()
}

// upsertKeyword maintains score as a running mean of the analyzer's
// per-sighting confidence, weighted by prior frequency so one noisy
// extraction can't swing a term's long-run score.
func (p *Pipeline) upsertKeyword(ctx context.Context, term string, confidence float64, seenAt int64) error {
	canonTerm := normalize.CanonicalizeForMatch(term)
	if canonTerm == "" {
		return nil
	}
	id, err := p.reg.IDHash(RecipeKeyword, recipe.Object{"term": canonTerm})
	if err != nil {
		return err
	}
	var freq int64 = 1
	var score float64 = confidence
	if cur, err := p.s.GetCurrent(ctx, id); err == nil {
		priorFreq, _ := cur.Obj["frequency"].(int64)
		priorScore, _ := cur.Obj["score"].(float64)
		freq = priorFreq + 1
		score = (priorScore*float64(priorFreq) + confidence) / float64(freq)
	} else if !isNotFound(err) {
		return err
	}
	_, err = p.s.PutVersioned(ctx, RecipeKeyword, recipe.Object{
		"term":      canonTerm,
		"frequency": freq,
		"score":     score,
		"lastSeen":  seenAt,
	})
	return err
}

func (p *Pipeline) loadKeywordTerms(ctx context.Context) ([]string, error) {
	recs, err := p.s.IterByType(ctx, RecipeKeyword)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if t, ok := r.Obj["term"].(string); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func keywordSetHash(keywords []string) string {
	sorted := append([]string(nil), keywords...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}

func (p *Pipeline) upsertSubjects(ctx context.Context, topicID string, subs []SubjectExtraction, seenAt int64) ([]SubjectView, error) {
	out := make([]SubjectView, 0, len(subs))
	for _, sub := range subs {
		canonKeywords := make([]string, 0, len(sub.Keywords))
		for _, k := range sub.Keywords {
			if ck := normalize.CanonicalizeForMatch(k); ck != "" {
				canonKeywords = append(canonKeywords, ck)
			}
		}
		setHash := keywordSetHash(canonKeywords)
		obj := recipe.Object{
			"topicId":        topicID,
			"keywordSetHash": setHash,
		}
		id, err := p.reg.IDHash(RecipeSubject, obj)
		if err != nil {
			return nil, err
		}
		var count int64 = 1
		if cur, err := p.s.GetCurrent(ctx, id); err == nil {
			if n, ok := cur.Obj["messageCount"].(int64); ok {
				count = n + 1
			}
		} else if !isNotFound(err) {
			return nil, err
		}
		res, err := p.s.PutVersioned(ctx, RecipeSubject, recipe.Object{
			"topicId":        topicID,
			"keywordSetHash": setHash,
			"name":           sub.Name,
			"keywords":       canonKeywords,
			"messageCount":   count,
			"timestamp":      seenAt,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, SubjectView{
			IDHash:       res.IDHash.String(),
			Name:         sub.Name,
			Keywords:     canonKeywords,
			MessageCount: count,
			Timestamp:    seenAt,
		})
	}
	return out, nil
}

func mergeSubjectViews(existing, fresh []SubjectView) []SubjectView {
	byID := make(map[string]SubjectView, len(existing)+len(fresh))
	order := make([]string, 0, len(existing)+len(fresh))
	for _, sv := range existing {
		byID[sv.IDHash] = sv
		order = append(order, sv.IDHash)
	}
	for _, sv := range fresh {
		if _, ok := byID[sv.IDHash]; !ok {
			order = append(order, sv.IDHash)
		}
		byID[sv.IDHash] = sv
	}
	out := make([]SubjectView, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func (p *Pipeline) loadSubjects(ctx context.Context, topicID string) ([]SubjectView, error) {
	recs, err := p.s.IterByType(ctx, RecipeSubject)
	if err != nil {
		return nil, err
	}
	var out []SubjectView
	for _, r := range recs {
		tid, _ := r.Obj["topicId"].(string)
		if tid != topicID {
			continue
		}
		archived, _ := r.Obj["archived"].(bool)
		name, _ := r.Obj["name"].(string)
		count, _ := r.Obj["messageCount"].(int64)
		ts, _ := r.Obj["timestamp"].(int64)
		var keywords []string
		if ks, ok := r.Obj["keywords"].([]string); ok {
			keywords = ks
		}
		id, err := p.reg.IDHash(RecipeSubject, recipe.Object{
			"topicId":        tid,
			"keywordSetHash": r.Obj["keywordSetHash"],
		})
		if err != nil {
			continue
		}
		if cur, err := p.s.GetCurrent(ctx, id); err != nil || cur.Hash != r.Hash {
			continue
		}
		out = append(out, SubjectView{
			IDHash:       store.Hash(id).String(),
			Name:         name,
			Keywords:     keywords,
			MessageCount: count,
			Timestamp:    ts,
			Archived:     archived,
		})
	}
	return out, nil
}

// detectMergeCandidates flags subject pairs in the same topic whose
// keyword sets are similar enough to merge (§4.6); it never merges them.
func detectMergeCandidates(topicID string, subjects []SubjectView) []MergeProposal {
	var out []MergeProposal
	for i := 0; i < len(subjects); i++ {
		if subjects[i].Archived {
			continue
		}
		for j := i + 1; j < len(subjects); j++ {
			if subjects[j].Archived {
				continue
			}
			j2 := jaccard.Similarity(subjects[i].Keywords, subjects[j].Keywords)
			if j2 >= mergeSimilarThreshold {
				out = append(out, MergeProposal{
					TopicID:  topicID,
					SubjectA: subjects[i].Name,
					SubjectB: subjects[j].Name,
					Jaccard:  j2,
				})
			}
		}
	}
	return out
}

func (p *Pipeline) getSummary(ctx context.Context, topicID string) (SummaryView, error) {
	id, err := p.reg.IDHash(RecipeSummary, recipe.Object{"topicId": topicID})
	if err != nil {
		return SummaryView{}, err
	}
	rec, err := p.s.GetCurrent(ctx, id)
	if err != nil {
		return SummaryView{}, err
	}
	return recordToSummaryView(store.Hash(id).String(), rec), nil
}

func recordToSummaryView(idHash string, rec *store.Record) SummaryView {
	content, _ := rec.Obj["content"].(string)
	version, _ := rec.Obj["version"].(int64)
	var subjects []string
	if ss, ok := rec.Obj["subjects"].([]string); ok {
		subjects = ss
	}
	var weights []float64
	if ws, ok := rec.Obj["subjectWeights"].([]float64); ok {
		weights = ws
	}
	return SummaryView{
		IDHash:         idHash,
		VersionHash:    rec.Hash.String(),
		Version:        version,
		Content:        content,
		Subjects:       subjects,
		SubjectWeights: weights,
	}
}

// upsertSummary implements §4.8's decided semantics: re-deriving over the
// same message range never advances the version. That guarantee comes
// from Analyze returning early when there are no new messages and from
// changed=false skipping the write entirely; a write that does happen
// carries version = prior+1 and so always creates a new version.
func (p *Pipeline) upsertSummary(ctx context.Context, topicID, delta string, subjects []SubjectView, changed bool) (SummaryView, bool, error) {
	id, err := p.reg.IDHash(RecipeSummary, recipe.Object{"topicId": topicID})
	if err != nil {
		return SummaryView{}, false, err
	}
	var priorContent string
	var priorVersion int64
	if cur, err := p.s.GetCurrent(ctx, id); err == nil {
		priorContent, _ = cur.Obj["content"].(string)
		priorVersion, _ = cur.Obj["version"].(int64)
	} else if !isNotFound(err) {
		return SummaryView{}, false, err
	}

	if !changed {
		sv, err := p.getSummary(ctx, topicID)
		if err != nil && !isNotFound(err) {
			return SummaryView{}, false, err
		}
		return sv, true, nil
	}

	content := priorContent
	if delta != "" {
		if content != "" {
			content = content + "\n" + delta
		} else {
			content = delta
		}
	}
	names, weights := subjectNamesAndWeights(subjects)

	res, err := p.s.PutVersioned(ctx, RecipeSummary, recipe.Object{
		"topicId":        topicID,
		"version":        priorVersion + 1,
		"content":        content,
		"subjects":       names,
		"subjectWeights": weights,
		"changeReason":   "analysis",
	})
	if err != nil {
		return SummaryView{}, false, err
	}
	if err := p.pruneSummaryVersions(ctx, id); err != nil {
		p.slog.Warn("topicanalysis: summary pruning failed", "topic", topicID, "cause", err)
	}
	return SummaryView{
		IDHash:         store.Hash(id).String(),
		VersionHash:    res.VersionHash.String(),
		Version:        priorVersion + 1,
		Content:        content,
		Subjects:       names,
		SubjectWeights: weights,
	}, res.Unchanged, nil
}

// subjectNamesAndWeights sorts a Summary's subjects alphabetically (the
// ordering Summary.subjects commits to for hashing) and assigns each one
// a weight proportional to its share of total message count across all
// subjects, so the weights sum to 1.0 -- falling back to an even split
// when every subject has a zero message count.
func subjectNamesAndWeights(subjects []SubjectView) ([]string, []float64) {
	type pair struct {
		name   string
		weight float64
	}
	var total int64
	for _, s := range subjects {
		total += s.MessageCount
	}
	pairs := make([]pair, len(subjects))
	for i, s := range subjects {
		w := 0.0
		if total > 0 {
			w = float64(s.MessageCount) / float64(total)
		} else if len(subjects) > 0 {
			w = 1.0 / float64(len(subjects))
		}
		pairs[i] = pair{name: s.Name, weight: w}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].name < pairs[j].name })

	names := make([]string, len(pairs))
	weights := make([]float64, len(pairs))
	for i, p := range pairs {
		names[i] = p.name
		weights[i] = p.weight
	}
	return names, weights
}

// pruneSummaryVersions retains the most recent summaryMaxVersions plus
// anything newer than summaryRetentionDays (§4.8's "whichever is larger"
// reading of the two limits).
func (p *Pipeline) pruneSummaryVersions(ctx context.Context, id store.IdHash) error {
	metas, err := p.s.ListVersionMeta(ctx, id)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-summaryRetentionDays * 24 * time.Hour).UnixMilli()
	keep := make(map[int64]bool, len(metas))
	n := len(metas)
	for i, m := range metas {
		if n-i <= summaryMaxVersions || m.CreatedAt >= cutoff {
			keep[m.Seq] = true
		}
	}
	return p.s.PruneVersions(ctx, id, keep)
}
