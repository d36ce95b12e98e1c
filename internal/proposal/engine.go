package proposal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/jaccard"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

// Engine computes cross-topic Subject proposals (§4.7): given a topic's
// current Subjects, it ranks similar Subjects from every other topic by
// a weighted blend of keyword-set Jaccard similarity and recency, and
// caches the ranked result for a short window.
type Engine struct {
	s   *store.Store
	reg *recipe.Registry

	cache *proposalCache

	dmu       sync.Mutex
	dismissed map[string]map[string]bool // topicID -> set of dismissed subject IdHashes
}

// NewEngine wires an Engine over a shared store. reg must already have
// had RegisterRecipe called on it.
func NewEngine(s *store.Store, reg *recipe.Registry) *Engine {
	return &Engine{
		s:         s,
		reg:       reg,
		cache:     newProposalCache(cacheTTLSeconds*time.Second, cacheMaxEntries),
		dismissed: make(map[string]map[string]bool),
	}
}

// HitRate reports the running cache hit fraction, satisfying the narrow
// admin.CacheStatter interface (§4.10 stats()) without the proposal
// package importing admin.
func (e *Engine) HitRate() float64 {
	return e.cache.hitRate()
}

// GetProposals implements the §4.7 algorithm. currentSubjectIDs, when
// non-empty, pins the current Subject set explicitly (e.g. a caller that
// already knows which Subjects are in view); when empty, the engine
// loads every non-archived Subject currently on record for topicID.
func (e *Engine) GetProposals(ctx context.Context, userEmail, topicID string, currentSubjectIDs []string, forceRefresh bool) (*Result, error) {
	start := time.Now()

	currentSubjects, err := e.resolveCurrentSubjects(ctx, topicID, currentSubjectIDs)
	if err != nil {
		return nil, err
	}
	if len(currentSubjects) == 0 {
		return nil, errs.NoSubjects(topicID)
	}
	key := cacheKey(topicID, subjectIDs(currentSubjects))

	if !forceRefresh {
		if cached, ok := e.cache.get(key); ok {
			cached.Cached = true
			return &cached, nil
		}
	}

	cfg, err := e.GetConfig(ctx, userEmail)
	if err != nil {
		return nil, err
	}

	candidates, err := e.loadOtherTopicSubjects(ctx, topicID)
	if err != nil {
		return nil, err
	}

	currKeywords := unionKeywords(currentSubjects)
	shortlistN := int(cfg.MaxProposals) * prefilterShortlistMul
	if shortlistN > 0 && len(candidates) > shortlistN {
		candidates = prefilterCandidates(ctx, e.s.DB(), hashEmbed(currKeywords), candidates, shortlistN)
	}

	now := time.Now()
	windowDays := float64(cfg.RecencyWindow) / (24 * 60 * 60)
	proposals := make([]Proposal, 0, len(candidates))
	for _, cand := range candidates {
		j := jaccard.Similarity(currKeywords, cand.Keywords)
		if j < cfg.MinJaccard {
			continue
		}
		ageDays := float64(now.UnixMilli()-cand.Timestamp) / float64(24*60*60*1000)
		recency := 0.0
		if windowDays > 0 {
			recency = 1 - ageDays/windowDays
			if recency < 0 {
				recency = 0
			}
		}
		proposals = append(proposals, Proposal{
			TopicID:         cand.topicID,
			SubjectIDHash:   cand.IDHash,
			SubjectName:     cand.Name,
			MatchedKeywords: jaccard.Intersection(currKeywords, cand.Keywords),
			Jaccard:         j,
			Recency:         recency,
			Score:           cfg.MatchWeight*j + cfg.RecencyWeight*recency,
		})
	}

	sort.Slice(proposals, func(i, j int) bool { return proposals[i].Score > proposals[j].Score })
	if int64(len(proposals)) > cfg.MaxProposals {
		proposals = proposals[:cfg.MaxProposals]
	}
	proposals = e.filterDismissed(topicID, proposals)

	result := Result{
		Proposals:     proposals,
		Count:         len(proposals),
		Cached:        false,
		ComputeTimeMs: time.Since(start).Milliseconds(),
	}
	e.cache.set(key, result)
	return &result, nil
}

// Dismiss records subjectIDHash as dismissed for topicID for the
// lifetime of this process (§4.7: dismissal is session-only, never
// persisted).
func (e *Engine) Dismiss(topicID, subjectIDHash string) {
	e.dmu.Lock()
	defer e.dmu.Unlock()
	set, ok := e.dismissed[topicID]
	if !ok {
		set = make(map[string]bool)
		e.dismissed[topicID] = set
	}
	set[subjectIDHash] = true
}

func (e *Engine) filterDismissed(topicID string, in []Proposal) []Proposal {
	e.dmu.Lock()
	set := e.dismissed[topicID]
	e.dmu.Unlock()
	if len(set) == 0 {
		return in
	}
	out := in[:0]
	for _, p := range in {
		if !set[p.SubjectIDHash] {
			out = append(out, p)
		}
	}
	return out
}

// candidateSubject is a topicanalysis.SubjectView annotated with the
// topic it belongs to, since Subjects are scanned across every topic at
// once and then filtered.
type candidateSubject struct {
	topicanalysis.SubjectView
	topicID string
}

// resolveCurrentSubjects recomputes each Subject's IdHash from its
// identity fields rather than trusting the blob's own content hash --
// IterByType/GetCurrent surface whatever content hash a version chain
// happens to be on, which is not the stable identity used for caching
// and dismissal.
func (e *Engine) resolveCurrentSubjects(ctx context.Context, topicID string, ids []string) ([]topicanalysis.SubjectView, error) {
	if len(ids) > 0 {
		out := make([]topicanalysis.SubjectView, 0, len(ids))
		for _, idHex := range ids {
			id, err := store.HashFromHex(idHex)
			if err != nil {
				continue
			}
			rec, err := e.s.GetCurrent(ctx, id)
			if err != nil {
				continue
			}
			sv, ok := e.subjectViewFromObject(rec.Obj)
			if !ok {
				continue
			}
			out = append(out, sv)
		}
		return out, nil
	}

	recs, err := e.s.IterByType(ctx, topicanalysis.RecipeSubject)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]topicanalysis.SubjectView)
	for _, r := range recs {
		tid, _ := r.Obj["topicId"].(string)
		if tid != topicID {
			continue
		}
		sv, ok := e.subjectViewFromObject(r.Obj)
		if !ok {
			continue
		}
		if id, err := store.HashFromHex(sv.IDHash); err != nil {
			continue
		} else if cur, err := e.s.GetCurrent(ctx, id); err != nil || cur.Hash != r.Hash {
			continue
		}
		if archived, _ := r.Obj["archived"].(bool); archived {
			continue
		}
		keepNewer(byID, sv)
	}
	return mapValues(byID), nil
}

func (e *Engine) loadOtherTopicSubjects(ctx context.Context, topicID string) ([]candidateSubject, error) {
	recs, err := e.s.IterByType(ctx, topicanalysis.RecipeSubject)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]candidateSubject)
	for _, r := range recs {
		tid, _ := r.Obj["topicId"].(string)
		if tid == "" || tid == topicID {
			continue
		}
		sv, ok := e.subjectViewFromObject(r.Obj)
		if !ok {
			continue
		}
		cand := candidateSubject{SubjectView: sv, topicID: tid}
		if existing, ok := byID[sv.IDHash]; !ok || cand.Timestamp > existing.Timestamp {
			byID[sv.IDHash] = cand
		}
	}
	out := make([]candidateSubject, 0, len(byID))
	for _, c := range byID {
		out = append(out, c)
	}
	return out, nil
}

func keepNewer(byID map[string]topicanalysis.SubjectView, sv topicanalysis.SubjectView) {
	if existing, ok := byID[sv.IDHash]; !ok || sv.Timestamp > existing.Timestamp {
		byID[sv.IDHash] = sv
	}
}

func mapValues(byID map[string]topicanalysis.SubjectView) []topicanalysis.SubjectView {
	out := make([]topicanalysis.SubjectView, 0, len(byID))
	for _, sv := range byID {
		out = append(out, sv)
	}
	return out
}

func (e *Engine) subjectViewFromObject(obj recipe.Object) (topicanalysis.SubjectView, bool) {
	tid, _ := obj["topicId"].(string)
	setHash := obj["keywordSetHash"]
	id, err := e.reg.IDHash(topicanalysis.RecipeSubject, recipe.Object{
		"topicId":        tid,
		"keywordSetHash": setHash,
	})
	if err != nil {
		return topicanalysis.SubjectView{}, false
	}
	name, _ := obj["name"].(string)
	count, _ := obj["messageCount"].(int64)
	ts, _ := obj["timestamp"].(int64)
	archived, _ := obj["archived"].(bool)
	var keywords []string
	if ks, ok := obj["keywords"].([]string); ok {
		keywords = ks
	}
	return topicanalysis.SubjectView{
		IDHash:       store.Hash(id).String(),
		Name:         name,
		Keywords:     keywords,
		MessageCount: count,
		Timestamp:    ts,
		Archived:     archived,
	}, true
}

func unionKeywords(subjects []topicanalysis.SubjectView) []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range subjects {
		for _, k := range s.Keywords {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func subjectIDs(subjects []topicanalysis.SubjectView) []string {
	out := make([]string, len(subjects))
	for i, s := range subjects {
		out[i] = s.IDHash
	}
	return out
}
