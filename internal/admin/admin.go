// Package admin implements the maintenance surface (C10): periodic or
// operator-triggered sweeps that keep the store's long tails in check --
// version pruning, keyword cleanup and merge, subject lifecycle, and
// orphan collection -- plus the read-only stats() operation.
//
// None of this runs automatically inside the other components; a daemon
// schedules RunMaintenance on a timer, and an operator CLI can invoke the
// same entry point (or its constituent sweeps) on demand.
package admin

import (
	"context"
	"log/slog"
	"time"

	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

// Admin wraps the pieces a maintenance sweep needs direct store access
// to -- topicanalysis.Pipeline keeps its own keyword/subject bookkeeping
// unexported, so the sweep reads Keyword and Subject records straight off
// the store the same way the pipeline itself does.
type Admin struct {
	s   *store.Store
	reg *recipe.Registry
	log *slog.Logger
}

func New(s *store.Store, reg *recipe.Registry, log *slog.Logger) *Admin {
	if log == nil {
		log = slog.Default()
	}
	return &Admin{s: s, reg: reg, log: log}
}

// Report summarizes one RunMaintenance pass.
type Report struct {
	SummariesPruned  int
	KeywordsDeleted  int
	KeywordsMerged   int
	SubjectsArchived int
	SubjectsDeleted  int
	OrphansCollected int
}

// RunMaintenance runs every sweep in sequence and returns a combined
// report. Each sweep is independent of the others' outcomes; a failure in
// one does not block the rest from running, but the first error is still
// surfaced to the caller after all sweeps have had a chance to run.
func (a *Admin) RunMaintenance(ctx context.Context, now int64) (Report, error) {
	var rep Report
	var firstErr error
	note := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	merged, deleted, err := a.CleanupKeywords(ctx, now)
	note(err)
	rep.KeywordsMerged = merged
	rep.KeywordsDeleted = deleted

	archived, deletedSubj, err := a.SweepSubjects(ctx, now)
	note(err)
	rep.SubjectsArchived = archived
	rep.SubjectsDeleted = deletedSubj

	orphans, err := a.SweepOrphans(ctx, now)
	note(err)
	rep.OrphansCollected = orphans

	pruned, err := a.PruneSummaries(ctx)
	note(err)
	rep.SummariesPruned = pruned

	if firstErr != nil {
		a.log.Warn("admin: maintenance pass completed with errors", "cause", firstErr)
	}
	return rep, firstErr
}

// PruneSummaries applies the same "keep last 10 or newer than 30 days,
// whichever is larger" retention rule the pipeline applies right after an
// analysis run, but sweeps every Summary on file rather than just the one
// topic that was just analyzed -- it is the catch-up pass for topics that
// have gone quiet since their last retention check.
func (a *Admin) PruneSummaries(ctx context.Context) (int, error) {
	recs, err := a.s.IterByType(ctx, topicanalysis.RecipeSummary)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-30 * 24 * time.Hour).UnixMilli()
	pruned := 0
	for _, rec := range recs {
		topicID, _ := rec.Obj["topicId"].(string)
		id, err := a.reg.IDHash(topicanalysis.RecipeSummary, recipe.Object{"topicId": topicID})
		if err != nil {
			continue
		}
		metas, err := a.s.ListVersionMeta(ctx, id)
		if err != nil {
			a.log.Warn("admin: summary version list failed", "topic", topicID, "cause", err)
			continue
		}
		keep := make(map[int64]bool, len(metas))
		n := len(metas)
		keptBefore := 0
		for i, m := range metas {
			if n-i <= 10 || m.CreatedAt >= cutoff {
				keep[m.Seq] = true
				keptBefore++
			}
		}
		if err := a.s.PruneVersions(ctx, id, keep); err != nil {
			a.log.Warn("admin: summary prune failed", "topic", topicID, "cause", err)
			continue
		}
		pruned += n - keptBefore
	}
	return pruned, nil
}
