package admin

import (
	"context"

	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/topicanalysis"
)

// SweepSubjects applies the Subject lifecycle (§4.6, §4.8): a Subject
// untouched for SubjectArchiveAfter is marked archived, and an archived
// Subject whose timestamp is older than SubjectDeleteAfter has that blob
// deleted from the store. Neither
// transition is ever applied to a Subject the caller has explicitly
// merged or unarchived since its last touch -- the sweep only looks at
// timestamp, it never un-does a caller's own action from the same pass.
func (a *Admin) SweepSubjects(ctx context.Context, now int64) (archived int, deleted int, err error) {
	recs, err := a.s.IterByType(ctx, topicanalysis.RecipeSubject)
	if err != nil {
		return 0, 0, err
	}

	archiveCutoff := now - topicanalysis.SubjectArchiveAfter.Milliseconds()
	deleteCutoff := now - topicanalysis.SubjectDeleteAfter.Milliseconds()

	for _, rec := range recs {
		isArchived, _ := rec.Obj["archived"].(bool)
		timestamp, _ := rec.Obj["timestamp"].(int64)
		topicID, _ := rec.Obj["topicId"].(string)
		keywordSetHash, _ := rec.Obj["keywordSetHash"].(string)
		name, _ := rec.Obj["name"].(string)
		messageCount, _ := rec.Obj["messageCount"].(int64)
		var keywords []string
		if ks, ok := rec.Obj["keywords"].([]string); ok {
			keywords = ks
		}

		switch {
		case isArchived && timestamp < deleteCutoff:
			if err := a.s.Delete(ctx, rec.Hash); err != nil {
				return archived, deleted, err
			}
			deleted++
		case !isArchived && timestamp < archiveCutoff:
			if _, err := a.s.PutVersioned(ctx, topicanalysis.RecipeSubject, recipe.Object{
				"topicId":        topicID,
				"keywordSetHash": keywordSetHash,
				"name":           name,
				"keywords":       keywords,
				"messageCount":   messageCount,
				"timestamp":      timestamp,
				"archived":       true,
			}); err != nil {
				return archived, deleted, err
			}
			archived++
		}
	}
	return archived, deleted, nil
}
