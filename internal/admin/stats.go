package admin

import (
	"context"

	"github.com/kittclouds/gokitt/internal/store"
)

// TypeStats summarizes one recipe type's footprint in the store.
type TypeStats struct {
	RecipeName     string
	ObjectCount    int
	TotalBytes     int64
	AverageVersion float64 // mean version-chain length across this type's IdHash entities
}

// Stats is the result of stats(): counts per type, total bytes, average
// versions per entity, and the proposal cache hit rate reported by
// whatever CacheStatter was passed to Stats (zero value if none was).
type Stats struct {
	Types            []TypeStats
	TotalObjects     int
	TotalBytes       int64
	ProposalCacheHit float64
}

// CacheStatter is implemented by the proposal engine (Engine.HitRate); Admin takes
// it as a narrow interface rather than importing the proposal package
// directly, keeping the maintenance surface free of a dependency on any
// one component it happens to report on.
type CacheStatter interface {
	HitRate() float64
}

// Stats computes §4.10's stats() operation. cache may be nil, in which
// case ProposalCacheHit is left at zero.
func (a *Admin) Stats(ctx context.Context, cache CacheStatter) (Stats, error) {
	var out Stats
	for _, name := range a.reg.Names() {
		recs, err := a.s.IterByType(ctx, name)
		if err != nil {
			return Stats{}, err
		}
		ts := TypeStats{RecipeName: name, ObjectCount: len(recs)}
		var totalVersions, entities int
		seenIDs := make(map[[32]byte]bool)
		for _, rec := range recs {
			b, err := a.blobSize(ctx, rec.Hash)
			if err == nil {
				ts.TotalBytes += b
			}
			id, err := a.reg.IDHash(name, rec.Obj)
			if err != nil {
				continue
			}
			if seenIDs[id] {
				continue
			}
			seenIDs[id] = true
			metas, err := a.s.ListVersionMeta(ctx, store.IdHash(id))
			if err != nil {
				continue
			}
			totalVersions += len(metas)
			entities++
		}
		if entities > 0 {
			ts.AverageVersion = float64(totalVersions) / float64(entities)
		}
		out.Types = append(out.Types, ts)
		out.TotalObjects += ts.ObjectCount
		out.TotalBytes += ts.TotalBytes
	}
	if cache != nil {
		out.ProposalCacheHit = cache.HitRate()
	}
	return out, nil
}

func (a *Admin) blobSize(ctx context.Context, hash store.ContentHash) (int64, error) {
	var n int64
	err := a.s.DB().QueryRowContext(ctx,
		`SELECT LENGTH(bytes) FROM blobs WHERE content_hash = ?`, hash.String(),
	).Scan(&n)
	return n, err
}
