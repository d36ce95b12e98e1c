package admin

import (
	"context"
	"time"

	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

const orphanMinAge = 7 * 24 * time.Hour

// SweepOrphans deletes content-addressed blobs that no current version
// pointer or reference field points to anymore, once they are older than
// orphanMinAge. The age floor exists so a blob mid-write (its version row
// not committed yet, or referenced only by a version that's about to be
// made current in the same transaction) never gets collected out from
// under a concurrent writer.
//
// Reachability is computed the same way access.Closure computes it --
// walk every recipe-declared reference field starting from every type's
// current version pointers -- so a new recipe with TypeRef/TypeRefID
// fields is covered without adding a case here.
func (a *Admin) SweepOrphans(ctx context.Context, now int64) (int, error) {
	reachable, err := a.reachableSet(ctx)
	if err != nil {
		return 0, err
	}

	names := a.reg.Names()
	collected := 0
	for _, name := range names {
		recs, err := a.s.IterByType(ctx, name)
		if err != nil {
			return collected, err
		}
		for _, rec := range recs {
			if reachable[rec.Hash] {
				continue
			}
			createdAt, err := a.blobCreatedAt(ctx, rec.Hash)
			if err != nil {
				continue
			}
			if now-createdAt < orphanMinAge.Milliseconds() {
				continue
			}
			if err := a.s.Delete(ctx, rec.Hash); err != nil {
				return collected, err
			}
			collected++
		}
	}
	return collected, nil
}

func (a *Admin) blobCreatedAt(ctx context.Context, hash store.ContentHash) (int64, error) {
	var createdAt int64
	err := a.s.DB().QueryRowContext(ctx,
		`SELECT created_at FROM blobs WHERE content_hash = ?`, hash.String(),
	).Scan(&createdAt)
	return createdAt, err
}

// reachableSet walks outward from every recipe type's current version
// pointers, marking every content hash transitively referenced.
// Unresolved references are skipped rather than treated as an error --
// unlike access.Closure (which is granting visibility and must fail
// loudly on a dangling reference), an orphan sweep just leaves anything
// it can't resolve out of the reachable set, which only makes it a more
// aggressive (never less aggressive) collector.
func (a *Admin) reachableSet(ctx context.Context) (map[store.ContentHash]bool, error) {
	seen := make(map[store.ContentHash]bool)
	for _, name := range a.reg.Names() {
		ids, err := a.currentVersionHashes(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, h := range ids {
			a.walkReachable(ctx, h, seen)
		}
	}
	return seen, nil
}

func (a *Admin) currentVersionHashes(ctx context.Context, recipeName string) ([]store.ContentHash, error) {
	rows, err := a.s.DB().QueryContext(ctx,
		`SELECT DISTINCT content_hash FROM versions WHERE recipe_name = ? AND is_current = 1`, recipeName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []store.ContentHash
	for rows.Next() {
		var hex string
		if err := rows.Scan(&hex); err != nil {
			return nil, err
		}
		h, err := store.HashFromHex(hex)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (a *Admin) walkReachable(ctx context.Context, hash store.ContentHash, seen map[store.ContentHash]bool) {
	if seen[hash] {
		return
	}
	seen[hash] = true
	rec, err := a.s.Get(ctx, hash)
	if err != nil {
		return
	}
	schema, err := a.reg.Get(rec.RecipeName)
	if err != nil {
		return
	}
	for _, f := range schema.Rule {
		v, present := rec.Obj[f.Name]
		if !present || v == nil {
			continue
		}
		a.walkReachableField(ctx, f, v, seen)
	}
}

func (a *Admin) walkReachableField(ctx context.Context, f recipe.FieldRule, v any, seen map[store.ContentHash]bool) {
	switch f.Type {
	case recipe.TypeRef:
		if h, ok := v.([32]byte); ok {
			a.walkReachable(ctx, store.Hash(h), seen)
		}
	case recipe.TypeRefID:
		if h, ok := v.([32]byte); ok {
			if rec, err := a.s.GetCurrent(ctx, store.IdHash(h)); err == nil {
				a.walkReachable(ctx, rec.Hash, seen)
			}
		}
	case recipe.TypeArray, recipe.TypeSet:
		hs, ok := v.([][32]byte)
		if !ok {
			return
		}
		for _, h := range hs {
			switch f.Elem {
			case recipe.TypeRef:
				a.walkReachable(ctx, store.Hash(h), seen)
			case recipe.TypeRefID:
				if rec, err := a.s.GetCurrent(ctx, store.IdHash(h)); err == nil {
					a.walkReachable(ctx, rec.Hash, seen)
				}
			}
		}
	}
}
