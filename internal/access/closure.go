package access

import (
	"context"

	"github.com/kittclouds/gokitt/internal/channel"
	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

// Closure enumerates every content hash root transitively references,
// including root itself. It walks the recipe-declared reference fields
// generically -- TypeRef fields point straight at a content hash,
// TypeRefID fields point at an IdHash and are resolved to that chain's
// current content hash before recursing -- so a new recipe with
// reference fields is covered automatically without a hand-written
// per-type dependency list (§4.8).
//
// A reference that does not resolve (the referenced hash or id is
// missing from the store) is reported as UnresolvedReference rather than
// silently skipped: per §4.8 this is exactly the failure mode a remote
// peer would hit, and the writer should see it before exposing anything.
func (c *Control) Closure(ctx context.Context, root store.ContentHash) (map[store.ContentHash]bool, error) {
	seen := make(map[store.ContentHash]bool)
	if err := c.walk(ctx, root, seen); err != nil {
		return nil, err
	}
	return seen, nil
}

func (c *Control) walk(ctx context.Context, hash store.ContentHash, seen map[store.ContentHash]bool) error {
	if seen[hash] {
		return nil
	}
	seen[hash] = true

	rec, err := c.s.Get(ctx, hash)
	if err != nil {
		if isNotFoundErr(err) {
			return errs.UnresolvedReference(hash.String())
		}
		return err
	}
	schema, err := c.reg.Get(rec.RecipeName)
	if err != nil {
		return err
	}
	for _, f := range schema.Rule {
		v, present := rec.Obj[f.Name]
		if !present || v == nil {
			continue
		}
		if err := c.walkField(ctx, f, v, seen); err != nil {
			return err
		}
	}
	return nil
}

func (c *Control) walkField(ctx context.Context, f recipe.FieldRule, v any, seen map[store.ContentHash]bool) error {
	switch f.Type {
	case recipe.TypeRef:
		h, ok := v.([32]byte)
		if !ok {
			return nil
		}
		return c.walk(ctx, store.Hash(h), seen)
	case recipe.TypeRefID:
		h, ok := v.([32]byte)
		if !ok {
			return nil
		}
		return c.walkRefID(ctx, store.IdHash(h), seen)
	case recipe.TypeArray, recipe.TypeSet:
		switch f.Elem {
		case recipe.TypeRef:
			hs, ok := v.([][32]byte)
			if !ok {
				return nil
			}
			for _, h := range hs {
				if err := c.walk(ctx, store.Hash(h), seen); err != nil {
					return err
				}
			}
		case recipe.TypeRefID:
			hs, ok := v.([][32]byte)
			if !ok {
				return nil
			}
			for _, h := range hs {
				if err := c.walkRefID(ctx, store.IdHash(h), seen); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Control) walkRefID(ctx context.Context, id store.IdHash, seen map[store.ContentHash]bool) error {
	rec, err := c.s.GetCurrent(ctx, id)
	if err != nil {
		if isNotFoundErr(err) {
			return errs.UnresolvedReference(id.String())
		}
		return err
	}
	return c.walk(ctx, rec.Hash, seen)
}

func isNotFoundErr(err error) bool {
	e, ok := err.(*errs.E)
	return ok && e.Kind == errs.KindNotFound
}

// ClosureForEntry returns the closure of one channel Entry's payload, plus
// the entry's own hash -- writers grant access to this set (not just the
// payload) so a remote peer can resolve the chain link itself, not only
// the data it points at.
func (c *Control) ClosureForEntry(ctx context.Context, e channel.Entry) (map[store.ContentHash]bool, error) {
	closure, err := c.Closure(ctx, e.DataHash)
	if err != nil {
		return nil, err
	}
	closure[e.Hash] = true
	return closure, nil
}

// ClosureForChannel unions ClosureForEntry over every entry in one
// channel (topicID, ownerID).
func (c *Control) ClosureForChannel(ctx context.Context, log *channel.Log, topicID, ownerID string) (map[store.ContentHash]bool, error) {
	entries, err := log.Iter(ctx, topicID, ownerID)
	if err != nil {
		return nil, err
	}
	out := make(map[store.ContentHash]bool)
	for _, e := range entries {
		sub, err := c.ClosureForEntry(ctx, e)
		if err != nil {
			return nil, err
		}
		for h := range sub {
			out[h] = true
		}
	}
	return out, nil
}

// GroupChannelMembers resolves the channel-owner-as-group decision (§9 open
// question 3): the closure/visibility set for a group-topic channel must
// include both the group's own identifier and every individual member, so
// GroupChannelMembers is the one place that expands a GroupID into the
// AccessGrant member list a caller should pass to GrantAccess.
func GroupChannelMembers(groupID string, memberPersonIDs []string) (persons []string, groups []string) {
	groups = []string{groupID}
	persons = append(persons, memberPersonIDs...)
	return persons, groups
}
