package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/gokitt/internal/channel"
	"github.com/kittclouds/gokitt/internal/errs"
	"github.com/kittclouds/gokitt/internal/recipe"
	"github.com/kittclouds/gokitt/internal/store"
)

// leafRecipe/refRecipe stand in for two real domain types so Closure has
// something concrete to walk: refRecipe points at leafRecipe by content
// hash (TypeRef), both through a single field and through an array field.
func leafRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: "Leaf",
		Rule: []recipe.FieldRule{
			{Name: "value", Type: recipe.TypeString, IsID: true},
		},
	}
}

func refRecipe() *recipe.Recipe {
	return &recipe.Recipe{
		Name: "Parent",
		Rule: []recipe.FieldRule{
			{Name: "name", Type: recipe.TypeString, IsID: true},
			{Name: "child", Type: recipe.TypeRef, RefType: "Leaf", Optional: true},
			{Name: "children", Type: recipe.TypeArray, Elem: recipe.TypeRef, RefType: "Leaf", Optional: true},
		},
	}
}

func newTestControl(t *testing.T) (*Control, *store.Store, *recipe.Registry) {
	t.Helper()
	reg := recipe.NewRegistry()
	require.NoError(t, reg.Register(leafRecipe()))
	require.NoError(t, reg.Register(refRecipe()))
	s, err := store.New(":memory:", reg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, reg), s, reg
}

func TestGrantAccessAddUnionsAcrossCalls(t *testing.T) {
	c, _, _ := newTestControl(t)
	ctx := context.Background()

	require.NoError(t, c.GrantAccess(ctx, "obj-1", []string{"alice"}, []string{"team-a"}, ModeAdd))
	require.NoError(t, c.GrantAccess(ctx, "obj-1", []string{"bob"}, nil, ModeAdd))

	grants, err := c.ListGrants(ctx, "obj-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.ElementsMatch(t, []string{"alice", "bob"}, grants[0].Persons)
	assert.ElementsMatch(t, []string{"team-a"}, grants[0].Groups)
}

func TestGrantAccessReplaceSupersedesPriorGrants(t *testing.T) {
	c, _, _ := newTestControl(t)
	ctx := context.Background()

	require.NoError(t, c.GrantAccess(ctx, "obj-1", []string{"alice"}, nil, ModeAdd))
	require.NoError(t, c.GrantAccess(ctx, "obj-1", []string{"carol"}, nil, ModeReplace))

	grants, err := c.ListGrants(ctx, "obj-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, ModeReplace, grants[0].Mode)
	assert.Equal(t, []string{"carol"}, grants[0].Persons)

	visible, err := c.IsVisibleTo(ctx, "obj-1", "alice", nil)
	require.NoError(t, err)
	assert.False(t, visible, "REPLACE must supersede the earlier ADD grant")

	visible, err = c.IsVisibleTo(ctx, "obj-1", "carol", nil)
	require.NoError(t, err)
	assert.True(t, visible)
}

func TestGrantAccessRejectsUnknownMode(t *testing.T) {
	c, _, _ := newTestControl(t)
	err := c.GrantAccess(context.Background(), "obj-1", nil, nil, Mode("BOGUS"))
	require.Error(t, err)
}

func TestIsVisibleToGroupMembership(t *testing.T) {
	c, _, _ := newTestControl(t)
	ctx := context.Background()
	require.NoError(t, c.GrantAccess(ctx, "obj-1", nil, []string{"team-a"}, ModeAdd))

	visible, err := c.IsVisibleTo(ctx, "obj-1", "dave", []string{"team-a", "team-b"})
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = c.IsVisibleTo(ctx, "obj-1", "dave", []string{"team-c"})
	require.NoError(t, err)
	assert.False(t, visible)
}

func TestClosureWalksDirectAndArrayRefs(t *testing.T) {
	c, s, _ := newTestControl(t)
	ctx := context.Background()

	leaf1, err := s.Put(ctx, "Leaf", recipe.Object{"value": "l1"})
	require.NoError(t, err)
	leaf2, err := s.Put(ctx, "Leaf", recipe.Object{"value": "l2"})
	require.NoError(t, err)
	leaf3, err := s.Put(ctx, "Leaf", recipe.Object{"value": "l3"})
	require.NoError(t, err)

	parent, err := s.Put(ctx, "Parent", recipe.Object{
		"name":     "p1",
		"child":    [32]byte(leaf1),
		"children": [][32]byte{[32]byte(leaf2), [32]byte(leaf3)},
	})
	require.NoError(t, err)

	closure, err := c.Closure(ctx, parent)
	require.NoError(t, err)
	assert.True(t, closure[parent])
	assert.True(t, closure[leaf1])
	assert.True(t, closure[leaf2])
	assert.True(t, closure[leaf3])
	assert.Len(t, closure, 4)
}

func TestClosureReportsUnresolvedReference(t *testing.T) {
	c, s, _ := newTestControl(t)
	ctx := context.Background()

	var missing store.ContentHash
	missing[0] = 0xFF
	parent, err := s.Put(ctx, "Parent", recipe.Object{
		"name":  "p1",
		"child": [32]byte(missing),
	})
	require.NoError(t, err)

	_, err = c.Closure(ctx, parent)
	require.Error(t, err)
	e, ok := err.(*errs.E)
	require.True(t, ok)
	assert.Equal(t, errs.KindUnresolvedRef, e.Kind)
}

func TestClosureForChannelUnionsEveryEntry(t *testing.T) {
	c, s, _ := newTestControl(t)
	ctx := context.Background()
	log := channel.New(s)

	leaf1, err := s.Put(ctx, "Leaf", recipe.Object{"value": "l1"})
	require.NoError(t, err)
	leaf2, err := s.Put(ctx, "Leaf", recipe.Object{"value": "l2"})
	require.NoError(t, err)

	_, err = log.Append(ctx, "topic-a", "", leaf1, 1000)
	require.NoError(t, err)
	_, err = log.Append(ctx, "topic-a", "", leaf2, 2000)
	require.NoError(t, err)

	closure, err := c.ClosureForChannel(ctx, log, "topic-a", "")
	require.NoError(t, err)
	assert.True(t, closure[leaf1])
	assert.True(t, closure[leaf2])
}

func TestGroupChannelMembersIncludesGroupAndMembers(t *testing.T) {
	persons, groups := GroupChannelMembers("team-a", []string{"alice", "bob"})
	assert.Equal(t, []string{"team-a"}, groups)
	assert.ElementsMatch(t, []string{"alice", "bob"}, persons)
}
